package operative

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("operative form not found")

type HistoryPhysicalRepository interface {
	Create(ctx context.Context, h *HistoryPhysical) error
	GetByID(ctx context.Context, id uuid.UUID) (*HistoryPhysical, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*HistoryPhysical, error)
	GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*HistoryPhysical, error)
	Update(ctx context.Context, h *HistoryPhysical) error
	SaveSignature(ctx context.Context, h *HistoryPhysical) error
}

type OperativeRecordRepository interface {
	Create(ctx context.Context, r *OperativeRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*OperativeRecord, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*OperativeRecord, error)
	GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*OperativeRecord, error)
	Update(ctx context.Context, r *OperativeRecord) error
	SaveSignature(ctx context.Context, r *OperativeRecord) error
}
