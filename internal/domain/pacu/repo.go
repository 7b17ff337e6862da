package pacu

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("pacu: not found")

type RecordRepository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error)
	GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*Record, error)
	Update(ctx context.Context, r *Record) error
	SaveSignature(ctx context.Context, r *Record) error
}

type ProgressNotesRepository interface {
	Create(ctx context.Context, n *ProgressNotes) error
	GetByID(ctx context.Context, id uuid.UUID) (*ProgressNotes, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*ProgressNotes, error)
	GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*ProgressNotes, error)
	Update(ctx context.Context, n *ProgressNotes) error
	SaveSignature(ctx context.Context, n *ProgressNotes) error
	SaveCoSignatures(ctx context.Context, n *ProgressNotes) error
}

type AdditionalNotesRepository interface {
	Create(ctx context.Context, n *AdditionalNotes) error
	GetByID(ctx context.Context, id uuid.UUID) (*AdditionalNotes, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*AdditionalNotes, error)
	GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*AdditionalNotes, error)
	Update(ctx context.Context, n *AdditionalNotes) error
	SaveSignatures(ctx context.Context, n *AdditionalNotes) error
	SaveLock(ctx context.Context, n *AdditionalNotes) error
}
