package anesthesia

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("anesthesia form not found")

type AssessmentRepository interface {
	Create(ctx context.Context, a *PreAnesthesiaAssessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*PreAnesthesiaAssessment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*PreAnesthesiaAssessment, error)
	GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*PreAnesthesiaAssessment, error)
	Update(ctx context.Context, a *PreAnesthesiaAssessment) error
	SaveSignature(ctx context.Context, a *PreAnesthesiaAssessment) error
}

type RecordRepository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error)
	GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*Record, error)
	Update(ctx context.Context, r *Record) error
	SaveSignature(ctx context.Context, r *Record) error
}
