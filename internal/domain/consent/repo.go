package consent

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("consent form not found")

// SurgicalConsentRepository persists surgical consents. GetForUpdate takes a
// row lock so edit and sign on the same form cannot interleave.
type SurgicalConsentRepository interface {
	Create(ctx context.Context, c *SurgicalConsent) error
	GetByID(ctx context.Context, id uuid.UUID) (*SurgicalConsent, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*SurgicalConsent, error)
	GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*SurgicalConsent, error)
	Update(ctx context.Context, c *SurgicalConsent) error
	SaveSignature(ctx context.Context, c *SurgicalConsent) error
}

type AnesthesiaConsentRepository interface {
	Create(ctx context.Context, c *AnesthesiaConsent) error
	GetByID(ctx context.Context, id uuid.UUID) (*AnesthesiaConsent, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*AnesthesiaConsent, error)
	GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*AnesthesiaConsent, error)
	Update(ctx context.Context, c *AnesthesiaConsent) error
	SaveSignature(ctx context.Context, c *AnesthesiaConsent) error
}
