package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/surgicenter/emr/internal/domain/audit"
	"github.com/surgicenter/emr/internal/platform/auth"
	"github.com/surgicenter/emr/internal/platform/db"
	"github.com/surgicenter/emr/internal/platform/metrics"
	"github.com/surgicenter/emr/internal/platform/signing"
)

// RequestMeta carries the caller's network origin into the ledger entries a
// mutation produces.
type RequestMeta struct {
	OriginAddress string
	OriginAgent   string
}

type Service struct {
	surgical   SurgicalConsentRepository
	anesthesia AnesthesiaConsentRepository
	audit      *audit.Service
	pool       *pgxpool.Pool
	logger     zerolog.Logger
}

func NewService(surgical SurgicalConsentRepository, anesthesia AnesthesiaConsentRepository, auditSvc *audit.Service, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{
		surgical:   surgical,
		anesthesia: anesthesia,
		audit:      auditSvc,
		pool:       pool,
		logger:     logger.With().Str("component", "consent").Logger(),
	}
}

func (s *Service) auditParams(ctx context.Context, meta RequestMeta, action audit.ActionKind, resourceType string, id uuid.UUID) audit.AppendParams {
	actorID := auth.UserIDFromContext(ctx)
	var actorRef *string
	if actorID != "" {
		actorRef = &actorID
	}
	rid := id.String()
	return audit.AppendParams{
		TenantID:         db.TenantFromContext(ctx),
		ActorID:          actorRef,
		ActorDisplayName: auth.DisplayNameFromContext(ctx),
		ActorRole:        auth.PrimaryRole(ctx),
		Action:           action,
		ResourceType:     resourceType,
		ResourceID:       &rid,
		OriginAddress:    meta.OriginAddress,
		OriginAgent:      meta.OriginAgent,
	}
}

// -- Surgical consent --

func (s *Service) CreateSurgicalConsent(ctx context.Context, c *SurgicalConsent, meta RequestMeta) (*SurgicalConsent, error) {
	c.ClinicID = db.TenantFromContext(ctx)
	c.Signature = signing.SignatureBlock{}
	if err := s.surgical.Create(ctx, c); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, s.auditParams(ctx, meta, audit.ActionCreate, "surgical_consent", c.ID))
	return c, nil
}

func (s *Service) GetSurgicalConsent(ctx context.Context, id uuid.UUID) (*SurgicalConsent, error) {
	return s.surgical.GetByID(ctx, id)
}

func (s *Service) GetSurgicalConsentByCheckin(ctx context.Context, checkinID uuid.UUID) (*SurgicalConsent, error) {
	return s.surgical.GetByCheckin(ctx, checkinID)
}

// UpdateSurgicalConsent persists edited content fields. A signed consent is
// frozen; the attempt is refused before anything reaches storage.
func (s *Service) UpdateSurgicalConsent(ctx context.Context, id uuid.UUID, in *SurgicalConsent, meta RequestMeta) (*SurgicalConsent, error) {
	existing, err := s.surgical.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Signature.IsSigned {
		return nil, signing.ErrDocumentLocked
	}

	before := existing.CanonicalPayload()
	existing.applyEdit(in)
	if err := s.surgical.Update(ctx, existing); err != nil {
		return nil, err
	}

	p := s.auditParams(ctx, meta, audit.ActionUpdate, "surgical_consent", existing.ID)
	p.FieldChanges = audit.DiffPayloads(before, existing.CanonicalPayload())
	s.audit.Record(ctx, p)
	return existing, nil
}

// SignSurgicalConsent runs the draft-to-signed transition. The row lock,
// the signature write and the ledger entry share one transaction: a failed
// ledger append rolls the signature back.
func (s *Service) SignSurgicalConsent(ctx context.Context, id uuid.UUID, artifact string, meta RequestMeta) (*SurgicalConsent, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *SurgicalConsent
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		d, err := s.surgical.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := d.Signature.Apply(d, signer, artifact, time.Now()); err != nil {
			return err
		}
		if err := s.surgical.SaveSignature(ctx, d); err != nil {
			return err
		}
		p := s.auditParams(ctx, meta, audit.ActionSignature, "surgical_consent", d.ID)
		p.Metadata = map[string]any{
			"content_hash":   d.Signature.ContentHash,
			"signature_hash": d.Signature.SignatureHash,
		}
		if _, err := s.audit.Append(ctx, p); err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.DocumentSigned(db.TenantFromContext(ctx), "surgical_consent")
	return doc, nil
}

// VerifySurgicalConsent recomputes the stored hashes against the current
// payload.
func (s *Service) VerifySurgicalConsent(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.surgical.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Signature.Verify(d), nil
}

// -- Anesthesia consent --

func (s *Service) CreateAnesthesiaConsent(ctx context.Context, c *AnesthesiaConsent, meta RequestMeta) (*AnesthesiaConsent, error) {
	c.ClinicID = db.TenantFromContext(ctx)
	c.Signature = signing.SignatureBlock{}
	if err := s.anesthesia.Create(ctx, c); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, s.auditParams(ctx, meta, audit.ActionCreate, "anesthesia_consent", c.ID))
	return c, nil
}

func (s *Service) GetAnesthesiaConsent(ctx context.Context, id uuid.UUID) (*AnesthesiaConsent, error) {
	return s.anesthesia.GetByID(ctx, id)
}

func (s *Service) GetAnesthesiaConsentByCheckin(ctx context.Context, checkinID uuid.UUID) (*AnesthesiaConsent, error) {
	return s.anesthesia.GetByCheckin(ctx, checkinID)
}

func (s *Service) UpdateAnesthesiaConsent(ctx context.Context, id uuid.UUID, in *AnesthesiaConsent, meta RequestMeta) (*AnesthesiaConsent, error) {
	existing, err := s.anesthesia.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Signature.IsSigned {
		return nil, signing.ErrDocumentLocked
	}

	before := existing.CanonicalPayload()
	existing.applyEdit(in)
	if err := s.anesthesia.Update(ctx, existing); err != nil {
		return nil, err
	}

	p := s.auditParams(ctx, meta, audit.ActionUpdate, "anesthesia_consent", existing.ID)
	p.FieldChanges = audit.DiffPayloads(before, existing.CanonicalPayload())
	s.audit.Record(ctx, p)
	return existing, nil
}

func (s *Service) SignAnesthesiaConsent(ctx context.Context, id uuid.UUID, artifact string, meta RequestMeta) (*AnesthesiaConsent, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *AnesthesiaConsent
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		d, err := s.anesthesia.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := d.Signature.Apply(d, signer, artifact, time.Now()); err != nil {
			return err
		}
		if err := s.anesthesia.SaveSignature(ctx, d); err != nil {
			return err
		}
		p := s.auditParams(ctx, meta, audit.ActionSignature, "anesthesia_consent", d.ID)
		p.Metadata = map[string]any{
			"content_hash":   d.Signature.ContentHash,
			"signature_hash": d.Signature.SignatureHash,
		}
		if _, err := s.audit.Append(ctx, p); err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.DocumentSigned(db.TenantFromContext(ctx), "anesthesia_consent")
	return doc, nil
}

func (s *Service) VerifyAnesthesiaConsent(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.anesthesia.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Signature.Verify(d), nil
}
