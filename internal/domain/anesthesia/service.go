package anesthesia

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

type RequestMeta struct {
	OriginAddress string
	OriginAgent   string
}

type Service struct {
	assessments AssessmentRepository
	records     RecordRepository
	audit       *audit.Service
	pool        *pgxpool.Pool
	logger      zerolog.Logger
}

func NewService(assessments AssessmentRepository, records RecordRepository, auditSvc *audit.Service, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{
		assessments: assessments,
		records:     records,
		audit:       auditSvc,
		pool:        pool,
		logger:      logger.With().Str("component", "anesthesia").Logger(),
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

// -- Pre-anesthesia assessment --

func (s *Service) CreateAssessment(ctx context.Context, a *PreAnesthesiaAssessment, meta RequestMeta) (*PreAnesthesiaAssessment, error) {
	a.ClinicID = db.TenantFromContext(ctx)
	a.Signature = signing.SignatureBlock{}
	if err := s.assessments.Create(ctx, a); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, s.auditParams(ctx, meta, audit.ActionCreate, "pre_anesthesia_assessment", a.ID))
	return a, nil
}

func (s *Service) GetAssessment(ctx context.Context, id uuid.UUID) (*PreAnesthesiaAssessment, error) {
	return s.assessments.GetByID(ctx, id)
}

func (s *Service) GetAssessmentByCheckin(ctx context.Context, checkinID uuid.UUID) (*PreAnesthesiaAssessment, error) {
	return s.assessments.GetByCheckin(ctx, checkinID)
}

func (s *Service) UpdateAssessment(ctx context.Context, id uuid.UUID, in *PreAnesthesiaAssessment, meta RequestMeta) (*PreAnesthesiaAssessment, error) {
	existing, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Signature.IsSigned {
		return nil, signing.ErrDocumentLocked
	}

	before := existing.CanonicalPayload()
	existing.applyEdit(in)
	if err := s.assessments.Update(ctx, existing); err != nil {
		return nil, err
	}

	p := s.auditParams(ctx, meta, audit.ActionUpdate, "pre_anesthesia_assessment", existing.ID)
	p.FieldChanges = audit.DiffPayloads(before, existing.CanonicalPayload())
	s.audit.Record(ctx, p)
	return existing, nil
}

func (s *Service) SignAssessment(ctx context.Context, id uuid.UUID, artifact string, meta RequestMeta) (*PreAnesthesiaAssessment, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *PreAnesthesiaAssessment
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		d, err := s.assessments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := d.Signature.Apply(d, signer, artifact, time.Now()); err != nil {
			return err
		}
		if err := s.assessments.SaveSignature(ctx, d); err != nil {
			return err
		}
		p := s.auditParams(ctx, meta, audit.ActionSignature, "pre_anesthesia_assessment", d.ID)
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
	metrics.DocumentSigned(db.TenantFromContext(ctx), "pre_anesthesia_assessment")
	return doc, nil
}

func (s *Service) VerifyAssessment(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Signature.Verify(d), nil
}

// -- Anesthesia record --

func (s *Service) CreateRecord(ctx context.Context, r *Record, meta RequestMeta) (*Record, error) {
	r.ClinicID = db.TenantFromContext(ctx)
	r.Signature = signing.SignatureBlock{}
	if err := s.records.Create(ctx, r); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, s.auditParams(ctx, meta, audit.ActionCreate, "anesthesia_record", r.ID))
	return r, nil
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) GetRecordByCheckin(ctx context.Context, checkinID uuid.UUID) (*Record, error) {
	return s.records.GetByCheckin(ctx, checkinID)
}

func (s *Service) UpdateRecord(ctx context.Context, id uuid.UUID, in *Record, meta RequestMeta) (*Record, error) {
	existing, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Signature.IsSigned {
		return nil, signing.ErrDocumentLocked
	}

	before := existing.CanonicalPayload()
	existing.applyEdit(in)
	if err := s.records.Update(ctx, existing); err != nil {
		return nil, err
	}

	p := s.auditParams(ctx, meta, audit.ActionUpdate, "anesthesia_record", existing.ID)
	p.FieldChanges = audit.DiffPayloads(before, existing.CanonicalPayload())
	s.audit.Record(ctx, p)
	return existing, nil
}

func (s *Service) SignRecord(ctx context.Context, id uuid.UUID, artifact string, meta RequestMeta) (*Record, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *Record
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		d, err := s.records.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := d.Signature.Apply(d, signer, artifact, time.Now()); err != nil {
			return err
		}
		if err := s.records.SaveSignature(ctx, d); err != nil {
			return err
		}
		p := s.auditParams(ctx, meta, audit.ActionSignature, "anesthesia_record", d.ID)
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
	metrics.DocumentSigned(db.TenantFromContext(ctx), "anesthesia_record")
	return doc, nil
}

func (s *Service) VerifyRecord(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.records.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Signature.Verify(d), nil
}
