package operative

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
	hps     HistoryPhysicalRepository
	records OperativeRecordRepository
	audit   *audit.Service
	pool    *pgxpool.Pool
	logger  zerolog.Logger
}

func NewService(hps HistoryPhysicalRepository, records OperativeRecordRepository, auditSvc *audit.Service, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{
		hps:     hps,
		records: records,
		audit:   auditSvc,
		pool:    pool,
		logger:  logger.With().Str("component", "operative").Logger(),
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

// -- History & physical --

func (s *Service) CreateHistoryPhysical(ctx context.Context, h *HistoryPhysical, meta RequestMeta) (*HistoryPhysical, error) {
	h.ClinicID = db.TenantFromContext(ctx)
	h.Signature = signing.SignatureBlock{}
	if err := s.hps.Create(ctx, h); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, s.auditParams(ctx, meta, audit.ActionCreate, "history_physical", h.ID))
	return h, nil
}

func (s *Service) GetHistoryPhysical(ctx context.Context, id uuid.UUID) (*HistoryPhysical, error) {
	return s.hps.GetByID(ctx, id)
}

func (s *Service) GetHistoryPhysicalByCheckin(ctx context.Context, checkinID uuid.UUID) (*HistoryPhysical, error) {
	return s.hps.GetByCheckin(ctx, checkinID)
}

func (s *Service) UpdateHistoryPhysical(ctx context.Context, id uuid.UUID, in *HistoryPhysical, meta RequestMeta) (*HistoryPhysical, error) {
	existing, err := s.hps.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Signature.IsSigned {
		return nil, signing.ErrDocumentLocked
	}

	before := existing.CanonicalPayload()
	existing.applyEdit(in)
	if err := s.hps.Update(ctx, existing); err != nil {
		return nil, err
	}

	p := s.auditParams(ctx, meta, audit.ActionUpdate, "history_physical", existing.ID)
	p.FieldChanges = audit.DiffPayloads(before, existing.CanonicalPayload())
	s.audit.Record(ctx, p)
	return existing, nil
}

func (s *Service) SignHistoryPhysical(ctx context.Context, id uuid.UUID, artifact string, meta RequestMeta) (*HistoryPhysical, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *HistoryPhysical
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		d, err := s.hps.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := d.Signature.Apply(d, signer, artifact, time.Now()); err != nil {
			return err
		}
		if err := s.hps.SaveSignature(ctx, d); err != nil {
			return err
		}
		p := s.auditParams(ctx, meta, audit.ActionSignature, "history_physical", d.ID)
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
	metrics.DocumentSigned(db.TenantFromContext(ctx), "history_physical")
	return doc, nil
}

func (s *Service) VerifyHistoryPhysical(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.hps.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Signature.Verify(d), nil
}

// -- Operative record --

func (s *Service) CreateOperativeRecord(ctx context.Context, r *OperativeRecord, meta RequestMeta) (*OperativeRecord, error) {
	r.ClinicID = db.TenantFromContext(ctx)
	r.Signature = signing.SignatureBlock{}
	if err := s.records.Create(ctx, r); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, s.auditParams(ctx, meta, audit.ActionCreate, "operative_record", r.ID))
	return r, nil
}

func (s *Service) GetOperativeRecord(ctx context.Context, id uuid.UUID) (*OperativeRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) GetOperativeRecordByCheckin(ctx context.Context, checkinID uuid.UUID) (*OperativeRecord, error) {
	return s.records.GetByCheckin(ctx, checkinID)
}

func (s *Service) UpdateOperativeRecord(ctx context.Context, id uuid.UUID, in *OperativeRecord, meta RequestMeta) (*OperativeRecord, error) {
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

	p := s.auditParams(ctx, meta, audit.ActionUpdate, "operative_record", existing.ID)
	p.FieldChanges = audit.DiffPayloads(before, existing.CanonicalPayload())
	s.audit.Record(ctx, p)
	return existing, nil
}

func (s *Service) SignOperativeRecord(ctx context.Context, id uuid.UUID, artifact string, meta RequestMeta) (*OperativeRecord, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *OperativeRecord
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
		p := s.auditParams(ctx, meta, audit.ActionSignature, "operative_record", d.ID)
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
	metrics.DocumentSigned(db.TenantFromContext(ctx), "operative_record")
	return doc, nil
}

func (s *Service) VerifyOperativeRecord(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.records.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Signature.Verify(d), nil
}
