package pacu

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
	records    RecordRepository
	progress   ProgressNotesRepository
	additional AdditionalNotesRepository
	audit      *audit.Service
	pool       *pgxpool.Pool
	logger     zerolog.Logger
}

func NewService(records RecordRepository, progress ProgressNotesRepository, additional AdditionalNotesRepository, auditSvc *audit.Service, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{
		records:    records,
		progress:   progress,
		additional: additional,
		audit:      auditSvc,
		pool:       pool,
		logger:     logger.With().Str("component", "pacu").Logger(),
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

// -- PACU record --

func (s *Service) CreateRecord(ctx context.Context, rec *Record, meta RequestMeta) (*Record, error) {
	rec.ClinicID = db.TenantFromContext(ctx)
	rec.Signature = signing.SignatureBlock{}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, s.auditParams(ctx, meta, audit.ActionCreate, "pacu_record", rec.ID))
	return rec, nil
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

	p := s.auditParams(ctx, meta, audit.ActionUpdate, "pacu_record", existing.ID)
	p.FieldChanges = audit.DiffPayloads(before, existing.CanonicalPayload())
	s.audit.Record(ctx, p)
	return existing, nil
}

// SignRecord runs the single-RN draft-to-signed transition in one
// transaction with the ledger entry.
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
		p := s.auditParams(ctx, meta, audit.ActionSignature, "pacu_record", d.ID)
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
	metrics.DocumentSigned(db.TenantFromContext(ctx), "pacu_record")
	return doc, nil
}

func (s *Service) VerifyRecord(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.records.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return d.Signature.Verify(d), nil
}

// -- Progress notes --

func (s *Service) CreateProgressNotes(ctx context.Context, n *ProgressNotes, meta RequestMeta) (*ProgressNotes, error) {
	n.ClinicID = db.TenantFromContext(ctx)
	n.Signature = signing.SignatureBlock{}
	n.CoSignatures = nil
	if err := s.progress.Create(ctx, n); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, s.auditParams(ctx, meta, audit.ActionCreate, "pacu_progress_notes", n.ID))
	return n, nil
}

func (s *Service) GetProgressNotes(ctx context.Context, id uuid.UUID) (*ProgressNotes, error) {
	return s.progress.GetByID(ctx, id)
}

func (s *Service) GetProgressNotesByCheckin(ctx context.Context, checkinID uuid.UUID) (*ProgressNotes, error) {
	return s.progress.GetByCheckin(ctx, checkinID)
}

// UpdateProgressNotes replaces the entry rows. The sheet freezes on the
// primary signature.
func (s *Service) UpdateProgressNotes(ctx context.Context, id uuid.UUID, in *ProgressNotes, meta RequestMeta) (*ProgressNotes, error) {
	existing, err := s.progress.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Signature.IsSigned {
		return nil, signing.ErrDocumentLocked
	}

	before := existing.CanonicalPayload()
	existing.applyEdit(in)
	if err := s.progress.Update(ctx, existing); err != nil {
		return nil, err
	}

	p := s.auditParams(ctx, meta, audit.ActionUpdate, "pacu_progress_notes", existing.ID)
	p.FieldChanges = audit.DiffPayloads(before, existing.CanonicalPayload())
	s.audit.Record(ctx, p)
	return existing, nil
}

// SignProgressNotes applies the primary signature and makes the entries
// read-only. Later signers use CoSignProgressNotes.
func (s *Service) SignProgressNotes(ctx context.Context, id uuid.UUID, artifact string, meta RequestMeta) (*ProgressNotes, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *ProgressNotes
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		d, err := s.progress.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := d.Signature.Apply(d, signer, artifact, time.Now()); err != nil {
			return err
		}
		if err := s.progress.SaveSignature(ctx, d); err != nil {
			return err
		}
		p := s.auditParams(ctx, meta, audit.ActionSignature, "pacu_progress_notes", d.ID)
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
	metrics.DocumentSigned(db.TenantFromContext(ctx), "pacu_progress_notes")
	return doc, nil
}

// CoSignProgressNotes fills the next free co-signature slot. Co-signing
// requires the primary signature to be in place and is itself a ledger
// event.
func (s *Service) CoSignProgressNotes(ctx context.Context, id uuid.UUID, artifact string, meta RequestMeta) (*ProgressNotes, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *ProgressNotes
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		d, err := s.progress.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !d.Signature.IsSigned {
			return signing.ErrNoSignatures
		}
		cs, err := signing.NewCoSignature(d, signer, artifact, d.CoSignatures, time.Now())
		if err != nil {
			return err
		}
		d.CoSignatures = append(d.CoSignatures, cs)
		if err := s.progress.SaveCoSignatures(ctx, d); err != nil {
			return err
		}
		p := s.auditParams(ctx, meta, audit.ActionSignature, "pacu_progress_notes", d.ID)
		p.Metadata = map[string]any{
			"content_hash":   cs.ContentHash,
			"signature_hash": cs.SignatureHash,
			"slot":           cs.Slot,
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
	metrics.DocumentSigned(db.TenantFromContext(ctx), "pacu_progress_notes")
	return doc, nil
}

// VerifyProgressNotes checks the primary signature and every co-signature
// against the current entries.
func (s *Service) VerifyProgressNotes(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.progress.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !d.Signature.Verify(d) {
		return false, nil
	}
	for _, cs := range d.CoSignatures {
		if !cs.Verify(d) {
			return false, nil
		}
	}
	return true, nil
}

// -- Additional nursing notes --

func (s *Service) CreateAdditionalNotes(ctx context.Context, n *AdditionalNotes, meta RequestMeta) (*AdditionalNotes, error) {
	n.ClinicID = db.TenantFromContext(ctx)
	n.Signatures = nil
	n.Lock = signing.LockBlock{}
	if err := s.additional.Create(ctx, n); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, s.auditParams(ctx, meta, audit.ActionCreate, "pacu_additional_nursing_notes", n.ID))
	return n, nil
}

func (s *Service) GetAdditionalNotes(ctx context.Context, id uuid.UUID) (*AdditionalNotes, error) {
	return s.additional.GetByID(ctx, id)
}

func (s *Service) GetAdditionalNotesByCheckin(ctx context.Context, checkinID uuid.UUID) (*AdditionalNotes, error) {
	return s.additional.GetByCheckin(ctx, checkinID)
}

// UpdateAdditionalNotes keeps the sheet editable until the explicit lock.
// Signatures taken over superseded content simply stop verifying.
func (s *Service) UpdateAdditionalNotes(ctx context.Context, id uuid.UUID, in *AdditionalNotes, meta RequestMeta) (*AdditionalNotes, error) {
	existing, err := s.additional.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Lock.IsLocked {
		return nil, signing.ErrDocumentLocked
	}

	before := existing.CanonicalPayload()
	existing.applyEdit(in)
	if err := s.additional.Update(ctx, existing); err != nil {
		return nil, err
	}

	p := s.auditParams(ctx, meta, audit.ActionUpdate, "pacu_additional_nursing_notes", existing.ID)
	p.FieldChanges = audit.DiffPayloads(before, existing.CanonicalPayload())
	s.audit.Record(ctx, p)
	return existing, nil
}

// SignAdditionalNotes fills the next free slot of up to three signatures.
// The sheet is refused once locked.
func (s *Service) SignAdditionalNotes(ctx context.Context, id uuid.UUID, artifact string, meta RequestMeta) (*AdditionalNotes, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *AdditionalNotes
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		d, err := s.additional.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.Lock.IsLocked {
			return signing.ErrDocumentLocked
		}
		cs, err := signing.NewCoSignature(d, signer, artifact, d.Signatures, time.Now())
		if err != nil {
			return err
		}
		d.Signatures = append(d.Signatures, cs)
		if err := s.additional.SaveSignatures(ctx, d); err != nil {
			return err
		}
		p := s.auditParams(ctx, meta, audit.ActionSignature, "pacu_additional_nursing_notes", d.ID)
		p.Metadata = map[string]any{
			"content_hash":   cs.ContentHash,
			"signature_hash": cs.SignatureHash,
			"slot":           cs.Slot,
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
	metrics.DocumentSigned(db.TenantFromContext(ctx), "pacu_additional_nursing_notes")
	return doc, nil
}

// LockAdditionalNotes freezes the sheet. At least one signature must be on
// file; the lock shares its transaction with the ledger entry.
func (s *Service) LockAdditionalNotes(ctx context.Context, id uuid.UUID, meta RequestMeta) (*AdditionalNotes, error) {
	signer := signing.SignerFromContext(ctx)
	var doc *AdditionalNotes
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		d, err := s.additional.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := d.Lock.Lock(signer, len(d.Signatures), time.Now()); err != nil {
			return err
		}
		if err := s.additional.SaveLock(ctx, d); err != nil {
			return err
		}
		p := s.auditParams(ctx, meta, audit.ActionUpdate, "pacu_additional_nursing_notes", d.ID)
		p.Metadata = map[string]any{
			"transition":      "lock",
			"signature_count": len(d.Signatures),
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
	return doc, nil
}

// VerifyAdditionalNotes checks every stored signature against the current
// content. An unsigned sheet has nothing to verify and reports false.
func (s *Service) VerifyAdditionalNotes(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.additional.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if len(d.Signatures) == 0 {
		return false, nil
	}
	for _, cs := range d.Signatures {
		if !cs.Verify(d) {
			return false, nil
		}
	}
	return true, nil
}
