package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/surgicenter/emr/internal/platform/db"
	"github.com/surgicenter/emr/internal/platform/signing"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func connFor(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// -- Surgical consent --

type surgicalRepoPG struct {
	pool *pgxpool.Pool
}

func NewSurgicalRepo(pool *pgxpool.Pool) SurgicalConsentRepository {
	return &surgicalRepoPG{pool: pool}
}

const surgicalCols = `id, clinic_id, checkin_id, procedure_name, surgeon_name, nkda, allergies_text,
	sections, patient_signature_data_url, witness_signature_data_url, guardian_signature_data_url,
	is_signed, signed_by_id, signer_name, signed_at, signature_data_url, content_hash, signature_hash,
	created_at, updated_at`

func (r *surgicalRepoPG) Create(ctx context.Context, c *SurgicalConsent) error {
	c.ID = uuid.New()
	sections, err := json.Marshal(orEmpty(c.Sections))
	if err != nil {
		return fmt.Errorf("surgical consent create: %w", err)
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO surgical_consents (
			id, clinic_id, checkin_id, procedure_name, surgeon_name, nkda, allergies_text,
			sections, patient_signature_data_url, witness_signature_data_url, guardian_signature_data_url
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.ClinicID, c.CheckinID, c.ProcedureName, c.SurgeonName, c.NKDA, c.AllergiesText,
		sections, c.PatientSignatureDataURL, c.WitnessSignatureDataURL, c.GuardianSignatureDataURL,
	)
	return err
}

func (r *surgicalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SurgicalConsent, error) {
	return scanSurgical(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+surgicalCols+` FROM surgical_consents WHERE id = $1`, id))
}

func (r *surgicalRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*SurgicalConsent, error) {
	return scanSurgical(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+surgicalCols+` FROM surgical_consents WHERE id = $1 FOR UPDATE`, id))
}

func (r *surgicalRepoPG) GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*SurgicalConsent, error) {
	return scanSurgical(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+surgicalCols+` FROM surgical_consents WHERE checkin_id = $1`, checkinID))
}

func (r *surgicalRepoPG) Update(ctx context.Context, c *SurgicalConsent) error {
	sections, err := json.Marshal(orEmpty(c.Sections))
	if err != nil {
		return fmt.Errorf("surgical consent update: %w", err)
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE surgical_consents SET
			procedure_name = $2, surgeon_name = $3, nkda = $4, allergies_text = $5,
			sections = $6, patient_signature_data_url = $7, witness_signature_data_url = $8,
			guardian_signature_data_url = $9, updated_at = now()
		WHERE id = $1 AND is_signed = FALSE`,
		c.ID, c.ProcedureName, c.SurgeonName, c.NKDA, c.AllergiesText,
		sections, c.PatientSignatureDataURL, c.WitnessSignatureDataURL, c.GuardianSignatureDataURL,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Zero rows: the consent is gone, or a sign committed after the
		// caller's staleness check. Re-read to tell the two apart.
		cur, err := r.GetByID(ctx, c.ID)
		if err != nil {
			return err
		}
		if cur.Signature.IsSigned {
			return signing.ErrDocumentLocked
		}
		return ErrNotFound
	}
	return nil
}

func (r *surgicalRepoPG) SaveSignature(ctx context.Context, c *SurgicalConsent) error {
	return saveSignatureBlock(ctx, connFor(ctx, r.pool), "surgical_consents", c.ID, &c.Signature)
}

func scanSurgical(row pgx.Row) (*SurgicalConsent, error) {
	var (
		c            SurgicalConsent
		sectionsJSON []byte
	)
	err := row.Scan(
		&c.ID, &c.ClinicID, &c.CheckinID, &c.ProcedureName, &c.SurgeonName, &c.NKDA, &c.AllergiesText,
		&sectionsJSON, &c.PatientSignatureDataURL, &c.WitnessSignatureDataURL, &c.GuardianSignatureDataURL,
		&c.Signature.IsSigned, &c.Signature.SignedByID, &c.Signature.SignerName, &c.Signature.SignedAt,
		&c.Signature.SignatureDataURL, &c.Signature.ContentHash, &c.Signature.SignatureHash,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sectionsJSON, &c.Sections); err != nil {
		return nil, fmt.Errorf("surgical consent scan: %w", err)
	}
	normalizeBlock(&c.Signature)
	return &c, nil
}

// -- Anesthesia consent --

type anesthesiaRepoPG struct {
	pool *pgxpool.Pool
}

func NewAnesthesiaRepo(pool *pgxpool.Pool) AnesthesiaConsentRepository {
	return &anesthesiaRepoPG{pool: pool}
}

const anesthesiaCols = `id, clinic_id, checkin_id, nkda, allergies_text, sections,
	patient_signature_data_url, witness_signature_data_url, guardian_signature_data_url,
	anesthesiologist_signature_data_url,
	is_signed, signed_by_id, signer_name, signed_at, signature_data_url, content_hash, signature_hash,
	created_at, updated_at`

func (r *anesthesiaRepoPG) Create(ctx context.Context, c *AnesthesiaConsent) error {
	c.ID = uuid.New()
	sections, err := json.Marshal(orEmpty(c.Sections))
	if err != nil {
		return fmt.Errorf("anesthesia consent create: %w", err)
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO anesthesia_consents (
			id, clinic_id, checkin_id, nkda, allergies_text, sections,
			patient_signature_data_url, witness_signature_data_url, guardian_signature_data_url,
			anesthesiologist_signature_data_url
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.ClinicID, c.CheckinID, c.NKDA, c.AllergiesText, sections,
		c.PatientSignatureDataURL, c.WitnessSignatureDataURL, c.GuardianSignatureDataURL,
		c.AnesthesiologistSignatureDataURL,
	)
	return err
}

func (r *anesthesiaRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AnesthesiaConsent, error) {
	return scanAnesthesia(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+anesthesiaCols+` FROM anesthesia_consents WHERE id = $1`, id))
}

func (r *anesthesiaRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*AnesthesiaConsent, error) {
	return scanAnesthesia(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+anesthesiaCols+` FROM anesthesia_consents WHERE id = $1 FOR UPDATE`, id))
}

func (r *anesthesiaRepoPG) GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*AnesthesiaConsent, error) {
	return scanAnesthesia(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+anesthesiaCols+` FROM anesthesia_consents WHERE checkin_id = $1`, checkinID))
}

func (r *anesthesiaRepoPG) Update(ctx context.Context, c *AnesthesiaConsent) error {
	sections, err := json.Marshal(orEmpty(c.Sections))
	if err != nil {
		return fmt.Errorf("anesthesia consent update: %w", err)
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE anesthesia_consents SET
			nkda = $2, allergies_text = $3, sections = $4,
			patient_signature_data_url = $5, witness_signature_data_url = $6,
			guardian_signature_data_url = $7, anesthesiologist_signature_data_url = $8,
			updated_at = now()
		WHERE id = $1 AND is_signed = FALSE`,
		c.ID, c.NKDA, c.AllergiesText, sections,
		c.PatientSignatureDataURL, c.WitnessSignatureDataURL,
		c.GuardianSignatureDataURL, c.AnesthesiologistSignatureDataURL,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		cur, err := r.GetByID(ctx, c.ID)
		if err != nil {
			return err
		}
		if cur.Signature.IsSigned {
			return signing.ErrDocumentLocked
		}
		return ErrNotFound
	}
	return nil
}

func (r *anesthesiaRepoPG) SaveSignature(ctx context.Context, c *AnesthesiaConsent) error {
	return saveSignatureBlock(ctx, connFor(ctx, r.pool), "anesthesia_consents", c.ID, &c.Signature)
}

func scanAnesthesia(row pgx.Row) (*AnesthesiaConsent, error) {
	var (
		c            AnesthesiaConsent
		sectionsJSON []byte
	)
	err := row.Scan(
		&c.ID, &c.ClinicID, &c.CheckinID, &c.NKDA, &c.AllergiesText, &sectionsJSON,
		&c.PatientSignatureDataURL, &c.WitnessSignatureDataURL, &c.GuardianSignatureDataURL,
		&c.AnesthesiologistSignatureDataURL,
		&c.Signature.IsSigned, &c.Signature.SignedByID, &c.Signature.SignerName, &c.Signature.SignedAt,
		&c.Signature.SignatureDataURL, &c.Signature.ContentHash, &c.Signature.SignatureHash,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sectionsJSON, &c.Sections); err != nil {
		return nil, fmt.Errorf("anesthesia consent scan: %w", err)
	}
	normalizeBlock(&c.Signature)
	return &c, nil
}

// -- shared helpers --

func saveSignatureBlock(ctx context.Context, q querier, table string, id uuid.UUID, b *signing.SignatureBlock) error {
	tag, err := q.Exec(ctx, `
		UPDATE `+table+` SET
			is_signed = $2, signed_by_id = $3, signer_name = $4, signed_at = $5,
			signature_data_url = $6, content_hash = $7, signature_hash = $8, updated_at = now()
		WHERE id = $1`,
		id, b.IsSigned, b.SignedByID, b.SignerName, b.SignedAt,
		b.SignatureDataURL, b.ContentHash, b.SignatureHash,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeBlock(b *signing.SignatureBlock) {
	if b.SignedAt != nil {
		t := b.SignedAt.UTC()
		b.SignedAt = &t
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
