package pacu

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

// -- PACU record --

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepo(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

const recordCols = `id, clinic_id, checkin_id, surgeon, anesthesiologist, procedure, arrival_time,
	anesthesia_type, asa_level, airway, o2_device, nkda, allergies_text,
	aldrete_rows, patient_assessment_rows, wound_extremity_rows, medication_rows,
	intake_notes, output_notes, general_notes, discharged_to, discharge_via, discharge_time,
	is_signed, signed_by_id, signer_name, signed_at, signature_data_url, content_hash, signature_hash,
	created_at, updated_at`

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	blobs, err := marshalRecordRows(rec)
	if err != nil {
		return err
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO pacu_records (
			id, clinic_id, checkin_id, surgeon, anesthesiologist, procedure, arrival_time,
			anesthesia_type, asa_level, airway, o2_device, nkda, allergies_text,
			aldrete_rows, patient_assessment_rows, wound_extremity_rows, medication_rows,
			intake_notes, output_notes, general_notes, discharged_to, discharge_via, discharge_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		rec.ID, rec.ClinicID, rec.CheckinID, rec.Surgeon, rec.Anesthesiologist, rec.Procedure, rec.ArrivalTime,
		rec.AnesthesiaType, rec.ASALevel, rec.Airway, rec.O2Device, rec.NKDA, rec.AllergiesText,
		blobs[0], blobs[1], blobs[2], blobs[3],
		rec.IntakeNotes, rec.OutputNotes, rec.GeneralNotes, rec.DischargedTo, rec.DischargeVia, rec.DischargeTime,
	)
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM pacu_records WHERE id = $1`, id))
}

func (r *recordRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM pacu_records WHERE id = $1 FOR UPDATE`, id))
}

func (r *recordRepoPG) GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*Record, error) {
	return scanRecord(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM pacu_records WHERE checkin_id = $1`, checkinID))
}

func (r *recordRepoPG) Update(ctx context.Context, rec *Record) error {
	blobs, err := marshalRecordRows(rec)
	if err != nil {
		return err
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE pacu_records SET
			surgeon = $2, anesthesiologist = $3, procedure = $4, arrival_time = $5,
			anesthesia_type = $6, asa_level = $7, airway = $8, o2_device = $9,
			nkda = $10, allergies_text = $11,
			aldrete_rows = $12, patient_assessment_rows = $13, wound_extremity_rows = $14,
			medication_rows = $15, intake_notes = $16, output_notes = $17, general_notes = $18,
			discharged_to = $19, discharge_via = $20, discharge_time = $21, updated_at = now()
		WHERE id = $1 AND is_signed = FALSE`,
		rec.ID, rec.Surgeon, rec.Anesthesiologist, rec.Procedure, rec.ArrivalTime,
		rec.AnesthesiaType, rec.ASALevel, rec.Airway, rec.O2Device,
		rec.NKDA, rec.AllergiesText,
		blobs[0], blobs[1], blobs[2], blobs[3],
		rec.IntakeNotes, rec.OutputNotes, rec.GeneralNotes,
		rec.DischargedTo, rec.DischargeVia, rec.DischargeTime,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Zero rows: missing, or signed since the caller's read.
		cur, err := r.GetByID(ctx, rec.ID)
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

func (r *recordRepoPG) SaveSignature(ctx context.Context, rec *Record) error {
	b := &rec.Signature
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE pacu_records SET
			is_signed = $2, signed_by_id = $3, signer_name = $4, signed_at = $5,
			signature_data_url = $6, content_hash = $7, signature_hash = $8, updated_at = now()
		WHERE id = $1`,
		rec.ID, b.IsSigned, b.SignedByID, b.SignerName, b.SignedAt,
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

func marshalRecordRows(rec *Record) ([][]byte, error) {
	out := make([][]byte, 0, 4)
	for _, rows := range [][]map[string]any{
		rec.AldreteRows, rec.PatientAssessmentRows, rec.WoundExtremityRows, rec.MedicationRows,
	} {
		raw, err := json.Marshal(orEmptyRows(rows))
		if err != nil {
			return nil, fmt.Errorf("pacu record marshal: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec     Record
		aldrete []byte
		assess  []byte
		wound   []byte
		meds    []byte
	)
	err := row.Scan(
		&rec.ID, &rec.ClinicID, &rec.CheckinID, &rec.Surgeon, &rec.Anesthesiologist, &rec.Procedure, &rec.ArrivalTime,
		&rec.AnesthesiaType, &rec.ASALevel, &rec.Airway, &rec.O2Device, &rec.NKDA, &rec.AllergiesText,
		&aldrete, &assess, &wound, &meds,
		&rec.IntakeNotes, &rec.OutputNotes, &rec.GeneralNotes, &rec.DischargedTo, &rec.DischargeVia, &rec.DischargeTime,
		&rec.Signature.IsSigned, &rec.Signature.SignedByID, &rec.Signature.SignerName, &rec.Signature.SignedAt,
		&rec.Signature.SignatureDataURL, &rec.Signature.ContentHash, &rec.Signature.SignatureHash,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw  []byte
		dest *[]map[string]any
	}{
		{aldrete, &rec.AldreteRows},
		{assess, &rec.PatientAssessmentRows},
		{wound, &rec.WoundExtremityRows},
		{meds, &rec.MedicationRows},
	} {
		if err := json.Unmarshal(pair.raw, pair.dest); err != nil {
			return nil, fmt.Errorf("pacu record scan: %w", err)
		}
	}
	normalizeBlock(&rec.Signature)
	return &rec, nil
}

// -- Progress notes --

type progressRepoPG struct {
	pool *pgxpool.Pool
}

func NewProgressNotesRepo(pool *pgxpool.Pool) ProgressNotesRepository {
	return &progressRepoPG{pool: pool}
}

const progressCols = `id, clinic_id, checkin_id, entries, co_signatures,
	is_signed, signed_by_id, signer_name, signed_at, signature_data_url, content_hash, signature_hash,
	created_at, updated_at`

func (r *progressRepoPG) Create(ctx context.Context, n *ProgressNotes) error {
	n.ID = uuid.New()
	entries, err := json.Marshal(orEmptyEntries(n.Entries))
	if err != nil {
		return fmt.Errorf("progress notes create: %w", err)
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO pacu_progress_notes (id, clinic_id, checkin_id, entries, co_signatures)
		VALUES ($1,$2,$3,$4,'[]')`,
		n.ID, n.ClinicID, n.CheckinID, entries,
	)
	return err
}

func (r *progressRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ProgressNotes, error) {
	return scanProgress(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+progressCols+` FROM pacu_progress_notes WHERE id = $1`, id))
}

func (r *progressRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*ProgressNotes, error) {
	return scanProgress(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+progressCols+` FROM pacu_progress_notes WHERE id = $1 FOR UPDATE`, id))
}

func (r *progressRepoPG) GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*ProgressNotes, error) {
	return scanProgress(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+progressCols+` FROM pacu_progress_notes WHERE checkin_id = $1`, checkinID))
}

func (r *progressRepoPG) Update(ctx context.Context, n *ProgressNotes) error {
	entries, err := json.Marshal(orEmptyEntries(n.Entries))
	if err != nil {
		return fmt.Errorf("progress notes update: %w", err)
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE pacu_progress_notes SET entries = $2, updated_at = now()
		WHERE id = $1 AND is_signed = FALSE`,
		n.ID, entries,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		cur, err := r.GetByID(ctx, n.ID)
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

func (r *progressRepoPG) SaveSignature(ctx context.Context, n *ProgressNotes) error {
	b := &n.Signature
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE pacu_progress_notes SET
			is_signed = $2, signed_by_id = $3, signer_name = $4, signed_at = $5,
			signature_data_url = $6, content_hash = $7, signature_hash = $8, updated_at = now()
		WHERE id = $1`,
		n.ID, b.IsSigned, b.SignedByID, b.SignerName, b.SignedAt,
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

func (r *progressRepoPG) SaveCoSignatures(ctx context.Context, n *ProgressNotes) error {
	return saveCoSignatureList(ctx, connFor(ctx, r.pool), "pacu_progress_notes", "co_signatures", n.ID, n.CoSignatures)
}

func scanProgress(row pgx.Row) (*ProgressNotes, error) {
	var (
		n           ProgressNotes
		entriesJSON []byte
		cosignJSON  []byte
	)
	err := row.Scan(
		&n.ID, &n.ClinicID, &n.CheckinID, &entriesJSON, &cosignJSON,
		&n.Signature.IsSigned, &n.Signature.SignedByID, &n.Signature.SignerName, &n.Signature.SignedAt,
		&n.Signature.SignatureDataURL, &n.Signature.ContentHash, &n.Signature.SignatureHash,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(entriesJSON, &n.Entries); err != nil {
		return nil, fmt.Errorf("progress notes scan: %w", err)
	}
	if err := json.Unmarshal(cosignJSON, &n.CoSignatures); err != nil {
		return nil, fmt.Errorf("progress notes scan: %w", err)
	}
	normalizeBlock(&n.Signature)
	return &n, nil
}

// -- Additional nursing notes --

type additionalRepoPG struct {
	pool *pgxpool.Pool
}

func NewAdditionalNotesRepo(pool *pgxpool.Pool) AdditionalNotesRepository {
	return &additionalRepoPG{pool: pool}
}

const additionalCols = `id, clinic_id, checkin_id,
	patient_assessment_rows, wound_extremity_rows, medication_rows, notes, signatures,
	is_locked, locked_by_id, locked_at, created_at, updated_at`

func (r *additionalRepoPG) Create(ctx context.Context, n *AdditionalNotes) error {
	n.ID = uuid.New()
	blobs, err := marshalAdditionalRows(n)
	if err != nil {
		return err
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO pacu_additional_nursing_notes (
			id, clinic_id, checkin_id,
			patient_assessment_rows, wound_extremity_rows, medication_rows, notes, signatures
		) VALUES ($1,$2,$3,$4,$5,$6,$7,'[]')`,
		n.ID, n.ClinicID, n.CheckinID,
		blobs[0], blobs[1], blobs[2], n.Notes,
	)
	return err
}

func (r *additionalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AdditionalNotes, error) {
	return scanAdditional(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+additionalCols+` FROM pacu_additional_nursing_notes WHERE id = $1`, id))
}

func (r *additionalRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*AdditionalNotes, error) {
	return scanAdditional(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+additionalCols+` FROM pacu_additional_nursing_notes WHERE id = $1 FOR UPDATE`, id))
}

func (r *additionalRepoPG) GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*AdditionalNotes, error) {
	return scanAdditional(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+additionalCols+` FROM pacu_additional_nursing_notes WHERE checkin_id = $1`, checkinID))
}

func (r *additionalRepoPG) Update(ctx context.Context, n *AdditionalNotes) error {
	blobs, err := marshalAdditionalRows(n)
	if err != nil {
		return err
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE pacu_additional_nursing_notes SET
			patient_assessment_rows = $2, wound_extremity_rows = $3, medication_rows = $4,
			notes = $5, updated_at = now()
		WHERE id = $1 AND is_locked = FALSE`,
		n.ID, blobs[0], blobs[1], blobs[2], n.Notes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Zero rows: missing, or locked since the caller's read.
		cur, err := r.GetByID(ctx, n.ID)
		if err != nil {
			return err
		}
		if cur.Lock.IsLocked {
			return signing.ErrDocumentLocked
		}
		return ErrNotFound
	}
	return nil
}

func (r *additionalRepoPG) SaveSignatures(ctx context.Context, n *AdditionalNotes) error {
	return saveCoSignatureList(ctx, connFor(ctx, r.pool), "pacu_additional_nursing_notes", "signatures", n.ID, n.Signatures)
}

func (r *additionalRepoPG) SaveLock(ctx context.Context, n *AdditionalNotes) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE pacu_additional_nursing_notes SET
			is_locked = $2, locked_by_id = $3, locked_at = $4, updated_at = now()
		WHERE id = $1`,
		n.ID, n.Lock.IsLocked, n.Lock.LockedByID, n.Lock.LockedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalAdditionalRows(n *AdditionalNotes) ([][]byte, error) {
	out := make([][]byte, 0, 3)
	for _, rows := range [][]map[string]any{
		n.PatientAssessmentRows, n.WoundExtremityRows, n.MedicationRows,
	} {
		raw, err := json.Marshal(orEmptyRows(rows))
		if err != nil {
			return nil, fmt.Errorf("additional notes marshal: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func scanAdditional(row pgx.Row) (*AdditionalNotes, error) {
	var (
		n        AdditionalNotes
		assess   []byte
		wound    []byte
		meds     []byte
		sigsJSON []byte
	)
	err := row.Scan(
		&n.ID, &n.ClinicID, &n.CheckinID,
		&assess, &wound, &meds, &n.Notes, &sigsJSON,
		&n.Lock.IsLocked, &n.Lock.LockedByID, &n.Lock.LockedAt,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw  []byte
		dest *[]map[string]any
	}{
		{assess, &n.PatientAssessmentRows},
		{wound, &n.WoundExtremityRows},
		{meds, &n.MedicationRows},
	} {
		if err := json.Unmarshal(pair.raw, pair.dest); err != nil {
			return nil, fmt.Errorf("additional notes scan: %w", err)
		}
	}
	if err := json.Unmarshal(sigsJSON, &n.Signatures); err != nil {
		return nil, fmt.Errorf("additional notes scan: %w", err)
	}
	if n.Lock.LockedAt != nil {
		t := n.Lock.LockedAt.UTC()
		n.Lock.LockedAt = &t
	}
	return &n, nil
}

// -- shared helpers --

func saveCoSignatureList(ctx context.Context, q querier, table, column string, id uuid.UUID, sigs []signing.CoSignature) error {
	if sigs == nil {
		sigs = []signing.CoSignature{}
	}
	raw, err := json.Marshal(sigs)
	if err != nil {
		return fmt.Errorf("co-signature marshal: %w", err)
	}
	tag, err := q.Exec(ctx,
		`UPDATE `+table+` SET `+column+` = $2, updated_at = now() WHERE id = $1`,
		id, raw,
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

func orEmptyRows(rows []map[string]any) []map[string]any {
	if rows == nil {
		return []map[string]any{}
	}
	return rows
}

func orEmptyEntries(entries []ProgressEntry) []ProgressEntry {
	if entries == nil {
		return []ProgressEntry{}
	}
	return entries
}
