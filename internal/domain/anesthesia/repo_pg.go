package anesthesia

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

// -- Pre-anesthesia assessment --

type assessmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAssessmentRepo(pool *pgxpool.Pool) AssessmentRepository {
	return &assessmentRepoPG{pool: pool}
}

const assessmentCols = `id, clinic_id, checkin_id, header, history, ros, meds, pe, airway, plan,
	is_signed, signed_by_id, signer_name, signed_at, signature_data_url, content_hash, signature_hash,
	created_at, updated_at`

func (r *assessmentRepoPG) Create(ctx context.Context, a *PreAnesthesiaAssessment) error {
	a.ID = uuid.New()
	header, airway, err := marshalAssessmentBlobs(a)
	if err != nil {
		return fmt.Errorf("assessment create: %w", err)
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO pre_anesthesia_assessments (
			id, clinic_id, checkin_id, header, history, ros, meds, pe, airway, plan
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.ClinicID, a.CheckinID, header, a.History, a.ROS, a.Meds, a.PE, airway, a.Plan,
	)
	return err
}

func (r *assessmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PreAnesthesiaAssessment, error) {
	return scanAssessment(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+assessmentCols+` FROM pre_anesthesia_assessments WHERE id = $1`, id))
}

func (r *assessmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*PreAnesthesiaAssessment, error) {
	return scanAssessment(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+assessmentCols+` FROM pre_anesthesia_assessments WHERE id = $1 FOR UPDATE`, id))
}

func (r *assessmentRepoPG) GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*PreAnesthesiaAssessment, error) {
	return scanAssessment(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+assessmentCols+` FROM pre_anesthesia_assessments WHERE checkin_id = $1`, checkinID))
}

func (r *assessmentRepoPG) Update(ctx context.Context, a *PreAnesthesiaAssessment) error {
	header, airway, err := marshalAssessmentBlobs(a)
	if err != nil {
		return fmt.Errorf("assessment update: %w", err)
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE pre_anesthesia_assessments SET
			header = $2, history = $3, ros = $4, meds = $5, pe = $6, airway = $7, plan = $8,
			updated_at = now()
		WHERE id = $1 AND is_signed = FALSE`,
		a.ID, header, a.History, a.ROS, a.Meds, a.PE, airway, a.Plan,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Zero rows: missing, or signed since the caller's read.
		cur, err := r.GetByID(ctx, a.ID)
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

func (r *assessmentRepoPG) SaveSignature(ctx context.Context, a *PreAnesthesiaAssessment) error {
	return saveSignatureBlock(ctx, connFor(ctx, r.pool), "pre_anesthesia_assessments", a.ID, &a.Signature)
}

func marshalAssessmentBlobs(a *PreAnesthesiaAssessment) ([]byte, []byte, error) {
	header, err := json.Marshal(orEmptyMap(a.Header))
	if err != nil {
		return nil, nil, err
	}
	airway, err := json.Marshal(orEmptyMap(a.Airway))
	if err != nil {
		return nil, nil, err
	}
	return header, airway, nil
}

func scanAssessment(row pgx.Row) (*PreAnesthesiaAssessment, error) {
	var (
		a          PreAnesthesiaAssessment
		headerJSON []byte
		airwayJSON []byte
	)
	err := row.Scan(
		&a.ID, &a.ClinicID, &a.CheckinID, &headerJSON, &a.History, &a.ROS, &a.Meds, &a.PE, &airwayJSON, &a.Plan,
		&a.Signature.IsSigned, &a.Signature.SignedByID, &a.Signature.SignerName, &a.Signature.SignedAt,
		&a.Signature.SignatureDataURL, &a.Signature.ContentHash, &a.Signature.SignatureHash,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(headerJSON, &a.Header); err != nil {
		return nil, fmt.Errorf("assessment scan: %w", err)
	}
	if err := json.Unmarshal(airwayJSON, &a.Airway); err != nil {
		return nil, fmt.Errorf("assessment scan: %w", err)
	}
	normalizeBlock(&a.Signature)
	return &a, nil
}

// -- Anesthesia record --

type recordRepoPG struct {
	pool *pgxpool.Pool
}

func NewRecordRepo(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

const recordCols = `id, clinic_id, checkin_id, header, time_series, regional_anesthesia, notes,
	is_signed, signed_by_id, signer_name, signed_at, signature_data_url, content_hash, signature_hash,
	created_at, updated_at`

func (r *recordRepoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	header, series, regional, err := marshalRecordBlobs(rec)
	if err != nil {
		return fmt.Errorf("anesthesia record create: %w", err)
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO anesthesia_records (
			id, clinic_id, checkin_id, header, time_series, regional_anesthesia, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.ClinicID, rec.CheckinID, header, series, regional, rec.Notes,
	)
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM anesthesia_records WHERE id = $1`, id))
}

func (r *recordRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Record, error) {
	return scanRecord(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM anesthesia_records WHERE id = $1 FOR UPDATE`, id))
}

func (r *recordRepoPG) GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*Record, error) {
	return scanRecord(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM anesthesia_records WHERE checkin_id = $1`, checkinID))
}

func (r *recordRepoPG) Update(ctx context.Context, rec *Record) error {
	header, series, regional, err := marshalRecordBlobs(rec)
	if err != nil {
		return fmt.Errorf("anesthesia record update: %w", err)
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE anesthesia_records SET
			header = $2, time_series = $3, regional_anesthesia = $4, notes = $5, updated_at = now()
		WHERE id = $1 AND is_signed = FALSE`,
		rec.ID, header, series, regional, rec.Notes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
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
	return saveSignatureBlock(ctx, connFor(ctx, r.pool), "anesthesia_records", rec.ID, &rec.Signature)
}

func marshalRecordBlobs(rec *Record) ([]byte, []byte, []byte, error) {
	header, err := json.Marshal(orEmptyMap(rec.Header))
	if err != nil {
		return nil, nil, nil, err
	}
	series := rec.TimeSeries
	if series == nil {
		series = []map[string]any{}
	}
	seriesJSON, err := json.Marshal(series)
	if err != nil {
		return nil, nil, nil, err
	}
	regional, err := json.Marshal(orEmptyMap(rec.RegionalAnesthesia))
	if err != nil {
		return nil, nil, nil, err
	}
	return header, seriesJSON, regional, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec          Record
		headerJSON   []byte
		seriesJSON   []byte
		regionalJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.ClinicID, &rec.CheckinID, &headerJSON, &seriesJSON, &regionalJSON, &rec.Notes,
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
	if err := json.Unmarshal(headerJSON, &rec.Header); err != nil {
		return nil, fmt.Errorf("anesthesia record scan: %w", err)
	}
	if err := json.Unmarshal(seriesJSON, &rec.TimeSeries); err != nil {
		return nil, fmt.Errorf("anesthesia record scan: %w", err)
	}
	if err := json.Unmarshal(regionalJSON, &rec.RegionalAnesthesia); err != nil {
		return nil, fmt.Errorf("anesthesia record scan: %w", err)
	}
	normalizeBlock(&rec.Signature)
	return &rec, nil
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

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
