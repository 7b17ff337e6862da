package operative

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

// -- History & physical --

type hpRepoPG struct {
	pool *pgxpool.Pool
}

func NewHistoryPhysicalRepo(pool *pgxpool.Pool) HistoryPhysicalRepository {
	return &hpRepoPG{pool: pool}
}

const hpCols = `id, clinic_id, checkin_id, page1,
	is_signed, signed_by_id, signer_name, signed_at, signature_data_url, content_hash, signature_hash,
	created_at, updated_at`

func (r *hpRepoPG) Create(ctx context.Context, h *HistoryPhysical) error {
	h.ID = uuid.New()
	page1, err := json.Marshal(orEmptyMap(h.Page1))
	if err != nil {
		return fmt.Errorf("h&p create: %w", err)
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO history_physicals (id, clinic_id, checkin_id, page1)
		VALUES ($1,$2,$3,$4)`,
		h.ID, h.ClinicID, h.CheckinID, page1,
	)
	return err
}

func (r *hpRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*HistoryPhysical, error) {
	return scanHP(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+hpCols+` FROM history_physicals WHERE id = $1`, id))
}

func (r *hpRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*HistoryPhysical, error) {
	return scanHP(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+hpCols+` FROM history_physicals WHERE id = $1 FOR UPDATE`, id))
}

func (r *hpRepoPG) GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*HistoryPhysical, error) {
	return scanHP(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+hpCols+` FROM history_physicals WHERE checkin_id = $1`, checkinID))
}

func (r *hpRepoPG) Update(ctx context.Context, h *HistoryPhysical) error {
	page1, err := json.Marshal(orEmptyMap(h.Page1))
	if err != nil {
		return fmt.Errorf("h&p update: %w", err)
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE history_physicals SET page1 = $2, updated_at = now()
		WHERE id = $1 AND is_signed = FALSE`,
		h.ID, page1,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Zero rows: missing, or signed since the caller's read.
		cur, err := r.GetByID(ctx, h.ID)
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

func (r *hpRepoPG) SaveSignature(ctx context.Context, h *HistoryPhysical) error {
	return saveSignatureBlock(ctx, connFor(ctx, r.pool), "history_physicals", h.ID, &h.Signature)
}

func scanHP(row pgx.Row) (*HistoryPhysical, error) {
	var (
		h         HistoryPhysical
		page1JSON []byte
	)
	err := row.Scan(
		&h.ID, &h.ClinicID, &h.CheckinID, &page1JSON,
		&h.Signature.IsSigned, &h.Signature.SignedByID, &h.Signature.SignerName, &h.Signature.SignedAt,
		&h.Signature.SignatureDataURL, &h.Signature.ContentHash, &h.Signature.SignatureHash,
		&h.CreatedAt, &h.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(page1JSON, &h.Page1); err != nil {
		return nil, fmt.Errorf("h&p scan: %w", err)
	}
	normalizeBlock(&h.Signature)
	return &h, nil
}

// -- Operative record --

type orRepoPG struct {
	pool *pgxpool.Pool
}

func NewOperativeRecordRepo(pool *pgxpool.Pool) OperativeRecordRepository {
	return &orRepoPG{pool: pool}
}

const orCols = `id, clinic_id, checkin_id, room_number, in_time, start_time, end_time, out_time,
	page1, page2,
	is_signed, signed_by_id, signer_name, signed_at, signature_data_url, content_hash, signature_hash,
	created_at, updated_at`

func (r *orRepoPG) Create(ctx context.Context, rec *OperativeRecord) error {
	rec.ID = uuid.New()
	page1, page2, err := marshalPages(rec)
	if err != nil {
		return fmt.Errorf("operative record create: %w", err)
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO operative_records (
			id, clinic_id, checkin_id, room_number, in_time, start_time, end_time, out_time, page1, page2
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.ClinicID, rec.CheckinID, rec.RoomNumber, rec.InTime, rec.StartTime, rec.EndTime, rec.OutTime,
		page1, page2,
	)
	return err
}

func (r *orRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*OperativeRecord, error) {
	return scanOR(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orCols+` FROM operative_records WHERE id = $1`, id))
}

func (r *orRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*OperativeRecord, error) {
	return scanOR(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orCols+` FROM operative_records WHERE id = $1 FOR UPDATE`, id))
}

func (r *orRepoPG) GetByCheckin(ctx context.Context, checkinID uuid.UUID) (*OperativeRecord, error) {
	return scanOR(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orCols+` FROM operative_records WHERE checkin_id = $1`, checkinID))
}

func (r *orRepoPG) Update(ctx context.Context, rec *OperativeRecord) error {
	page1, page2, err := marshalPages(rec)
	if err != nil {
		return fmt.Errorf("operative record update: %w", err)
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE operative_records SET
			room_number = $2, in_time = $3, start_time = $4, end_time = $5, out_time = $6,
			page1 = $7, page2 = $8, updated_at = now()
		WHERE id = $1 AND is_signed = FALSE`,
		rec.ID, rec.RoomNumber, rec.InTime, rec.StartTime, rec.EndTime, rec.OutTime, page1, page2,
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

func (r *orRepoPG) SaveSignature(ctx context.Context, rec *OperativeRecord) error {
	return saveSignatureBlock(ctx, connFor(ctx, r.pool), "operative_records", rec.ID, &rec.Signature)
}

func marshalPages(rec *OperativeRecord) ([]byte, []byte, error) {
	page1, err := json.Marshal(orEmptyMap(rec.Page1))
	if err != nil {
		return nil, nil, err
	}
	page2, err := json.Marshal(orEmptyMap(rec.Page2))
	if err != nil {
		return nil, nil, err
	}
	return page1, page2, nil
}

func scanOR(row pgx.Row) (*OperativeRecord, error) {
	var (
		rec       OperativeRecord
		page1JSON []byte
		page2JSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.ClinicID, &rec.CheckinID, &rec.RoomNumber, &rec.InTime, &rec.StartTime, &rec.EndTime, &rec.OutTime,
		&page1JSON, &page2JSON,
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
	if err := json.Unmarshal(page1JSON, &rec.Page1); err != nil {
		return nil, fmt.Errorf("operative record scan: %w", err)
	}
	if err := json.Unmarshal(page2JSON, &rec.Page2); err != nil {
		return nil, fmt.Errorf("operative record scan: %w", err)
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
