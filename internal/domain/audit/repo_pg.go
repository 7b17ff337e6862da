package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/surgicenter/emr/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, actor_id, actor_display_name, actor_role, tenant_id, action_kind,
	resource_type, resource_id, resource_label, occurred_at, origin_address, origin_agent,
	reason, field_changes, metadata, previous_entry_hash, entry_hash`

// Append seals e into the tenant's chain and inserts it. The tenant's
// chain-tail row is locked FOR UPDATE for the duration of the transaction, so
// concurrent appends for the same tenant serialize and each entry links to a
// unique predecessor. If the surrounding context already carries a
// transaction (a signing flow), the append joins it and fails or commits with
// it.
func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)

		var lastHash string
		err := tx.QueryRow(ctx,
			`SELECT last_entry_hash FROM audit_chain_tail WHERE tenant_id = $1 FOR UPDATE`,
			e.TenantID,
		).Scan(&lastHash)
		if errors.Is(err, pgx.ErrNoRows) {
			// First append for this tenant. Create the tail row, then take the
			// lock; the conflict clause covers a racing genesis append.
			if _, err := tx.Exec(ctx,
				`INSERT INTO audit_chain_tail (tenant_id, last_entry_hash) VALUES ($1, '')
				 ON CONFLICT (tenant_id) DO NOTHING`, e.TenantID); err != nil {
				return fmt.Errorf("audit append: init chain tail: %w", err)
			}
			err = tx.QueryRow(ctx,
				`SELECT last_entry_hash FROM audit_chain_tail WHERE tenant_id = $1 FOR UPDATE`,
				e.TenantID,
			).Scan(&lastHash)
		}
		if err != nil {
			return fmt.Errorf("audit append: lock chain tail: %w", err)
		}

		e.seal(lastHash)

		changes, err := marshalNullable(e.FieldChanges)
		if err != nil {
			return fmt.Errorf("audit append: encode field changes: %w", err)
		}
		meta, err := marshalNullable(e.Metadata)
		if err != nil {
			return fmt.Errorf("audit append: encode metadata: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO audit_entries (
				actor_id, actor_display_name, actor_role, tenant_id, action_kind,
				resource_type, resource_id, resource_label, occurred_at, origin_address,
				origin_agent, reason, field_changes, metadata, previous_entry_hash, entry_hash
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
			) RETURNING id`,
			e.ActorID, e.ActorDisplayName, e.ActorRole, e.TenantID, e.Action,
			e.ResourceType, e.ResourceID, e.ResourceLabel, e.OccurredAt, e.OriginAddress,
			e.OriginAgent, e.Reason, changes, meta, e.PreviousEntryHash, e.EntryHash,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("audit append: insert entry: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE audit_chain_tail SET last_entry_hash = $2, last_entry_id = $3 WHERE tenant_id = $1`,
			e.TenantID, e.EntryHash, e.ID); err != nil {
			return fmt.Errorf("audit append: advance chain tail: %w", err)
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, tenantID string, id int64) (*Entry, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM audit_entries WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *repoPG) Range(ctx context.Context, tenantID string, fromID, toID int64) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM audit_entries
		 WHERE tenant_id = $1 AND id >= $2 AND id <= $3
		 ORDER BY id ASC`,
		tenantID, fromID, toID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *repoPG) MaxID(ctx context.Context, tenantID string) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM audit_entries WHERE tenant_id = $1`,
		tenantID).Scan(&id)
	return id, err
}

func (r *repoPG) Search(ctx context.Context, tenantID string, p SearchParams) ([]*Entry, int, error) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}

	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if p.ActorID != "" {
		add("actor_id = $%d", p.ActorID)
	}
	if p.Action != "" {
		add("action_kind = $%d", p.Action)
	}
	if p.ResourceType != "" {
		add("resource_type = $%d", p.ResourceType)
	}
	if p.ResourceID != "" {
		add("resource_id = $%d", p.ResourceID)
	}
	if !p.From.IsZero() {
		add("occurred_at >= $%d", p.From)
	}
	if !p.To.IsZero() {
		add("occurred_at <= $%d", p.To)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := p.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	args = append(args, limit, p.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM audit_entries WHERE `+cond+
			fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	entries, err := collectEntries(rows)
	return entries, total, err
}

func (r *repoPG) RecentForActor(ctx context.Context, tenantID, actorID, resourceType string, action ActionKind, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+entryCols+` FROM audit_entries
		 WHERE tenant_id = $1 AND actor_id = $2 AND resource_type = $3 AND action_kind = $4
		 ORDER BY id DESC LIMIT $5`,
		tenantID, actorID, resourceType, action, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case map[string]FieldChange:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e           Entry
		occurredAt  time.Time
		changesJSON []byte
		metaJSON    []byte
	)
	err := row.Scan(
		&e.ID, &e.ActorID, &e.ActorDisplayName, &e.ActorRole, &e.TenantID, &e.Action,
		&e.ResourceType, &e.ResourceID, &e.ResourceLabel, &occurredAt, &e.OriginAddress,
		&e.OriginAgent, &e.Reason, &changesJSON, &metaJSON, &e.PreviousEntryHash, &e.EntryHash,
	)
	if err != nil {
		return nil, err
	}
	e.OccurredAt = occurredAt.UTC()
	if len(changesJSON) > 0 {
		if err := json.Unmarshal(changesJSON, &e.FieldChanges); err != nil {
			return nil, fmt.Errorf("audit scan: field changes: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("audit scan: metadata: %w", err)
		}
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
