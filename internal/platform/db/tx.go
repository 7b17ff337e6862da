package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const txKey contextKey = "db_tx"

// ContextWithTx returns a context carrying an open transaction. Repositories
// that see a transaction in context run their statements on it instead of the
// pool, so multi-repository operations (sign + audit append) share one
// failure domain.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext retrieves the transaction from context, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// WithTx runs fn inside a transaction placed in the context. If a transaction
// is already in flight it is reused and ownership stays with the outer caller.
// The clinic schema search_path is restated on the new transaction because a
// pool transaction may land on a different connection than the one the tenant
// middleware pinned.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context) error) error {
	if tx := TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}
	// No pool means non-transactional storage (in-memory repositories).
	if pool == nil {
		return fn(ctx)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if tenant := TenantFromContext(ctx); tenant != "" {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", SchemaFor(tenant))); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}
	}

	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
