// Package db provides PostgreSQL-backed repository implementations. All
// repositories accept a DBTX interface that is satisfied by both
// *pgxpool.Pool (for normal queries) and pgx.Tx (for transactional
// execution), enabling clean transaction support.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is the transactional slice of pgx.Tx the repositories use.
type Tx interface {
	DBTX
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner is a DBTX that can also open transactions. Satisfied by Pool;
// repositories that need row locks accept this instead of a bare DBTX.
type TxBeginner interface {
	DBTX
	BeginTx(ctx context.Context) (Tx, error)
}

// Pool wraps *pgxpool.Pool so its Begin method fits the TxBeginner
// interface, which keeps transaction-using repositories mockable.
type Pool struct {
	*pgxpool.Pool
}

func NewPool(pool *pgxpool.Pool) Pool {
	return Pool{Pool: pool}
}

func (p Pool) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
