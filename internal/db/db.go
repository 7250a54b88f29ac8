// Package db provides the minimal querying surface shared by every pillar's
// store. Stores depend on DBTX rather than *pgxpool.Pool directly so the same
// store code runs against a pool, a single connection, or a transaction.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Transactor starts a transaction on a pool-like DBTX. Callers that need
// transactional atomicity (ledger commit, allocation reserve/release) type
// assert to this interface.
type Transactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
