package es

import (
	"context"
	"database/sql"
)

// DBTX is a minimal interface for database operations, implemented by both
// *sql.DB and *sql.Tx. It lets adapters run either inside a caller-managed
// transaction or directly against the pool, without the library imposing
// its own transaction lifecycle.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	_ DBTX = (*sql.DB)(nil)
	_ DBTX = (*sql.Tx)(nil)
)
