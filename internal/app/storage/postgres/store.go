// Package postgres implements the storage interfaces on PostgreSQL using
// sqlx. Every Tx method runs against either the pooled handle or an open
// transaction, so the same SQL serves implicit and explicit transactions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/agentbank/internal/app/storage"
)

const uniqueViolation = "23505"

// queries carries the store methods over a sqlx handle or transaction.
type queries struct {
	ext sqlx.ExtContext
}

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	queries
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)
var _ storage.Tx = (*queries)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	x := sqlx.NewDb(db, "postgres")
	return &Store{queries: queries{ext: x}, db: x}
}

// Open connects using the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Atomic runs fn inside a database transaction, committing only if fn
// succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err = fn(&queries{ext: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// mapErr translates driver errors into storage sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", storage.ErrDuplicate, pqErr.Constraint)
	}
	return err
}

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(sqlx.GetContext(ctx, q.ext, dest, query, args...))
}

func (q *queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return mapErr(sqlx.SelectContext(ctx, q.ext, dest, query, args...))
}

// execOne runs a statement that must affect exactly one row.
func (q *queries) execOne(ctx context.Context, query string, args ...any) error {
	result, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func ensureID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
