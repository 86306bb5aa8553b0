// Package postgres implements the repository interfaces on lib/pq. The
// transaction is carried through the context: repository calls made inside
// UnitOfWork.RunInTx join the same database transaction, and nested RunInTx
// calls join the outer transaction instead of opening a new one. Row locks
// taken inside therefore hold until the outermost commit.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/cartforge/commerce/internal/repositories"
)

type contextKey string

const txContextKey contextKey = "github.com/cartforge/commerce/internal/repositories/postgres/tx"

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, url string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// execer is the common surface of *sql.DB and *sql.Tx the repositories use.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the bare pool.
func conn(ctx context.Context, db *sql.DB) execer {
	if tx, ok := ctx.Value(txContextKey).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return db
}

// UnitOfWork implements repositories.UnitOfWork on a shared *sql.DB.
type UnitOfWork struct {
	db *sql.DB
}

// NewUnitOfWork wraps the pool.
func NewUnitOfWork(db *sql.DB) (*UnitOfWork, error) {
	if db == nil {
		return nil, errors.New("postgres: db is required")
	}
	return &UnitOfWork{db: db}, nil
}

// RunInTx executes fn inside a transaction propagated via the context. When
// ctx already carries a transaction, fn joins it and commit/rollback is left
// to the outermost caller.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(txContextKey).(*sql.Tx); ok && tx != nil {
		return fn(ctx)
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return repositories.NewError("begin tx", repositories.KindUnavailable, err)
	}

	txCtx := context.WithValue(ctx, txContextKey, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return repositories.NewError("commit tx", repositories.KindUnavailable, err)
	}
	return nil
}

// mapError categorises database failures behind the RepositoryError contract.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewError(op, repositories.KindNotFound, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return repositories.NewError(op, repositories.KindConflict, err)
		case "40001", "55P03": // serialization_failure, lock_not_available
			return repositories.NewError(op, repositories.KindConflict, err)
		case "08000", "08003", "08006", "57P01": // connection failures
			return repositories.NewError(op, repositories.KindUnavailable, err)
		}
	}
	return repositories.NewError(op, repositories.KindUnknown, err)
}

// notFound builds the categorised error for affected-row checks.
func notFound(op string) error {
	return repositories.NewError(op, repositories.KindNotFound, sql.ErrNoRows)
}
