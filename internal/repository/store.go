package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

type sqlStore struct {
	db *sqlx.DB
}

// NewSQLStore returns a Store backed by PostgreSQL through sqlx. Both the lib/pq and the
// pgx stdlib drivers work.
func NewSQLStore(db *sqlx.DB) Store {
	return &sqlStore{db: db}
}

func (s *sqlStore) Repos() Repositories {
	return reposFor(s.db)
}

func (s *sqlStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return s.WithinTxIsolation(ctx, sql.LevelDefault, fn)
}

func (s *sqlStore) WithinTxIsolation(ctx context.Context, level sql.IsolationLevel, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: level})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, reposFor(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", translate(err))
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func reposFor(db sqlx.ExtContext) Repositories {
	return Repositories{
		Loans:    &loanRepository{db: db},
		Payments: &paymentRepository{db: db},
		Clients:  &clientRepository{db: db},
	}
}

// translate maps driver errors onto the repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case serializationFailure, deadlockDetected:
			return fmt.Errorf("%w: %s", ErrVersionConflict, pqErr.Message)
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case serializationFailure, deadlockDetected:
			return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.Message)
		}
	}
	return err
}

// conditionalResult turns a zero-row conditional write into ErrVersionConflict when the
// row exists and ErrNotFound when it does not.
func conditionalResult(ctx context.Context, db sqlx.ExtContext, res sql.Result, table, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := sqlx.GetContext(ctx, db, &exists, query, id); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}
