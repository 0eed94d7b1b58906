package database

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"nftmarket/internal/apperr"
)

var (
	ErrCommitAfterRollback = errors.New("cannot commit after rollback")
	ErrAlreadyCommitted    = errors.New("unit of work already committed")
)

// UnitOfWork is one atomic commit/rollback boundary. Nothing is committed
// unless Commit is called; every other exit path rolls back.
type UnitOfWork struct {
	tx         *sql.Tx
	dialect    Dialect
	log        logrus.FieldLogger
	committed  bool
	rolledBack bool
}

func (db *DB) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Classify(errors.Wrap(err, "failed to begin transaction"))
	}
	return &UnitOfWork{tx: tx, dialect: db.Dialect, log: db.log}, nil
}

// InTx runs fn inside a new unit of work. fn must call Commit itself;
// returning without doing so rolls back. A returned error or panic rolls
// back, and the panic is re-raised.
func (db *DB) InTx(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	uow, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			uow.log.WithField("panic", p).Error("Panic in unit of work, rolling back")
			_ = uow.Rollback()
			panic(p)
		}
		uow.Close()
	}()

	if err := fn(uow); err != nil {
		if !uow.rolledBack {
			uow.log.WithError(err).Debug("Error in unit of work, rolling back")
			_ = uow.Rollback()
		}
		return Classify(err)
	}
	return nil
}

func (u *UnitOfWork) Dialect() Dialect { return u.dialect }

func (u *UnitOfWork) Commit() error {
	if u.rolledBack {
		u.log.Error("Attempted commit after rollback")
		return apperr.Transaction(ErrCommitAfterRollback)
	}
	if u.committed {
		return apperr.Transaction(ErrAlreadyCommitted)
	}
	if err := u.tx.Commit(); err != nil {
		u.log.WithError(err).Error("Commit failed")
		_ = u.Rollback()
		return Classify(errors.Wrap(err, "failed to commit transaction"))
	}
	u.committed = true
	u.log.Debug("Transaction committed")
	return nil
}

// Rollback is idempotent and a no-op after a successful commit.
func (u *UnitOfWork) Rollback() error {
	if u.rolledBack || u.committed {
		return nil
	}
	u.rolledBack = true
	if err := u.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		u.log.WithError(err).Warn("Rollback failed")
		return errors.Wrap(err, "failed to roll back transaction")
	}
	u.log.Debug("Transaction rolled back")
	return nil
}

// Close ends the scope: a unit of work that was never committed is rolled
// back.
func (u *UnitOfWork) Close() {
	if !u.committed && !u.rolledBack {
		u.log.Warn("Unit of work exited without commit, rolling back")
		_ = u.Rollback()
	}
}

func (u *UnitOfWork) Committed() bool { return u.committed }

func (u *UnitOfWork) RolledBack() bool { return u.rolledBack }

func (u *UnitOfWork) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return u.tx.ExecContext(ctx, query, args...)
}

func (u *UnitOfWork) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return u.tx.QueryContext(ctx, query, args...)
}

func (u *UnitOfWork) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return u.tx.QueryRowContext(ctx, query, args...)
}
