// Package repository holds the SQL for buy orders, assets and the append-only
// trade records. Every method runs on a database.Querier, so callers decide
// whether a statement belongs to a unit of work.
package repository

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nftmarket/internal/database"
	"nftmarket/internal/logging"
)

type Repository struct {
	dialect database.Dialect
	now     func() time.Time
	log     logrus.FieldLogger
}

func New(dialect database.Dialect, logger logrus.FieldLogger) *Repository {
	return &Repository{dialect: dialect, now: time.Now, log: logging.Component(logger, "repository")}
}

// WithClock replaces the time source used for created_at/updated_at.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

// forUpdate returns the row-lock suffix restricted to alias, so joined
// catalog rows stay unlocked.
func (r *Repository) forUpdate(alias string) string {
	return lockOf(r.dialect.ForUpdate, alias)
}

func (r *Repository) skipLocked(alias string) string {
	return lockOf(r.dialect.SkipLocked, alias)
}

func lockOf(clause, alias string) string {
	if clause == "" || alias == "" {
		return clause
	}
	return strings.Replace(clause, "FOR UPDATE", "FOR UPDATE OF "+alias, 1)
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
