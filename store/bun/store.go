// Package bunstore is a Bun ORM implementation of store.Store using the
// PostgreSQL dialect. It is the durable backend of choice for clusters
// that must survive full restarts.
//
// Usage:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/hashfleet/hashfleet/job"
	"github.com/hashfleet/hashfleet/membership"
	"github.com/hashfleet/hashfleet/store"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store           = (*Store)(nil)
	_ membership.Store    = (*Store)(nil)
	_ store.SnapshotStore = (*Store)(nil)
	_ store.Store         = (*Store)(nil)
)

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db              *bun.DB
	logger          *slog.Logger
	snapshotHistory int
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithSnapshotHistory bounds how many snapshots are retained.
func WithSnapshotHistory(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.snapshotHistory = n
		}
	}
}

// New creates a new Bun store. The caller owns the db lifecycle — the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:              db,
		logger:          slog.Default(),
		snapshotHistory: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate creates all tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*jobModel)(nil),
		(*unitModel)(nil),
		(*nodeModel)(nil),
		(*snapshotModel)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("hashfleet/bun: create table for %T: %w", m, err)
		}
	}

	indexes := []struct {
		name  string
		model any
		cols  []string
	}{
		{"idx_units_job_id", (*unitModel)(nil), []string{"job_id"}},
		{"idx_units_state", (*unitModel)(nil), []string{"state"}},
		{"idx_units_node_id", (*unitModel)(nil), []string{"node_id"}},
		{"idx_jobs_state", (*jobModel)(nil), []string{"state"}},
		{"idx_snapshots_taken_at", (*snapshotModel)(nil), []string{"taken_at"}},
	}
	for _, idx := range indexes {
		q := s.db.NewCreateIndex().Model(idx.model).Index(idx.name).IfNotExists()
		for _, col := range idx.cols {
			q = q.Column(col)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("hashfleet/bun: create index %s: %w", idx.name, err)
		}
	}

	s.logger.Info("schema migration complete")
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
