// Package store is the relational storage layer: catalog-driven
// provisioning, bulk loading of dimensions and bridges, and the readers and
// writers the crafting-tree engine depends on.
//
// The store is not transactional across a whole rebuild. Callers serialize
// rebuilds (see internal/lock); readers may observe a partially loaded schema
// while one runs and should consult LastRun before trusting facts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/agentic-research/armory/api"
	"github.com/agentic-research/armory/internal/domain"
)

// ErrUnknownTable is returned when the catalog lacks a table the caller needs.
var ErrUnknownTable = errors.New("table not in catalog")

const defaultBatchSize = 500

// Config selects the backend.
type Config struct {
	Driver    string // "sqlite" (default) or "pgx"
	DSN       string
	BatchSize int // rows per multi-row INSERT
	Log       *slog.Logger
}

// Store wraps a database handle with the catalog it was provisioned from.
type Store struct {
	db        *sql.DB
	d         dialect
	catalog   *api.Catalog
	locales   []domain.Locale
	batchSize int
	log       *slog.Logger
}

// Open connects to the configured backend and applies per-connection settings.
func Open(ctx context.Context, cfg Config, catalog *api.Catalog, locales []domain.Locale) (*Store, error) {
	if catalog == nil {
		return nil, errors.New("store: nil catalog")
	}
	if len(locales) == 0 {
		return nil, errors.New("store: no locales")
	}
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	db.SetMaxOpenConns(d.maxConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	for _, p := range d.pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:        db,
		d:         d,
		catalog:   catalog,
		locales:   slices.Clone(locales),
		batchSize: batch,
		log:       log,
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Locales returns the locales the schema was generated for.
func (s *Store) Locales() []domain.Locale {
	return slices.Clone(s.locales)
}

// HasLocale reports whether loc has name columns in this schema.
func (s *Store) HasLocale(loc domain.Locale) bool {
	return slices.Contains(s.locales, loc)
}

// Catalog returns the catalog backing the schema.
func (s *Store) Catalog() *api.Catalog {
	return s.catalog
}

// Quote quotes an identifier for this backend.
func (s *Store) Quote(ident string) string {
	return s.d.quote(ident)
}

// QueryContext runs a read query written with ? placeholders.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(query), args...)
}

// QueryRowContext runs a single-row read query written with ? placeholders.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(query), args...)
}

// ExecContext runs a statement written with ? placeholders.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(query), args...)
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) requireTable(name string) error {
	if s.catalog.Dimension(name) == nil && s.catalog.Bridge(name) == nil && s.catalog.Table(name) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return nil
}

func (s *Store) requireView(name string) error {
	for _, v := range s.catalog.Views {
		if v.Name == name {
			return nil
		}
	}
	return fmt.Errorf("%w: view %s", ErrUnknownTable, name)
}
