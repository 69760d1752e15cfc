// Package migrate applies versioned schema migrations and seed files with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// Dialects supported by the bookkeeping tables.
const (
	Postgres = database.DialectPostgres
	SQLite   = database.DialectSQLite3
)

// ErrNoMigrations is returned by Down when nothing has been applied.
var ErrNoMigrations = errors.New("no migrations applied")

// Manager runs goose migrations and seeds. Both are goose annotated SQL
// files; seeds are versioned in their own table and never rolled back.
type Manager struct {
	db              *sql.DB
	dialect         database.Dialect
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager for dialect (Postgres or SQLite). A nil
// seeds FS disables seeding.
func NewManager(db *sql.DB, dialect database.Dialect, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		dialect:         dialect,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) provider(fsys fs.FS, table string) (*goose.Provider, error) {
	if fsys == nil {
		return nil, nil
	}
	store, err := database.NewStore(m.dialect, table)
	if err != nil {
		return nil, err
	}
	p, err := goose.NewProvider("", m.db, fsys,
		goose.WithStore(store),
		goose.WithDisableGlobalRegistry(true),
	)
	if errors.Is(err, goose.ErrNoMigrations) {
		return nil, nil
	}
	return p, err
}

// Up applies all pending migrations and returns the applied file names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	p, err := m.provider(m.migrations, m.migrationsTable)
	if err != nil || p == nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return resultNames(results), nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (string, error) {
	p, err := m.provider(m.migrations, m.migrationsTable)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", ErrNoMigrations
	}
	res, err := p.Down(ctx)
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			return "", ErrNoMigrations
		}
		return "", fmt.Errorf("rollback migration: %w", err)
	}
	return path.Base(res.Source.Path), nil
}

// Status reports every migration as "name: applied at ..." or "name: pending".
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	p, err := m.provider(m.migrations, m.migrationsTable)
	if err != nil || p == nil {
		return nil, err
	}
	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		name := path.Base(st.Source.Path)
		if st.State == goose.StateApplied {
			out = append(out, fmt.Sprintf("%s: applied at %s", name, st.AppliedAt.UTC().Format("2006-01-02 15:04:05")))
			continue
		}
		out = append(out, name+": pending")
	}
	return out, nil
}

// Seed applies pending seed files and returns their names.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	p, err := m.provider(m.seeds, m.seedsTable)
	if err != nil || p == nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply seeds: %w", err)
	}
	return resultNames(results), nil
}

func resultNames(results []*goose.MigrationResult) []string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, path.Base(r.Source.Path))
	}
	return names
}
