// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/mindloop/trendd/internal/model"
	"github.com/mindloop/trendd/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UpsertDailyEdges(ctx context.Context, date time.Time, adds, views model.CountMap) (int, error) {
	return queryUpsertDailyEdges(ctx, s.db, date, adds, views)
}

func (s *PostgresStore) RebuildEdgeScores(ctx context.Context, now time.Time) (int64, error) {
	return queryRebuildEdgeScores(ctx, s.db, now)
}

func (s *PostgresStore) GlobalTop(ctx context.Context, period model.Period, limit int) ([]model.KeywordScore, error) {
	return queryGlobalTop(ctx, s.db, period, limit)
}

func (s *PostgresStore) ParentTop(ctx context.Context, parent string, period model.Period, limit int) ([]model.KeywordScore, error) {
	return queryParentTop(ctx, s.db, parent, period, limit)
}

func (s *PostgresStore) SearchTop(ctx context.Context, keyword string, period model.Period, limit int) ([]model.KeywordScore, error) {
	return querySearchTop(ctx, s.db, keyword, period, limit)
}

func (s *PostgresStore) GetBatchCursor(ctx context.Context, jobName string) (*model.BatchCursor, error) {
	return queryGetBatchCursor(ctx, s.db, jobName)
}

func (s *PostgresStore) SetBatchCursor(ctx context.Context, jobName, position string) error {
	return querySetBatchCursor(ctx, s.db, jobName, position)
}

func (s *PostgresStore) PruneDailyEdges(ctx context.Context, cutoff time.Time) (int64, error) {
	return queryPruneDailyEdges(ctx, s.db, cutoff)
}

func (s *PostgresStore) ExportScores(ctx context.Context) ([]model.EdgeScore, error) {
	return queryExportScores(ctx, s.db)
}
