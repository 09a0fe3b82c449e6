// Package sqlite provides an embedded SQLite persistence implementation for approval workflows.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/merchplan/approvals/pkg/persistence/sqlbase"

	_ "modernc.org/sqlite"
)

// Persistence implements the persistence layer on an embedded SQLite database.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	workflowRepo *sqlbase.WorkflowRepository
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewInMemoryPersistence creates a private in-memory database, mainly for tests.
func NewInMemoryPersistence(ctx context.Context, logger *slog.Logger) (*Persistence, error) {
	return open(ctx, logger, "file::memory:")
}

// NewPersistence opens (or creates) the database file at path. A "sqlite://"
// prefix is accepted so database URLs can be passed through unchanged.
func NewPersistence(ctx context.Context, logger *slog.Logger, path string) (*Persistence, error) {
	path = strings.TrimPrefix(path, "sqlite://")
	if path == "" || path == ":memory:" {
		return NewInMemoryPersistence(ctx, logger)
	}

	return open(ctx, logger, "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
}

func open(ctx context.Context, logger *slog.Logger, dsn string) (*Persistence, error) {
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// A single connection serialises writers and keeps in-memory databases shared.
	database.SetMaxOpenConns(1)

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, sqlbase.SQLite, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		workflowRepo: sqlbase.NewWorkflowRepository(database, sqlbase.SQLite, logger),
	}, nil
}

// WorkflowRepository returns the workflow repository.
func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

// Close closes the database.
func (p *Persistence) Close(_ context.Context) error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
