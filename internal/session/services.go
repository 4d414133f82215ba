package session

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/stage"
	"github.com/alexcabrera/devflow/internal/workflow"
)

// Services provides access to all workflow-related services.
type Services struct {
	db        *sql.DB
	queries   *db.Queries
	logger    *slog.Logger
	Workflows *workflow.Service
	Stages    *stage.Service
	Sessions  *Manager
}

// NewServices creates a new Services instance from a database connection.
// Options apply to the session manager; its logger and clock are shared with
// the workflow and stage services.
func NewServices(database *sql.DB, queries *db.Queries, opts ...Option) *Services {
	c := core{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	workflows := workflow.NewService(database, queries,
		workflow.WithLogger(c.logger), workflow.WithClock(c.now))
	stages := stage.NewService(database, queries,
		stage.WithLogger(c.logger), stage.WithClock(c.now))

	return &Services{
		db:        database,
		queries:   queries,
		logger:    c.logger,
		Workflows: workflows,
		Stages:    stages,
		Sessions:  NewManager(database, queries, workflows, stages, opts...),
	}
}

// Close closes the database connection.
func (s *Services) Close() error {
	return s.db.Close()
}

// Queries returns the underlying database queries for use by other services.
func (s *Services) Queries() *db.Queries {
	return s.queries
}

// Logger returns the logger shared by the services.
func (s *Services) Logger() *slog.Logger {
	return s.logger
}

// DB returns the underlying connection.
func (s *Services) DB() *sql.DB {
	return s.db
}

// Connect opens a database connection, runs migrations, and returns Services.
func Connect(ctx context.Context, dbPath string, opts ...Option) (*Services, error) {
	database, queries, err := db.ConnectWithQueries(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	return NewServices(database, queries, opts...), nil
}
