package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/kv"
	"github.com/alexcabrera/devflow/internal/progress"
	"github.com/alexcabrera/devflow/internal/stage"
	"github.com/alexcabrera/devflow/internal/workflow"
)

// Lifecycle creates sessions and moves them between statuses.
type Lifecycle interface {
	Create(ctx context.Context, params CreateParams) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Resolve(ctx context.Context, ref string) (Session, error)
	List(ctx context.Context, filter Filter) ([]Session, error)
	Pause(ctx context.Context, id string) (Session, error)
	Resume(ctx context.Context, id string) (Session, error)
	Complete(ctx context.Context, id string) (Session, error)
	Close(ctx context.Context, id, reason string) (Session, error)
	Delete(ctx context.Context, id string, force bool) error
}

// ContextStore reads and writes the session-level context map.
type ContextStore interface {
	GetContext(ctx context.Context, id string) (kv.Map, error)
	UpdateContext(ctx context.Context, id string, patch kv.Map) (kv.Map, error)
	ClearContext(ctx context.Context, id string) error
}

// CurrentPointer maintains the single current session.
type CurrentPointer interface {
	SwitchCurrent(ctx context.Context, id string) (Session, error)
	Current(ctx context.Context) (Session, error)
	ClearCurrent(ctx context.Context) error
}

// Progression records stage work and moves a session between stages.
type Progression interface {
	RecordItems(ctx context.Context, id string, items []string) (stage.Instance, []string, error)
	RecordDeliverable(ctx context.Context, id, description string) (stage.Instance, error)
	Advance(ctx context.Context, id string, opts AdvanceOptions) (StepResult, error)
	Skip(ctx context.Context, id string, opts AdvanceOptions) (StepResult, error)
	Guidance(ctx context.Context, id string) (progress.Guidance, error)
	Status(ctx context.Context, id string) (Snapshot, error)
}

// Manager is the session façade: each concern is implemented separately
// and promoted through embedding.
type Manager struct {
	*lifecycle
	*contextStore
	*currentPointer
	*progression
}

var (
	_ Lifecycle      = (*Manager)(nil)
	_ ContextStore   = (*Manager)(nil)
	_ CurrentPointer = (*Manager)(nil)
	_ Progression    = (*Manager)(nil)
)

// Option configures a Manager.
type Option func(*core)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *core) { c.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *core) { c.now = now }
}

// NewManager builds a Manager over workflows and stages that share database.
func NewManager(database *sql.DB, queries *db.Queries, workflows *workflow.Service, stages *stage.Service, opts ...Option) *Manager {
	c := &core{
		db:        database,
		q:         queries,
		workflows: workflows,
		stages:    stages,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return &Manager{
		lifecycle:      &lifecycle{c},
		contextStore:   &contextStore{c},
		currentPointer: &currentPointer{c},
		progression:    &progression{c},
	}
}

// core holds what every concern shares.
type core struct {
	db        *sql.DB
	q         *db.Queries
	workflows *workflow.Service
	stages    *stage.Service
	logger    *slog.Logger
	now       func() time.Time
}

// tx runs fn in one transaction with queries and a stage service bound to it.
func (c *core) tx(ctx context.Context, fn func(q *db.Queries, stages *stage.Service) error) error {
	return db.InTx(ctx, c.db, func(q *db.Queries) error {
		return fn(q, c.stages.With(q))
	})
}

func load(ctx context.Context, q *db.Queries, id string) (Session, error) {
	row, err := q.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, flowerr.NotFound("session %s not found", id)
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sessionFromDB(row)
}

// save writes s if nobody else changed it since it was read and returns the
// stored copy.
func (c *core) save(ctx context.Context, q *db.Queries, s Session) (Session, error) {
	now := c.now()
	params, err := s.updateParams(now)
	if err != nil {
		return Session{}, fmt.Errorf("encode session: %w", err)
	}
	n, err := q.UpdateSession(ctx, params)
	if err != nil {
		return Session{}, fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return Session{}, flowerr.Conflict("session %s was modified by another caller, reload and retry", s.ID)
	}
	s.Version++
	s.UpdatedAt = time.UnixMilli(now.UnixMilli())
	return s, nil
}

// mutate loads a session, applies fn and saves the result in one
// transaction.
func (c *core) mutate(ctx context.Context, id string, fn func(q *db.Queries, stages *stage.Service, s *Session) error) (Session, error) {
	var out Session
	err := c.tx(ctx, func(q *db.Queries, stages *stage.Service) error {
		s, err := load(ctx, q, id)
		if err != nil {
			return err
		}
		if err := fn(q, stages, &s); err != nil {
			return err
		}
		out, err = c.save(ctx, q, s)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	return out, nil
}
