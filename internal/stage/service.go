package stage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/kv"
	"github.com/alexcabrera/devflow/internal/workflow"
)

// Service manages stage instances.
//
// A Service built by NewService runs each mutation in its own transaction.
// A Service returned by With runs on the caller's transaction instead.
type Service struct {
	db     *sql.DB
	q      *db.Queries
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a stage instance service.
func NewService(database *sql.DB, queries *db.Queries, opts ...Option) *Service {
	s := &Service{db: database, q: queries, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// With returns a copy of s bound to q, typically a transaction.
func (s *Service) With(q *db.Queries) *Service {
	return &Service{q: q, logger: s.logger, now: s.now}
}

func (s *Service) run(ctx context.Context, fn func(*Service) error) error {
	if s.db == nil {
		return fn(s)
	}
	return db.InTx(ctx, s.db, func(q *db.Queries) error {
		return fn(s.With(q))
	})
}

// Enter opens a RUNNING instance of st for a session. A session may hold
// only one running instance at a time.
func (s *Service) Enter(ctx context.Context, sessionID string, st workflow.Stage) (Instance, error) {
	var inst Instance
	err := s.run(ctx, func(s *Service) error {
		running, err := s.q.GetRunningStageInstance(ctx, sessionID)
		if err == nil {
			return flowerr.Conflict("session %s already has running stage %s (%s), close it first", sessionID, running.Name, running.ID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("get running stage instance: %w", err)
		}

		row, err := s.q.CreateStageInstance(ctx, db.CreateStageInstanceParams{
			ID:        ulid.Make().String(),
			SessionID: sessionID,
			StageID:   st.ID,
			Name:      st.Name,
			Status:    string(StatusRunning),
			StartedAt: sql.NullInt64{Int64: s.now().UnixMilli(), Valid: true},
		})
		if err != nil {
			if isUniqueViolation(err) {
				return flowerr.Conflict("session %s already has a running stage", sessionID)
			}
			return fmt.Errorf("create stage instance: %w", err)
		}
		inst, err = fromDB(row)
		return err
	})
	if err != nil {
		return Instance{}, err
	}
	s.logger.Info("stage entered", "session_id", sessionID, "stage_id", st.ID, "instance_id", inst.ID)
	return inst, nil
}

// Get returns an instance by id.
func (s *Service) Get(ctx context.Context, id string) (Instance, error) {
	row, err := s.q.GetStageInstance(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instance{}, flowerr.NotFound("stage instance %s not found", id)
		}
		return Instance{}, fmt.Errorf("get stage instance: %w", err)
	}
	return fromDB(row)
}

// Running returns the open instance of a session.
func (s *Service) Running(ctx context.Context, sessionID string) (Instance, error) {
	row, err := s.q.GetRunningStageInstance(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instance{}, flowerr.NotFound("session %s has no running stage", sessionID)
		}
		return Instance{}, fmt.Errorf("get running stage instance: %w", err)
	}
	return fromDB(row)
}

// Latest returns the most recent instance of stageID within a session.
func (s *Service) Latest(ctx context.Context, sessionID, stageID string) (Instance, error) {
	row, err := s.q.GetLatestStageInstance(ctx, db.GetLatestStageInstanceParams{
		SessionID: sessionID,
		StageID:   stageID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instance{}, flowerr.NotFound("session %s never entered stage %s", sessionID, stageID)
		}
		return Instance{}, fmt.Errorf("get latest stage instance: %w", err)
	}
	return fromDB(row)
}

// ListBySession returns every instance of a session in the order entered.
func (s *Service) ListBySession(ctx context.Context, sessionID string) ([]Instance, error) {
	rows, err := s.q.ListStageInstancesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list stage instances: %w", err)
	}
	out := make([]Instance, 0, len(rows))
	for _, row := range rows {
		inst, err := fromDB(row)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// RecordCompletedItems marks checklist items done. Items that do not match
// the stage checklist text are ignored and returned. Completed items are kept
// in checklist order.
func (s *Service) RecordCompletedItems(ctx context.Context, id string, items []string) (Instance, []string, error) {
	var (
		inst    Instance
		ignored []string
	)
	err := s.run(ctx, func(s *Service) error {
		var err error
		inst, err = s.running(ctx, id)
		if err != nil {
			return err
		}
		st, err := workflow.LoadStage(ctx, s.q, inst.StageID)
		if err != nil {
			return err
		}

		known := make(map[string]struct{}, len(st.Checklist))
		for _, c := range st.Checklist {
			known[c] = struct{}{}
		}
		done := make(map[string]struct{}, len(inst.CompletedItems)+len(items))
		for _, c := range inst.CompletedItems {
			done[c] = struct{}{}
		}
		ignored = nil
		for _, item := range items {
			item = strings.TrimSpace(item)
			if _, ok := known[item]; !ok {
				ignored = append(ignored, item)
				continue
			}
			done[item] = struct{}{}
		}

		completed := make([]string, 0, len(done))
		for _, c := range st.Checklist {
			if _, ok := done[c]; ok {
				completed = append(completed, c)
			}
		}
		inst.CompletedItems = completed
		return s.save(ctx, &inst, StatusRunning)
	})
	if err != nil {
		return Instance{}, nil, err
	}
	if len(ignored) > 0 {
		s.logger.Debug("ignored unknown checklist items", "instance_id", id, "items", ignored)
	}
	return inst, ignored, nil
}

// RecordDeliverable appends a produced artifact description.
func (s *Service) RecordDeliverable(ctx context.Context, id, description string) (Instance, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Instance{}, flowerr.Validation(nil, "deliverable description is required")
	}
	var inst Instance
	err := s.run(ctx, func(s *Service) error {
		var err error
		inst, err = s.running(ctx, id)
		if err != nil {
			return err
		}
		inst.Deliverables = append(inst.Deliverables, description)
		return s.save(ctx, &inst, StatusRunning)
	})
	if err != nil {
		return Instance{}, err
	}
	return inst, nil
}

// UpdateContext shallow-merges patch into the stage-scoped context.
func (s *Service) UpdateContext(ctx context.Context, id string, patch kv.Map) (Instance, error) {
	var inst Instance
	err := s.run(ctx, func(s *Service) error {
		var err error
		inst, err = s.Get(ctx, id)
		if err != nil {
			return err
		}
		inst.Context = inst.Context.Merge(patch)
		return s.save(ctx, &inst, inst.Status)
	})
	if err != nil {
		return Instance{}, err
	}
	return inst, nil
}

// Close finishes a running instance as COMPLETED or SKIPPED.
func (s *Service) Close(ctx context.Context, id string, outcome Status) (Instance, error) {
	if !outcome.Closed() {
		return Instance{}, flowerr.InvalidState("stage instance cannot be closed as %s", outcome)
	}
	var inst Instance
	err := s.run(ctx, func(s *Service) error {
		var err error
		inst, err = s.running(ctx, id)
		if err != nil {
			return err
		}
		inst.Status = outcome
		inst.CompletedAt = s.now()
		return s.save(ctx, &inst, StatusRunning)
	})
	if err != nil {
		return Instance{}, err
	}
	s.logger.Info("stage closed", "session_id", inst.SessionID, "stage_id", inst.StageID, "status", outcome)
	return inst, nil
}

// Progress returns the checklist fraction completed by an instance.
func (s *Service) Progress(ctx context.Context, id string) (float64, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	st, err := workflow.LoadStage(ctx, s.q, inst.StageID)
	if err != nil {
		return 0, err
	}
	return Progress(inst, st.Checklist), nil
}

func (s *Service) running(ctx context.Context, id string) (Instance, error) {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return Instance{}, err
	}
	if inst.Status != StatusRunning {
		return Instance{}, flowerr.InvalidState("stage instance %s is %s, not %s", id, inst.Status, StatusRunning)
	}
	return inst, nil
}

func (s *Service) save(ctx context.Context, inst *Instance, expected Status) error {
	params, err := inst.updateParams(expected)
	if err != nil {
		return fmt.Errorf("encode stage instance: %w", err)
	}
	n, err := s.q.UpdateStageInstance(ctx, params)
	if err != nil {
		return fmt.Errorf("update stage instance: %w", err)
	}
	if n == 0 {
		return flowerr.Conflict("stage instance %s changed concurrently", inst.ID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
