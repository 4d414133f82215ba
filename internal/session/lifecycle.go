package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/kv"
	"github.com/alexcabrera/devflow/internal/stage"
	"github.com/alexcabrera/devflow/internal/workflow"
)

type lifecycle struct {
	c *core
}

// CreateParams contains parameters for starting a session.
type CreateParams struct {
	// Workflow is a workflow id or name. A name resolves to its latest version.
	Workflow string
	Name     string
	// TaskID is an opaque reference to an external task tracker.
	TaskID  string
	Context kv.Map
	// MakeCurrent moves the current-session pointer to the new session.
	MakeCurrent bool
}

// Create starts a session on the first stage of a workflow.
func (l *lifecycle) Create(ctx context.Context, params CreateParams) (Session, error) {
	c := l.c
	if strings.TrimSpace(params.Workflow) == "" {
		return Session{}, flowerr.NotFound("workflow is required")
	}
	w, err := c.workflows.Resolve(ctx, params.Workflow)
	if err != nil {
		return Session{}, err
	}
	first, ok := w.FirstStage()
	if !ok {
		return Session{}, flowerr.InvalidState("workflow %s has no stages", w.Name)
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = w.Name
	}
	ctxJSON, err := params.Context.Encode()
	if err != nil {
		return Session{}, fmt.Errorf("encode context: %w", err)
	}

	id := uuid.New().String()
	var out Session
	err = c.tx(ctx, func(q *db.Queries, stages *stage.Service) error {
		if _, err := q.CreateSession(ctx, db.CreateSessionParams{
			ID:              id,
			WorkflowID:      w.ID,
			Name:            name,
			Status:          string(StatusActive),
			CurrentStageID:  toNullString(first.ID),
			CompletedStages: "[]",
			Context:         ctxJSON,
			TaskID:          toNullString(params.TaskID),
			FlowType:        w.FlowType,
			CreatedAt:       c.now().UnixMilli(),
		}); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if _, err := stages.Enter(ctx, id, first); err != nil {
			return err
		}
		if params.MakeCurrent {
			if err := switchCurrent(ctx, q, id); err != nil {
				return err
			}
		}
		out, err = load(ctx, q, id)
		return err
	})
	if err != nil {
		return Session{}, err
	}

	c.logger.Info("session created", "session_id", id, "workflow_id", w.ID, "stage_id", first.ID, "current", params.MakeCurrent)
	return out, nil
}

// Get returns a session by id.
func (l *lifecycle) Get(ctx context.Context, id string) (Session, error) {
	return load(ctx, l.c.q, id)
}

// Resolve accepts a full session id or an unambiguous prefix of one.
func (l *lifecycle) Resolve(ctx context.Context, ref string) (Session, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Session{}, flowerr.NotFound("session id is required")
	}
	s, err := l.Get(ctx, ref)
	if err == nil || !errors.Is(err, flowerr.ErrNotFound) {
		return s, err
	}

	rows, err := l.c.q.GetSessionByPrefix(ctx, ref)
	if err != nil {
		return Session{}, fmt.Errorf("find session: %w", err)
	}
	switch len(rows) {
	case 0:
		return Session{}, flowerr.NotFound("session %s not found", ref)
	case 1:
		return sessionFromDB(rows[0])
	default:
		return Session{}, flowerr.Conflict("session prefix %s matches %d sessions, use more characters", ref, len(rows))
	}
}

// Filter narrows List. A zero Limit means no limit.
type Filter struct {
	Status     Status
	WorkflowID string
	Limit      int64
}

// List returns sessions, most recently updated first.
func (l *lifecycle) List(ctx context.Context, filter Filter) ([]Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.c.q.ListSessions(ctx, db.ListSessionsParams{
		Status:     string(filter.Status),
		WorkflowID: filter.WorkflowID,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessionsFromDB(rows)
}

// Pause moves an ACTIVE session to PAUSED.
func (l *lifecycle) Pause(ctx context.Context, id string) (Session, error) {
	return l.transition(ctx, id, StatusActive, StatusPaused)
}

// Resume moves a PAUSED session back to ACTIVE.
func (l *lifecycle) Resume(ctx context.Context, id string) (Session, error) {
	return l.transition(ctx, id, StatusPaused, StatusActive)
}

func (l *lifecycle) transition(ctx context.Context, id string, from, to Status) (Session, error) {
	s, err := l.c.mutate(ctx, id, func(_ *db.Queries, _ *stage.Service, s *Session) error {
		if s.Status != from {
			return flowerr.InvalidState("session %s is %s, only %s sessions can become %s", s.ID, s.Status, from, to)
		}
		s.Status = to
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	l.c.logger.Info("session status changed", "session_id", id, "status", to)
	return s, nil
}

// Complete finishes an ACTIVE session whose terminal stage instance has
// completed.
func (l *lifecycle) Complete(ctx context.Context, id string) (Session, error) {
	s, err := l.c.mutate(ctx, id, func(q *db.Queries, stages *stage.Service, s *Session) error {
		if s.Status != StatusActive {
			return flowerr.InvalidState("session %s is %s, only %s sessions can be completed", s.ID, s.Status, StatusActive)
		}
		w, err := workflow.Load(ctx, q, s.WorkflowID)
		if err != nil {
			return err
		}
		cur, ok := w.Stage(s.CurrentStageID)
		if !ok {
			return flowerr.IncompleteWorkflow(nil, "session %s has no current stage", s.ID)
		}
		if !cur.IsEnd {
			term, _ := w.Terminal()
			return flowerr.IncompleteWorkflow(
				[]string{fmt.Sprintf("current stage is %s, the terminal stage is %s", cur.Key, term.Key)},
				"session %s has not reached the terminal stage", s.ID)
		}
		inst, err := stages.Latest(ctx, s.ID, cur.ID)
		if err != nil {
			return err
		}
		if inst.Status != stage.StatusCompleted {
			return flowerr.IncompleteWorkflow(
				[]string{fmt.Sprintf("terminal stage %s is %s, advance it first", cur.Key, inst.Status)},
				"session %s has not finished its terminal stage", s.ID)
		}
		s.Status = StatusCompleted
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	l.c.logger.Info("session completed", "session_id", id)
	return s, nil
}

// Close ends an ACTIVE or PAUSED session without completing it. A running
// stage instance is closed as SKIPPED.
func (l *lifecycle) Close(ctx context.Context, id, reason string) (Session, error) {
	s, err := l.c.mutate(ctx, id, func(_ *db.Queries, stages *stage.Service, s *Session) error {
		if s.Status.Finished() {
			return flowerr.InvalidState("session %s is already %s", s.ID, s.Status)
		}
		running, err := stages.Running(ctx, s.ID)
		switch {
		case err == nil:
			if _, err := stages.Close(ctx, running.ID, stage.StatusSkipped); err != nil {
				return err
			}
		case !errors.Is(err, flowerr.ErrNotFound):
			return err
		}
		s.Status = StatusClosed
		s.CloseReason = strings.TrimSpace(reason)
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	l.c.logger.Info("session closed", "session_id", id, "reason", reason)
	return s, nil
}

// Delete removes a session and its stage instances. Sessions that are still
// ACTIVE or PAUSED require force.
func (l *lifecycle) Delete(ctx context.Context, id string, force bool) error {
	err := l.c.tx(ctx, func(q *db.Queries, _ *stage.Service) error {
		s, err := load(ctx, q, id)
		if err != nil {
			return err
		}
		if !s.Status.Finished() && !force {
			return flowerr.Conflict("session %s is %s, use force to delete it", s.ID, s.Status)
		}
		if _, err := q.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.c.logger.Info("session deleted", "session_id", id, "force", force)
	return nil
}
