package session

import (
	"context"
	"errors"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/progress"
	"github.com/alexcabrera/devflow/internal/stage"
	"github.com/alexcabrera/devflow/internal/workflow"
)

type progression struct {
	c *core
}

// AdvanceOptions steer Advance.
type AdvanceOptions struct {
	// Force advances even when checklist items are outstanding.
	Force bool
	// Target picks one of several candidate next stages by id or key.
	Target string
	// From is the stage id or key the caller believes is current. A mismatch
	// fails with a conflict, so a repeated request does not advance twice.
	From string
	// Version is the session version the caller last read. A stale version
	// fails with a conflict.
	Version int64
}

// guarded reports whether the options name the position the caller saw.
func (o AdvanceOptions) guarded() bool {
	return o.From != "" || o.Version != 0
}

// StepResult describes a stage change.
type StepResult struct {
	Session Session         `json:"session"`
	Closed  stage.Instance  `json:"closed"`
	Entered *stage.Instance `json:"entered,omitempty"`
	// Outstanding lists the checklist items left open by a forced advance.
	Outstanding []string `json:"outstanding,omitempty"`
}

// Snapshot is everything known about a session at one point in time.
type Snapshot struct {
	Session   Session           `json:"session"`
	Workflow  workflow.Workflow `json:"workflow"`
	Instances []stage.Instance  `json:"instances"`
	Guidance  progress.Guidance `json:"guidance"`
}

// position is a session with its workflow and current instance, read inside
// a transaction.
type position struct {
	session  Session
	workflow workflow.Workflow
	current  *stage.Instance
}

func (p position) state() progress.State {
	return progress.State{
		CurrentStageID:  p.session.CurrentStageID,
		CompletedStages: p.session.CompletedStages,
		Current:         p.current,
	}
}

func locate(ctx context.Context, q *db.Queries, stages *stage.Service, s Session) (position, error) {
	w, err := workflow.Load(ctx, q, s.WorkflowID)
	if err != nil {
		return position{}, err
	}
	pos := position{session: s, workflow: w}
	if s.CurrentStageID == "" {
		return pos, nil
	}
	inst, err := stages.Latest(ctx, s.ID, s.CurrentStageID)
	switch {
	case err == nil:
		pos.current = &inst
	case !errors.Is(err, flowerr.ErrNotFound):
		return position{}, err
	}
	return pos, nil
}

func requireActive(s Session) error {
	if s.Status != StatusActive {
		return flowerr.InvalidState("session %s is %s, not %s", s.ID, s.Status, StatusActive)
	}
	return nil
}

// RecordItems marks checklist items of the current stage done. Unknown items
// are ignored and returned.
func (p *progression) RecordItems(ctx context.Context, id string, items []string) (stage.Instance, []string, error) {
	var (
		inst    stage.Instance
		ignored []string
	)
	err := p.c.tx(ctx, func(q *db.Queries, stages *stage.Service) error {
		s, err := load(ctx, q, id)
		if err != nil {
			return err
		}
		if err := requireActive(s); err != nil {
			return err
		}
		running, err := stages.Running(ctx, s.ID)
		if err != nil {
			return err
		}
		inst, ignored, err = stages.RecordCompletedItems(ctx, running.ID, items)
		return err
	})
	if err != nil {
		return stage.Instance{}, nil, err
	}
	return inst, ignored, nil
}

// RecordDeliverable records an artifact produced in the current stage.
func (p *progression) RecordDeliverable(ctx context.Context, id, description string) (stage.Instance, error) {
	var inst stage.Instance
	err := p.c.tx(ctx, func(q *db.Queries, stages *stage.Service) error {
		s, err := load(ctx, q, id)
		if err != nil {
			return err
		}
		if err := requireActive(s); err != nil {
			return err
		}
		running, err := stages.Running(ctx, s.ID)
		if err != nil {
			return err
		}
		inst, err = stages.RecordDeliverable(ctx, running.ID, description)
		return err
	})
	if err != nil {
		return stage.Instance{}, err
	}
	return inst, nil
}

// Advance closes the current stage as COMPLETED and enters the next one. On
// the terminal stage it only closes the instance, after which the session
// can be completed. Every step happens in one transaction. opts must carry
// From or Version.
func (p *progression) Advance(ctx context.Context, id string, opts AdvanceOptions) (StepResult, error) {
	res, err := p.step(ctx, id, opts, stage.StatusCompleted)
	if err != nil {
		return StepResult{}, err
	}
	attrs := []any{"session_id", id, "stage_id", res.Closed.StageID, "forced", len(res.Outstanding) > 0}
	if res.Entered != nil {
		attrs = append(attrs, "next_stage_id", res.Entered.StageID)
	}
	p.c.logger.Info("session advanced", attrs...)
	return res, nil
}

// Skip closes the current stage as SKIPPED regardless of its checklist and
// enters the next one. The terminal stage cannot be skipped. Like Advance,
// opts must carry From or Version.
func (p *progression) Skip(ctx context.Context, id string, opts AdvanceOptions) (StepResult, error) {
	opts.Force = true
	res, err := p.step(ctx, id, opts, stage.StatusSkipped)
	if err != nil {
		return StepResult{}, err
	}
	p.c.logger.Info("stage skipped", "session_id", id, "stage_id", res.Closed.StageID)
	return res, nil
}

func (p *progression) step(ctx context.Context, id string, opts AdvanceOptions, outcome stage.Status) (StepResult, error) {
	if !opts.guarded() {
		return StepResult{}, flowerr.Validation(
			[]string{"set the expected stage (from) or session version"},
			"advance of session %s needs the position it was read at", id)
	}
	var res StepResult
	err := p.c.tx(ctx, func(q *db.Queries, stages *stage.Service) error {
		s, err := load(ctx, q, id)
		if err != nil {
			return err
		}
		if err := requireActive(s); err != nil {
			return err
		}
		pos, err := locate(ctx, q, stages, s)
		if err != nil {
			return err
		}
		if opts.From != "" {
			from, ok := pos.workflow.FindStage(opts.From)
			if !ok || from.ID != s.CurrentStageID {
				return flowerr.Conflict("session %s is no longer at stage %s", s.ID, opts.From)
			}
		}

		d, err := progress.Decide(pos.workflow, pos.state(), progress.Options{Force: opts.Force, Target: opts.Target})
		if err != nil {
			return err
		}
		if d.Terminal() && outcome == stage.StatusSkipped {
			return flowerr.InvalidState("terminal stage %s cannot be skipped, advance it or close the session", d.From.Key)
		}

		closed, err := stages.Close(ctx, pos.current.ID, outcome)
		if err != nil {
			return err
		}
		res.Closed = closed
		res.Outstanding = d.Outstanding

		s.markCompleted(d.From.ID)
		if d.Next != nil {
			entered, err := stages.Enter(ctx, s.ID, *d.Next)
			if err != nil {
				return err
			}
			res.Entered = &entered
			s.CurrentStageID = d.Next.ID
		}

		if opts.Version != 0 {
			s.Version = opts.Version
		}
		res.Session, err = p.c.save(ctx, q, s)
		return err
	})
	if err != nil {
		return StepResult{}, err
	}
	return res, nil
}

// Guidance describes the current stage and what comes next.
func (p *progression) Guidance(ctx context.Context, id string) (progress.Guidance, error) {
	snap, err := p.Status(ctx, id)
	if err != nil {
		return progress.Guidance{}, err
	}
	return snap.Guidance, nil
}

// Status reads a consistent snapshot of a session.
func (p *progression) Status(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	err := p.c.tx(ctx, func(q *db.Queries, stages *stage.Service) error {
		s, err := load(ctx, q, id)
		if err != nil {
			return err
		}
		pos, err := locate(ctx, q, stages, s)
		if err != nil {
			return err
		}
		instances, err := stages.ListBySession(ctx, s.ID)
		if err != nil {
			return err
		}
		snap = Snapshot{
			Session:   s,
			Workflow:  pos.workflow,
			Instances: instances,
			Guidance:  progress.Guide(pos.workflow, pos.state()),
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
