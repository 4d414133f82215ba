// Package progress computes, from a session's position and its workflow
// definition, how far the session has come, what is left in the current
// stage and where it can go next. Everything here is a pure function.
package progress

import (
	"fmt"
	"strings"

	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/stage"
	"github.com/alexcabrera/devflow/internal/workflow"
)

// State is the part of a session the engine reads.
type State struct {
	CurrentStageID  string
	CompletedStages []string
	// Current is the latest instance of the current stage, nil when the
	// session has none.
	Current *stage.Instance
}

func (s State) completed() map[string]struct{} {
	set := make(map[string]struct{}, len(s.CompletedStages))
	for _, id := range s.CompletedStages {
		set[id] = struct{}{}
	}
	return set
}

func (s State) currentFor(stageID string) *stage.Instance {
	if s.Current == nil || s.Current.StageID != stageID {
		return nil
	}
	return s.Current
}

// Progress returns the fraction of the workflow done: each completed stage
// counts as one, the current stage contributes its checklist fraction, and the
// sum is divided by the number of stages.
func Progress(w workflow.Workflow, s State) float64 {
	if len(w.Stages) == 0 {
		return 0
	}
	completed := s.completed()
	done := 0.0
	for _, st := range w.Stages {
		if _, ok := completed[st.ID]; ok {
			done++
		}
	}
	if cur, ok := w.Stage(s.CurrentStageID); ok {
		if _, already := completed[cur.ID]; !already {
			if inst := s.currentFor(cur.ID); inst != nil {
				done += stage.Progress(*inst, cur.Checklist)
			}
		}
	}
	p := done / float64(len(w.Stages))
	if p > 1 {
		return 1
	}
	return p
}

// Outstanding returns the checklist items of the current stage that are not
// yet completed, in checklist order.
func Outstanding(w workflow.Workflow, s State) []string {
	cur, ok := w.Stage(s.CurrentStageID)
	if !ok {
		return nil
	}
	inst := s.currentFor(cur.ID)
	var out []string
	for _, item := range cur.Checklist {
		if inst == nil || !inst.HasItem(item) {
			out = append(out, item)
		}
	}
	return out
}

// NextStages returns the candidate stages after the current one, lowest
// order index first. It is empty at the terminal stage.
func NextStages(w workflow.Workflow, s State) []workflow.Stage {
	return w.Successors(s.CurrentStageID)
}

// Options steer Decide.
type Options struct {
	// Force advances even when checklist items are outstanding.
	Force bool
	// Target picks a candidate by stage id or key instead of the default.
	Target string
}

// Decision is the outcome of a successful Decide.
type Decision struct {
	From        workflow.Stage
	Next        *workflow.Stage
	Outstanding []string
	Forced      bool
}

// Terminal reports whether the decision completes the terminal stage
// instead of moving on.
func (d Decision) Terminal() bool {
	return d.Next == nil
}

// Decide works out where an advance from the current stage leads. It fails
// when the current stage is not running, when it has no successor and is not
// terminal, when checklist items are outstanding and opts.Force is unset, or
// when opts.Target is not a candidate.
func Decide(w workflow.Workflow, s State, opts Options) (Decision, error) {
	cur, ok := w.Stage(s.CurrentStageID)
	if !ok {
		return Decision{}, flowerr.InvalidState("session has no current stage in workflow %s", w.Name)
	}
	inst := s.currentFor(cur.ID)
	if inst == nil || inst.Status != stage.StatusRunning {
		status := stage.StatusPending
		if inst != nil {
			status = inst.Status
		}
		return Decision{}, flowerr.InvalidState("stage %s is %s, not %s", cur.Key, status, stage.StatusRunning)
	}

	var candidates []workflow.Stage
	if !cur.IsEnd {
		candidates = NextStages(w, s)
		if len(candidates) == 0 {
			return Decision{}, flowerr.NoNextStage("stage %s has no outgoing transition and no later stage", cur.Key)
		}
	}

	outstanding := Outstanding(w, s)
	if len(outstanding) > 0 && !opts.Force {
		return Decision{}, flowerr.IncompleteStage(outstanding, "stage %s has %d outstanding checklist item(s)", cur.Key, len(outstanding))
	}

	d := Decision{
		From:        cur,
		Outstanding: outstanding,
		Forced:      len(outstanding) > 0,
	}
	if cur.IsEnd {
		if opts.Target != "" {
			return Decision{}, flowerr.InvalidState("stage %s is terminal, there is no next stage to target", cur.Key)
		}
		return d, nil
	}

	next := candidates[0]
	if opts.Target != "" {
		found := false
		for _, c := range candidates {
			if c.ID == opts.Target || c.Key == opts.Target {
				next, found = c, true
				break
			}
		}
		if !found {
			keys := make([]string, len(candidates))
			for i, c := range candidates {
				keys[i] = c.Key
			}
			return Decision{}, flowerr.InvalidState("%s is not a next stage of %s (candidates: %s)", opts.Target, cur.Key, strings.Join(keys, ", "))
		}
	}
	d.Next = &next
	return d, nil
}

// Step is a candidate next stage with the advisory condition of the
// transition that leads to it. Condition is empty for order fallback.
type Step struct {
	Stage     workflow.Stage `json:"stage"`
	Condition string         `json:"condition,omitempty"`
}

// Guidance summarizes what should happen next in a session.
type Guidance struct {
	Workflow             string         `json:"workflow"`
	Stage                workflow.Stage `json:"stage"`
	Status               stage.Status   `json:"status"`
	Progress             float64        `json:"progress"`
	StageProgress        float64        `json:"stage_progress"`
	Completed            []string       `json:"completed_items"`
	Outstanding          []string       `json:"outstanding_items"`
	ExpectedDeliverables []string       `json:"expected_deliverables"`
	RecordedDeliverables []string       `json:"recorded_deliverables"`
	Next                 []Step         `json:"next"`
	Terminal             bool           `json:"terminal"`
	// Done is set once the terminal stage instance has completed.
	Done bool `json:"done"`
}

// Guide assembles Guidance for the current stage.
func Guide(w workflow.Workflow, s State) Guidance {
	cur, _ := w.Stage(s.CurrentStageID)
	g := Guidance{
		Workflow:             w.Name,
		Stage:                cur,
		Status:               stage.StatusPending,
		Progress:             Progress(w, s),
		Completed:            []string{},
		Outstanding:          Outstanding(w, s),
		ExpectedDeliverables: cur.Deliverables,
		RecordedDeliverables: []string{},
		Terminal:             cur.IsEnd,
	}
	if inst := s.currentFor(cur.ID); inst != nil {
		g.Status = inst.Status
		g.StageProgress = stage.Progress(*inst, cur.Checklist)
		g.Completed = inst.CompletedItems
		g.RecordedDeliverables = inst.Deliverables
		g.Done = cur.IsEnd && inst.Status == stage.StatusCompleted
	}
	for _, next := range NextStages(w, s) {
		step := Step{Stage: next}
		for _, tr := range w.Outgoing(cur.ID) {
			if tr.ToStage == next.ID {
				step.Condition = tr.Condition
				break
			}
		}
		g.Next = append(g.Next, step)
	}
	return g
}

// Markdown renders the guidance for a terminal markdown renderer.
func (g Guidance) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", g.Stage.Name)
	if g.Stage.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", g.Stage.Description)
	}
	fmt.Fprintf(&b, "**Status:** %s · **Stage:** %.0f%% · **Workflow:** %.0f%%\n\n", g.Status, g.StageProgress*100, g.Progress*100)

	if len(g.Completed)+len(g.Outstanding) > 0 {
		b.WriteString("## Checklist\n\n")
		for _, item := range g.Stage.Checklist {
			mark := " "
			for _, c := range g.Completed {
				if c == item {
					mark = "x"
					break
				}
			}
			fmt.Fprintf(&b, "- [%s] %s\n", mark, item)
		}
		b.WriteString("\n")
	}

	if len(g.ExpectedDeliverables)+len(g.RecordedDeliverables) > 0 {
		b.WriteString("## Deliverables\n\n")
		for _, d := range g.ExpectedDeliverables {
			fmt.Fprintf(&b, "- expected: %s\n", d)
		}
		for _, d := range g.RecordedDeliverables {
			fmt.Fprintf(&b, "- recorded: %s\n", d)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Next\n\n")
	switch {
	case g.Done:
		b.WriteString("All stages are done. Complete the session.\n")
	case g.Terminal && len(g.Outstanding) == 0:
		b.WriteString("This is the last stage. Advance to finish it, then complete the session.\n")
	case g.Terminal:
		b.WriteString("This is the last stage. Finish the checklist, then advance.\n")
	case len(g.Next) == 0:
		b.WriteString("No next stage is defined. The workflow definition needs a transition here.\n")
	default:
		if len(g.Outstanding) > 0 {
			fmt.Fprintf(&b, "Finish %d checklist item(s), then advance to:\n\n", len(g.Outstanding))
		} else {
			b.WriteString("Ready to advance to:\n\n")
		}
		for _, step := range g.Next {
			if step.Condition != "" {
				fmt.Fprintf(&b, "- **%s** (`%s`) when %s\n", step.Stage.Name, step.Stage.Key, step.Condition)
			} else {
				fmt.Fprintf(&b, "- **%s** (`%s`)\n", step.Stage.Name, step.Stage.Key)
			}
		}
	}
	return b.String()
}
