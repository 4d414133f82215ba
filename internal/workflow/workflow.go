// Package workflow stores reusable workflow definitions: an ordered set of
// stages and the advisory transitions between them.
//
// Definitions are immutable once created. A changed workflow is published as
// a new version under the same name; sessions keep pointing at the version
// they were started from.
package workflow

import (
	"sort"
	"time"
)

// Stage is a named step with a checklist and expected deliverables.
type Stage struct {
	ID           string   `json:"id"`
	WorkflowID   string   `json:"workflow_id"`
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	OrderIndex   int      `json:"order_index"`
	Checklist    []string `json:"checklist"`
	Deliverables []string `json:"deliverables"`
	IsEnd        bool     `json:"is_end"`
}

// Transition is a directed edge between two stages of the same workflow.
// Condition is guidance text for whoever drives the session; it is never
// evaluated.
type Transition struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	FromStage  string `json:"from_stage"`
	ToStage    string `json:"to_stage"`
	Condition  string `json:"condition,omitempty"`
}

// Workflow is a published definition. Stages are sorted by OrderIndex and
// Transitions keep their authored order.
type Workflow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Version     string       `json:"version,omitempty"`
	FlowType    string       `json:"flow_type,omitempty"`
	Stages      []Stage      `json:"stages"`
	Transitions []Transition `json:"transitions"`
	CreatedAt   time.Time    `json:"created_at"`
}

// StageIDs returns stage ids in order.
func (w Workflow) StageIDs() []string {
	ids := make([]string, len(w.Stages))
	for i, st := range w.Stages {
		ids[i] = st.ID
	}
	return ids
}

// TransitionIDs returns transition ids in authored order.
func (w Workflow) TransitionIDs() []string {
	ids := make([]string, len(w.Transitions))
	for i, tr := range w.Transitions {
		ids[i] = tr.ID
	}
	return ids
}

// Stage looks up a stage by id.
func (w Workflow) Stage(id string) (Stage, bool) {
	for _, st := range w.Stages {
		if st.ID == id {
			return st, true
		}
	}
	return Stage{}, false
}

// StageByKey looks up a stage by its workflow-local key.
func (w Workflow) StageByKey(key string) (Stage, bool) {
	for _, st := range w.Stages {
		if st.Key == key {
			return st, true
		}
	}
	return Stage{}, false
}

// FindStage accepts either a stage id or key.
func (w Workflow) FindStage(ref string) (Stage, bool) {
	if st, ok := w.Stage(ref); ok {
		return st, true
	}
	return w.StageByKey(ref)
}

// FirstStage returns the stage with the lowest order index.
func (w Workflow) FirstStage() (Stage, bool) {
	if len(w.Stages) == 0 {
		return Stage{}, false
	}
	first := w.Stages[0]
	for _, st := range w.Stages[1:] {
		if st.OrderIndex < first.OrderIndex {
			first = st
		}
	}
	return first, true
}

// Terminal returns the stage marked IsEnd.
func (w Workflow) Terminal() (Stage, bool) {
	for _, st := range w.Stages {
		if st.IsEnd {
			return st, true
		}
	}
	return Stage{}, false
}

// Outgoing returns the transitions leaving stageID in authored order.
func (w Workflow) Outgoing(stageID string) []Transition {
	var out []Transition
	for _, tr := range w.Transitions {
		if tr.FromStage == stageID {
			out = append(out, tr)
		}
	}
	return out
}

// NextByOrder returns the stage with the next higher order index.
func (w Workflow) NextByOrder(stageID string) (Stage, bool) {
	current, ok := w.Stage(stageID)
	if !ok {
		return Stage{}, false
	}
	var next Stage
	found := false
	for _, st := range w.Stages {
		if st.OrderIndex <= current.OrderIndex {
			continue
		}
		if !found || st.OrderIndex < next.OrderIndex {
			next = st
			found = true
		}
	}
	return next, found
}

// Successors returns the stages reachable in one step from stageID: the
// targets of its outgoing transitions, or the next stage by order when it has
// none. The result is sorted by order index. Terminal stages have no
// successors.
func (w Workflow) Successors(stageID string) []Stage {
	current, ok := w.Stage(stageID)
	if !ok || current.IsEnd {
		return nil
	}
	outgoing := w.Outgoing(stageID)
	if len(outgoing) == 0 {
		if next, ok := w.NextByOrder(stageID); ok {
			return []Stage{next}
		}
		return nil
	}
	seen := make(map[string]struct{}, len(outgoing))
	var out []Stage
	for _, tr := range outgoing {
		if _, dup := seen[tr.ToStage]; dup {
			continue
		}
		if st, ok := w.Stage(tr.ToStage); ok {
			seen[tr.ToStage] = struct{}{}
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out
}
