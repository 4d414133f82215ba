package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alexcabrera/devflow/internal/flowerr"
)

// StageParams describes a stage in a workflow being created.
type StageParams struct {
	Key          string
	Name         string
	Description  string
	OrderIndex   int
	Checklist    []string
	Deliverables []string
	IsEnd        bool
}

// TransitionParams references stages by key.
type TransitionParams struct {
	From      string
	To        string
	Condition string
}

// CreateParams contains everything needed to publish a workflow.
type CreateParams struct {
	Name        string
	Description string
	Version     string
	FlowType    string
	Stages      []StageParams
	Transitions []TransitionParams
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a stage name into a key.
func Slug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// normalized fills derived fields. A stage without a key gets the slug of its
// name, or "stage-<order>" when the name has none. A derived key never
// collides: explicit keys win and later stages get a "-<order>" suffix. A
// stage without a name is shown by its key.
func (p CreateParams) normalized() CreateParams {
	out := p
	out.Name = strings.TrimSpace(p.Name)
	out.Version = strings.TrimSpace(p.Version)
	out.Stages = make([]StageParams, len(p.Stages))
	taken := make(map[string]bool, len(p.Stages))
	for i, st := range p.Stages {
		st.Name = strings.TrimSpace(st.Name)
		st.Key = strings.TrimSpace(st.Key)
		if st.Key != "" {
			taken[st.Key] = true
		}
		out.Stages[i] = st
	}
	for i := range out.Stages {
		st := &out.Stages[i]
		if st.Key == "" {
			st.Key = derivedKey(*st, taken)
			taken[st.Key] = true
		}
		if st.Name == "" {
			st.Name = st.Key
		}
	}
	out.Transitions = make([]TransitionParams, len(p.Transitions))
	for i, tr := range p.Transitions {
		tr.From = strings.TrimSpace(tr.From)
		tr.To = strings.TrimSpace(tr.To)
		out.Transitions[i] = tr
	}
	return out
}

func derivedKey(st StageParams, taken map[string]bool) string {
	key := Slug(st.Name)
	if key == "" {
		key = fmt.Sprintf("stage-%d", st.OrderIndex)
	}
	if !taken[key] {
		return key
	}
	base := fmt.Sprintf("%s-%d", key, st.OrderIndex)
	key = base
	for n := 2; taken[key]; n++ {
		key = fmt.Sprintf("%s-%d", base, n)
	}
	return key
}

// Validate checks the structural rules a definition must satisfy: stage order
// indexes form exactly 0..n-1, every transition endpoint is a stage of this
// workflow, and exactly one stage is terminal. Only explicit keys can
// collide.
func Validate(p CreateParams) error {
	p = p.normalized()
	var problems []string

	if p.Name == "" {
		problems = append(problems, "name is required")
	}
	if len(p.Stages) == 0 {
		problems = append(problems, "at least one stage is required")
	}

	keys := make(map[string]struct{}, len(p.Stages))
	orders := make(map[int]string, len(p.Stages))
	terminals := 0
	for i, st := range p.Stages {
		label := st.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if _, dup := keys[st.Key]; dup {
			problems = append(problems, fmt.Sprintf("stage %s: duplicate key %q", label, st.Key))
		}
		keys[st.Key] = struct{}{}

		if st.OrderIndex < 0 || st.OrderIndex >= len(p.Stages) {
			problems = append(problems, fmt.Sprintf("stage %s: order index %d outside 0..%d", label, st.OrderIndex, len(p.Stages)-1))
		} else if other, dup := orders[st.OrderIndex]; dup {
			problems = append(problems, fmt.Sprintf("stage %s: order index %d already used by %s", label, st.OrderIndex, other))
		} else {
			orders[st.OrderIndex] = label
		}

		if st.IsEnd {
			terminals++
		}
	}

	for i, tr := range p.Transitions {
		if _, ok := keys[tr.From]; !ok || tr.From == "" {
			problems = append(problems, fmt.Sprintf("transition #%d: from references unknown stage %q", i, tr.From))
		}
		if _, ok := keys[tr.To]; !ok || tr.To == "" {
			problems = append(problems, fmt.Sprintf("transition #%d: to references unknown stage %q", i, tr.To))
		}
	}

	if len(p.Stages) > 0 {
		switch {
		case terminals == 0:
			problems = append(problems, "no stage is marked terminal")
		case terminals > 1:
			problems = append(problems, fmt.Sprintf("%d stages are marked terminal, exactly one is allowed", terminals))
		}
	}

	if len(problems) > 0 {
		name := p.Name
		if name == "" {
			name = "(unnamed)"
		}
		return flowerr.Validation(problems, "workflow %q is invalid", name)
	}
	return nil
}

// Lint reports advisory problems that Validate accepts: transitions leaving
// the terminal stage, stages that can never reach it, and stages that are
// never entered from the first stage.
func Lint(w Workflow) []string {
	var warnings []string
	terminal, ok := w.Terminal()
	if !ok {
		return []string{"no terminal stage"}
	}

	for _, tr := range w.Outgoing(terminal.ID) {
		if to, ok := w.Stage(tr.ToStage); ok {
			warnings = append(warnings, fmt.Sprintf("transition %s -> %s leaves the terminal stage and is ignored", terminal.Key, to.Key))
		}
	}

	for _, st := range w.Stages {
		if st.IsEnd {
			continue
		}
		if !w.reaches(st.ID, terminal.ID) {
			warnings = append(warnings, fmt.Sprintf("stage %s cannot reach terminal stage %s", st.Key, terminal.Key))
		}
	}

	if first, ok := w.FirstStage(); ok {
		for _, st := range w.Stages {
			if st.ID != first.ID && !w.reaches(first.ID, st.ID) {
				warnings = append(warnings, fmt.Sprintf("stage %s is never entered from %s", st.Key, first.Key))
			}
		}
	}
	return warnings
}

func (w Workflow) reaches(from, to string) bool {
	visited := map[string]struct{}{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == to {
			return true
		}
		for _, next := range w.Successors(id) {
			if _, seen := visited[next.ID]; seen {
				continue
			}
			visited[next.ID] = struct{}{}
			queue = append(queue, next.ID)
		}
	}
	return false
}
