package workflow

import (
	"errors"
	"strings"
	"testing"

	"github.com/alexcabrera/devflow/internal/flowerr"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateParams)
		want   string
	}{
		{"valid", func(*CreateParams) {}, ""},
		{"missing name", func(p *CreateParams) { p.Name = " " }, "name is required"},
		{"no stages", func(p *CreateParams) { p.Stages = nil; p.Transitions = nil }, "at least one stage"},
		{"gap in order", func(p *CreateParams) { p.Stages[2].OrderIndex = 3 }, "outside 0..2"},
		{"duplicate order", func(p *CreateParams) { p.Stages[1].OrderIndex = 0 }, "already used"},
		{"duplicate key", func(p *CreateParams) { p.Stages[0].Key = "plan"; p.Stages[1].Key = "plan" }, "duplicate key"},
		{"unknown transition target", func(p *CreateParams) { p.Transitions[0].To = "review" }, `unknown stage "review"`},
		{"no terminal", func(p *CreateParams) { p.Stages[2].IsEnd = false }, "no stage is marked terminal"},
		{"two terminals", func(p *CreateParams) { p.Stages[1].IsEnd = true }, "2 stages are marked terminal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := linearParams("feature", "1.0.0")
			tt.mutate(&p)
			err := Validate(p)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, flowerr.ErrValidation) {
				t.Fatalf("err = %v, want validation", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidateSingleStage(t *testing.T) {
	p := CreateParams{
		Name:   "tiny",
		Stages: []StageParams{{Name: "Only", IsEnd: true}},
	}
	if err := Validate(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateDerivedKeys(t *testing.T) {
	p := CreateParams{
		Name: "review-loop",
		Stages: []StageParams{
			{Name: "Review", OrderIndex: 0},
			{Name: "Review", OrderIndex: 1},
			{Name: "", OrderIndex: 2},
			{Name: "!!!", OrderIndex: 3},
			{Name: "Done", Key: "review-1", OrderIndex: 4, IsEnd: true},
		},
		Transitions: []TransitionParams{
			{From: "review", To: "review-1-2"},
			{From: "review-1-2", To: "stage-2"},
			{From: "stage-2", To: "stage-3"},
			{From: "stage-3", To: "review-1"},
		},
	}
	if err := Validate(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := p.normalized()
	want := []struct{ key, name string }{
		{"review", "Review"},
		{"review-1-2", "Review"},
		{"stage-2", "stage-2"},
		{"stage-3", "!!!"},
		{"review-1", "Done"},
	}
	for i, w := range want {
		if got.Stages[i].Key != w.key || got.Stages[i].Name != w.name {
			t.Errorf("stage %d = %q/%q, want %q/%q", i, got.Stages[i].Key, got.Stages[i].Name, w.key, w.name)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Plan":            "plan",
		"Code Review":     "code-review",
		"  QA / Release ": "qa-release",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func testWorkflow() Workflow {
	return Workflow{
		ID: "w",
		Stages: []Stage{
			{ID: "w:a", Key: "a", OrderIndex: 0},
			{ID: "w:b", Key: "b", OrderIndex: 1},
			{ID: "w:c", Key: "c", OrderIndex: 2},
			{ID: "w:d", Key: "d", OrderIndex: 3, IsEnd: true},
		},
		Transitions: []Transition{
			{ID: "t1", FromStage: "w:a", ToStage: "w:c"},
			{ID: "t2", FromStage: "w:a", ToStage: "w:b"},
		},
	}
}

func TestSuccessors(t *testing.T) {
	w := testWorkflow()

	next := w.Successors("w:a")
	if len(next) != 2 || next[0].Key != "b" || next[1].Key != "c" {
		t.Errorf("Successors(a) = %+v, want b then c", next)
	}
	if next := w.Successors("w:b"); len(next) != 1 || next[0].Key != "c" {
		t.Errorf("Successors(b) = %+v, want c by order", next)
	}
	if next := w.Successors("w:d"); len(next) != 0 {
		t.Errorf("Successors(terminal) = %+v, want none", next)
	}
}

func TestLint(t *testing.T) {
	w := testWorkflow()
	if warnings := Lint(w); len(warnings) != 0 {
		t.Errorf("Lint = %v, want none", warnings)
	}

	w.Transitions = append(w.Transitions,
		Transition{ID: "t3", FromStage: "w:b", ToStage: "w:a"},
		Transition{ID: "t4", FromStage: "w:d", ToStage: "w:a"},
	)
	warnings := strings.Join(Lint(w), "\n")
	for _, want := range []string{
		"leaves the terminal stage",
	} {
		if !strings.Contains(warnings, want) {
			t.Errorf("Lint = %q, want it to mention %q", warnings, want)
		}
	}

	cyclic := Workflow{
		ID: "w",
		Stages: []Stage{
			{ID: "w:a", Key: "a", OrderIndex: 0},
			{ID: "w:b", Key: "b", OrderIndex: 1},
			{ID: "w:c", Key: "c", OrderIndex: 2, IsEnd: true},
		},
		Transitions: []Transition{
			{ID: "t1", FromStage: "w:a", ToStage: "w:b"},
			{ID: "t2", FromStage: "w:b", ToStage: "w:a"},
		},
	}
	warnings = strings.Join(Lint(cyclic), "\n")
	if !strings.Contains(warnings, "stage a cannot reach terminal stage c") {
		t.Errorf("Lint = %q, want unreachable terminal", warnings)
	}
	if !strings.Contains(warnings, "stage c is never entered from a") {
		t.Errorf("Lint = %q, want unentered terminal", warnings)
	}
}
