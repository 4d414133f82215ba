package stage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/kv"
	"github.com/alexcabrera/devflow/internal/workflow"
)

type fixture struct {
	stages    *Service
	workflow  workflow.Workflow
	sessionID string
}

func setupTestDB(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	database, queries, err := db.ConnectWithQueries(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	w, err := workflow.NewService(database, queries).Create(ctx, workflow.CreateParams{
		Name: "feature",
		Stages: []workflow.StageParams{
			{Name: "Plan", OrderIndex: 0, Checklist: []string{"scope", "risks", "estimate"}},
			{Name: "Ship", OrderIndex: 1, IsEnd: true},
		},
	})
	if err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}

	if _, err := queries.CreateSession(ctx, db.CreateSessionParams{
		ID:              "session-1",
		WorkflowID:      w.ID,
		Name:            "test",
		Status:          "ACTIVE",
		CompletedStages: "[]",
		Context:         "{}",
		CreatedAt:       1,
	}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	return fixture{stages: NewService(database, queries), workflow: w, sessionID: "session-1"}
}

func TestEnter(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()

	inst, err := f.stages.Enter(ctx, f.sessionID, f.workflow.Stages[0])
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if inst.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", inst.Status, StatusRunning)
	}
	if inst.Name != "Plan" {
		t.Errorf("Name = %q, want %q", inst.Name, "Plan")
	}
	if inst.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}
	if !inst.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be unset")
	}

	_, err = f.stages.Enter(ctx, f.sessionID, f.workflow.Stages[1])
	if !errors.Is(err, flowerr.ErrConflict) {
		t.Fatalf("second Enter err = %v, want conflict", err)
	}

	running, err := f.stages.Running(ctx, f.sessionID)
	if err != nil {
		t.Fatalf("Running failed: %v", err)
	}
	if running.ID != inst.ID {
		t.Errorf("Running = %s, want %s", running.ID, inst.ID)
	}
}

func TestRecordCompletedItems(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()

	inst, err := f.stages.Enter(ctx, f.sessionID, f.workflow.Stages[0])
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}

	inst, ignored, err := f.stages.RecordCompletedItems(ctx, inst.ID, []string{"estimate", "unknown item", "scope"})
	if err != nil {
		t.Fatalf("RecordCompletedItems failed: %v", err)
	}
	if len(ignored) != 1 || ignored[0] != "unknown item" {
		t.Errorf("ignored = %v", ignored)
	}
	want := []string{"scope", "estimate"}
	if len(inst.CompletedItems) != len(want) {
		t.Fatalf("CompletedItems = %v, want %v", inst.CompletedItems, want)
	}
	for i := range want {
		if inst.CompletedItems[i] != want[i] {
			t.Errorf("CompletedItems[%d] = %q, want %q", i, inst.CompletedItems[i], want[i])
		}
	}

	inst, _, err = f.stages.RecordCompletedItems(ctx, inst.ID, []string{"scope"})
	if err != nil {
		t.Fatalf("RecordCompletedItems failed: %v", err)
	}
	if len(inst.CompletedItems) != 2 {
		t.Errorf("duplicate recorded: %v", inst.CompletedItems)
	}

	p, err := f.stages.Progress(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if p < 0.66 || p > 0.67 {
		t.Errorf("Progress = %v, want 2/3", p)
	}
}

func TestRecordDeliverable(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()

	inst, err := f.stages.Enter(ctx, f.sessionID, f.workflow.Stages[0])
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if _, err := f.stages.RecordDeliverable(ctx, inst.ID, "  "); !errors.Is(err, flowerr.ErrValidation) {
		t.Errorf("empty deliverable err = %v, want validation", err)
	}
	inst, err = f.stages.RecordDeliverable(ctx, inst.ID, "docs/plan.md")
	if err != nil {
		t.Fatalf("RecordDeliverable failed: %v", err)
	}
	inst, err = f.stages.RecordDeliverable(ctx, inst.ID, "anything at all")
	if err != nil {
		t.Fatalf("RecordDeliverable failed: %v", err)
	}
	if len(inst.Deliverables) != 2 || inst.Deliverables[0] != "docs/plan.md" {
		t.Errorf("Deliverables = %v", inst.Deliverables)
	}
}

func TestClose(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()

	inst, err := f.stages.Enter(ctx, f.sessionID, f.workflow.Stages[0])
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	if _, err := f.stages.Close(ctx, inst.ID, StatusRunning); !errors.Is(err, flowerr.ErrInvalidState) {
		t.Errorf("Close(RUNNING) err = %v, want invalid state", err)
	}

	closed, err := f.stages.Close(ctx, inst.ID, StatusSkipped)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if closed.Status != StatusSkipped || closed.CompletedAt.IsZero() {
		t.Errorf("closed = %+v", closed)
	}

	if _, err := f.stages.Close(ctx, inst.ID, StatusCompleted); !errors.Is(err, flowerr.ErrInvalidState) {
		t.Errorf("second Close err = %v, want invalid state", err)
	}
	if _, _, err := f.stages.RecordCompletedItems(ctx, inst.ID, []string{"scope"}); !errors.Is(err, flowerr.ErrInvalidState) {
		t.Errorf("RecordCompletedItems on closed err = %v, want invalid state", err)
	}
	if _, err := f.stages.Running(ctx, f.sessionID); !errors.Is(err, flowerr.ErrNotFound) {
		t.Errorf("Running err = %v, want not found", err)
	}

	next, err := f.stages.Enter(ctx, f.sessionID, f.workflow.Stages[1])
	if err != nil {
		t.Fatalf("Enter after close failed: %v", err)
	}
	list, err := f.stages.ListBySession(ctx, f.sessionID)
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != inst.ID || list[1].ID != next.ID {
		t.Errorf("ListBySession = %+v", list)
	}
}

func TestUpdateContext(t *testing.T) {
	f := setupTestDB(t)
	ctx := context.Background()

	inst, err := f.stages.Enter(ctx, f.sessionID, f.workflow.Stages[0])
	if err != nil {
		t.Fatalf("Enter failed: %v", err)
	}
	inst, err = f.stages.UpdateContext(ctx, inst.ID, kv.Map{"branch": kv.String("feat/x"), "attempt": kv.Number(1)})
	if err != nil {
		t.Fatalf("UpdateContext failed: %v", err)
	}
	inst, err = f.stages.UpdateContext(ctx, inst.ID, kv.Map{"attempt": kv.Number(2)})
	if err != nil {
		t.Fatalf("UpdateContext failed: %v", err)
	}
	got, err := f.stages.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := kv.Map{"branch": kv.String("feat/x"), "attempt": kv.Number(2)}
	if !got.Context.Equal(want) {
		t.Errorf("Context = %v, want %v", got.Context, want)
	}
}

func TestGetNotFound(t *testing.T) {
	f := setupTestDB(t)
	if _, err := f.stages.Get(context.Background(), "missing"); !errors.Is(err, flowerr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestProgress(t *testing.T) {
	checklist := []string{"a", "b", "c", "d"}
	tests := []struct {
		name string
		inst Instance
		list []string
		want float64
	}{
		{"pending", Instance{Status: StatusPending, CompletedItems: []string{"a"}}, checklist, 0},
		{"half", Instance{Status: StatusRunning, CompletedItems: []string{"a", "c"}}, checklist, 0.5},
		{"empty checklist running", Instance{Status: StatusRunning}, nil, 1},
		{"empty checklist pending", Instance{Status: StatusPending}, nil, 0},
		{"foreign items", Instance{Status: StatusRunning, CompletedItems: []string{"x"}}, checklist, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Progress(tt.inst, tt.list); got != tt.want {
				t.Errorf("Progress = %v, want %v", got, tt.want)
			}
		})
	}
}
