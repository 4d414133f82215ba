package workflow

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/flowerr"
)

func setupTestService(t *testing.T) (*Service, *sql.DB, *db.Queries) {
	t.Helper()
	ctx := context.Background()
	database, queries, err := db.ConnectWithQueries(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewService(database, queries), database, queries
}

func linearParams(name, version string) CreateParams {
	return CreateParams{
		Name:    name,
		Version: version,
		Stages: []StageParams{
			{Name: "Plan", OrderIndex: 0, Checklist: []string{"scope", "risks"}, Deliverables: []string{"plan.md"}},
			{Name: "Build", OrderIndex: 1, Checklist: []string{"code"}},
			{Name: "Ship", OrderIndex: 2, IsEnd: true},
		},
		Transitions: []TransitionParams{
			{From: "plan", To: "build"},
			{From: "build", To: "ship", Condition: "tests pass"},
		},
	}
}

func TestServiceCreate(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	w, err := svc.Create(ctx, linearParams("feature", "1.0.0"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if w.ID == "" {
		t.Error("expected non-empty ID")
	}
	if len(w.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(w.Stages))
	}
	if w.Stages[0].Key != "plan" || w.Stages[0].ID != StageID(w.ID, "plan") {
		t.Errorf("first stage = %+v", w.Stages[0])
	}
	if got := w.Stages[0].Checklist; len(got) != 2 || got[0] != "scope" {
		t.Errorf("Checklist = %v", got)
	}
	if len(w.Stages[1].Deliverables) != 0 || w.Stages[1].Deliverables == nil {
		t.Errorf("Deliverables = %#v, want empty non-nil", w.Stages[1].Deliverables)
	}
	if len(w.Transitions) != 2 {
		t.Fatalf("len(Transitions) = %d, want 2", len(w.Transitions))
	}
	if w.Transitions[1].Condition != "tests pass" {
		t.Errorf("Condition = %q", w.Transitions[1].Condition)
	}
	if term, ok := w.Terminal(); !ok || term.Key != "ship" {
		t.Errorf("Terminal = %+v, %v", term, ok)
	}
}

func TestServiceCreateRejectsInvalid(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	p := linearParams("broken", "1.0.0")
	p.Stages[2].IsEnd = false
	_, err := svc.Create(ctx, p)
	if !errors.Is(err, flowerr.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}

	list, err := svc.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected nothing stored, got %d", len(list))
	}
}

func TestServiceCreateDuplicateVersion(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, linearParams("feature", "1.0.0")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := svc.Create(ctx, linearParams("feature", "1.0.0"))
	if !errors.Is(err, flowerr.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if _, err := svc.Create(ctx, linearParams("feature", "1.1.0")); err != nil {
		t.Fatalf("Create new version failed: %v", err)
	}
}

func TestServiceImport(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	first, created, err := svc.Import(ctx, linearParams("feature", "1.0.0"))
	if err != nil || !created {
		t.Fatalf("Import = %v, %v", created, err)
	}
	again, created, err := svc.Import(ctx, linearParams("feature", "1.0.0"))
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if created {
		t.Error("expected existing workflow to be reused")
	}
	if again.ID != first.ID {
		t.Errorf("ID = %s, want %s", again.ID, first.ID)
	}
}

func TestServiceGetNotFound(t *testing.T) {
	svc, _, _ := setupTestService(t)
	_, err := svc.Get(context.Background(), "missing")
	if !errors.Is(err, flowerr.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestServiceGetByNamePicksLatest(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	for _, v := range []string{"1.2.0", "1.10.0", "1.9.1"} {
		if _, err := svc.Create(ctx, linearParams("feature", v)); err != nil {
			t.Fatalf("Create %s failed: %v", v, err)
		}
	}

	w, err := svc.GetByName(ctx, "feature")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if w.Version != "1.10.0" {
		t.Errorf("Version = %q, want 1.10.0", w.Version)
	}

	r, err := svc.Resolve(ctx, "feature")
	if err != nil || r.ID != w.ID {
		t.Errorf("Resolve = %s, %v", r.ID, err)
	}
	r, err = svc.Resolve(ctx, w.ID)
	if err != nil || r.ID != w.ID {
		t.Errorf("Resolve by id = %s, %v", r.ID, err)
	}
}

func TestServiceList(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	a := linearParams("alpha", "1.0.0")
	a.FlowType = "feature"
	b := linearParams("alpha", "2.0.0")
	b.FlowType = "feature"
	c := linearParams("beta", "1.0.0")
	c.FlowType = "bugfix"
	for _, p := range []CreateParams{b, a, c} {
		if _, err := svc.Create(ctx, p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	all, err := svc.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Name != "alpha" || all[0].Version != "1.0.0" || all[2].Name != "beta" {
		t.Errorf("unexpected order: %s@%s, %s@%s", all[0].Name, all[0].Version, all[2].Name, all[2].Version)
	}

	latest, err := svc.List(ctx, Filter{LatestOnly: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(latest) != 2 || latest[0].Version != "2.0.0" {
		t.Errorf("latest = %d entries, first %s", len(latest), latest[0].Version)
	}

	typed, err := svc.List(ctx, Filter{FlowType: "bugfix"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(typed) != 1 || typed[0].Name != "beta" {
		t.Errorf("typed = %+v", typed)
	}
}

func TestServiceDelete(t *testing.T) {
	svc, _, queries := setupTestService(t)
	ctx := context.Background()

	w, err := svc.Create(ctx, linearParams("feature", "1.0.0"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := queries.CreateSession(ctx, db.CreateSessionParams{
		ID:              "s1",
		WorkflowID:      w.ID,
		Name:            "in use",
		Status:          "ACTIVE",
		CompletedStages: "[]",
		Context:         "{}",
		CreatedAt:       1,
	}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := svc.Delete(ctx, w.ID); !errors.Is(err, flowerr.ErrConflict) {
		t.Fatalf("Delete err = %v, want conflict", err)
	}

	if _, err := queries.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if err := svc.Delete(ctx, w.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Get(ctx, w.ID); !errors.Is(err, flowerr.ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if err := svc.Delete(ctx, w.ID); !errors.Is(err, flowerr.ErrNotFound) {
		t.Errorf("second Delete err = %v, want not found", err)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.10.0", "1.9.0", 1},
		{"v2", "1.0.0", 1},
		{"draft", "0.0.1", -1},
		{"a", "b", -1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
