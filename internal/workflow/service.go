package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/flowerr"
)

// Service publishes, reads and deletes workflow definitions.
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

// NewService creates a definition service over an open database.
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

// StageID derives the id of a stage from its workflow and key.
func StageID(workflowID, key string) string {
	return workflowID + ":" + key
}

// Create validates and stores a new workflow with its stages and transitions
// in one transaction. A name and version pair can only be published once.
func (s *Service) Create(ctx context.Context, params CreateParams) (Workflow, error) {
	if err := Validate(params); err != nil {
		return Workflow{}, err
	}
	p := params.normalized()
	id := uuid.New().String()

	err := db.InTx(ctx, s.db, func(q *db.Queries) error {
		existing, err := q.ListWorkflows(ctx, db.ListWorkflowsParams{Name: p.Name})
		if err != nil {
			return fmt.Errorf("list workflows: %w", err)
		}
		for _, w := range existing {
			if w.Version == p.Version {
				return flowerr.Conflict("workflow %q version %q already exists, publish a new version instead", p.Name, p.Version)
			}
		}

		if err := q.CreateWorkflow(ctx, db.CreateWorkflowParams{
			ID:          id,
			Name:        p.Name,
			Description: p.Description,
			Version:     p.Version,
			FlowType:    p.FlowType,
			CreatedAt:   s.now().UnixMilli(),
		}); err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}

		for _, st := range p.Stages {
			checklist, err := encodeList(st.Checklist)
			if err != nil {
				return err
			}
			deliverables, err := encodeList(st.Deliverables)
			if err != nil {
				return err
			}
			if err := q.CreateStage(ctx, db.CreateStageParams{
				ID:           StageID(id, st.Key),
				WorkflowID:   id,
				Key:          st.Key,
				Name:         st.Name,
				Description:  st.Description,
				OrderIndex:   int64(st.OrderIndex),
				Checklist:    checklist,
				Deliverables: deliverables,
				IsEnd:        boolToInt(st.IsEnd),
			}); err != nil {
				return fmt.Errorf("create stage %s: %w", st.Key, err)
			}
		}

		for i, tr := range p.Transitions {
			if err := q.CreateTransition(ctx, db.CreateTransitionParams{
				ID:         uuid.New().String(),
				WorkflowID: id,
				FromStage:  StageID(id, tr.From),
				ToStage:    StageID(id, tr.To),
				Condition:  tr.Condition,
				Position:   int64(i),
			}); err != nil {
				return fmt.Errorf("create transition %s -> %s: %w", tr.From, tr.To, err)
			}
		}
		return nil
	})
	if err != nil {
		return Workflow{}, err
	}

	s.logger.Info("workflow created", "id", id, "name", p.Name, "version", p.Version, "stages", len(p.Stages))
	return s.Get(ctx, id)
}

// Import publishes params unless a workflow with the same name and version
// already exists, in which case the existing one is returned.
func (s *Service) Import(ctx context.Context, params CreateParams) (Workflow, bool, error) {
	p := params.normalized()
	rows, err := s.q.ListWorkflows(ctx, db.ListWorkflowsParams{Name: p.Name})
	if err != nil {
		return Workflow{}, false, fmt.Errorf("list workflows: %w", err)
	}
	for _, row := range rows {
		if row.Version == p.Version {
			w, err := s.Get(ctx, row.ID)
			return w, false, err
		}
	}
	w, err := s.Create(ctx, params)
	if err != nil {
		return Workflow{}, false, err
	}
	return w, true, nil
}

// Get returns a workflow with its stages and transitions.
func (s *Service) Get(ctx context.Context, id string) (Workflow, error) {
	return Load(ctx, s.q, id)
}

// GetByName returns the highest version published under name.
func (s *Service) GetByName(ctx context.Context, name string) (Workflow, error) {
	rows, err := s.q.ListWorkflows(ctx, db.ListWorkflowsParams{Name: name})
	if err != nil {
		return Workflow{}, fmt.Errorf("list workflows: %w", err)
	}
	if len(rows) == 0 {
		return Workflow{}, flowerr.NotFound("workflow %q not found", name)
	}
	latest := rows[0]
	for _, row := range rows[1:] {
		if CompareVersions(row.Version, latest.Version) > 0 {
			latest = row
		}
	}
	return Load(ctx, s.q, latest.ID)
}

// Resolve accepts a workflow id or name.
func (s *Service) Resolve(ctx context.Context, ref string) (Workflow, error) {
	w, err := s.Get(ctx, ref)
	if err == nil || !errors.Is(err, flowerr.ErrNotFound) {
		return w, err
	}
	return s.GetByName(ctx, ref)
}

// Filter narrows List.
type Filter struct {
	Name       string
	FlowType   string
	LatestOnly bool
}

// List returns workflows ordered by name, then version.
func (s *Service) List(ctx context.Context, filter Filter) ([]Workflow, error) {
	rows, err := s.q.ListWorkflows(ctx, db.ListWorkflowsParams{
		Name:     filter.Name,
		FlowType: filter.FlowType,
	})
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	if filter.LatestOnly {
		latest := make(map[string]db.Workflow)
		for _, row := range rows {
			cur, ok := latest[row.Name]
			if !ok || CompareVersions(row.Version, cur.Version) > 0 {
				latest[row.Name] = row
			}
		}
		rows = rows[:0]
		for _, row := range latest {
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return CompareVersions(rows[i].Version, rows[j].Version) < 0
	})

	out := make([]Workflow, 0, len(rows))
	for _, row := range rows {
		w, err := assemble(ctx, s.q, row)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Delete removes a workflow that no session references.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := db.InTx(ctx, s.db, func(q *db.Queries) error {
		if _, err := q.GetWorkflow(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return flowerr.NotFound("workflow %s not found", id)
			}
			return fmt.Errorf("get workflow: %w", err)
		}
		n, err := q.CountSessionsByWorkflow(ctx, id)
		if err != nil {
			return fmt.Errorf("count sessions: %w", err)
		}
		if n > 0 {
			return flowerr.Conflict("workflow %s is used by %d session(s)", id, n)
		}
		if _, err := q.DeleteWorkflow(ctx, id); err != nil {
			return fmt.Errorf("delete workflow: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("workflow deleted", "id", id)
	return nil
}

// Load reads a workflow through q, which may be bound to a transaction.
func Load(ctx context.Context, q *db.Queries, id string) (Workflow, error) {
	row, err := q.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workflow{}, flowerr.NotFound("workflow %s not found", id)
		}
		return Workflow{}, fmt.Errorf("get workflow: %w", err)
	}
	return assemble(ctx, q, row)
}

// LoadStage reads a single stage through q.
func LoadStage(ctx context.Context, q *db.Queries, id string) (Stage, error) {
	row, err := q.GetStage(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Stage{}, flowerr.NotFound("stage %s not found", id)
		}
		return Stage{}, fmt.Errorf("get stage: %w", err)
	}
	return stageFromDB(row)
}

func assemble(ctx context.Context, q *db.Queries, row db.Workflow) (Workflow, error) {
	w := Workflow{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Version:     row.Version,
		FlowType:    row.FlowType,
		CreatedAt:   time.UnixMilli(row.CreatedAt),
		Stages:      []Stage{},
		Transitions: []Transition{},
	}

	stages, err := q.ListStagesByWorkflow(ctx, row.ID)
	if err != nil {
		return Workflow{}, fmt.Errorf("list stages: %w", err)
	}
	for _, st := range stages {
		stage, err := stageFromDB(st)
		if err != nil {
			return Workflow{}, err
		}
		w.Stages = append(w.Stages, stage)
	}

	transitions, err := q.ListTransitionsByWorkflow(ctx, row.ID)
	if err != nil {
		return Workflow{}, fmt.Errorf("list transitions: %w", err)
	}
	for _, tr := range transitions {
		w.Transitions = append(w.Transitions, Transition{
			ID:         tr.ID,
			WorkflowID: tr.WorkflowID,
			FromStage:  tr.FromStage,
			ToStage:    tr.ToStage,
			Condition:  tr.Condition,
		})
	}
	return w, nil
}

func stageFromDB(row db.Stage) (Stage, error) {
	checklist, err := decodeList(row.Checklist)
	if err != nil {
		return Stage{}, fmt.Errorf("decode checklist of %s: %w", row.ID, err)
	}
	deliverables, err := decodeList(row.Deliverables)
	if err != nil {
		return Stage{}, fmt.Errorf("decode deliverables of %s: %w", row.ID, err)
	}
	return Stage{
		ID:           row.ID,
		WorkflowID:   row.WorkflowID,
		Key:          row.Key,
		Name:         row.Name,
		Description:  row.Description,
		OrderIndex:   int(row.OrderIndex),
		Checklist:    checklist,
		Deliverables: deliverables,
		IsEnd:        row.IsEnd != 0,
	}, nil
}

// CompareVersions orders version strings by semver. Strings that are not
// valid semver sort below those that are and compare lexically among
// themselves.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA == nil:
		return 1
	case errB == nil:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
