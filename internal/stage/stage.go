// Package stage tracks the runtime instances of workflow stages entered by a
// session: checklist completion, recorded deliverables and stage-scoped
// context.
package stage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/kv"
)

// Status is the lifecycle state of a stage instance.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusSkipped   Status = "SKIPPED"
)

// Closed reports whether the instance reached a final status.
func (s Status) Closed() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// Instance is one visit of a session to a stage.
type Instance struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	StageID        string    `json:"stage_id"`
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	CompletedAt    time.Time `json:"completed_at,omitzero"`
	CompletedItems []string  `json:"completed_items"`
	Context        kv.Map    `json:"context"`
	Deliverables   []string  `json:"deliverables"`
}

// Progress returns the fraction of checklist completed by the instance. A
// stage with an empty checklist counts as done once it has been entered.
func Progress(inst Instance, checklist []string) float64 {
	if inst.Status == StatusPending || inst.Status == "" {
		return 0
	}
	if len(checklist) == 0 {
		return 1
	}
	done := 0
	for _, item := range checklist {
		if inst.HasItem(item) {
			done++
		}
	}
	return float64(done) / float64(len(checklist))
}

// HasItem reports whether item was recorded as completed.
func (i Instance) HasItem(item string) bool {
	for _, c := range i.CompletedItems {
		if c == item {
			return true
		}
	}
	return false
}

func fromDB(row db.StageInstance) (Instance, error) {
	inst := Instance{
		ID:        row.ID,
		SessionID: row.SessionID,
		StageID:   row.StageID,
		Name:      row.Name,
		Status:    Status(row.Status),
	}
	if row.StartedAt.Valid {
		inst.StartedAt = time.UnixMilli(row.StartedAt.Int64)
	}
	if row.CompletedAt.Valid {
		inst.CompletedAt = time.UnixMilli(row.CompletedAt.Int64)
	}
	if err := decodeList(row.CompletedItems, &inst.CompletedItems); err != nil {
		return Instance{}, fmt.Errorf("decode completed items of %s: %w", row.ID, err)
	}
	if err := decodeList(row.Deliverables, &inst.Deliverables); err != nil {
		return Instance{}, fmt.Errorf("decode deliverables of %s: %w", row.ID, err)
	}
	ctx, err := kv.Decode(row.Context)
	if err != nil {
		return Instance{}, fmt.Errorf("decode context of %s: %w", row.ID, err)
	}
	inst.Context = ctx
	return inst, nil
}

func (i Instance) updateParams(expected Status) (db.UpdateStageInstanceParams, error) {
	items, err := json.Marshal(nonNil(i.CompletedItems))
	if err != nil {
		return db.UpdateStageInstanceParams{}, err
	}
	deliverables, err := json.Marshal(nonNil(i.Deliverables))
	if err != nil {
		return db.UpdateStageInstanceParams{}, err
	}
	ctx, err := i.Context.Encode()
	if err != nil {
		return db.UpdateStageInstanceParams{}, err
	}
	var completedAt sql.NullInt64
	if !i.CompletedAt.IsZero() {
		completedAt = sql.NullInt64{Int64: i.CompletedAt.UnixMilli(), Valid: true}
	}
	return db.UpdateStageInstanceParams{
		ID:             i.ID,
		Status:         string(i.Status),
		CompletedAt:    completedAt,
		CompletedItems: string(items),
		Context:        ctx,
		Deliverables:   string(deliverables),
		ExpectedStatus: string(expected),
	}, nil
}

func decodeList(s string, out *[]string) error {
	*out = []string{}
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
