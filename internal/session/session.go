// Package session runs workflows: it creates flow sessions, moves them
// through their stages and keeps the single current-session pointer.
package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/kv"
)

// Status is the lifecycle state of a flow session.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusClosed    Status = "CLOSED"
)

// Finished reports whether no further transitions are allowed.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusClosed
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusActive, StatusPaused, StatusCompleted, StatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// Session is a running instance of a workflow.
type Session struct {
	ID              string    `json:"id"`
	WorkflowID      string    `json:"workflow_id"`
	Name            string    `json:"name"`
	Status          Status    `json:"status"`
	CurrentStageID  string    `json:"current_stage_id,omitempty"`
	CompletedStages []string  `json:"completed_stages"`
	Context         kv.Map    `json:"context"`
	TaskID          string    `json:"task_id,omitempty"`
	FlowType        string    `json:"flow_type,omitempty"`
	IsCurrent       bool      `json:"is_current"`
	CloseReason     string    `json:"close_reason,omitempty"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasCompleted reports whether stageID is in CompletedStages.
func (s Session) HasCompleted(stageID string) bool {
	for _, id := range s.CompletedStages {
		if id == stageID {
			return true
		}
	}
	return false
}

func (s *Session) markCompleted(stageID string) {
	if !s.HasCompleted(stageID) {
		s.CompletedStages = append(s.CompletedStages, stageID)
	}
}

func sessionFromDB(d db.FlowSession) (Session, error) {
	s := Session{
		ID:             d.ID,
		WorkflowID:     d.WorkflowID,
		Name:           d.Name,
		Status:         Status(d.Status),
		CurrentStageID: d.CurrentStageID.String,
		TaskID:         d.TaskID.String,
		FlowType:       d.FlowType,
		IsCurrent:      d.IsCurrent != 0,
		CloseReason:    d.CloseReason.String,
		Version:        d.Version,
		CreatedAt:      time.UnixMilli(d.CreatedAt),
		UpdatedAt:      time.UnixMilli(d.UpdatedAt),
	}
	s.CompletedStages = []string{}
	if d.CompletedStages != "" {
		if err := json.Unmarshal([]byte(d.CompletedStages), &s.CompletedStages); err != nil {
			return Session{}, fmt.Errorf("decode completed stages of %s: %w", d.ID, err)
		}
	}
	ctx, err := kv.Decode(d.Context)
	if err != nil {
		return Session{}, fmt.Errorf("decode context of %s: %w", d.ID, err)
	}
	s.Context = ctx
	return s, nil
}

func sessionsFromDB(ds []db.FlowSession) ([]Session, error) {
	out := make([]Session, 0, len(ds))
	for _, d := range ds {
		s, err := sessionFromDB(d)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (s Session) updateParams(now time.Time) (db.UpdateSessionParams, error) {
	completed := s.CompletedStages
	if completed == nil {
		completed = []string{}
	}
	stages, err := json.Marshal(completed)
	if err != nil {
		return db.UpdateSessionParams{}, err
	}
	ctx, err := s.Context.Encode()
	if err != nil {
		return db.UpdateSessionParams{}, err
	}
	return db.UpdateSessionParams{
		ID:              s.ID,
		Name:            s.Name,
		Status:          string(s.Status),
		CurrentStageID:  toNullString(s.CurrentStageID),
		CompletedStages: string(stages),
		Context:         ctx,
		CloseReason:     toNullString(s.CloseReason),
		UpdatedAt:       now.UnixMilli(),
		ExpectedVersion: s.Version,
	}, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
