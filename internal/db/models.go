package db

import "database/sql"

type Workflow struct {
	ID          string
	Name        string
	Description string
	Version     string
	FlowType    string
	CreatedAt   int64
}

type Stage struct {
	ID           string
	WorkflowID   string
	Key          string
	Name         string
	Description  string
	OrderIndex   int64
	Checklist    string
	Deliverables string
	IsEnd        int64
}

type Transition struct {
	ID         string
	WorkflowID string
	FromStage  string
	ToStage    string
	Condition  string
	Position   int64
}

type FlowSession struct {
	ID              string
	WorkflowID      string
	Name            string
	Status          string
	CurrentStageID  sql.NullString
	CompletedStages string
	Context         string
	TaskID          sql.NullString
	FlowType        string
	IsCurrent       int64
	CloseReason     sql.NullString
	Version         int64
	CreatedAt       int64
	UpdatedAt       int64
}

type StageInstance struct {
	ID             string
	SessionID      string
	StageID        string
	Name           string
	Status         string
	StartedAt      sql.NullInt64
	CompletedAt    sql.NullInt64
	CompletedItems string
	Context        string
	Deliverables   string
}
