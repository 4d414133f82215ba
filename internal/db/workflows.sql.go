package db

import (
	"context"
)

const createWorkflow = `
INSERT INTO workflows (id, name, description, version, flow_type, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`

type CreateWorkflowParams struct {
	ID          string
	Name        string
	Description string
	Version     string
	FlowType    string
	CreatedAt   int64
}

func (q *Queries) CreateWorkflow(ctx context.Context, arg CreateWorkflowParams) error {
	_, err := q.db.ExecContext(ctx, createWorkflow,
		arg.ID,
		arg.Name,
		arg.Description,
		arg.Version,
		arg.FlowType,
		arg.CreatedAt,
	)
	return err
}

const getWorkflow = `
SELECT id, name, description, version, flow_type, created_at
FROM workflows
WHERE id = ?
`

func (q *Queries) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	row := q.db.QueryRowContext(ctx, getWorkflow, id)
	var i Workflow
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Description,
		&i.Version,
		&i.FlowType,
		&i.CreatedAt,
	)
	return i, err
}

const listWorkflows = `
SELECT id, name, description, version, flow_type, created_at
FROM workflows
WHERE (? = '' OR name = ?)
  AND (? = '' OR flow_type = ?)
ORDER BY name ASC, created_at DESC
`

type ListWorkflowsParams struct {
	Name     string
	FlowType string
}

func (q *Queries) ListWorkflows(ctx context.Context, arg ListWorkflowsParams) ([]Workflow, error) {
	rows, err := q.db.QueryContext(ctx, listWorkflows,
		arg.Name, arg.Name,
		arg.FlowType, arg.FlowType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Workflow
	for rows.Next() {
		var i Workflow
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.Description,
			&i.Version,
			&i.FlowType,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteWorkflow = `
DELETE FROM workflows WHERE id = ?
`

func (q *Queries) DeleteWorkflow(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteWorkflow, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countSessionsByWorkflow = `
SELECT COUNT(*) FROM flow_sessions WHERE workflow_id = ?
`

func (q *Queries) CountSessionsByWorkflow(ctx context.Context, workflowID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countSessionsByWorkflow, workflowID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const createStage = `
INSERT INTO stages (id, workflow_id, stage_key, name, description, order_index, checklist, deliverables, is_end)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateStageParams struct {
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

func (q *Queries) CreateStage(ctx context.Context, arg CreateStageParams) error {
	_, err := q.db.ExecContext(ctx, createStage,
		arg.ID,
		arg.WorkflowID,
		arg.Key,
		arg.Name,
		arg.Description,
		arg.OrderIndex,
		arg.Checklist,
		arg.Deliverables,
		arg.IsEnd,
	)
	return err
}

const stageColumns = `id, workflow_id, stage_key, name, description, order_index, checklist, deliverables, is_end`

const getStage = `
SELECT ` + stageColumns + `
FROM stages
WHERE id = ?
`

func (q *Queries) GetStage(ctx context.Context, id string) (Stage, error) {
	row := q.db.QueryRowContext(ctx, getStage, id)
	return scanStage(row)
}

const listStagesByWorkflow = `
SELECT ` + stageColumns + `
FROM stages
WHERE workflow_id = ?
ORDER BY order_index ASC
`

func (q *Queries) ListStagesByWorkflow(ctx context.Context, workflowID string) ([]Stage, error) {
	rows, err := q.db.QueryContext(ctx, listStagesByWorkflow, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Stage
	for rows.Next() {
		i, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createTransition = `
INSERT INTO transitions (id, workflow_id, from_stage, to_stage, condition, position)
VALUES (?, ?, ?, ?, ?, ?)
`

type CreateTransitionParams struct {
	ID         string
	WorkflowID string
	FromStage  string
	ToStage    string
	Condition  string
	Position   int64
}

func (q *Queries) CreateTransition(ctx context.Context, arg CreateTransitionParams) error {
	_, err := q.db.ExecContext(ctx, createTransition,
		arg.ID,
		arg.WorkflowID,
		arg.FromStage,
		arg.ToStage,
		arg.Condition,
		arg.Position,
	)
	return err
}

const listTransitionsByWorkflow = `
SELECT id, workflow_id, from_stage, to_stage, condition, position
FROM transitions
WHERE workflow_id = ?
ORDER BY position ASC
`

func (q *Queries) ListTransitionsByWorkflow(ctx context.Context, workflowID string) ([]Transition, error) {
	rows, err := q.db.QueryContext(ctx, listTransitionsByWorkflow, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transition
	for rows.Next() {
		var i Transition
		if err := rows.Scan(
			&i.ID,
			&i.WorkflowID,
			&i.FromStage,
			&i.ToStage,
			&i.Condition,
			&i.Position,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStage(row scanner) (Stage, error) {
	var i Stage
	err := row.Scan(
		&i.ID,
		&i.WorkflowID,
		&i.Key,
		&i.Name,
		&i.Description,
		&i.OrderIndex,
		&i.Checklist,
		&i.Deliverables,
		&i.IsEnd,
	)
	return i, err
}
