package db

import (
	"context"
	"database/sql"
)

const sessionColumns = `id, workflow_id, name, status, current_stage_id, completed_stages, context, task_id,
flow_type, is_current, close_reason, version, created_at, updated_at`

const createSession = `
INSERT INTO flow_sessions (
    id, workflow_id, name, status, current_stage_id, completed_stages, context, task_id,
    flow_type, is_current, version, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1, ?, ?)
RETURNING ` + sessionColumns

type CreateSessionParams struct {
	ID              string
	WorkflowID      string
	Name            string
	Status          string
	CurrentStageID  sql.NullString
	CompletedStages string
	Context         string
	TaskID          sql.NullString
	FlowType        string
	CreatedAt       int64
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (FlowSession, error) {
	row := q.db.QueryRowContext(ctx, createSession,
		arg.ID,
		arg.WorkflowID,
		arg.Name,
		arg.Status,
		arg.CurrentStageID,
		arg.CompletedStages,
		arg.Context,
		arg.TaskID,
		arg.FlowType,
		arg.CreatedAt,
		arg.CreatedAt,
	)
	return scanSession(row)
}

const getSession = `
SELECT ` + sessionColumns + `
FROM flow_sessions
WHERE id = ?
`

func (q *Queries) GetSession(ctx context.Context, id string) (FlowSession, error) {
	row := q.db.QueryRowContext(ctx, getSession, id)
	return scanSession(row)
}

const getSessionByPrefix = `
SELECT ` + sessionColumns + `
FROM flow_sessions
WHERE substr(id, 1, length(?)) = ?
ORDER BY updated_at DESC
`

// GetSessionByPrefix matches ids starting with prefix. The prefix is compared
// literally, so % and _ match only themselves.
func (q *Queries) GetSessionByPrefix(ctx context.Context, prefix string) ([]FlowSession, error) {
	return q.listSessions(ctx, getSessionByPrefix, prefix, prefix)
}

const getCurrentSession = `
SELECT ` + sessionColumns + `
FROM flow_sessions
WHERE is_current = 1
`

func (q *Queries) GetCurrentSession(ctx context.Context) (FlowSession, error) {
	row := q.db.QueryRowContext(ctx, getCurrentSession)
	return scanSession(row)
}

const listSessions = `
SELECT ` + sessionColumns + `
FROM flow_sessions
WHERE (? = '' OR status = ?)
  AND (? = '' OR workflow_id = ?)
ORDER BY updated_at DESC, id ASC
LIMIT ?
`

type ListSessionsParams struct {
	Status     string
	WorkflowID string
	Limit      int64
}

func (q *Queries) ListSessions(ctx context.Context, arg ListSessionsParams) ([]FlowSession, error) {
	return q.listSessions(ctx, listSessions,
		arg.Status, arg.Status,
		arg.WorkflowID, arg.WorkflowID,
		arg.Limit,
	)
}

const updateSession = `
UPDATE flow_sessions
SET name = ?,
    status = ?,
    current_stage_id = ?,
    completed_stages = ?,
    context = ?,
    close_reason = ?,
    version = version + 1,
    updated_at = ?
WHERE id = ? AND version = ?
`

type UpdateSessionParams struct {
	ID              string
	Name            string
	Status          string
	CurrentStageID  sql.NullString
	CompletedStages string
	Context         string
	CloseReason     sql.NullString
	UpdatedAt       int64
	ExpectedVersion int64
}

// UpdateSession writes the mutable columns when the stored version still
// matches ExpectedVersion. It returns the number of rows changed (0 or 1).
func (q *Queries) UpdateSession(ctx context.Context, arg UpdateSessionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateSession,
		arg.Name,
		arg.Status,
		arg.CurrentStageID,
		arg.CompletedStages,
		arg.Context,
		arg.CloseReason,
		arg.UpdatedAt,
		arg.ID,
		arg.ExpectedVersion,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const clearCurrentSessions = `
UPDATE flow_sessions SET is_current = 0 WHERE is_current = 1
`

func (q *Queries) ClearCurrentSessions(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, clearCurrentSessions)
	return err
}

const setSessionCurrent = `
UPDATE flow_sessions SET is_current = 1 WHERE id = ?
`

func (q *Queries) SetSessionCurrent(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, setSessionCurrent, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countCurrentSessions = `
SELECT COUNT(*) FROM flow_sessions WHERE is_current = 1
`

func (q *Queries) CountCurrentSessions(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countCurrentSessions)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const deleteSession = `
DELETE FROM flow_sessions WHERE id = ?
`

func (q *Queries) DeleteSession(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSession, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) listSessions(ctx context.Context, query string, args ...any) ([]FlowSession, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FlowSession
	for rows.Next() {
		i, err := scanSession(rows)
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

func scanSession(row scanner) (FlowSession, error) {
	var i FlowSession
	err := row.Scan(
		&i.ID,
		&i.WorkflowID,
		&i.Name,
		&i.Status,
		&i.CurrentStageID,
		&i.CompletedStages,
		&i.Context,
		&i.TaskID,
		&i.FlowType,
		&i.IsCurrent,
		&i.CloseReason,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
