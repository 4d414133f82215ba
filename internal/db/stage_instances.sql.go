package db

import (
	"context"
	"database/sql"
)

const stageInstanceColumns = `id, session_id, stage_id, name, status, started_at, completed_at,
completed_items, context, deliverables`

const createStageInstance = `
INSERT INTO stage_instances (
    id, session_id, stage_id, name, status, started_at, completed_items, context, deliverables
) VALUES (?, ?, ?, ?, ?, ?, '[]', '{}', '[]')
RETURNING ` + stageInstanceColumns

type CreateStageInstanceParams struct {
	ID        string
	SessionID string
	StageID   string
	Name      string
	Status    string
	StartedAt sql.NullInt64
}

func (q *Queries) CreateStageInstance(ctx context.Context, arg CreateStageInstanceParams) (StageInstance, error) {
	row := q.db.QueryRowContext(ctx, createStageInstance,
		arg.ID,
		arg.SessionID,
		arg.StageID,
		arg.Name,
		arg.Status,
		arg.StartedAt,
	)
	return scanStageInstance(row)
}

const getStageInstance = `
SELECT ` + stageInstanceColumns + `
FROM stage_instances
WHERE id = ?
`

func (q *Queries) GetStageInstance(ctx context.Context, id string) (StageInstance, error) {
	row := q.db.QueryRowContext(ctx, getStageInstance, id)
	return scanStageInstance(row)
}

const getRunningStageInstance = `
SELECT ` + stageInstanceColumns + `
FROM stage_instances
WHERE session_id = ? AND status = 'RUNNING'
`

func (q *Queries) GetRunningStageInstance(ctx context.Context, sessionID string) (StageInstance, error) {
	row := q.db.QueryRowContext(ctx, getRunningStageInstance, sessionID)
	return scanStageInstance(row)
}

const getLatestStageInstance = `
SELECT ` + stageInstanceColumns + `
FROM stage_instances
WHERE session_id = ? AND stage_id = ?
ORDER BY id DESC
LIMIT 1
`

type GetLatestStageInstanceParams struct {
	SessionID string
	StageID   string
}

func (q *Queries) GetLatestStageInstance(ctx context.Context, arg GetLatestStageInstanceParams) (StageInstance, error) {
	row := q.db.QueryRowContext(ctx, getLatestStageInstance, arg.SessionID, arg.StageID)
	return scanStageInstance(row)
}

const listStageInstancesBySession = `
SELECT ` + stageInstanceColumns + `
FROM stage_instances
WHERE session_id = ?
ORDER BY id ASC
`

func (q *Queries) ListStageInstancesBySession(ctx context.Context, sessionID string) ([]StageInstance, error) {
	rows, err := q.db.QueryContext(ctx, listStageInstancesBySession, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StageInstance
	for rows.Next() {
		i, err := scanStageInstance(rows)
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

const updateStageInstance = `
UPDATE stage_instances
SET status = ?,
    completed_at = ?,
    completed_items = ?,
    context = ?,
    deliverables = ?
WHERE id = ? AND status = ?
`

type UpdateStageInstanceParams struct {
	ID             string
	Status         string
	CompletedAt    sql.NullInt64
	CompletedItems string
	Context        string
	Deliverables   string
	ExpectedStatus string
}

// UpdateStageInstance writes the mutable columns when the stored status still
// equals ExpectedStatus. It returns the number of rows changed.
func (q *Queries) UpdateStageInstance(ctx context.Context, arg UpdateStageInstanceParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateStageInstance,
		arg.Status,
		arg.CompletedAt,
		arg.CompletedItems,
		arg.Context,
		arg.Deliverables,
		arg.ID,
		arg.ExpectedStatus,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countStageInstancesBySession = `
SELECT COUNT(*) FROM stage_instances WHERE session_id = ?
`

func (q *Queries) CountStageInstancesBySession(ctx context.Context, sessionID string) (int64, error) {
	row := q.db.QueryRowContext(ctx, countStageInstancesBySession, sessionID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

func scanStageInstance(row scanner) (StageInstance, error) {
	var i StageInstance
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.StageID,
		&i.Name,
		&i.Status,
		&i.StartedAt,
		&i.CompletedAt,
		&i.CompletedItems,
		&i.Context,
		&i.Deliverables,
	)
	return i, err
}
