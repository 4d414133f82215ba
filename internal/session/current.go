package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/stage"
)

type currentPointer struct {
	c *core
}

// SwitchCurrent makes id the current session and clears the flag on the
// previous one in the same transaction.
func (p *currentPointer) SwitchCurrent(ctx context.Context, id string) (Session, error) {
	var out Session
	err := p.c.tx(ctx, func(q *db.Queries, _ *stage.Service) error {
		if _, err := load(ctx, q, id); err != nil {
			return err
		}
		if err := switchCurrent(ctx, q, id); err != nil {
			return err
		}
		var err error
		out, err = load(ctx, q, id)
		return err
	})
	if err != nil {
		return Session{}, err
	}
	p.c.logger.Info("current session switched", "session_id", id)
	return out, nil
}

// Current returns the session holding the current pointer.
func (p *currentPointer) Current(ctx context.Context) (Session, error) {
	row, err := p.c.q.GetCurrentSession(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, flowerr.NotFound("no current session")
		}
		return Session{}, fmt.Errorf("get current session: %w", err)
	}
	return sessionFromDB(row)
}

// ClearCurrent leaves no session current.
func (p *currentPointer) ClearCurrent(ctx context.Context) error {
	if err := p.c.q.ClearCurrentSessions(ctx); err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	return nil
}

// switchCurrent clears then sets the flag. SQLite checks the partial unique
// index per row, so this cannot be a single UPDATE.
func switchCurrent(ctx context.Context, q *db.Queries, id string) error {
	if err := q.ClearCurrentSessions(ctx); err != nil {
		return fmt.Errorf("clear current session: %w", err)
	}
	n, err := q.SetSessionCurrent(ctx, id)
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	if n == 0 {
		return flowerr.NotFound("session %s not found", id)
	}
	return nil
}
