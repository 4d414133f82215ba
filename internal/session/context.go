package session

import (
	"context"

	"github.com/alexcabrera/devflow/internal/db"
	"github.com/alexcabrera/devflow/internal/kv"
	"github.com/alexcabrera/devflow/internal/stage"
)

type contextStore struct {
	c *core
}

// GetContext returns the session-level context.
func (cs *contextStore) GetContext(ctx context.Context, id string) (kv.Map, error) {
	s, err := load(ctx, cs.c.q, id)
	if err != nil {
		return nil, err
	}
	return s.Context, nil
}

// UpdateContext shallow-merges patch into the context and returns the result.
func (cs *contextStore) UpdateContext(ctx context.Context, id string, patch kv.Map) (kv.Map, error) {
	s, err := cs.c.mutate(ctx, id, func(_ *db.Queries, _ *stage.Service, s *Session) error {
		s.Context = s.Context.Merge(patch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	cs.c.logger.Debug("session context updated", "session_id", id, "keys", patch.Keys())
	return s.Context, nil
}

// ClearContext empties the context.
func (cs *contextStore) ClearContext(ctx context.Context, id string) error {
	_, err := cs.c.mutate(ctx, id, func(_ *db.Queries, _ *stage.Service, s *Session) error {
		s.Context = kv.Map{}
		return nil
	})
	return err
}
