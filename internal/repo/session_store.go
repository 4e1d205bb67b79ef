package repo

import (
	"context"
	"encoding/json"

	"ludo-service/internal/service/game"
)

const maxUpdateAttempts = 5

// SessionStore persists sessions. Every write is a single conditional update
// keyed by session id, so callers never need an external lock.
type SessionStore interface {
	Create(ctx context.Context, s *game.Session) error
	Load(ctx context.Context, id string) (*game.Session, error)
	// Update loads the session, applies mutate and writes it back only if no
	// other writer committed in between. A mutate error aborts without writing.
	Update(ctx context.Context, id string, mutate func(*game.Session) error) (*game.Session, error)
	// AcquireSettlementLock flips the settlement flag from false to true. Only
	// one caller per session ever observes true.
	AcquireSettlementLock(ctx context.Context, id string) (bool, error)
	ListActive(ctx context.Context) ([]string, error)
}

func decodeSession(raw []byte, locked bool) (*game.Session, error) {
	var s game.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	s.SettlementLocked = locked
	return &s, nil
}
