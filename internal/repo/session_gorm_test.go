package repo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ludo-service/internal/repo"
	"ludo-service/internal/repo/repotest"
	"ludo-service/internal/service/game"
	appErr "ludo-service/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *repo.GormSessionStore {
	t.Helper()
	return repo.NewGormSessionStore(repotest.NewDB(t))
}

func seedSession(t *testing.T, store repo.SessionStore) *game.Session {
	t.Helper()
	s, err := game.NewSession(uuid.NewString(), game.VariantLudo, 500, []game.SeatSpec{
		{UserID: 1, Name: "alice"},
		{UserID: 2, Name: "bob"},
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), s))
	return s
}

func TestCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	s := seedSession(t, store)

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)
	assert.Equal(t, game.PhaseWaiting, loaded.Phase)
	assert.Equal(t, int64(500), loaded.Stake)
	assert.Len(t, loaded.Seats, 2)

	_, err = store.Load(ctx, "missing")
	require.ErrorIs(t, err, appErr.ErrSessionNotFound)
}

func TestUpdateAbortsOnMutateError(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	s := seedSession(t, store)

	_, err := store.Update(ctx, s.ID, func(sess *game.Session) error {
		sess.Seats[0].Joined = true
		return appErr.ErrNotYourTurn
	})
	require.ErrorIs(t, err, appErr.ErrNotYourTurn)

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, loaded.Seats[0].Joined)
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	checkConcurrentUpdates(t, newStore(t))
}

// checkConcurrentUpdates races writers on one session. Every committed
// update must be visible; the rest may only fail with a conflict.
func checkConcurrentUpdates(t *testing.T, store repo.SessionStore) {
	t.Helper()
	ctx := context.Background()
	s := seedSession(t, store)

	const writers = 4
	var wg sync.WaitGroup
	var mu sync.Mutex
	var committed int
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, s.ID, func(sess *game.Session) error {
				sess.Seq++
				return nil
			})
			if err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
				return
			}
			if !errors.Is(err, appErr.ErrSessionConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	loaded, err := store.Load(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(committed), loaded.Seq)
}

func TestSettlementLockIsWonOnce(t *testing.T) {
	checkSettlementLock(t, newStore(t))
}

func checkSettlementLock(t *testing.T, store repo.SessionStore) {
	t.Helper()
	ctx := context.Background()
	s := seedSession(t, store)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.AcquireSettlementLock(ctx, s.ID)
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	updated, err := store.Update(ctx, s.ID, func(sess *game.Session) error {
		sess.SettlementLocked = false
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.SettlementLocked, "the flag never reverts")

	_, err = store.AcquireSettlementLock(ctx, "missing")
	require.ErrorIs(t, err, appErr.ErrSessionNotFound)
}

func TestListActive(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	live := seedSession(t, store)
	done := seedSession(t, store)

	_, err := store.Update(ctx, done.ID, func(sess *game.Session) error {
		sess.Phase = game.PhaseTerminal
		sess.SettlementStatus = game.SettlementSettled
		return nil
	})
	require.NoError(t, err)

	ids, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{live.ID}, ids)
}

func TestNewIDIsSortable(t *testing.T) {
	a := repo.NewID()
	b := repo.NewID()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}
