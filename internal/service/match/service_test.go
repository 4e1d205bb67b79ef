package match_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ludo-service/internal/repo/repotest"
	"ludo-service/internal/service/game"
	"ludo-service/internal/service/match"
	"ludo-service/internal/service/table"
	appErr "ludo-service/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type balances map[int64]int64

func (b balances) Available(_ context.Context, userID int64) (int64, error) {
	return b[userID], nil
}

type fakeTables struct {
	mu       sync.Mutex
	requests []table.CreateRequest
}

func (f *fakeTables) Create(_ context.Context, req table.CreateRequest) (*game.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &game.Snapshot{SessionID: "s-matched", Variant: req.Variant, Stake: req.Stake}, nil
}

func (f *fakeTables) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func TestQueueMatchesTwoPlayers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdb := repotest.NewRedis(t)
	tables := &fakeTables{}
	cfg := match.DefaultConfig()
	cfg.Stakes = []int64{100}
	cfg.QueueCapacity = 2
	cfg.MatcherInterval = 10 * time.Millisecond
	svc := match.NewService(rdb, balances{1: 500, 2: 500, 3: 500, 4: 10}, tables, cfg)

	_, err := svc.JoinQueue(ctx, match.JoinQueueRequest{UserID: 1, Stake: 250, IP: "10.0.0.1"})
	require.ErrorIs(t, err, appErr.ErrInvalidStake)
	_, err = svc.JoinQueue(ctx, match.JoinQueueRequest{UserID: 4, Stake: 100, IP: "10.0.4.1"})
	require.ErrorIs(t, err, appErr.ErrInsufficientBalance)

	_, err = svc.JoinQueue(ctx, match.JoinQueueRequest{UserID: 1, Stake: 100, IP: "10.0.0.1"})
	require.NoError(t, err)
	_, err = svc.JoinQueue(ctx, match.JoinQueueRequest{UserID: 1, Stake: 100, IP: "10.0.0.1"})
	require.ErrorIs(t, err, appErr.ErrAlreadyInQueue)
	_, err = svc.JoinQueue(ctx, match.JoinQueueRequest{UserID: 2, Stake: 100, IP: "10.0.2.1"})
	require.NoError(t, err)
	_, err = svc.JoinQueue(ctx, match.JoinQueueRequest{UserID: 3, Stake: 100, IP: "10.0.3.1"})
	require.ErrorIs(t, err, appErr.ErrQueueFull)

	status, err := svc.GetStatus(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, match.QueueStatusQueued, status.Status)

	svc.Start(ctx)
	require.Eventually(t, func() bool { return tables.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	status, err = svc.GetStatus(ctx, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, match.QueueStatusMatched, status.Status)
	require.NotNil(t, status.SessionID)
	assert.Equal(t, "s-matched", *status.SessionID)

	req := tables.requests[0]
	assert.Equal(t, int64(100), req.Stake)
	assert.Len(t, req.Seats, 2)

	require.NoError(t, svc.CancelQueue(ctx, match.CancelQueueRequest{UserID: 2, Stake: 100}))
	status, err = svc.GetStatus(ctx, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, match.QueueStatusIdle, status.Status)
}
