package table_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"ludo-service/internal/model"
	"ludo-service/internal/repo"
	"ludo-service/internal/repo/repotest"
	"ludo-service/internal/service/game"
	"ludo-service/internal/service/presence"
	"ludo-service/internal/service/scheduler"
	"ludo-service/internal/service/settle"
	"ludo-service/internal/service/table"
	"ludo-service/internal/service/wallet"
	appErr "ludo-service/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"
)

type cycleDice struct {
	mu     sync.Mutex
	values []int
	next   int
}

func (d *cycleDice) Roll() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.values[d.next%len(d.values)]
	d.next++
	return v, nil
}

type stack struct {
	db     *gorm.DB
	store  *repo.GormSessionStore
	wallet *wallet.Service
	svc    *table.Service
}

func newStack(t *testing.T, notifier table.SettlementNotifier, dice game.Dice) *stack {
	t.Helper()
	return newStackWith(t, notifier, dice, scheduler.Durations{
		RollDeadline: time.Hour,
		MoveDeadline: time.Hour,
		AutoPlay:     5 * time.Millisecond,
	})
}

func newStackWith(t *testing.T, notifier table.SettlementNotifier, dice game.Dice, durations scheduler.Durations) *stack {
	t.Helper()
	db := repotest.NewDB(t)
	store := repo.NewGormSessionStore(db)
	ws := wallet.NewService(db)
	sched := scheduler.New(durations)
	pres := presence.NewManager(store, time.Hour)
	svc := table.NewService(table.Options{
		Store:    store,
		Engine:   game.NewEngine(dice),
		Wallet:   ws,
		Settler:  settle.NewService(db, store, settle.Config{RakeRate: 0.10}),
		Timers:   sched,
		Presence: pres,
		Notifier: notifier,
	})
	sched.Bind(svc)
	pres.Bind(svc)
	t.Cleanup(func() {
		sched.Stop()
		svc.Close()
	})
	return &stack{db: db, store: store, wallet: ws, svc: svc}
}

func (st *stack) seedWallet(t *testing.T, userID, available int64) {
	t.Helper()
	w := model.Wallet{UserID: userID, BalanceAvailable: available, BalanceTotal: available}
	require.NoError(t, st.db.Create(&w).Error)
}

func (st *stack) seatBoth(t *testing.T, variant game.Variant, stake int64) string {
	t.Helper()
	ctx := context.Background()
	snap, err := st.svc.Create(ctx, table.CreateRequest{Variant: variant, Stake: stake})
	require.NoError(t, err)
	require.Equal(t, game.PhaseWaiting, snap.Phase)

	_, err = st.svc.Join(ctx, table.JoinRequest{SessionID: snap.SessionID, UserID: 1, Name: "alice", Seat: -1, Conn: "c-alice"})
	require.NoError(t, err)
	started, err := st.svc.Join(ctx, table.JoinRequest{SessionID: snap.SessionID, UserID: 2, Name: "bob", Seat: -1, Conn: "c-bob"})
	require.NoError(t, err)
	require.NotEqual(t, game.PhaseWaiting, started.Phase)
	require.Equal(t, 0, started.CurrentSeat)
	return snap.SessionID
}

func expectSettled(t *testing.T, notifier *MockSettlementNotifier, sessionID string) <-chan *model.SettlementRecord {
	done := make(chan *model.SettlementRecord, 1)
	notifier.EXPECT().
		SessionSettled(gomock.Any(), sessionID, gomock.Any()).
		Do(func(_ context.Context, _ string, record *model.SettlementRecord) {
			done <- record
		}).
		Times(1)
	return done
}

func waitRecord(t *testing.T, done <-chan *model.SettlementRecord) *model.SettlementRecord {
	t.Helper()
	select {
	case record := <-done:
		return record
	case <-time.After(5 * time.Second):
		t.Fatal("settlement never notified")
		return nil
	}
}

func lastOfType(ch <-chan table.OutgoingMessage, typ string) (table.OutgoingMessage, bool) {
	var (
		found table.OutgoingMessage
		ok    bool
	)
	for {
		select {
		case msg, open := <-ch:
			if !open {
				return found, ok
			}
			if msg.Type == typ {
				found, ok = msg, true
			}
		default:
			return found, ok
		}
	}
}

func TestGridGameSettlesOnce(t *testing.T) {
	ctx := context.Background()
	notifier := NewMockSettlementNotifier(gomock.NewController(t))
	st := newStack(t, notifier, nil)
	st.seedWallet(t, 1, 1000)
	st.seedWallet(t, 2, 1000)

	id := st.seatBoth(t, game.VariantTicTacToe, 100)
	done := expectSettled(t, notifier, id)
	watch := st.svc.Subscribe(id, "c-alice")

	conns := []string{"c-alice", "c-bob"}
	var snap *game.Snapshot
	for i, cell := range []int{0, 3, 1, 4, 2} {
		var err error
		snap, err = st.svc.Move(ctx, id, conns[i%2], -1, cell)
		require.NoError(t, err)
	}
	assert.Equal(t, game.PhaseTerminal, snap.Phase)
	assert.Equal(t, []int{0}, snap.Winners)

	record := waitRecord(t, done)
	assert.Equal(t, int64(180), record.WinnerAmount)
	assert.Equal(t, int64(20), record.Commission)
	st.svc.Close()

	alice, err := st.wallet.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1080), alice.BalanceAvailable)
	bob, err := st.wallet.GetWallet(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(900), bob.BalanceAvailable)
	assert.Zero(t, bob.BalanceFrozen)

	msg, ok := lastOfType(watch, "settled")
	require.True(t, ok)
	view := msg.Data.(table.SettlementView)
	assert.Equal(t, int64(1), view.WinnerUserID)

	require.NoError(t, st.svc.Settle(ctx, id))
	final, err := st.svc.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.SettlementSettled, final.SettlementStatus)
}

func TestRejectedActionsKeepState(t *testing.T) {
	ctx := context.Background()
	st := newStack(t, nil, &cycleDice{values: []int{6}})
	id := st.seatBoth(t, game.VariantLudo, 0)

	before, err := st.svc.Snapshot(ctx, id)
	require.NoError(t, err)

	_, err = st.svc.Roll(ctx, id, "c-bob")
	require.ErrorIs(t, err, appErr.ErrNotYourTurn)
	_, err = st.svc.Roll(ctx, id, "c-stranger")
	require.ErrorIs(t, err, appErr.ErrNotSeated)
	_, err = st.svc.Move(ctx, id, "c-alice", 0, 0)
	require.ErrorIs(t, err, appErr.ErrWrongPhase)

	after, err := st.svc.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDisconnectMidMoveHandsTurnToAutopilot(t *testing.T) {
	ctx := context.Background()
	st := newStack(t, nil, &cycleDice{values: []int{6, 3}})
	id := st.seatBoth(t, game.VariantLudo, 0)

	rolled, err := st.svc.Roll(ctx, id, "c-alice")
	require.NoError(t, err)
	require.Equal(t, game.PhaseMoving, rolled.Phase)
	require.Equal(t, 6, rolled.Roll)

	st.svc.Disconnect(ctx, id, "c-alice", true)

	require.Eventually(t, func() bool {
		snap, err := st.svc.Snapshot(ctx, id)
		return err == nil && snap.CurrentSeat == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := st.svc.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseRolling, snap.Phase)
	assert.True(t, snap.Seats[0].Autopilot)
	assert.False(t, snap.Seats[0].Connected)
	require.NotNil(t, snap.LastEvent)
	assert.True(t, snap.LastEvent.Auto)
	assert.Equal(t, game.Position{Zone: game.ZoneTrack, Index: 3}, snap.Pieces[0][0].Position)

	// the rejoining player sees exactly what everyone else sees
	watch := st.svc.Subscribe(id, "c-bob")
	rejoined, err := st.svc.Join(ctx, table.JoinRequest{SessionID: id, UserID: 1, Seat: -1, Conn: "c-alice-2"})
	require.NoError(t, err)
	assert.False(t, rejoined.Seats[0].Autopilot)
	assert.True(t, rejoined.Seats[0].Connected)

	current, err := st.svc.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, current, rejoined)

	msg, ok := lastOfType(watch, "state")
	require.True(t, ok)
	assert.Equal(t, *rejoined, msg.Data)
	assert.Equal(t, rejoined.Seq, msg.Seq)
}

func TestSoftDropAutoMovesAfterMoveDeadline(t *testing.T) {
	ctx := context.Background()
	st := newStackWith(t, nil, &cycleDice{values: []int{6, 3}}, scheduler.Durations{
		RollDeadline: time.Hour,
		MoveDeadline: 200 * time.Millisecond,
		AutoPlay:     5 * time.Millisecond,
	})
	id := st.seatBoth(t, game.VariantLudo, 0)

	_, err := st.svc.Roll(ctx, id, "c-alice")
	require.NoError(t, err)
	_, err = st.svc.Move(ctx, id, "c-alice", 0, 0)
	require.NoError(t, err)
	rolled, err := st.svc.Roll(ctx, id, "c-alice")
	require.NoError(t, err)
	require.Equal(t, game.PhaseMoving, rolled.Phase)
	require.Equal(t, 3, rolled.Roll)

	pending, err := st.store.Load(ctx, id)
	require.NoError(t, err)
	want, ok := game.AutoMove(pending)
	require.True(t, ok)

	st.svc.Disconnect(ctx, id, "c-alice", false)

	require.Eventually(t, func() bool {
		snap, err := st.svc.Snapshot(ctx, id)
		return err == nil && snap.CurrentSeat == 1
	}, 3*time.Second, 10*time.Millisecond)

	snap, err := st.svc.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseRolling, snap.Phase)
	assert.False(t, snap.Seats[0].Autopilot, "grace window still open")
	assert.False(t, snap.Seats[0].Connected)
	require.NotNil(t, snap.LastEvent)
	assert.True(t, snap.LastEvent.Auto)
	assert.Equal(t, want.PieceID, snap.LastEvent.PieceID)
	assert.Equal(t, want.Destination, snap.Pieces[0][want.PieceID].Position)
	assert.Equal(t, game.Position{Zone: game.ZoneTrack, Index: 3}, snap.Pieces[0][0].Position)
}

func TestResumeNotifiesRecoveredSettlement(t *testing.T) {
	ctx := context.Background()
	notifier := NewMockSettlementNotifier(gomock.NewController(t))
	st := newStack(t, notifier, nil)
	st.seedWallet(t, 1, 1000)
	st.seedWallet(t, 2, 1000)

	id := st.seatBoth(t, game.VariantTicTacToe, 100)
	done := expectSettled(t, notifier, id)
	conns := []string{"c-alice", "c-bob"}
	for i, cell := range []int{0, 3, 1, 4, 2} {
		_, err := st.svc.Move(ctx, id, conns[i%2], -1, cell)
		require.NoError(t, err)
	}
	first := waitRecord(t, done)

	// the payout committed but the process stopped before the status was written
	_, err := st.store.Update(ctx, id, func(sess *game.Session) error {
		sess.SettlementStatus = game.SettlementPending
		return nil
	})
	require.NoError(t, err)

	again := expectSettled(t, notifier, id)
	watch := st.svc.Subscribe(id, "c-watcher")
	require.NoError(t, st.svc.ResumeSettlement(ctx, id))
	recovered := waitRecord(t, again)
	assert.Equal(t, first.ID, recovered.ID)

	msg, ok := lastOfType(watch, "settled")
	require.True(t, ok)
	assert.Equal(t, first.ID, msg.Data.(table.SettlementView).ID)

	final, err := st.svc.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.SettlementSettled, final.SettlementStatus)
	alice, err := st.wallet.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1080), alice.BalanceAvailable)

	// nothing left to recover, so no further notification
	require.NoError(t, st.svc.ResumeSettlement(ctx, id))
}

func TestCreateValidatesSeats(t *testing.T) {
	ctx := context.Background()
	st := newStack(t, nil, nil)

	_, err := st.svc.Create(ctx, table.CreateRequest{
		Variant: game.VariantLudo,
		Stake:   100,
		Seats:   []table.SeatRequest{{UserID: 1}, {Bot: true}},
	})
	require.ErrorIs(t, err, appErr.ErrInvalidSeats)

	_, err = st.svc.Create(ctx, table.CreateRequest{
		Variant: game.VariantLudo,
		Seats:   []table.SeatRequest{{Bot: true}, {Bot: true}},
	})
	require.ErrorIs(t, err, appErr.ErrInvalidSeats)

	_, err = st.svc.Create(ctx, table.CreateRequest{Variant: "chess"})
	require.ErrorIs(t, err, appErr.ErrInvalidVariant)

	_, err = st.svc.Create(ctx, table.CreateRequest{
		Variant: game.VariantLudo,
		Stake:   100,
		Seats:   []table.SeatRequest{{UserID: 1}, {UserID: 2}},
	})
	require.ErrorIs(t, err, appErr.ErrInsufficientBalance)
}

func TestPracticeAgainstBotStartsOnConnect(t *testing.T) {
	ctx := context.Background()
	st := newStack(t, nil, &cycleDice{values: []int{2}})

	snap, err := st.svc.Create(ctx, table.CreateRequest{
		Variant: game.VariantLudo,
		Seats:   []table.SeatRequest{{UserID: 1, Name: "alice"}, {Bot: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, game.PhaseWaiting, snap.Phase)
	assert.NotEmpty(t, snap.Seats[1].Name)

	started, err := st.svc.Join(ctx, table.JoinRequest{SessionID: snap.SessionID, UserID: 1, Seat: -1, Conn: "c-alice"})
	require.NoError(t, err)
	assert.Equal(t, game.PhaseRolling, started.Phase)
	assert.Equal(t, 0, started.CurrentSeat)

	// a roll of 2 leaves every piece in base, so the bot gets the turn and plays it
	_, err = st.svc.Roll(ctx, snap.SessionID, "c-alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		cur, err := st.svc.Snapshot(ctx, snap.SessionID)
		return err == nil && cur.CurrentSeat == 0 && cur.Seq > started.Seq+1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJoinRules(t *testing.T) {
	ctx := context.Background()
	st := newStack(t, nil, nil)
	st.seedWallet(t, 1, 1000)
	st.seedWallet(t, 2, 50)

	snap, err := st.svc.Create(ctx, table.CreateRequest{Variant: game.VariantLudo, Stake: 100})
	require.NoError(t, err)
	id := snap.SessionID

	_, err = st.svc.Join(ctx, table.JoinRequest{SessionID: id, UserID: 2, Seat: -1, Conn: "c-bob"})
	require.ErrorIs(t, err, appErr.ErrInsufficientBalance)

	joined, err := st.svc.Join(ctx, table.JoinRequest{SessionID: id, UserID: 1, Seat: 1, Conn: "c-alice"})
	require.NoError(t, err)
	assert.True(t, joined.Seats[1].Joined)
	assert.False(t, joined.Seats[0].Joined)

	_, err = st.svc.Join(ctx, table.JoinRequest{SessionID: id, UserID: 3, Seat: 1, Conn: "c-carol"})
	require.ErrorIs(t, err, appErr.ErrSeatTaken)
	_, err = st.svc.Join(ctx, table.JoinRequest{SessionID: id, UserID: 3, Seat: 5, Conn: "c-carol"})
	require.ErrorIs(t, err, appErr.ErrInvalidSeats)

	alice, err := st.wallet.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), alice.BalanceFrozen)
}

func TestExpireRefundsEscrow(t *testing.T) {
	ctx := context.Background()
	notifier := NewMockSettlementNotifier(gomock.NewController(t))
	st := newStack(t, notifier, nil)
	st.seedWallet(t, 1, 1000)

	snap, err := st.svc.Create(ctx, table.CreateRequest{
		Variant: game.VariantMorris,
		Stake:   100,
		Seats:   []table.SeatRequest{{UserID: 1, Name: "alice"}, {}},
	})
	require.NoError(t, err)
	done := expectSettled(t, notifier, snap.SessionID)

	alice, err := st.wallet.GetWallet(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100), alice.BalanceFrozen)

	require.NoError(t, st.svc.Expire(ctx, snap.SessionID))
	record := waitRecord(t, done)
	assert.Equal(t, "cancelled", record.Outcome)
	st.svc.Close()

	alice, err = st.wallet.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), alice.BalanceAvailable)
	assert.Zero(t, alice.BalanceFrozen)

	// expiring twice is a no-op
	require.NoError(t, st.svc.Expire(ctx, snap.SessionID))
}

func TestStaleTimerFireIsIgnored(t *testing.T) {
	ctx := context.Background()
	st := newStack(t, nil, &cycleDice{values: []int{4}})
	id := st.seatBoth(t, game.VariantLudo, 0)

	before, err := st.svc.Snapshot(ctx, id)
	require.NoError(t, err)
	require.NoError(t, st.svc.Continue(ctx, id, before.Seq-1))

	after, err := st.svc.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Seq, after.Seq)

	require.NoError(t, st.svc.Continue(ctx, id, before.Seq))
	after, err = st.svc.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Seq+1, after.Seq)
	assert.Equal(t, 1, after.CurrentSeat, "a four with every piece in base passes the turn")
}
