package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ludo-service/internal/model"
	"ludo-service/internal/repo"
	"ludo-service/internal/service/game"
	"ludo-service/internal/service/presence"
	appErr "ludo-service/pkg/errors"
	"ludo-service/pkg/logger"
	"ludo-service/pkg/utils/random"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultSettleTimeout = 30 * time.Second

// errNoop aborts a store update that turned out to have nothing to do.
var errNoop = errors.New("nothing to do")

type StakeHolder interface {
	Reserve(ctx context.Context, userID, amount int64, sessionID string) error
	Release(ctx context.Context, userID, amount int64, sessionID string) error
}

type Settler interface {
	Settle(ctx context.Context, sessionID string) (*model.SettlementRecord, error)
	Resume(ctx context.Context, sessionID string) (*model.SettlementRecord, error)
}

type Timers interface {
	Arm(sessionID string, kind game.TimerKind, seq int64) time.Time
	Disarm(sessionID string)
}

type Presence interface {
	Disconnected(ctx context.Context, sessionID, conn string, hard bool) (*presence.Change, error)
	Reconnected(ctx context.Context, sessionID string, userID int64, conn string) (*presence.Change, error)
	Forget(sessionID string)
}

type Options struct {
	Store         repo.SessionStore
	Engine        *game.Engine
	Wallet        StakeHolder
	Settler       Settler
	Timers        Timers
	Presence      Presence
	Notifier      SettlementNotifier
	SettleTimeout time.Duration
}

// Service is the only entry point that mutates sessions. Every mutation is
// a conditional store write followed by the effects the engine asked for.
type Service struct {
	store         repo.SessionStore
	engine        *game.Engine
	wallet        StakeHolder
	settler       Settler
	timers        Timers
	presence      Presence
	notifier      SettlementNotifier
	settleTimeout time.Duration

	hub *hub
	wg  sync.WaitGroup
	now func() time.Time
}

func NewService(opts Options) *Service {
	if opts.Engine == nil {
		opts.Engine = game.NewEngine(nil)
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{}
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = defaultSettleTimeout
	}
	return &Service{
		store:         opts.Store,
		engine:        opts.Engine,
		wallet:        opts.Wallet,
		settler:       opts.Settler,
		timers:        opts.Timers,
		presence:      opts.Presence,
		notifier:      opts.Notifier,
		settleTimeout: opts.SettleTimeout,
		hub:           newHub(),
		now:           time.Now,
	}
}

type SeatRequest struct {
	UserID int64
	Name   string
	IP     string
	Bot    bool
}

// CreateRequest describes a new session. A seat with neither a user nor a
// bot stays open for Join. No seats means every seat is open.
type CreateRequest struct {
	Variant game.Variant
	Stake   int64
	Seats   []SeatRequest
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*game.Snapshot, error) {
	if len(req.Seats) == 0 {
		req.Seats = make([]SeatRequest, game.SeatCount)
	}
	if len(req.Seats) != game.SeatCount {
		return nil, appErr.ErrInvalidSeats
	}

	specs := make([]game.SeatSpec, len(req.Seats))
	seen := make(map[int64]bool)
	humans := 0
	for i, seat := range req.Seats {
		if seat.Bot {
			if req.Stake > 0 {
				return nil, fmt.Errorf("%w: bots only sit at free sessions", appErr.ErrInvalidSeats)
			}
			name := seat.Name
			if name == "" {
				name = "bot-" + random.Code(4)
			}
			specs[i] = game.SeatSpec{Name: name, Bot: true}
			continue
		}
		humans++
		if seat.UserID != 0 {
			if seen[seat.UserID] {
				return nil, fmt.Errorf("%w: user %d seated twice", appErr.ErrInvalidSeats, seat.UserID)
			}
			seen[seat.UserID] = true
		}
		specs[i] = game.SeatSpec{UserID: seat.UserID, Name: seat.Name, IP: seat.IP}
	}
	if humans == 0 {
		return nil, fmt.Errorf("%w: no human seat", appErr.ErrInvalidSeats)
	}

	sess, err := game.NewSession(uuid.NewString(), req.Variant, req.Stake, specs, s.now())
	if err != nil {
		return nil, err
	}

	var reserved []int64
	for i := range sess.Seats {
		seat := &sess.Seats[i]
		if seat.Bot || seat.UserID == 0 {
			continue
		}
		if seat.Name == "" {
			seat.Name = fmt.Sprintf("player-%d", i+1)
		}
		seat.Joined = true
		if sess.Stake == 0 {
			continue
		}
		if err := s.wallet.Reserve(ctx, seat.UserID, sess.Stake, sess.ID); err != nil {
			s.releaseAll(ctx, sess.ID, sess.Stake, reserved)
			return nil, err
		}
		reserved = append(reserved, seat.UserID)
		seat.StakeReserved = true
	}

	if err := s.store.Create(ctx, sess); err != nil {
		s.releaseAll(ctx, sess.ID, sess.Stake, reserved)
		return nil, err
	}

	logger.Log.Info("session created",
		zap.String("sessionID", sess.ID),
		zap.String("variant", string(sess.Variant)),
		zap.Int64("stake", sess.Stake),
		zap.Int("reserved", len(reserved)),
	)
	snap := game.NewSnapshot(sess)
	return &snap, nil
}

type JoinRequest struct {
	SessionID string
	UserID    int64
	Name      string
	IP        string
	// Seat picks a seat index; negative takes the first open one.
	Seat int
	Conn string
}

// Join seats the user and escrows the stake. A user who already holds a
// seat is reconnected instead. The game starts once every seat is joined
// and connected.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*game.Snapshot, error) {
	sess, err := s.store.Load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := sess.SeatByUser(req.UserID); ok {
		return s.Reconnect(ctx, req.SessionID, req.UserID, req.Conn)
	}
	if sess.Phase != game.PhaseWaiting {
		return nil, appErr.ErrSessionFull
	}
	seat, err := pickSeat(sess, req.Seat)
	if err != nil {
		return nil, err
	}

	if sess.Stake > 0 {
		if err := s.wallet.Reserve(ctx, req.UserID, sess.Stake, sess.ID); err != nil {
			return nil, err
		}
	}

	var effects []game.Effect
	updated, err := s.store.Update(ctx, req.SessionID, func(cur *game.Session) error {
		effects = nil
		if _, ok := cur.SeatByUser(req.UserID); ok {
			return appErr.ErrAlreadySeated
		}
		if cur.Phase != game.PhaseWaiting {
			return appErr.ErrSessionFull
		}
		if !openSeat(cur.Seats[seat]) {
			return appErr.ErrSeatTaken
		}
		st := &cur.Seats[seat]
		st.UserID = req.UserID
		st.Name = req.Name
		if st.Name == "" {
			st.Name = fmt.Sprintf("player-%d", seat+1)
		}
		st.IP = req.IP
		st.ConnID = req.Conn
		st.DisconnectedAt = nil
		st.Joined = true
		st.StakeReserved = cur.Stake > 0

		var err error
		effects, err = s.startIfReady(cur)
		return err
	})
	if err != nil {
		if sess.Stake > 0 {
			s.releaseAll(ctx, req.SessionID, sess.Stake, []int64{req.UserID})
		}
		return nil, err
	}

	logger.Log.Info("seat joined",
		zap.String("sessionID", req.SessionID),
		zap.Int64("userID", req.UserID),
		zap.Int("seat", seat),
		zap.String("phase", string(updated.Phase)),
	)
	if len(effects) == 0 {
		s.broadcastState(updated)
	}
	s.execute(updated, effects)
	snap := game.NewSnapshot(updated)
	return &snap, nil
}

// Reconnect hands the seat back to the user on a new connection and
// returns the same snapshot every other viewer holds.
func (s *Service) Reconnect(ctx context.Context, sessionID string, userID int64, conn string) (*game.Snapshot, error) {
	change, err := s.presence.Reconnected(ctx, sessionID, userID, conn)
	if err != nil {
		return nil, err
	}
	sess := change.Session

	switch {
	case sess.Phase == game.PhaseWaiting:
		started, err := s.transition(ctx, sessionID, func(cur game.Session) (game.Session, []game.Effect, error) {
			effects, err := s.startIfReady(&cur)
			if err != nil {
				return cur, nil, err
			}
			if len(effects) == 0 {
				return cur, nil, errNoop
			}
			return cur, effects, nil
		})
		if err == nil {
			snap := game.NewSnapshot(started)
			return &snap, nil
		}
		if !errors.Is(err, errNoop) {
			return nil, err
		}
	case change.WasAutopilot && onTurn(sess, change.Seat):
		if eff := game.PlanTimer(sess); eff.Kind == game.EffectArmTimer {
			s.timers.Arm(sessionID, eff.Timer, sess.Seq)
		}
	}

	s.broadcastState(sess)
	snap := game.NewSnapshot(sess)
	return &snap, nil
}

func (s *Service) Roll(ctx context.Context, sessionID, conn string) (*game.Snapshot, error) {
	updated, err := s.transition(ctx, sessionID, func(cur game.Session) (game.Session, []game.Effect, error) {
		seat, ok := cur.SeatByConn(conn)
		if !ok {
			return cur, nil, appErr.ErrNotSeated
		}
		return s.engine.Apply(cur, game.Action{Kind: game.ActionRoll, Seat: seat})
	})
	if err != nil {
		return nil, err
	}
	snap := game.NewSnapshot(updated)
	return &snap, nil
}

// Move plays a piece. On grid boards a negative pieceID places or slides
// whichever piece the legal set offers for cell.
func (s *Service) Move(ctx context.Context, sessionID, conn string, pieceID, cell int) (*game.Snapshot, error) {
	updated, err := s.transition(ctx, sessionID, func(cur game.Session) (game.Session, []game.Effect, error) {
		seat, ok := cur.SeatByConn(conn)
		if !ok {
			return cur, nil, appErr.ErrNotSeated
		}
		piece := pieceID
		if piece < 0 {
			for _, m := range cur.LegalMoves {
				if m.Destination.Zone == game.ZoneCell && m.Destination.Index == cell {
					piece = m.PieceID
					break
				}
			}
		}
		return s.engine.Apply(cur, game.Action{Kind: game.ActionMove, Seat: seat, PieceID: piece, Cell: cell})
	})
	if err != nil {
		return nil, err
	}
	snap := game.NewSnapshot(updated)
	return &snap, nil
}

// Disconnect never fails the caller; the connection is already gone.
func (s *Service) Disconnect(ctx context.Context, sessionID, conn string, hard bool) {
	change, err := s.presence.Disconnected(ctx, sessionID, conn, hard)
	if err != nil {
		if !appErr.IsRejected(err) {
			logger.Log.Warn("disconnect not recorded",
				zap.String("sessionID", sessionID),
				zap.String("conn", conn),
				zap.Error(err),
			)
		}
		return
	}
	if change.Engaged {
		s.AutopilotEngaged(ctx, change.Session, change.Seat)
		return
	}
	s.broadcastState(change.Session)
}

// AutopilotEngaged arms the autopilot pace when the handed-over seat is
// the one to act.
func (s *Service) AutopilotEngaged(_ context.Context, sess *game.Session, seat int) {
	s.broadcastState(sess)
	if onTurn(sess, seat) {
		s.timers.Arm(sess.ID, game.TimerAutoPlay, sess.Seq)
	}
}

// Continue performs the turn a fired timer was armed for. A seq that no
// longer matches means a player already acted and the fire is dropped.
func (s *Service) Continue(ctx context.Context, sessionID string, seq int64) error {
	_, err := s.transition(ctx, sessionID, func(cur game.Session) (game.Session, []game.Effect, error) {
		if cur.Phase != game.PhaseRolling && cur.Phase != game.PhaseMoving {
			return cur, nil, errNoop
		}
		if seq >= 0 && cur.Seq != seq {
			return cur, nil, errNoop
		}
		return s.engine.AutoStep(cur)
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	return err
}

// Expire cancels a session that never filled and refunds the escrowed stakes.
func (s *Service) Expire(ctx context.Context, sessionID string) error {
	_, err := s.transition(ctx, sessionID, func(cur game.Session) (game.Session, []game.Effect, error) {
		if cur.Phase != game.PhaseWaiting {
			return cur, nil, errNoop
		}
		return s.engine.Cancel(cur)
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	if err == nil {
		logger.Log.Info("session expired", zap.String("sessionID", sessionID))
	}
	return err
}

func (s *Service) Settle(ctx context.Context, sessionID string) error {
	record, err := s.settler.Settle(ctx, sessionID)
	return s.afterSettlement(ctx, sessionID, record, err)
}

func (s *Service) ResumeSettlement(ctx context.Context, sessionID string) error {
	record, err := s.settler.Resume(ctx, sessionID)
	return s.afterSettlement(ctx, sessionID, record, err)
}

func (s *Service) Snapshot(ctx context.Context, sessionID string) (*game.Snapshot, error) {
	sess, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap := game.NewSnapshot(sess)
	return &snap, nil
}

func (s *Service) Subscribe(sessionID, conn string) <-chan OutgoingMessage {
	return s.hub.subscribe(sessionID, conn)
}

func (s *Service) Unsubscribe(sessionID, conn string) {
	s.hub.unsubscribe(sessionID, conn)
}

// Send queues a message for one connection only.
func (s *Service) Send(sessionID, conn string, msg OutgoingMessage) {
	s.hub.send(sessionID, conn, msg)
}

// Recover rebuilds process-local state after a restart. Connections did
// not survive, so every human seat enters its grace period.
func (s *Service) Recover(ctx context.Context) error {
	ids, err := s.store.ListActive(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, id := range ids {
		sess, err := s.store.Load(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("load %s: %w", id, err))
			continue
		}
		for _, seat := range sess.Seats {
			if seat.Bot || seat.ConnID == "" {
				continue
			}
			if _, err := s.presence.Disconnected(ctx, id, seat.ConnID, false); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("release seat %d of %s: %w", seat.Index, id, err))
			}
		}

		switch {
		case sess.Phase == game.PhaseRolling || sess.Phase == game.PhaseMoving:
			if eff := game.PlanTimer(sess); eff.Kind == game.EffectArmTimer {
				s.timers.Arm(id, eff.Timer, sess.Seq)
			}
		case sess.Phase == game.PhaseTerminal && !sess.SettlementLocked && sess.SettlementStatus == game.SettlementPending:
			s.settleAsync(id)
		}
	}
	logger.Log.Info("sessions recovered", zap.Int("count", len(ids)))
	return errs
}

// Close waits for settlements already started.
func (s *Service) Close() {
	s.wg.Wait()
}

func (s *Service) transition(ctx context.Context, sessionID string, step func(game.Session) (game.Session, []game.Effect, error)) (*game.Session, error) {
	var effects []game.Effect
	updated, err := s.store.Update(ctx, sessionID, func(cur *game.Session) error {
		next, eff, err := step(*cur)
		if err != nil {
			return err
		}
		*cur = next
		effects = eff
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.execute(updated, effects)
	return updated, nil
}

func (s *Service) execute(sess *game.Session, effects []game.Effect) {
	for _, eff := range effects {
		switch eff.Kind {
		case game.EffectBroadcast:
			s.broadcastState(sess)
		case game.EffectArmTimer:
			s.timers.Arm(sess.ID, eff.Timer, sess.Seq)
		case game.EffectDisarmTimer:
			s.timers.Disarm(sess.ID)
		case game.EffectSettle:
			s.presence.Forget(sess.ID)
			s.settleAsync(sess.ID)
		}
	}
}

func (s *Service) startIfReady(cur *game.Session) ([]game.Effect, error) {
	if cur.Phase != game.PhaseWaiting || !readyToStart(cur) {
		return nil, nil
	}
	next, effects, err := s.engine.Start(*cur)
	if err != nil {
		return nil, err
	}
	*cur = next
	logger.Log.Info("session started",
		zap.String("sessionID", cur.ID),
		zap.String("variant", string(cur.Variant)),
	)
	return effects, nil
}

func (s *Service) settleAsync(sessionID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Log.Error("settlement panicked",
					zap.String("sessionID", sessionID),
					zap.Any("panic", r),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.settleTimeout)
		defer cancel()
		if err := s.Settle(ctx, sessionID); err != nil {
			logger.Log.Error("settlement failed",
				zap.String("sessionID", sessionID),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) afterSettlement(ctx context.Context, sessionID string, record *model.SettlementRecord, err error) error {
	if errors.Is(err, appErr.ErrAlreadySettled) || errors.Is(err, appErr.ErrNotTerminal) {
		return nil
	}

	sess, loadErr := s.store.Load(ctx, sessionID)
	if loadErr == nil {
		if err == nil && record != nil {
			s.notifier.SessionSettled(ctx, sessionID, record)
			s.hub.broadcast(sessionID, OutgoingMessage{
				Type: "settled",
				Seq:  sess.Seq,
				Data: NewSettlementView(record),
			})
		}
		s.broadcastState(sess)
	} else if err == nil && record != nil {
		s.notifier.SessionSettled(ctx, sessionID, record)
	}
	return err
}

func (s *Service) broadcastState(sess *game.Session) {
	snap := game.NewSnapshot(sess)
	s.hub.broadcast(sess.ID, OutgoingMessage{Type: "state", Seq: sess.Seq, Data: snap})
}

func (s *Service) releaseAll(ctx context.Context, sessionID string, stake int64, users []int64) {
	for _, userID := range users {
		if err := s.wallet.Release(ctx, userID, stake, sessionID); err != nil {
			logger.Log.Error("failed to release stake",
				zap.String("sessionID", sessionID),
				zap.Int64("userID", userID),
				zap.Error(err),
			)
		}
	}
}

func pickSeat(sess *game.Session, pref int) (int, error) {
	if pref >= len(sess.Seats) {
		return -1, appErr.ErrInvalidSeats
	}
	if pref >= 0 {
		if !openSeat(sess.Seats[pref]) {
			return -1, appErr.ErrSeatTaken
		}
		return pref, nil
	}
	for i, seat := range sess.Seats {
		if openSeat(seat) {
			return i, nil
		}
	}
	return -1, appErr.ErrSessionFull
}

func openSeat(seat game.Seat) bool {
	return !seat.Bot && !seat.Joined && seat.UserID == 0
}

func readyToStart(s *game.Session) bool {
	if !s.AllJoined() {
		return false
	}
	for _, seat := range s.Seats {
		if !seat.Connected() {
			return false
		}
	}
	return true
}

func onTurn(s *game.Session, seat int) bool {
	return (s.Phase == game.PhaseRolling || s.Phase == game.PhaseMoving) && s.CurrentSeat == seat
}
