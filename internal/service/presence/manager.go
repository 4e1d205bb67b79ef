package presence

import (
	"context"
	"sync"
	"time"

	"ludo-service/internal/repo"
	"ludo-service/internal/service/game"
	appErr "ludo-service/pkg/errors"
	"ludo-service/pkg/logger"

	"go.uber.org/zap"
)

const hookTimeout = 10 * time.Second

type Hooks interface {
	AutopilotEngaged(ctx context.Context, s *game.Session, seat int)
}

type seatKey struct {
	sessionID string
	seat      int
}

type graceTimer struct {
	timer *time.Timer
	stamp time.Time
}

// Change describes what a presence update did to a seat.
type Change struct {
	Session *game.Session
	Seat    int
	Engaged bool
	// WasAutopilot is set on reconnect when the seat had been handed over.
	WasAutopilot bool
}

// Manager tracks seat connections. Presence changes never bump the session
// sequence, so armed turn timers stay valid across them.
type Manager struct {
	store repo.SessionStore
	grace time.Duration
	hooks Hooks
	now   func() time.Time

	mu     sync.Mutex
	timers map[seatKey]*graceTimer
}

func NewManager(store repo.SessionStore, grace time.Duration) *Manager {
	return &Manager{
		store:  store,
		grace:  grace,
		now:    time.Now,
		timers: make(map[seatKey]*graceTimer),
	}
}

func (m *Manager) Bind(hooks Hooks) {
	m.mu.Lock()
	m.hooks = hooks
	m.mu.Unlock()
}

// Disconnected releases the seat held by conn. A hard close during the
// seat's own turn hands it to autopilot at once; anything else starts the
// grace period.
func (m *Manager) Disconnected(ctx context.Context, sessionID, conn string, hard bool) (*Change, error) {
	now := m.now()
	change := &Change{Seat: -1}
	s, err := m.store.Update(ctx, sessionID, func(s *game.Session) error {
		seat, ok := s.SeatByConn(conn)
		if !ok {
			return appErr.ErrNotSeated
		}
		change.Seat = seat
		change.Engaged = false
		st := &s.Seats[seat]
		st.ConnID = ""
		stamp := now
		st.DisconnectedAt = &stamp
		if hard && !st.Autopilot && onTurn(s, seat) {
			st.Autopilot = true
			change.Engaged = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = s

	logger.Log.Info("seat disconnected",
		zap.String("sessionID", sessionID),
		zap.Int("seat", change.Seat),
		zap.Bool("hard", hard),
		zap.Bool("autopilot", change.Engaged),
	)

	seat := s.Seats[change.Seat]
	if change.Engaged || seat.Autopilot || s.Phase == game.PhaseTerminal {
		m.cancel(sessionID, change.Seat)
		return change, nil
	}
	m.arm(sessionID, change.Seat, now)
	return change, nil
}

// Reconnected attaches conn to the user's seat and takes the seat back
// from autopilot. It is allowed after the session ended.
func (m *Manager) Reconnected(ctx context.Context, sessionID string, userID int64, conn string) (*Change, error) {
	change := &Change{Seat: -1}
	s, err := m.store.Update(ctx, sessionID, func(s *game.Session) error {
		seat, ok := s.SeatByUser(userID)
		if !ok {
			return appErr.ErrNotSeated
		}
		change.Seat = seat
		st := &s.Seats[seat]
		change.WasAutopilot = st.Autopilot && !st.Bot
		st.ConnID = conn
		st.DisconnectedAt = nil
		st.Autopilot = st.Bot
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Session = s
	m.cancel(sessionID, change.Seat)

	logger.Log.Info("seat reconnected",
		zap.String("sessionID", sessionID),
		zap.Int("seat", change.Seat),
		zap.Int64("userID", userID),
		zap.Bool("fromAutopilot", change.WasAutopilot),
	)
	return change, nil
}

// Forget drops every grace timer of a session.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, gt := range m.timers {
		if key.sessionID == sessionID {
			gt.timer.Stop()
			delete(m.timers, key)
		}
	}
}

func (m *Manager) Pending(sessionID string, seat int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[seatKey{sessionID, seat}]
	return ok
}

func (m *Manager) arm(sessionID string, seat int, stamp time.Time) {
	key := seatKey{sessionID, seat}
	m.mu.Lock()
	defer m.mu.Unlock()
	if gt, ok := m.timers[key]; ok {
		gt.timer.Stop()
	}
	gt := &graceTimer{stamp: stamp}
	gt.timer = time.AfterFunc(m.grace, func() {
		m.expire(key, gt)
	})
	m.timers[key] = gt
}

func (m *Manager) cancel(sessionID string, seat int) {
	key := seatKey{sessionID, seat}
	m.mu.Lock()
	defer m.mu.Unlock()
	if gt, ok := m.timers[key]; ok {
		gt.timer.Stop()
		delete(m.timers, key)
	}
}

func (m *Manager) expire(key seatKey, gt *graceTimer) {
	m.mu.Lock()
	if current, ok := m.timers[key]; !ok || current != gt {
		m.mu.Unlock()
		return
	}
	delete(m.timers, key)
	hooks := m.hooks
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("grace timer panicked",
				zap.String("sessionID", key.sessionID),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	var engaged bool
	s, err := m.store.Update(ctx, key.sessionID, func(s *game.Session) error {
		engaged = false
		if s.Phase == game.PhaseTerminal || key.seat >= len(s.Seats) {
			return nil
		}
		st := &s.Seats[key.seat]
		if st.ConnID != "" || st.Autopilot || st.DisconnectedAt == nil || !st.DisconnectedAt.Equal(gt.stamp) {
			return nil
		}
		st.Autopilot = true
		engaged = true
		return nil
	})
	if err != nil {
		logger.Log.Warn("grace expiry failed",
			zap.String("sessionID", key.sessionID),
			zap.Int("seat", key.seat),
			zap.Error(err),
		)
		return
	}
	if !engaged {
		return
	}
	logger.Log.Info("autopilot engaged",
		zap.String("sessionID", key.sessionID),
		zap.Int("seat", key.seat),
	)
	if hooks != nil {
		hooks.AutopilotEngaged(ctx, s, key.seat)
	}
}

func onTurn(s *game.Session, seat int) bool {
	return (s.Phase == game.PhaseRolling || s.Phase == game.PhaseMoving) && s.CurrentSeat == seat
}
