package scheduler

import (
	"context"
	"sync"
	"time"

	"ludo-service/internal/service/game"
	"ludo-service/pkg/logger"

	"go.uber.org/zap"
)

const continueTimeout = 10 * time.Second

// Runner re-validates persisted state and performs whatever a fired timer
// is due. seq < 0 forces a check regardless of the session sequence.
type Runner interface {
	Continue(ctx context.Context, sessionID string, seq int64) error
}

type Durations struct {
	RollDeadline time.Duration
	MoveDeadline time.Duration
	AutoPlay     time.Duration
}

func (d Durations) For(kind game.TimerKind) time.Duration {
	switch kind {
	case game.TimerRollDeadline:
		return d.RollDeadline
	case game.TimerMoveDeadline:
		return d.MoveDeadline
	default:
		return d.AutoPlay
	}
}

type timerEntry struct {
	timer    *time.Timer
	kind     game.TimerKind
	seq      int64
	deadline time.Time
}

// Scheduler keeps at most one pending timer per session.
type Scheduler struct {
	durations Durations
	runner    Runner

	mu     sync.Mutex
	timers map[string]*timerEntry
	closed bool
}

func New(durations Durations) *Scheduler {
	return &Scheduler{
		durations: durations,
		timers:    make(map[string]*timerEntry),
	}
}

// Bind sets the runner fired timers call into. It must be called before
// the first Arm.
func (s *Scheduler) Bind(runner Runner) {
	s.mu.Lock()
	s.runner = runner
	s.mu.Unlock()
}

// Arm replaces any pending timer of the session. A timer armed for an
// older seq than the pending one is ignored, so effects delivered out of
// order never push back a newer deadline.
func (s *Scheduler) Arm(sessionID string, kind game.TimerKind, seq int64) time.Time {
	delay := s.durations.For(kind)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}
	}
	if cur, ok := s.timers[sessionID]; ok && seq < cur.seq {
		return cur.deadline
	}
	s.stopLocked(sessionID)

	entry := &timerEntry{kind: kind, seq: seq, deadline: time.Now().Add(delay)}
	entry.timer = time.AfterFunc(delay, func() {
		s.fire(sessionID, entry)
	})
	s.timers[sessionID] = entry
	return entry.deadline
}

func (s *Scheduler) Disarm(sessionID string) {
	s.mu.Lock()
	s.stopLocked(sessionID)
	s.mu.Unlock()
}

func (s *Scheduler) Deadline(sessionID string) (time.Time, game.TimerKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.timers[sessionID]
	if !ok {
		return time.Time{}, "", false
	}
	return entry.deadline, entry.kind, true
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer. Later Arm calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.stopLocked(id)
	}
	s.closed = true
}

func (s *Scheduler) stopLocked(sessionID string) {
	if entry, ok := s.timers[sessionID]; ok {
		entry.timer.Stop()
		delete(s.timers, sessionID)
	}
}

func (s *Scheduler) fire(sessionID string, entry *timerEntry) {
	s.mu.Lock()
	if current, ok := s.timers[sessionID]; !ok || current != entry {
		s.mu.Unlock()
		return
	}
	delete(s.timers, sessionID)
	runner := s.runner
	s.mu.Unlock()

	if runner == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("timer callback panicked",
				zap.String("sessionID", sessionID),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), continueTimeout)
	defer cancel()
	if err := runner.Continue(ctx, sessionID, entry.seq); err != nil {
		logger.Log.Warn("timer continue failed",
			zap.String("sessionID", sessionID),
			zap.String("timer", string(entry.kind)),
			zap.Int64("seq", entry.seq),
			zap.Error(err),
		)
	}
}
