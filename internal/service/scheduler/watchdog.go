package scheduler

import (
	"context"
	"fmt"
	"time"

	"ludo-service/internal/repo"
	"ludo-service/internal/service/game"
	"ludo-service/pkg/logger"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

type Verdict string

const (
	VerdictNone     Verdict = ""
	VerdictContinue Verdict = "continue"
	VerdictExpire   Verdict = "expire"
	VerdictSettle   Verdict = "settle"
	VerdictResume   Verdict = "resume"
)

type WatchdogConfig struct {
	Interval       time.Duration
	StallThreshold time.Duration
	JoinTimeout    time.Duration
	// TurnDeadline is the longest deadline a human seat is given per step.
	TurnDeadline time.Duration
	Workers      int
}

// Recoverer is everything a sweep may ask of the table service.
type Recoverer interface {
	Runner
	Expire(ctx context.Context, sessionID string) error
	Settle(ctx context.Context, sessionID string) error
	ResumeSettlement(ctx context.Context, sessionID string) error
}

// Inspect decides what a persisted session needs from its state alone.
func Inspect(s *game.Session, now time.Time, cfg WatchdogConfig) Verdict {
	idle := now.Sub(s.LastActivityAt)
	switch s.Phase {
	case game.PhaseTerminal:
		if s.SettlementStatus != game.SettlementPending {
			return VerdictNone
		}
		if !s.SettlementLocked {
			return VerdictSettle
		}
		if idle > cfg.StallThreshold {
			return VerdictResume
		}
	case game.PhaseWaiting:
		if now.Sub(s.CreatedAt) > cfg.JoinTimeout {
			return VerdictExpire
		}
	default:
		if idle > stallLimit(s, cfg) {
			return VerdictContinue
		}
	}
	return VerdictNone
}

// stallLimit gives a human on the move their full turn deadline before a
// sweep may step for them. Autopilot and bot turns only get the threshold.
func stallLimit(s *game.Session, cfg WatchdogConfig) time.Duration {
	if s.CurrentSeat >= 0 && s.CurrentSeat < len(s.Seats) {
		seat := s.Seats[s.CurrentSeat]
		if seat.Bot || seat.Autopilot {
			return cfg.StallThreshold
		}
	}
	return cfg.StallThreshold + cfg.TurnDeadline
}

type Watchdog struct {
	store     repo.SessionStore
	recoverer Recoverer
	cfg       WatchdogConfig
	now       func() time.Time
}

func NewWatchdog(store repo.SessionStore, recoverer Recoverer, cfg WatchdogConfig) *Watchdog {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Watchdog{store: store, recoverer: recoverer, cfg: cfg, now: time.Now}
}

func (w *Watchdog) WithClock(now func() time.Time) *Watchdog {
	w.now = now
	return w
}

func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				logger.Log.Warn("watchdog sweep finished with errors", zap.Error(err))
			}
		}
	}
}

// Sweep inspects every active session once and returns how many needed
// an action.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	ids, err := w.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	verdicts := make([]Verdict, len(ids))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(w.cfg.Workers)
	for i, id := range ids {
		i, id := i, id
		p.Go(func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("session %s: panic: %v", id, r)
				}
			}()
			verdict, err := w.check(ctx, id)
			verdicts[i] = verdict
			if err != nil {
				return fmt.Errorf("session %s: %w", id, err)
			}
			return nil
		})
	}
	err = p.Wait()

	acted := 0
	for _, v := range verdicts {
		if v != VerdictNone {
			acted++
		}
	}
	return acted, err
}

func (w *Watchdog) check(ctx context.Context, sessionID string) (Verdict, error) {
	s, err := w.store.Load(ctx, sessionID)
	if err != nil {
		return VerdictNone, err
	}
	verdict := Inspect(s, w.now(), w.cfg)
	if verdict == VerdictNone {
		return verdict, nil
	}
	logger.Log.Info("watchdog acting on session",
		zap.String("sessionID", sessionID),
		zap.String("verdict", string(verdict)),
		zap.String("phase", string(s.Phase)),
	)

	switch verdict {
	case VerdictContinue:
		err = w.recoverer.Continue(ctx, sessionID, -1)
	case VerdictExpire:
		err = w.recoverer.Expire(ctx, sessionID)
	case VerdictSettle:
		err = w.recoverer.Settle(ctx, sessionID)
	case VerdictResume:
		err = w.recoverer.ResumeSettlement(ctx, sessionID)
	}
	return verdict, err
}
