package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ludo-service/internal/model"
	"ludo-service/internal/repo"
	"ludo-service/internal/service/game"
	"ludo-service/internal/service/wallet"
	appErr "ludo-service/pkg/errors"
	"ludo-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RateSource picks the commission rate for a stake. RakeRate applies when
// it is nil or fails.
type RateSource interface {
	RateFor(ctx context.Context, stake int64) (float64, error)
}

type Config struct {
	RakeRate    float64
	Rates       RateSource
	MaxAttempts int
	Backoff     time.Duration
}

func defaultConfig() Config {
	return Config{
		RakeRate:    0.10,
		MaxAttempts: 3,
		Backoff:     200 * time.Millisecond,
	}
}

// errMarked aborts a status update on a session that already left pending.
var errMarked = errors.New("settlement status already set")

type Service struct {
	db    *gorm.DB
	store repo.SessionStore
	cfg   Config
}

func NewService(db *gorm.DB, store repo.SessionStore, cfg Config) *Service {
	def := defaultConfig()
	if cfg.RakeRate < 0 || cfg.RakeRate >= 1 {
		cfg.RakeRate = def.RakeRate
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	return &Service{db: db, store: store, cfg: cfg}
}

// Settle pays a finished session exactly once. Callers that lose the lock
// race get ErrAlreadySettled and cause no side effects. A nil record with a
// nil error means there was nothing to pay.
func (s *Service) Settle(ctx context.Context, sessionID string) (*model.SettlementRecord, error) {
	sess, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Phase != game.PhaseTerminal {
		return nil, appErr.ErrNotTerminal
	}
	if sess.SettlementLocked || sess.SettlementStatus != game.SettlementPending {
		return nil, appErr.ErrAlreadySettled
	}

	p, err := buildPlan(sess, s.rateFor(ctx, sess.Stake))
	if err != nil {
		s.flag(ctx, sessionID, err)
		return nil, err
	}

	won, err := s.store.AcquireSettlementLock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, appErr.ErrAlreadySettled
	}

	if !p.needsPayout() {
		if _, err := s.mark(ctx, sessionID, game.SettlementSkipped, ""); err != nil {
			return nil, err
		}
		logger.Log.Info("settlement skipped",
			zap.String("sessionID", sessionID),
			zap.Int64("stake", p.Stake),
			zap.String("outcome", string(p.Outcome.Kind)),
		)
		return nil, nil
	}

	return s.execute(ctx, p)
}

// Resume finishes a payout whose lock holder stopped before marking the
// session. The unique record per session keeps it from paying twice.
func (s *Service) Resume(ctx context.Context, sessionID string) (*model.SettlementRecord, error) {
	sess, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.SettlementLocked || sess.SettlementStatus != game.SettlementPending {
		return nil, appErr.ErrAlreadySettled
	}
	p, err := buildPlan(sess, s.rateFor(ctx, sess.Stake))
	if err != nil {
		s.flag(ctx, sessionID, err)
		return nil, err
	}
	if !p.needsPayout() {
		_, err := s.mark(ctx, sessionID, game.SettlementSkipped, "")
		return nil, err
	}
	return s.execute(ctx, p)
}

func (s *Service) rateFor(ctx context.Context, stake int64) float64 {
	if s.cfg.Rates == nil {
		return s.cfg.RakeRate
	}
	rate, err := s.cfg.Rates.RateFor(ctx, stake)
	if err != nil {
		logger.Log.Warn("commission rule lookup failed, using default rate",
			zap.Int64("stake", stake),
			zap.Error(err),
		)
		return s.cfg.RakeRate
	}
	return rate
}

func (s *Service) execute(ctx context.Context, p *plan) (*model.SettlementRecord, error) {
	var (
		record *model.SettlementRecord
		err    error
	)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		record, err = s.payout(ctx, p)
		if err == nil {
			break
		}
		if existing, findErr := s.GetRecord(ctx, p.SessionID); findErr == nil {
			// the payout committed earlier but the session was never marked
			return s.recovered(ctx, existing)
		}
		if appErr.IsInvariant(err) {
			break
		}
		logger.Log.Warn("settlement attempt failed",
			zap.String("sessionID", p.SessionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = s.cfg.MaxAttempts
		case <-time.After(time.Duration(attempt) * s.cfg.Backoff):
		}
	}
	if err != nil {
		s.flag(ctx, p.SessionID, fmt.Errorf("payout failed: %w", err))
		return nil, err
	}

	marked, err := s.mark(ctx, p.SessionID, game.SettlementSettled, "")
	if err != nil {
		return nil, err
	}
	if !marked {
		return nil, appErr.ErrAlreadySettled
	}
	logger.Log.Info("session settled",
		zap.String("sessionID", p.SessionID),
		zap.String("recordID", record.ID),
		zap.String("outcome", record.Outcome),
		zap.Int64("pot", record.Pot),
		zap.Int64("commission", record.Commission),
	)
	return record, nil
}

// recovered marks a session whose record already exists. Only the caller
// that moves the status off pending gets the record back.
func (s *Service) recovered(ctx context.Context, existing *model.SettlementRecord) (*model.SettlementRecord, error) {
	marked, err := s.mark(ctx, existing.SessionID, game.SettlementSettled, "")
	if err != nil {
		return nil, err
	}
	if !marked {
		return nil, appErr.ErrAlreadySettled
	}
	logger.Log.Warn("settlement recovered from existing record",
		zap.String("sessionID", existing.SessionID),
		zap.String("recordID", existing.ID),
	)
	return existing, nil
}

func (s *Service) payout(ctx context.Context, p *plan) (*model.SettlementRecord, error) {
	now := time.Now()
	record := &model.SettlementRecord{
		ID:           repo.NewID(),
		SessionID:    p.SessionID,
		Outcome:      string(p.Outcome.Kind),
		Stake:        p.Stake,
		SeatCount:    len(p.Seats),
		Pot:          p.Pot,
		Commission:   p.Commission,
		WinnerUserID: p.WinnerUser,
		WinnerSeat:   p.Outcome.Winner,
		WinnerAmount: p.Receipt,
		WinnerNet:    p.WinnerNet,
		PayoutsJSON:  mustJSON(p.Seats),
		CreatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}

		ledger := wallet.NewLedger(tx, p.SessionID)
		meta := map[string]interface{}{
			"outcome": string(p.Outcome.Kind),
			"stake":   p.Stake,
		}
		for _, seat := range p.Seats {
			if !seat.Reserved {
				continue
			}
			if p.Outcome.Kind != game.OutcomeWin {
				if err := ledger.Release(seat.UserID, seat.Stake, "refund"); err != nil {
					return err
				}
				continue
			}
			if err := ledger.Consume(seat.UserID, seat.Stake, copyMeta(meta)); err != nil {
				return err
			}
		}
		if p.Outcome.Kind == game.OutcomeWin {
			winMeta := copyMeta(meta)
			winMeta["pot"] = p.Pot
			winMeta["commission"] = p.Commission
			if err := ledger.Credit(p.WinnerUser, p.Receipt, p.WinnerNet, p.Commission, winMeta); err != nil {
				return err
			}
		}
		if err := ledger.Flush(); err != nil {
			return err
		}

		if p.Commission > 0 {
			revenue := model.RevenueRecord{
				ID:           repo.NewID(),
				SessionID:    p.SessionID,
				Variant:      string(p.Variant),
				Stake:        p.Stake,
				Pot:          p.Pot,
				RakeRate:     p.RakeRate,
				Commission:   p.Commission,
				WinnerUserID: p.WinnerUser,
				SeatsJSON:    mustJSON(p.Seats),
				CreatedAt:    now,
			}
			if err := tx.Create(&revenue).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) GetRecord(ctx context.Context, sessionID string) (*model.SettlementRecord, error) {
	var record model.SettlementRecord
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrSettlementNotFound
		}
		return nil, err
	}
	return &record, nil
}

// mark moves a pending session to status and reports whether this call did it.
func (s *Service) mark(ctx context.Context, sessionID string, status game.SettlementStatus, note string) (bool, error) {
	_, err := s.store.Update(ctx, sessionID, func(sess *game.Session) error {
		if sess.SettlementStatus != game.SettlementPending {
			return errMarked
		}
		sess.SettlementStatus = status
		sess.SettlementNote = note
		return nil
	})
	if errors.Is(err, errMarked) {
		return false, nil
	}
	return err == nil, err
}

// flag leaves the session unsettled for manual reconciliation.
func (s *Service) flag(ctx context.Context, sessionID string, cause error) {
	logger.Log.Error("settlement aborted",
		zap.String("sessionID", sessionID),
		zap.Error(cause),
	)
	if _, err := s.mark(ctx, sessionID, game.SettlementFlagged, cause.Error()); err != nil {
		logger.Log.Error("failed to flag session",
			zap.String("sessionID", sessionID),
			zap.Error(err),
		)
	}
}

func copyMeta(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func mustJSON(v interface{}) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
