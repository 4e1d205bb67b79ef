package wallet

import (
	"encoding/json"
	"fmt"
	"time"

	"ludo-service/internal/model"
	appErr "ludo-service/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger applies balance changes inside one transaction. Every change is a
// single conditional increment, never a read-modify-write.
type Ledger struct {
	tx        *gorm.DB
	sessionID string
	now       time.Time
	logs      []model.BillingLog
}

func NewLedger(tx *gorm.DB, sessionID string) *Ledger {
	return &Ledger{tx: tx, sessionID: sessionID, now: time.Now()}
}

func (l *Ledger) ensure(userID int64) error {
	return l.tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Wallet{UserID: userID, UpdatedAt: l.now}).Error
}

func (l *Ledger) Reserve(userID, amount int64) error {
	if amount <= 0 {
		return nil
	}
	res := l.tx.Model(&model.Wallet{}).
		Where("user_id = ? AND balance_available >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance_available": gorm.Expr("balance_available - ?", amount),
			"balance_frozen":    gorm.Expr("balance_frozen + ?", amount),
			"updated_at":        l.now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return appErr.ErrInsufficientBalance
	}
	return l.log(userID, "reserve", -amount, nil)
}

// Release moves an escrowed stake back to available. typ is recorded on the billing log.
func (l *Ledger) Release(userID, amount int64, typ string) error {
	if amount <= 0 {
		return nil
	}
	res := l.tx.Model(&model.Wallet{}).
		Where("user_id = ? AND balance_frozen >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance_available": gorm.Expr("balance_available + ?", amount),
			"balance_frozen":    gorm.Expr("balance_frozen - ?", amount),
			"updated_at":        l.now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %d", appErr.ErrReservationShortfall, userID)
	}
	return l.log(userID, typ, amount, nil)
}

// Consume removes an escrowed stake from the wallet entirely.
func (l *Ledger) Consume(userID, amount int64, meta map[string]interface{}) error {
	if amount <= 0 {
		return nil
	}
	res := l.tx.Model(&model.Wallet{}).
		Where("user_id = ? AND balance_frozen >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance_frozen": gorm.Expr("balance_frozen - ?", amount),
			"balance_total":  gorm.Expr("balance_total - ?", amount),
			"total_consume":  gorm.Expr("total_consume + ?", amount),
			"updated_at":     l.now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user %d", appErr.ErrReservationShortfall, userID)
	}
	return l.log(userID, "lose", -amount, meta)
}

// Credit pays out to the available balance and records win and rake totals.
func (l *Ledger) Credit(userID, amount, win, rake int64, meta map[string]interface{}) error {
	if amount <= 0 {
		return nil
	}
	if err := l.ensure(userID); err != nil {
		return err
	}
	res := l.tx.Model(&model.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance_available": gorm.Expr("balance_available + ?", amount),
			"balance_total":     gorm.Expr("balance_total + ?", amount),
			"total_win":         gorm.Expr("total_win + ?", win),
			"total_rake":        gorm.Expr("total_rake + ?", rake),
			"updated_at":        l.now,
		})
	if res.Error != nil {
		return res.Error
	}
	return l.log(userID, "win", amount, meta)
}

func (l *Ledger) log(userID int64, typ string, delta int64, meta map[string]interface{}) error {
	var wallet model.Wallet
	if err := l.tx.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return err
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["sessionId"] = l.sessionID
	l.logs = append(l.logs, model.BillingLog{
		UserID:       userID,
		Type:         typ,
		Delta:        delta,
		BalanceAfter: wallet.BalanceAvailable,
		SessionID:    l.sessionID,
		MetaJSON:     mustJSON(meta),
		CreatedAt:    l.now,
	})
	return nil
}

// Logs returns the billing rows recorded so far.
func (l *Ledger) Logs() []model.BillingLog {
	return l.logs
}

func (l *Ledger) Flush() error {
	if len(l.logs) == 0 {
		return nil
	}
	if err := l.tx.Create(&l.logs).Error; err != nil {
		return err
	}
	l.logs = nil
	return nil
}

func mustJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
