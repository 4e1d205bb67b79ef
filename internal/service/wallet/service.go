package wallet

import (
	"context"
	"errors"

	"ludo-service/internal/model"

	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &model.Wallet{UserID: userID}, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// Available returns the spendable balance, zero for unknown users.
func (s *Service) Available(ctx context.Context, userID int64) (int64, error) {
	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return wallet.BalanceAvailable, nil
}

// Reserve escrows a stake for a session.
func (s *Service) Reserve(ctx context.Context, userID, amount int64, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := NewLedger(tx, sessionID)
		if err := ledger.Reserve(userID, amount); err != nil {
			return err
		}
		return ledger.Flush()
	})
}

// Release returns an escrowed stake to the available balance.
func (s *Service) Release(ctx context.Context, userID, amount int64, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := NewLedger(tx, sessionID)
		if err := ledger.Release(userID, amount, "release"); err != nil {
			return err
		}
		return ledger.Flush()
	})
}
