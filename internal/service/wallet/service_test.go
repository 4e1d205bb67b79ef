package wallet_test

import (
	"context"
	"testing"

	"ludo-service/internal/model"
	"ludo-service/internal/repo/repotest"
	"ludo-service/internal/service/wallet"
	appErr "ludo-service/pkg/errors"

	"gorm.io/gorm"
)

func newService(t *testing.T) (*gorm.DB, *wallet.Service) {
	t.Helper()
	db := repotest.NewDB(t)
	return db, wallet.NewService(db)
}

func seedWallet(t *testing.T, db *gorm.DB, userID, available int64) {
	t.Helper()
	w := model.Wallet{UserID: userID, BalanceAvailable: available, BalanceTotal: available}
	if err := db.Create(&w).Error; err != nil {
		t.Fatalf("failed to seed wallet: %v", err)
	}
}

func TestReserveAndRelease(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)
	seedWallet(t, db, 1, 1500)

	if err := svc.Reserve(ctx, 1, 1000, "s-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	w, err := svc.GetWallet(ctx, 1)
	if err != nil {
		t.Fatalf("get wallet failed: %v", err)
	}
	if w.BalanceAvailable != 500 || w.BalanceFrozen != 1000 || w.BalanceTotal != 1500 {
		t.Fatalf("unexpected wallet after reserve: %+v", w)
	}

	if err := svc.Reserve(ctx, 1, 1000, "s-2"); err != appErr.ErrInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	if err := svc.Release(ctx, 1, 1000, "s-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	w, _ = svc.GetWallet(ctx, 1)
	if w.BalanceAvailable != 1500 || w.BalanceFrozen != 0 {
		t.Fatalf("unexpected wallet after release: %+v", w)
	}

	var logs []model.BillingLog
	if err := db.Order("id").Find(&logs).Error; err != nil {
		t.Fatalf("failed to load logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Type != "reserve" || logs[1].Type != "release" {
		t.Fatalf("unexpected billing logs: %+v", logs)
	}
	if logs[0].SessionID != "s-1" || logs[0].Delta != -1000 || logs[0].BalanceAfter != 500 {
		t.Fatalf("unexpected reserve log: %+v", logs[0])
	}
}

func TestReleaseShortfall(t *testing.T) {
	ctx := context.Background()
	db, svc := newService(t)
	seedWallet(t, db, 1, 100)

	err := svc.Release(ctx, 1, 50, "s-1")
	if !appErr.IsInvariant(err) {
		t.Fatalf("expected reservation shortfall, got %v", err)
	}
}

func TestUnknownWalletIsEmpty(t *testing.T) {
	ctx := context.Background()
	_, svc := newService(t)

	available, err := svc.Available(ctx, 99)
	if err != nil {
		t.Fatalf("available failed: %v", err)
	}
	if available != 0 {
		t.Fatalf("expected zero balance, got %d", available)
	}
	if err := svc.Reserve(ctx, 99, 10, "s-1"); err != appErr.ErrInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}
