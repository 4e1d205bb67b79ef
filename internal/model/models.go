package model

import (
	"time"

	"gorm.io/datatypes"
)

// Wallet & Billing

type Wallet struct {
	UserID           int64 `gorm:"primaryKey"`
	BalanceTotal     int64
	BalanceAvailable int64
	BalanceFrozen    int64
	TotalWin         int64
	TotalConsume     int64
	TotalRake        int64
	UpdatedAt        time.Time
}

type BillingLog struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	UserID       int64 `gorm:"index"`
	Type         string // reserve/release/refund/win/lose/rake
	Delta        int64
	BalanceAfter int64
	SessionID    string `gorm:"size:64;index"`
	MetaJSON     datatypes.JSON
	CreatedAt    time.Time
}

// Sessions & Settlement

type GameSession struct {
	ID               string `gorm:"primaryKey;size:64"`
	Variant          string `gorm:"size:16"`
	Phase            string `gorm:"size:16;index"`
	Stake            int64
	State            datatypes.JSON
	Version          int64
	SettlementLocked bool   `gorm:"not null;default:false"`
	SettlementStatus string `gorm:"size:16"`
	Active           bool   `gorm:"index"`
	LastActivityAt   time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type SettlementRecord struct {
	ID           string `gorm:"primaryKey;size:26"`
	SessionID    string `gorm:"size:64;uniqueIndex"`
	Outcome      string `gorm:"size:16"` // win/draw/cancelled
	Stake        int64
	SeatCount    int
	Pot          int64
	Commission   int64
	WinnerUserID int64
	WinnerSeat   int
	WinnerAmount int64
	WinnerNet    int64
	PayoutsJSON  datatypes.JSON
	CreatedAt    time.Time
}

type RevenueRecord struct {
	ID           string `gorm:"primaryKey;size:26"`
	SessionID    string `gorm:"size:64;index"`
	Variant      string `gorm:"size:16"`
	Stake        int64
	Pot          int64
	RakeRate     float64
	Commission   int64
	WinnerUserID int64
	SeatsJSON    datatypes.JSON
	CreatedAt    time.Time
}

// RakeRule overrides the default commission rate for stakes at or above
// MinStake. The highest matching MinStake wins.
type RakeRule struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:64"`
	MinStake    int64  `gorm:"index"`
	Rate        float64
	Status      string `gorm:"size:16;default:enabled"` // enabled/disabled
	Remark      string `gorm:"size:255"`
	EffectiveAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
