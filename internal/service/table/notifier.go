package table

import (
	"context"

	"ludo-service/internal/model"
	"ludo-service/pkg/logger"

	"go.uber.org/zap"
)

//go:generate mockgen -source=notifier.go -destination=mock_notifier_test.go -package=table_test

// SettlementNotifier is told once per session after its payout commits.
type SettlementNotifier interface {
	SessionSettled(ctx context.Context, sessionID string, record *model.SettlementRecord)
}

type logNotifier struct{}

func (logNotifier) SessionSettled(_ context.Context, sessionID string, record *model.SettlementRecord) {
	logger.Log.Info("settlement notified",
		zap.String("sessionID", sessionID),
		zap.String("recordID", record.ID),
		zap.Int64("winnerUserID", record.WinnerUserID),
		zap.Int64("winnerAmount", record.WinnerAmount),
	)
}
