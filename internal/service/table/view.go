package table

import (
	"encoding/json"

	"ludo-service/internal/model"
)

type SettlementView struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"sessionId"`
	Outcome      string          `json:"outcome"`
	Stake        int64           `json:"stake"`
	Pot          int64           `json:"pot"`
	Commission   int64           `json:"commission"`
	WinnerUserID int64           `json:"winnerUserId,string"`
	WinnerSeat   int             `json:"winnerSeat"`
	WinnerAmount int64           `json:"winnerAmount"`
	WinnerNet    int64           `json:"winnerNet"`
	Payouts      json.RawMessage `json:"payouts,omitempty"`
	CreatedAt    int64           `json:"createdAt"`
}

func NewSettlementView(r *model.SettlementRecord) SettlementView {
	return SettlementView{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Outcome:      r.Outcome,
		Stake:        r.Stake,
		Pot:          r.Pot,
		Commission:   r.Commission,
		WinnerUserID: r.WinnerUserID,
		WinnerSeat:   r.WinnerSeat,
		WinnerAmount: r.WinnerAmount,
		WinnerNet:    r.WinnerNet,
		Payouts:      json.RawMessage(r.PayoutsJSON),
		CreatedAt:    r.CreatedAt.UnixMilli(),
	}
}
