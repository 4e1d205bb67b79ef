package settle

import (
	"fmt"
	"math"

	"ludo-service/internal/service/game"
	appErr "ludo-service/pkg/errors"
)

type seatPayout struct {
	Seat     int    `json:"seat"`
	UserID   int64  `json:"userId,string"`
	Name     string `json:"name"`
	Bot      bool   `json:"bot"`
	Reserved bool   `json:"reserved"`
	Stake    int64  `json:"stake"`
	Payout   int64  `json:"payout"`
	Net      int64  `json:"net"`
}

type plan struct {
	SessionID  string
	Variant    game.Variant
	Outcome    game.Outcome
	Stake      int64
	Seats      []seatPayout
	Pot        int64
	Commission int64
	RakeRate   float64
	Receipt    int64
	WinnerNet  int64
	WinnerUser int64
}

// Commission is the rake on a pot, rounded and kept within the pot.
func Commission(pot int64, rate float64) int64 {
	if pot <= 0 || rate <= 0 {
		return 0
	}
	value := int64(math.Round(float64(pot) * rate))
	if value < 0 {
		return 0
	}
	if value > pot {
		return pot
	}
	return value
}

// buildPlan checks every precondition and computes the payout without
// touching storage.
func buildPlan(s *game.Session, rate float64) (*plan, error) {
	outcome, err := game.VerifyOutcome(s)
	if err != nil {
		return nil, err
	}

	p := &plan{
		SessionID: s.ID,
		Variant:   s.Variant,
		Outcome:   outcome,
		Stake:     s.Stake,
		Seats:     make([]seatPayout, len(s.Seats)),
	}
	for i, seat := range s.Seats {
		p.Seats[i] = seatPayout{
			Seat:     i,
			UserID:   seat.UserID,
			Name:     seat.Name,
			Bot:      seat.Bot,
			Reserved: seat.StakeReserved,
			Stake:    s.Stake,
		}
	}

	// practice games move no money, so a bot on either side is fine
	if s.Stake <= 0 {
		return p, nil
	}

	if outcome.Kind != game.OutcomeWin {
		for i := range p.Seats {
			if p.Seats[i].Reserved {
				p.Seats[i].Payout = s.Stake
			}
		}
		return p, nil
	}

	winner := s.Seats[outcome.Winner]
	if winner.Bot || winner.UserID == 0 {
		return nil, fmt.Errorf("%w: winner seat %d has no account", appErr.ErrSettlementPrecondition, outcome.Winner)
	}
	var humanLoser bool
	for i, seat := range s.Seats {
		if i == outcome.Winner || seat.Bot || seat.UserID == 0 || seat.UserID == winner.UserID || !seat.Joined {
			continue
		}
		humanLoser = true
	}
	if !humanLoser {
		return nil, fmt.Errorf("%w: no human loser", appErr.ErrSettlementPrecondition)
	}
	if s.Stake > 0 {
		for i, seat := range s.Seats {
			if !seat.StakeReserved {
				return nil, fmt.Errorf("%w: seat %d stake not reserved", appErr.ErrSettlementPrecondition, i)
			}
		}
	}

	p.Pot = s.Stake * int64(len(s.Seats))
	p.RakeRate = rate
	p.Commission = Commission(p.Pot, rate)
	p.Receipt = p.Pot - p.Commission
	p.WinnerNet = p.Receipt - s.Stake
	p.WinnerUser = winner.UserID
	for i := range p.Seats {
		p.Seats[i].Net = -s.Stake
	}
	p.Seats[outcome.Winner].Payout = p.Receipt
	p.Seats[outcome.Winner].Net = p.WinnerNet
	return p, nil
}

func (p *plan) needsPayout() bool {
	if p.Stake <= 0 {
		return false
	}
	for _, seat := range p.Seats {
		if seat.Reserved {
			return true
		}
	}
	return false
}
