package game

import (
	"fmt"

	appErr "ludo-service/pkg/errors"
)

type OutcomeKind string

const (
	OutcomeWin       OutcomeKind = "win"
	OutcomeDraw      OutcomeKind = "draw"
	OutcomeCancelled OutcomeKind = "cancelled"
)

type Outcome struct {
	Kind   OutcomeKind
	Winner int
}

// VerifyOutcome re-derives the result from piece positions instead of
// trusting the recorded winners.
func VerifyOutcome(s *Session) (Outcome, error) {
	if s.Phase != PhaseTerminal {
		return Outcome{}, appErr.ErrNotTerminal
	}
	if s.Cancelled {
		return Outcome{Kind: OutcomeCancelled, Winner: -1}, nil
	}
	if s.Draw {
		if !s.Variant.isGrid() || !gridDraw(s) {
			return Outcome{}, fmt.Errorf("%w: draw not supported by board", appErr.ErrSettlementPrecondition)
		}
		return Outcome{Kind: OutcomeDraw, Winner: -1}, nil
	}
	if len(s.Winners) == 0 {
		return Outcome{}, fmt.Errorf("%w: no winner recorded", appErr.ErrSettlementPrecondition)
	}

	winner := s.Winners[0]
	if winner < 0 || winner >= len(s.Seats) {
		return Outcome{}, fmt.Errorf("%w: winner seat %d out of range", appErr.ErrSettlementPrecondition, winner)
	}
	var won bool
	if s.Variant.isGrid() {
		won = hasLine(Board(s), winner)
	} else {
		won = allHome(s.Pieces[winner])
	}
	if !won {
		return Outcome{}, fmt.Errorf("%w: seat %d does not satisfy the win condition", appErr.ErrSettlementPrecondition, winner)
	}
	return Outcome{Kind: OutcomeWin, Winner: winner}, nil
}
