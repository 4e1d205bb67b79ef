package errors

import "errors"

// Rejected actions. Safe to report to the requester, state is untouched.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrSessionNotFound     = errors.New("session not found")
	ErrNotYourTurn         = errors.New("not your turn")
	ErrWrongPhase          = errors.New("action not allowed in current phase")
	ErrIllegalMove         = errors.New("illegal move")
	ErrNotSeated           = errors.New("connection does not hold a seat")
	ErrSeatTaken           = errors.New("seat already taken")
	ErrSessionFull         = errors.New("session is full")
	ErrAlreadySeated       = errors.New("user already seated")
	ErrInvalidVariant      = errors.New("unknown game variant")
	ErrInvalidStake        = errors.New("invalid stake")
	ErrInvalidSeats        = errors.New("invalid seat layout")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyInQueue      = errors.New("already in queue")
	ErrQueueProcessing     = errors.New("queue request in progress")
	ErrQueueFull           = errors.New("queue is full")
	ErrSettlementNotFound  = errors.New("settlement not found")
	ErrRakeRuleNotFound    = errors.New("rake rule not found")
	ErrInvalidRakeRule     = errors.New("invalid rake rule")
)

// Invariant violations. The session is flagged and nothing is paid.
var (
	ErrSettlementPrecondition = errors.New("settlement precondition failed")
	ErrReservationShortfall   = errors.New("reserved balance lower than stake")
)

// Outcomes and transient failures.
var (
	ErrAlreadySettled  = errors.New("session already settled")
	ErrNotTerminal     = errors.New("session has not finished")
	ErrSessionConflict = errors.New("session update conflict")
)

var rejected = []error{
	ErrUnauthorized,
	ErrSessionNotFound,
	ErrNotYourTurn,
	ErrWrongPhase,
	ErrIllegalMove,
	ErrNotSeated,
	ErrSeatTaken,
	ErrSessionFull,
	ErrAlreadySeated,
	ErrInvalidVariant,
	ErrInvalidStake,
	ErrInvalidSeats,
	ErrInsufficientBalance,
	ErrAlreadyInQueue,
	ErrQueueProcessing,
	ErrQueueFull,
	ErrSettlementNotFound,
	ErrRakeRuleNotFound,
	ErrInvalidRakeRule,
}

// IsRejected reports whether err is a player-facing rejection.
func IsRejected(err error) bool {
	for _, target := range rejected {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsInvariant(err error) bool {
	return errors.Is(err, ErrSettlementPrecondition) || errors.Is(err, ErrReservationShortfall)
}

// IsTransient reports whether the caller may retry the same request.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsRejected(err) && !IsInvariant(err) && !errors.Is(err, ErrAlreadySettled) && !errors.Is(err, ErrNotTerminal)
}
