package game

import (
	"fmt"
	"time"

	appErr "ludo-service/pkg/errors"
	"ludo-service/pkg/utils/random"
)

const SeatCount = 2

// Dice yields one uniform value in 1..6 per call.
type Dice interface {
	Roll() (int, error)
}

type CryptoDice struct{}

func (CryptoDice) Roll() (int, error) {
	n, err := random.Intn(6)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// Engine is the pure transition function. It never mutates its input and
// performs no I/O besides drawing dice.
type Engine struct {
	dice Dice
	now  func() time.Time
}

func NewEngine(dice Dice) *Engine {
	if dice == nil {
		dice = CryptoDice{}
	}
	return &Engine{dice: dice, now: time.Now}
}

// WithClock replaces the clock used to stamp activity.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type SeatSpec struct {
	UserID int64
	Name   string
	IP     string
	Bot    bool
}

func NewSession(id string, variant Variant, stake int64, specs []SeatSpec, now time.Time) (*Session, error) {
	if !variant.Valid() {
		return nil, appErr.ErrInvalidVariant
	}
	if stake < 0 {
		return nil, appErr.ErrInvalidStake
	}
	if len(specs) != SeatCount {
		return nil, appErr.ErrInvalidSeats
	}

	s := &Session{
		ID:             id,
		Variant:        variant,
		Seats:          make([]Seat, SeatCount),
		Pieces:         make([][]Piece, SeatCount),
		CurrentSeat:    -1,
		Phase:          PhaseWaiting,
		Stake:          stake,
		Winners:        []int{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
	for i, spec := range specs {
		s.Seats[i] = Seat{
			Index:     i,
			UserID:    spec.UserID,
			Name:      spec.Name,
			Color:     seatColor(i),
			IP:        spec.IP,
			Bot:       spec.Bot,
			Autopilot: spec.Bot,
			Joined:    spec.Bot,
		}
		if variant.isGrid() {
			s.Pieces[i] = newGridPieces(variant)
		} else {
			s.Pieces[i] = newLudoPieces()
		}
	}
	return s, nil
}

// Start moves a fully joined session into play with seat 0 to act.
func (e *Engine) Start(s Session) (Session, []Effect, error) {
	if s.Phase != PhaseWaiting {
		return s, nil, appErr.ErrWrongPhase
	}
	if !s.AllJoined() {
		return s, nil, fmt.Errorf("%w: seats still open", appErr.ErrWrongPhase)
	}
	n := Clone(s)
	n.CurrentSeat = 0
	e.beginTurn(&n)
	e.touch(&n)
	if n.Phase == PhaseTerminal {
		return n, terminalEffects(), nil
	}
	return n, turnEffects(&n), nil
}

// Cancel abandons a session that never filled.
func (e *Engine) Cancel(s Session) (Session, []Effect, error) {
	if s.Phase != PhaseWaiting {
		return s, nil, appErr.ErrWrongPhase
	}
	n := Clone(s)
	n.Cancelled = true
	n.Phase = PhaseTerminal
	n.CurrentSeat = -1
	n.LegalMoves = nil
	e.touch(&n)
	return n, terminalEffects(), nil
}

func (e *Engine) Apply(s Session, a Action) (Session, []Effect, error) {
	if s.Phase == PhaseWaiting || s.Phase == PhaseTerminal {
		return s, nil, appErr.ErrWrongPhase
	}
	if a.Seat != s.CurrentSeat {
		return s, nil, appErr.ErrNotYourTurn
	}

	n := Clone(s)
	var err error
	switch a.Kind {
	case ActionRoll:
		if n.Variant.isGrid() || n.Phase != PhaseRolling {
			return s, nil, appErr.ErrWrongPhase
		}
		err = e.roll(&n, a.Auto)
	case ActionMove:
		if n.Phase != PhaseMoving {
			return s, nil, appErr.ErrWrongPhase
		}
		err = e.move(&n, a)
	default:
		return s, nil, fmt.Errorf("%w: unknown action %q", appErr.ErrIllegalMove, a.Kind)
	}
	if err != nil {
		return s, nil, err
	}

	e.touch(&n)
	if n.Phase == PhaseTerminal {
		return n, terminalEffects(), nil
	}
	return n, turnEffects(&n), nil
}

// AutoStep plays the current seat's turn with the fallback heuristics.
func (e *Engine) AutoStep(s Session) (Session, []Effect, error) {
	switch s.Phase {
	case PhaseRolling:
		return e.Apply(s, Action{Kind: ActionRoll, Seat: s.CurrentSeat, Auto: true})
	case PhaseMoving:
		move, ok := AutoMove(&s)
		if !ok {
			return s, nil, appErr.ErrIllegalMove
		}
		return e.Apply(s, Action{
			Kind:    ActionMove,
			Seat:    s.CurrentSeat,
			PieceID: move.PieceID,
			Cell:    move.Destination.Index,
			Auto:    true,
		})
	default:
		return s, nil, appErr.ErrWrongPhase
	}
}

func (e *Engine) roll(s *Session, auto bool) error {
	value, err := e.dice.Roll()
	if err != nil {
		return err
	}
	if value < 1 || value > 6 {
		return fmt.Errorf("dice produced %d", value)
	}

	seat := s.CurrentSeat
	s.Roll = value
	s.AutoRolled = auto
	s.LegalMoves = ludoLegalMoves(s, seat, value)
	ev := &TurnEvent{Seat: seat, Kind: "roll", Roll: value, PieceID: -1, Auto: auto}
	s.LastEvent = ev

	if len(s.LegalMoves) == 0 {
		ev.Kind = "pass"
		s.CurrentSeat = nextSeat(s, seat)
		e.beginTurn(s)
		return nil
	}
	s.Phase = PhaseMoving
	return nil
}

func (e *Engine) move(s *Session, a Action) error {
	chosen, ok := findLegal(s, a)
	if !ok {
		return appErr.ErrIllegalMove
	}

	seat := s.CurrentSeat
	ev := &TurnEvent{Seat: seat, Kind: "move", Roll: s.Roll, PieceID: chosen.PieceID, Auto: a.Auto}
	s.LastEvent = ev

	if s.Variant.isGrid() {
		executeGridMove(s, seat, chosen, ev)
		board := Board(s)
		if hasLine(board, seat) {
			s.Winners = append(s.Winners, seat)
			finish(s)
			return nil
		}
		if gridDraw(s) {
			s.Draw = true
			finish(s)
			return nil
		}
		s.CurrentSeat = nextSeat(s, seat)
		e.beginTurn(s)
		return nil
	}

	extra := executeLudoMove(s, seat, chosen, ev)
	if allHome(s.Pieces[seat]) {
		s.Winners = append(s.Winners, seat)
		if len(s.Winners) >= len(s.Seats)-1 {
			finish(s)
			return nil
		}
		extra = false
	}
	ev.ExtraTurn = extra
	if !extra {
		s.CurrentSeat = nextSeat(s, seat)
	}
	e.beginTurn(s)
	return nil
}

// beginTurn resets per-turn state for the current seat. Grid seats without a
// legal move pass; when no seat can move the game is drawn.
func (e *Engine) beginTurn(s *Session) {
	s.Roll = 0
	s.AutoRolled = false
	s.LegalMoves = nil
	if !s.Variant.isGrid() {
		s.Phase = PhaseRolling
		return
	}

	s.Phase = PhaseMoving
	for tries := 0; tries < len(s.Seats); tries++ {
		moves := gridLegalMoves(s, s.CurrentSeat)
		if len(moves) > 0 {
			s.LegalMoves = moves
			return
		}
		s.CurrentSeat = nextSeat(s, s.CurrentSeat)
	}
	s.Draw = true
	finish(s)
}

func (e *Engine) touch(s *Session) {
	s.Seq++
	s.LastActivityAt = e.now()
}

func finish(s *Session) {
	s.Phase = PhaseTerminal
	s.CurrentSeat = -1
	s.Roll = 0
	s.LegalMoves = nil
}

func findLegal(s *Session, a Action) (LegalMove, bool) {
	for _, m := range s.LegalMoves {
		if m.PieceID != a.PieceID {
			continue
		}
		if s.Variant.isGrid() && m.Destination.Index != a.Cell {
			continue
		}
		return m, true
	}
	return LegalMove{}, false
}

func nextSeat(s *Session, from int) int {
	n := len(s.Seats)
	for i := 1; i <= n; i++ {
		candidate := (from + i) % n
		if !s.isWinner(candidate) {
			return candidate
		}
	}
	return from
}

func terminalEffects() []Effect {
	return []Effect{{Kind: EffectDisarmTimer}, {Kind: EffectBroadcast}, {Kind: EffectSettle}}
}

func turnEffects(s *Session) []Effect {
	return []Effect{PlanTimer(s), {Kind: EffectBroadcast}}
}

// PlanTimer derives the deadline the current state needs. It depends on
// persisted fields only, so it can be recomputed after a restart.
func PlanTimer(s *Session) Effect {
	if s.Phase != PhaseRolling && s.Phase != PhaseMoving {
		return Effect{Kind: EffectDisarmTimer}
	}
	if s.CurrentSeat < 0 || s.CurrentSeat >= len(s.Seats) {
		return Effect{Kind: EffectDisarmTimer}
	}
	if s.Seats[s.CurrentSeat].Autopilot {
		return Effect{Kind: EffectArmTimer, Timer: TimerAutoPlay}
	}
	if s.Phase == PhaseRolling {
		return Effect{Kind: EffectArmTimer, Timer: TimerRollDeadline}
	}
	if s.AutoRolled && len(s.LegalMoves) == 1 {
		return Effect{Kind: EffectArmTimer, Timer: TimerAutoPlay}
	}
	return Effect{Kind: EffectArmTimer, Timer: TimerMoveDeadline}
}
