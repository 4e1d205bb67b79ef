package game

import "time"

type Variant string

const (
	VariantLudo      Variant = "ludo"
	VariantTicTacToe Variant = "tictactoe"
	VariantMorris    Variant = "morris"
)

func (v Variant) Valid() bool {
	switch v {
	case VariantLudo, VariantTicTacToe, VariantMorris:
		return true
	}
	return false
}

func (v Variant) isGrid() bool {
	return v == VariantTicTacToe || v == VariantMorris
}

type Phase string

const (
	PhaseWaiting  Phase = "WAITING"
	PhaseRolling  Phase = "ROLLING"
	PhaseMoving   Phase = "MOVING"
	PhaseTerminal Phase = "TERMINAL"
)

type Zone string

const (
	ZoneBase     Zone = "BASE"
	ZoneTrack    Zone = "TRACK"
	ZoneHomeLane Zone = "HOME_LANE"
	ZoneHome     Zone = "HOME"
	ZoneCell     Zone = "CELL"
)

type Position struct {
	Zone  Zone `json:"zone"`
	Index int  `json:"index"`
}

type Piece struct {
	ID       int      `json:"id"`
	Position Position `json:"position"`
}

type SettlementStatus string

const (
	SettlementPending SettlementStatus = ""
	SettlementSettled SettlementStatus = "settled"
	SettlementFlagged SettlementStatus = "flagged"
	SettlementSkipped SettlementStatus = "skipped"
)

type Seat struct {
	Index          int        `json:"index"`
	UserID         int64      `json:"userId,string"`
	Name           string     `json:"name"`
	Color          int        `json:"color"`
	IP             string     `json:"ip,omitempty"`
	ConnID         string     `json:"connId,omitempty"`
	Autopilot      bool       `json:"autopilot"`
	Bot            bool       `json:"bot"`
	Joined         bool       `json:"joined"`
	StakeReserved  bool       `json:"stakeReserved"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// Connected reports whether the seat currently holds a live connection.
func (s Seat) Connected() bool {
	return s.Bot || s.ConnID != ""
}

type LegalMove struct {
	PieceID     int      `json:"pieceId"`
	Destination Position `json:"destination"`
	Captures    bool     `json:"captures,omitempty"`
	ReachesHome bool     `json:"reachesHome,omitempty"`
	Bonus       bool     `json:"bonus,omitempty"`
	// Progress is the piece's distance travelled before the move; -1 in base.
	Progress int `json:"progress"`
}

type CapturedPiece struct {
	Seat    int `json:"seat"`
	PieceID int `json:"pieceId"`
}

type TurnEvent struct {
	Seat        int            `json:"seat"`
	Kind        string         `json:"kind"` // roll/pass/move/place/slide
	Roll        int            `json:"roll,omitempty"`
	PieceID     int            `json:"pieceId"`
	From        *Position      `json:"from,omitempty"`
	To          *Position      `json:"to,omitempty"`
	Captured    *CapturedPiece `json:"captured,omitempty"`
	Bonus       bool           `json:"bonus,omitempty"`
	ReachedHome bool           `json:"reachedHome,omitempty"`
	ExtraTurn   bool           `json:"extraTurn,omitempty"`
	Auto        bool           `json:"auto,omitempty"`
}

type Session struct {
	ID               string           `json:"id"`
	Variant          Variant          `json:"variant"`
	Seats            []Seat           `json:"seats"`
	Pieces           [][]Piece        `json:"pieces"`
	CurrentSeat      int              `json:"currentSeat"`
	Phase            Phase            `json:"phase"`
	Roll             int              `json:"roll"`
	AutoRolled       bool             `json:"autoRolled"`
	LegalMoves       []LegalMove      `json:"legalMoves"`
	Stake            int64            `json:"stake"`
	SettlementLocked bool             `json:"settlementLocked"`
	SettlementStatus SettlementStatus `json:"settlementStatus"`
	SettlementNote   string           `json:"settlementNote,omitempty"`
	Winners          []int            `json:"winners"`
	Draw             bool             `json:"draw"`
	Cancelled        bool             `json:"cancelled"`
	Slides           int              `json:"slides"`
	Seq              int64            `json:"seq"`
	LastEvent        *TurnEvent       `json:"lastEvent,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	LastActivityAt   time.Time        `json:"lastActivityAt"`
}

// Active reports whether the session still needs play or settlement.
func (s *Session) Active() bool {
	return s.Phase != PhaseTerminal || s.SettlementStatus == SettlementPending
}

func (s *Session) SeatByUser(userID int64) (int, bool) {
	for i, seat := range s.Seats {
		if seat.UserID != 0 && seat.UserID == userID {
			return i, true
		}
	}
	return -1, false
}

func (s *Session) SeatByConn(connID string) (int, bool) {
	if connID == "" {
		return -1, false
	}
	for i, seat := range s.Seats {
		if seat.ConnID == connID {
			return i, true
		}
	}
	return -1, false
}

func (s *Session) AllJoined() bool {
	for _, seat := range s.Seats {
		if !seat.Joined {
			return false
		}
	}
	return true
}

func (s *Session) isWinner(seat int) bool {
	for _, w := range s.Winners {
		if w == seat {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so mutations never leak into the source.
func Clone(s Session) Session {
	out := s
	out.Seats = make([]Seat, len(s.Seats))
	for i, seat := range s.Seats {
		if seat.DisconnectedAt != nil {
			at := *seat.DisconnectedAt
			seat.DisconnectedAt = &at
		}
		out.Seats[i] = seat
	}
	out.Pieces = make([][]Piece, len(s.Pieces))
	for i, pieces := range s.Pieces {
		out.Pieces[i] = cloneSlice(pieces)
	}
	out.LegalMoves = cloneSlice(s.LegalMoves)
	out.Winners = cloneSlice(s.Winners)
	if s.LastEvent != nil {
		ev := *s.LastEvent
		if ev.From != nil {
			from := *ev.From
			ev.From = &from
		}
		if ev.To != nil {
			to := *ev.To
			ev.To = &to
		}
		if ev.Captured != nil {
			cp := *ev.Captured
			ev.Captured = &cp
		}
		out.LastEvent = &ev
	}
	return out
}

type ActionKind string

const (
	ActionRoll ActionKind = "roll"
	ActionMove ActionKind = "move"
)

// Action is a seat's intent. Cell addresses the grid target and is ignored by the race game.
type Action struct {
	Kind    ActionKind
	Seat    int
	PieceID int
	Cell    int
	Auto    bool
}

type EffectKind string

const (
	EffectBroadcast   EffectKind = "broadcast"
	EffectArmTimer    EffectKind = "arm_timer"
	EffectDisarmTimer EffectKind = "disarm_timer"
	EffectSettle      EffectKind = "settle"
)

type TimerKind string

const (
	TimerRollDeadline TimerKind = "roll_deadline"
	TimerMoveDeadline TimerKind = "move_deadline"
	TimerAutoPlay     TimerKind = "auto_play"
)

type Effect struct {
	Kind  EffectKind
	Timer TimerKind
}

// cloneSlice copies src and keeps nil distinct from empty.
func cloneSlice[T any](src []T) []T {
	if src == nil {
		return nil
	}
	return append(make([]T, 0, len(src)), src...)
}
