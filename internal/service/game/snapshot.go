package game

type SeatView struct {
	Index     int    `json:"index"`
	UserID    int64  `json:"userId,string"`
	Name      string `json:"name"`
	Color     int    `json:"color"`
	Joined    bool   `json:"joined"`
	Bot       bool   `json:"bot"`
	Autopilot bool   `json:"autopilot"`
	Connected bool   `json:"connected"`
}

// Snapshot is the full broadcast view. Every viewer receives the same value.
type Snapshot struct {
	SessionID        string           `json:"sessionId"`
	Variant          Variant          `json:"variant"`
	Phase            Phase            `json:"phase"`
	CurrentSeat      int              `json:"currentSeat"`
	Roll             int              `json:"roll"`
	LegalMoves       []LegalMove      `json:"legalMoves"`
	Seats            []SeatView       `json:"seats"`
	Pieces           [][]Piece        `json:"pieces"`
	Board            []int            `json:"board,omitempty"`
	Stake            int64            `json:"stake"`
	Winners          []int            `json:"winners"`
	Draw             bool             `json:"draw"`
	Cancelled        bool             `json:"cancelled"`
	SettlementStatus SettlementStatus `json:"settlementStatus"`
	Seq              int64            `json:"seq"`
	LastEvent        *TurnEvent       `json:"lastEvent,omitempty"`
	LastActivityAt   int64            `json:"lastActivityAt"`
}

func NewSnapshot(s *Session) Snapshot {
	c := Clone(*s)
	snap := Snapshot{
		SessionID:        c.ID,
		Variant:          c.Variant,
		Phase:            c.Phase,
		CurrentSeat:      c.CurrentSeat,
		Roll:             c.Roll,
		LegalMoves:       c.LegalMoves,
		Seats:            make([]SeatView, len(c.Seats)),
		Pieces:           c.Pieces,
		Stake:            c.Stake,
		Winners:          c.Winners,
		Draw:             c.Draw,
		Cancelled:        c.Cancelled,
		SettlementStatus: c.SettlementStatus,
		Seq:              c.Seq,
		LastEvent:        c.LastEvent,
		LastActivityAt:   c.LastActivityAt.UnixMilli(),
	}
	if snap.LegalMoves == nil {
		snap.LegalMoves = []LegalMove{}
	}
	if snap.Winners == nil {
		snap.Winners = []int{}
	}
	for i, seat := range c.Seats {
		snap.Seats[i] = SeatView{
			Index:     seat.Index,
			UserID:    seat.UserID,
			Name:      seat.Name,
			Color:     seat.Color,
			Joined:    seat.Joined,
			Bot:       seat.Bot,
			Autopilot: seat.Autopilot,
			Connected: seat.Connected(),
		}
	}
	if c.Variant.isGrid() {
		board := Board(&c)
		snap.Board = board[:]
	}
	return snap
}
