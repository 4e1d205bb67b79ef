package game

const (
	RingLength     = 52
	HomeLaneLength = 5
	PiecesPerSeat  = 4
	// lastTrackStep is the furthest progress still on the shared ring.
	lastTrackStep = RingLength - 2
	homeStep      = lastTrackStep + 1 + HomeLaneLength
	colorStride   = RingLength / 4
)

var (
	safeSquares  = map[int]bool{0: true, 8: true, 13: true, 21: true, 26: true, 34: true, 39: true, 47: true}
	bonusSquares = map[int]bool{5: true, 18: true, 31: true, 44: true}
)

func IsSafeSquare(idx int) bool  { return safeSquares[idx] }
func IsBonusSquare(idx int) bool { return bonusSquares[idx] }

// seatColor maps two seats onto opposite colors of the four-color board.
func seatColor(seat int) int {
	return (seat * 2) % 4
}

func StartSquare(color int) int {
	return color * colorStride
}

// progress is the number of steps a piece has travelled from its start square.
func progress(pos Position, color int) int {
	switch pos.Zone {
	case ZoneTrack:
		return (pos.Index - StartSquare(color) + RingLength) % RingLength
	case ZoneHomeLane:
		return lastTrackStep + 1 + pos.Index
	case ZoneHome:
		return homeStep
	default:
		return -1
	}
}

func positionAt(step, color int) Position {
	switch {
	case step < 0:
		return Position{Zone: ZoneBase}
	case step <= lastTrackStep:
		return Position{Zone: ZoneTrack, Index: (StartSquare(color) + step) % RingLength}
	case step < homeStep:
		return Position{Zone: ZoneHomeLane, Index: step - lastTrackStep - 1}
	default:
		return Position{Zone: ZoneHome}
	}
}

func newLudoPieces() []Piece {
	pieces := make([]Piece, PiecesPerSeat)
	for i := range pieces {
		pieces[i] = Piece{ID: i, Position: Position{Zone: ZoneBase}}
	}
	return pieces
}

// opponentsOn lists opposing pieces occupying a ring square.
func opponentsOn(s *Session, seat, square int) []CapturedPiece {
	var found []CapturedPiece
	for other, pieces := range s.Pieces {
		if other == seat {
			continue
		}
		for _, p := range pieces {
			if p.Position.Zone == ZoneTrack && p.Position.Index == square {
				found = append(found, CapturedPiece{Seat: other, PieceID: p.ID})
			}
		}
	}
	return found
}

func ludoLegalMoves(s *Session, seat, roll int) []LegalMove {
	color := s.Seats[seat].Color
	moves := make([]LegalMove, 0, PiecesPerSeat)
	for _, p := range s.Pieces[seat] {
		from := progress(p.Position, color)
		var to int
		switch p.Position.Zone {
		case ZoneHome:
			continue
		case ZoneBase:
			if roll != 6 {
				continue
			}
			to = 0
		default:
			to = from + roll
			if to > homeStep {
				continue
			}
		}

		move := LegalMove{PieceID: p.ID, Progress: from}
		dest := positionAt(to, color)
		if dest.Zone == ZoneTrack && IsBonusSquare(dest.Index) && to+1 <= lastTrackStep {
			move.Bonus = true
			to++
			dest = positionAt(to, color)
		}
		move.Destination = dest
		move.ReachesHome = dest.Zone == ZoneHome
		if dest.Zone == ZoneTrack && !IsSafeSquare(dest.Index) {
			move.Captures = len(opponentsOn(s, seat, dest.Index)) == 1
		}
		moves = append(moves, move)
	}
	return moves
}

// executeLudoMove relocates the piece and resolves capture and win. It returns
// whether the seat keeps the turn.
func executeLudoMove(s *Session, seat int, move LegalMove, ev *TurnEvent) bool {
	pieces := s.Pieces[seat]
	for i := range pieces {
		if pieces[i].ID != move.PieceID {
			continue
		}
		from := pieces[i].Position
		ev.From = &from
		pieces[i].Position = move.Destination
		break
	}
	to := move.Destination
	ev.To = &to
	ev.Bonus = move.Bonus
	ev.ReachedHome = move.ReachesHome

	if to.Zone == ZoneTrack && !IsSafeSquare(to.Index) {
		if victims := opponentsOn(s, seat, to.Index); len(victims) == 1 {
			victim := victims[0]
			for i := range s.Pieces[victim.Seat] {
				if s.Pieces[victim.Seat][i].ID == victim.PieceID {
					s.Pieces[victim.Seat][i].Position = Position{Zone: ZoneBase}
				}
			}
			ev.Captured = &victim
		}
	}

	return s.Roll == 6 || ev.Captured != nil || ev.ReachedHome || ev.Bonus
}

func allHome(pieces []Piece) bool {
	if len(pieces) == 0 {
		return false
	}
	for _, p := range pieces {
		if p.Position.Zone != ZoneHome {
			return false
		}
	}
	return true
}
