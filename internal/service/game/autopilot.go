package game

// AutoMove picks the move an absent seat plays. Race game priority: reach
// home, then capture, then the piece furthest along. Grid priority: win,
// block, center, first listed.
func AutoMove(s *Session) (LegalMove, bool) {
	if len(s.LegalMoves) == 0 {
		return LegalMove{}, false
	}
	if s.Variant.isGrid() {
		return autoGridMove(s), true
	}

	best := s.LegalMoves[0]
	for _, m := range s.LegalMoves[1:] {
		if ludoRank(m, best) {
			best = m
		}
	}
	return best, true
}

// ludoRank reports whether a beats b. Ties keep the lower piece id.
func ludoRank(a, b LegalMove) bool {
	if a.ReachesHome != b.ReachesHome {
		return a.ReachesHome
	}
	if a.Captures != b.Captures {
		return a.Captures
	}
	if a.Progress != b.Progress {
		return a.Progress > b.Progress
	}
	return a.PieceID < b.PieceID
}

func autoGridMove(s *Session) LegalMove {
	seat := s.CurrentSeat
	opponent := nextSeat(s, seat)

	for _, m := range s.LegalMoves {
		if hasLine(boardAfter(s, seat, m), seat) {
			return m
		}
	}

	threats := openCells(Board(s), opponent)
	for _, m := range s.LegalMoves {
		if threats[m.Destination.Index] {
			return m
		}
	}

	for _, m := range s.LegalMoves {
		if m.Destination.Index == 4 {
			return m
		}
	}
	return s.LegalMoves[0]
}

func boardAfter(s *Session, seat int, m LegalMove) [GridSize]int {
	board := Board(s)
	for _, p := range s.Pieces[seat] {
		if p.ID == m.PieceID && p.Position.Zone == ZoneCell {
			board[p.Position.Index] = -1
		}
	}
	board[m.Destination.Index] = seat
	return board
}

// openCells lists empty cells that would complete a line for seat.
func openCells(board [GridSize]int, seat int) map[int]bool {
	cells := make(map[int]bool)
	for _, line := range winLines {
		owned, empty := 0, -1
		for _, c := range line {
			switch board[c] {
			case seat:
				owned++
			case -1:
				empty = c
			}
		}
		if owned == 2 && empty >= 0 {
			cells[empty] = true
		}
	}
	return cells
}
