package game

const (
	GridSize         = 9
	TicTacToePieces  = 5
	MorrisPieces     = 3
	MorrisSlideLimit = 40
)

var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

func newGridPieces(variant Variant) []Piece {
	count := TicTacToePieces
	if variant == VariantMorris {
		count = MorrisPieces
	}
	pieces := make([]Piece, count)
	for i := range pieces {
		pieces[i] = Piece{ID: i, Position: Position{Zone: ZoneBase}}
	}
	return pieces
}

// Board returns the owning seat of each cell, -1 when empty.
func Board(s *Session) [GridSize]int {
	var board [GridSize]int
	for i := range board {
		board[i] = -1
	}
	for seat, pieces := range s.Pieces {
		for _, p := range pieces {
			if p.Position.Zone == ZoneCell && p.Position.Index >= 0 && p.Position.Index < GridSize {
				board[p.Position.Index] = seat
			}
		}
	}
	return board
}

func adjacent(a, b int) bool {
	if a == b {
		return false
	}
	dr := a/3 - b/3
	dc := a%3 - b%3
	return dr >= -1 && dr <= 1 && dc >= -1 && dc <= 1
}

func hasLine(board [GridSize]int, seat int) bool {
	for _, line := range winLines {
		if board[line[0]] == seat && board[line[1]] == seat && board[line[2]] == seat {
			return true
		}
	}
	return false
}

func boardFull(board [GridSize]int) bool {
	for _, owner := range board {
		if owner < 0 {
			return false
		}
	}
	return true
}

func gridLegalMoves(s *Session, seat int) []LegalMove {
	board := Board(s)
	moves := make([]LegalMove, 0, GridSize)

	for _, p := range s.Pieces[seat] {
		if p.Position.Zone != ZoneBase {
			continue
		}
		for cell, owner := range board {
			if owner < 0 {
				moves = append(moves, LegalMove{PieceID: p.ID, Destination: Position{Zone: ZoneCell, Index: cell}, Progress: -1})
			}
		}
		return moves
	}

	if s.Variant != VariantMorris {
		return moves
	}
	for _, p := range s.Pieces[seat] {
		if p.Position.Zone != ZoneCell {
			continue
		}
		for cell, owner := range board {
			if owner < 0 && adjacent(p.Position.Index, cell) {
				moves = append(moves, LegalMove{PieceID: p.ID, Destination: Position{Zone: ZoneCell, Index: cell}, Progress: p.Position.Index})
			}
		}
	}
	return moves
}

func executeGridMove(s *Session, seat int, move LegalMove, ev *TurnEvent) {
	pieces := s.Pieces[seat]
	for i := range pieces {
		if pieces[i].ID != move.PieceID {
			continue
		}
		from := pieces[i].Position
		if from.Zone == ZoneCell {
			ev.Kind = "slide"
			ev.From = &from
			s.Slides++
		} else {
			ev.Kind = "place"
		}
		pieces[i].Position = move.Destination
		break
	}
	to := move.Destination
	ev.To = &to
}

// gridDraw reports a finished game without a winner.
func gridDraw(s *Session) bool {
	board := Board(s)
	for seat := range s.Seats {
		if hasLine(board, seat) {
			return false
		}
	}
	if s.Variant == VariantTicTacToe {
		return boardFull(board)
	}
	if s.Slides >= MorrisSlideLimit {
		return true
	}
	for seat := range s.Seats {
		if len(gridLegalMoves(s, seat)) > 0 {
			return false
		}
	}
	return true
}
