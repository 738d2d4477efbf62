// internal/game/board.go
package game

import (
	"strings"

	"github.com/sandreim/tictactoe3/internal/chain"
)

// winningLines enumerates the eight three-in-a-row index triples.
var winningLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// Evaluate derives the outcome from raw board cells. The ledger's lifecycle
// tag is authoritative; this exists for display and for sanity checks in
// tests, not for gameplay decisions.
func Evaluate(board [9]chain.Cell) chain.Outcome {
	for _, line := range winningLines {
		a, b, c := board[line[0]], board[line[1]], board[line[2]]
		if a != chain.CellEmpty && a == b && b == c {
			if a == chain.CellX {
				return chain.OutcomeXWon
			}
			return chain.OutcomeOWon
		}
	}
	for _, cell := range board {
		if cell == chain.CellEmpty {
			return chain.OutcomeInProgress
		}
	}
	return chain.OutcomeDraw
}

// FormatBoard renders a board as three rows of cells, dots for empties.
func FormatBoard(board [9]chain.Cell) string {
	var sb strings.Builder
	for row := 0; row < 3; row++ {
		if row > 0 {
			sb.WriteByte('\n')
		}
		for col := 0; col < 3; col++ {
			cell := board[row*3+col]
			if col > 0 {
				sb.WriteByte(' ')
			}
			if cell == chain.CellEmpty {
				sb.WriteByte('.')
			} else {
				sb.WriteString(cell.String())
			}
		}
	}
	return sb.String()
}

// ParseBoard builds a board from nine tokens, "X"/"O"/anything-else-empty.
// Convenience for tests and fixtures.
func ParseBoard(cells [9]string) [9]chain.Cell {
	var board [9]chain.Cell
	for i, tok := range cells {
		switch tok {
		case "X":
			board[i] = chain.CellX
		case "O":
			board[i] = chain.CellO
		}
	}
	return board
}
