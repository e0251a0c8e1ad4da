// Package rules adapts a chess library to the arena's rules oracle.
package rules

import (
	"botarena/internal/arena/model"
)

// Oracle creates games from serialized positions.
type Oracle interface {
	// NewGame starts a game at position; "" means the standard initial position.
	NewGame(position string) (Game, error)
	// Validate reports whether position parses.
	Validate(position string) error
}

// Game is a position plus the history needed to judge repetition.
type Game interface {
	SideToMove() model.Side
	// Apply plays token for the side to move and returns its canonical notation.
	Apply(token string) (string, error)

	IsStalemate() bool
	IsInsufficientMaterial() bool
	IsThreefoldRepetition() bool
	IsFiftyMoveDraw() bool
	IsCheckmate() bool
	IsGameOver() bool

	Serialize() string
}

// Classify maps a finished game to a result from the mover's point of view.
// The checks run in a fixed order; the first match wins.
func Classify(g Game, mover model.Side) (model.Result, bool) {
	if !g.IsGameOver() {
		return model.Result{}, false
	}
	switch {
	case g.IsStalemate():
		return model.Result{Winner: model.WinnerDraw, Reason: "Stalemate", Rated: true}, true
	case g.IsInsufficientMaterial():
		return model.Result{Winner: model.WinnerDraw, Reason: "Insufficient Material", Rated: true}, true
	case g.IsThreefoldRepetition():
		return model.Result{Winner: model.WinnerDraw, Reason: "Threefold Repetition", Rated: true}, true
	case g.IsFiftyMoveDraw():
		return model.Result{Winner: model.WinnerDraw, Reason: "50 move rule", Rated: true}, true
	case g.IsCheckmate():
		return model.Result{Winner: model.WinnerFor(mover), Reason: "Checkmate", Rated: true}, true
	default:
		return model.Result{Winner: model.WinnerDraw, Reason: "Unknown"}, true
	}
}
