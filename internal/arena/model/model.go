package model

import "time"

// Side is the color a bot plays.
type Side string

const (
	White Side = "w"
	Black Side = "b"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

// Name is the capitalized label used in match reasons.
func (s Side) Name() string {
	if s == White {
		return "White"
	}
	return "Black"
}

// Valid reports whether s is White or Black.
func (s Side) Valid() bool {
	return s == White || s == Black
}

// Winner is the stored result of a finished match.
type Winner string

const (
	WinnerWhite Winner = "w"
	WinnerBlack Winner = "b"
	WinnerDraw  Winner = "d"
)

// WinnerFor returns the winner value meaning "side won".
func WinnerFor(side Side) Winner {
	return Winner(side)
}

// Bot is a registered participant backed by a compiled artifact.
type Bot struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	Paused    bool      `json:"paused"`
	CreatedAt time.Time `json:"created_at"`
}

// EligibleBot is the matchmaker's view of a non-paused bot.
type EligibleBot struct {
	ID          int64
	Hash        string
	Rating      float64
	GamesPlayed int
}

// Match is the persisted record of one game.
type Match struct {
	ID              int64      `json:"id"`
	WhiteID         int64      `json:"white_id"`
	BlackID         int64      `json:"black_id"`
	InitialTimeMS   int64      `json:"initial_time_ms"`
	InitialPosition string     `json:"initial_position"`
	CurrentPosition string     `json:"current_position"`
	Started         *time.Time `json:"started,omitempty"`
	Ended           *time.Time `json:"ended,omitempty"`
	Winner          Winner     `json:"winner,omitempty"`
	Reason          string     `json:"reason,omitempty"`
}

// Finished reports whether the match has reached a terminal state.
func (m *Match) Finished() bool {
	return m.Ended != nil
}

// MoveRecord is one accepted move, ordered by Ply within a match.
type MoveRecord struct {
	MatchID   int64  `json:"match_id"`
	Ply       int    `json:"ply"`
	Move      string `json:"move"`
	Side      Side   `json:"side"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// RatingEvent is a signed rating change. MatchID is nil for the bootstrap grant.
type RatingEvent struct {
	MatchID *int64  `json:"match_id,omitempty"`
	BotID   int64   `json:"bot_id"`
	Delta   float64 `json:"delta"`
}

// Pairing is a matchmaker decision with sides already assigned.
type Pairing struct {
	White EligibleBot
	Black EligibleBot
}

// Result is the terminal adjudication of a match.
type Result struct {
	Winner Winner `json:"winner"`
	Reason string `json:"reason"`
	// Rated is false for aborted or unknown outcomes.
	Rated bool `json:"rated"`
}
