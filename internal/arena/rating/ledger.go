// Package rating keeps Elo ratings as a sum of append-only events.
package rating

import (
	"context"
	"math"

	"botarena/internal/arena/model"
	appErr "botarena/pkg/errors"
)

const (
	DefaultK       = 32.0
	DefaultInitial = 1000.0
)

// Store is the slice of the persistence gateway the ledger writes through.
// Pass a transaction-bound store to settle atomically with the match result.
type Store interface {
	GetRating(ctx context.Context, botID int64) (float64, error)
	AppendRatingEvent(ctx context.Context, event model.RatingEvent) error
}

// Ledger computes and records rating changes.
type Ledger struct {
	K       float64
	Initial float64
}

func NewLedger() *Ledger {
	return &Ledger{K: DefaultK, Initial: DefaultInitial}
}

// Settlement is the outcome of rating one match.
type Settlement struct {
	WhiteBefore float64 `json:"white_before"`
	BlackBefore float64 `json:"black_before"`
	WhiteDelta  float64 `json:"white_delta"`
	BlackDelta  float64 `json:"black_delta"`
}

// Expected is the expected score of white against black.
func Expected(whiteRating, blackRating float64) float64 {
	return 1 / (1 + math.Pow(10, (blackRating-whiteRating)/400))
}

// actualScore is white's score for a winner, false for anything unrated.
func actualScore(w model.Winner) (float64, bool) {
	switch w {
	case model.WinnerWhite:
		return 1, true
	case model.WinnerBlack:
		return 0, true
	case model.WinnerDraw:
		return 0.5, true
	default:
		return 0, false
	}
}

// Deltas returns the white and black rating changes. They always sum to zero.
func (l *Ledger) Deltas(whiteRating, blackRating float64, w model.Winner) (float64, float64, error) {
	actual, ok := actualScore(w)
	if !ok {
		return 0, 0, appErr.Newf(appErr.InvalidValue, "cannot rate winner %q", w)
	}
	dw := l.k() * (actual - Expected(whiteRating, blackRating))
	return dw, -dw, nil
}

// Settle reads both ratings and appends one event per side tagged with matchID.
func (l *Ledger) Settle(ctx context.Context, store Store, matchID, whiteID, blackID int64, w model.Winner) (Settlement, error) {
	rw, err := store.GetRating(ctx, whiteID)
	if err != nil {
		return Settlement{}, err
	}
	rb, err := store.GetRating(ctx, blackID)
	if err != nil {
		return Settlement{}, err
	}
	dw, db, err := l.Deltas(rw, rb, w)
	if err != nil {
		return Settlement{}, err
	}
	id := matchID
	if err := store.AppendRatingEvent(ctx, model.RatingEvent{MatchID: &id, BotID: whiteID, Delta: dw}); err != nil {
		return Settlement{}, err
	}
	if err := store.AppendRatingEvent(ctx, model.RatingEvent{MatchID: &id, BotID: blackID, Delta: db}); err != nil {
		return Settlement{}, err
	}
	return Settlement{WhiteBefore: rw, BlackBefore: rb, WhiteDelta: dw, BlackDelta: db}, nil
}

// Bootstrap grants a new bot its starting rating as a match-less event.
func (l *Ledger) Bootstrap(ctx context.Context, store Store, botID int64) error {
	initial := l.Initial
	if initial == 0 {
		initial = DefaultInitial
	}
	return store.AppendRatingEvent(ctx, model.RatingEvent{BotID: botID, Delta: initial})
}

func (l *Ledger) k() float64 {
	if l == nil || l.K == 0 {
		return DefaultK
	}
	return l.K
}
