package rating

import (
	"context"
	"errors"
	"math"
	"testing"

	"botarena/internal/arena/model"
)

type memStore struct {
	events []model.RatingEvent
	failAt int
}

func (s *memStore) GetRating(_ context.Context, botID int64) (float64, error) {
	var sum float64
	for _, ev := range s.events {
		if ev.BotID == botID {
			sum += ev.Delta
		}
	}
	return sum, nil
}

func (s *memStore) AppendRatingEvent(_ context.Context, ev model.RatingEvent) error {
	if s.failAt > 0 && len(s.events)+1 == s.failAt {
		return errors.New("write failed")
	}
	s.events = append(s.events, ev)
	return nil
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestExpected(t *testing.T) {
	t.Parallel()
	if got := Expected(1200, 1200); !almost(got, 0.5) {
		t.Fatalf("expected 0.5, got %f", got)
	}
	if got := Expected(1400, 1000); math.Abs(got-0.909) > 0.001 {
		t.Fatalf("expected ~0.909, got %f", got)
	}
}

func TestDeltas(t *testing.T) {
	t.Parallel()
	l := NewLedger()
	tests := []struct {
		name   string
		rw, rb float64
		winner model.Winner
		wantW  float64
	}{
		{"equal white wins", 1200, 1200, model.WinnerWhite, 16},
		{"equal black wins", 1200, 1200, model.WinnerBlack, -16},
		{"equal draw", 1200, 1200, model.WinnerDraw, 0},
		{"favourite draws", 1400, 1000, model.WinnerDraw, 32 * (0.5 - Expected(1400, 1000))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dw, db, err := l.Deltas(tt.rw, tt.rb, tt.winner)
			if err != nil {
				t.Fatalf("deltas: %v", err)
			}
			if !almost(dw, tt.wantW) {
				t.Fatalf("expected %f, got %f", tt.wantW, dw)
			}
			if !almost(dw+db, 0) {
				t.Fatalf("deltas must sum to zero, got %f and %f", dw, db)
			}
		})
	}
	if _, _, err := l.Deltas(1000, 1000, ""); err == nil {
		t.Fatalf("expected error for unset winner")
	}
}

func TestSettleAppendsPairedEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLedger()
	store := &memStore{}
	if err := l.Bootstrap(ctx, store, 1); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := l.Bootstrap(ctx, store, 2); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if store.events[0].MatchID != nil || store.events[0].Delta != 1000 {
		t.Fatalf("unexpected bootstrap event %+v", store.events[0])
	}

	s, err := l.Settle(ctx, store, 7, 1, 2, model.WinnerWhite)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !almost(s.WhiteDelta, 16) || !almost(s.BlackDelta, -16) {
		t.Fatalf("unexpected settlement %+v", s)
	}
	if len(store.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(store.events))
	}
	for _, ev := range store.events[2:] {
		if ev.MatchID == nil || *ev.MatchID != 7 {
			t.Fatalf("match event without match id: %+v", ev)
		}
	}
	rw, _ := store.GetRating(ctx, 1)
	rb, _ := store.GetRating(ctx, 2)
	if !almost(rw+rb, 2000) {
		t.Fatalf("rating total must be preserved, got %f", rw+rb)
	}
}

func TestSettlePropagatesStoreErrors(t *testing.T) {
	t.Parallel()
	store := &memStore{failAt: 2}
	if _, err := NewLedger().Settle(context.Background(), store, 1, 1, 2, model.WinnerDraw); err == nil {
		t.Fatalf("expected error")
	}
}
