package protocol

import (
	"context"
	"time"

	"botarena/internal/arena/model"
)

// Outcome is the result of one turn. Its concrete type is one of
// Moved, Crashed, TimedOut, OffTurn or Canceled.
type Outcome interface {
	outcome()
}

// Moved carries a response line received before the deadline.
type Moved struct {
	Side    model.Side
	Token   string
	Elapsed time.Duration
}

// Crashed means the mover's pipes failed before it answered.
type Crashed struct {
	Side model.Side
	Err  error
}

// TimedOut means the deadline fired before a line was seen.
type TimedOut struct {
	Side    model.Side
	Elapsed time.Duration
}

// OffTurn means the waiting side wrote a line.
type OffTurn struct {
	Side model.Side
	Line string
}

// Canceled means ctx ended the turn; nobody is at fault.
type Canceled struct {
	Err error
}

func (Moved) outcome()    {}
func (Crashed) outcome()  {}
func (TimedOut) outcome() {}
func (OffTurn) outcome()  {}
func (Canceled) outcome() {}

// Turn sends prompt to mover and races its answer against budget+grace.
// Any line not answering this prompt is a protocol violation: one already queued
// by either side, or one written by waiting during the turn.
// Once the deadline has passed a received line still counts as a timeout.
func Turn(ctx context.Context, mover, waiting *Session, prompt Prompt, budget, grace time.Duration) Outcome {
	if line, ok := mover.pending(); ok {
		return OffTurn{Side: mover.side, Line: line}
	}
	if waiting != nil {
		if line, ok := waiting.pending(); ok {
			return OffTurn{Side: waiting.side, Line: line}
		}
	}

	limit := budget + grace
	if limit < 0 {
		limit = 0
	}
	start := time.Now()
	timer := time.NewTimer(limit)
	defer timer.Stop()

	writeDone := make(chan error, 1)
	payload := prompt.Encode()
	go func() {
		_, err := mover.stdin.Write(payload)
		writeDone <- err
	}()

	var waitingLines <-chan string
	if waiting != nil {
		waitingLines = waiting.lines
	}
	eof := mover.eof
	for {
		select {
		case line := <-mover.lines:
			elapsed := time.Since(start)
			if elapsed > limit {
				return TimedOut{Side: mover.side, Elapsed: elapsed}
			}
			return Moved{Side: mover.side, Token: line, Elapsed: elapsed}

		case <-timer.C:
			return TimedOut{Side: mover.side, Elapsed: time.Since(start)}

		case err := <-writeDone:
			if err != nil {
				return Crashed{Side: mover.side, Err: err}
			}
			writeDone = nil

		case <-eof:
			// A final line may have been queued just before stdout closed.
			if line, ok := mover.pending(); ok {
				elapsed := time.Since(start)
				if elapsed > limit {
					return TimedOut{Side: mover.side, Elapsed: elapsed}
				}
				return Moved{Side: mover.side, Token: line, Elapsed: elapsed}
			}
			return Crashed{Side: mover.side, Err: mover.Err()}

		case line := <-waitingLines:
			return OffTurn{Side: waiting.side, Line: line}

		case <-ctx.Done():
			return Canceled{Err: ctx.Err()}
		}
	}
}
