package protocol

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"botarena/internal/arena/model"
)

// fakeBot wires a Session to in-memory pipes and exposes the bot's ends.
type fakeBot struct {
	session *Session
	prompts *bufio.Reader
	out     *io.PipeWriter
	in      *io.PipeReader
}

func newFakeBot(t *testing.T, side model.Side, maxLine int) *fakeBot {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	s := NewSession(side, inW, outR, maxLine)
	t.Cleanup(func() {
		s.Close()
		_ = inR.Close()
		_ = outW.Close()
	})
	return &fakeBot{session: s, prompts: bufio.NewReader(inR), out: outW, in: inR}
}

// answer reads one prompt (two lines) and writes reply after delay.
func (b *fakeBot) answer(t *testing.T, reply string, delay time.Duration) <-chan []string {
	t.Helper()
	got := make(chan []string, 1)
	go func() {
		l1, _ := b.prompts.ReadString('\n')
		l2, _ := b.prompts.ReadString('\n')
		got <- []string{l1, l2}
		time.Sleep(delay)
		_, _ = io.WriteString(b.out, reply)
	}()
	return got
}

var testPrompt = Prompt{Position: "startpos", MineMS: 1000, TheirsMS: 900, InitialMS: 60000}

func TestPromptEncode(t *testing.T) {
	t.Parallel()
	got := string(testPrompt.Encode())
	if got != "startpos\n1000 900 60000\n" {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestTurnMoved(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	black := newFakeBot(t, model.Black, 0)
	prompt := white.answer(t, "e2e4\r\n", 0)

	out := Turn(context.Background(), white.session, black.session, testPrompt, time.Second, 0)
	moved, ok := out.(Moved)
	if !ok {
		t.Fatalf("expected Moved, got %#v", out)
	}
	if moved.Token != "e2e4" || moved.Side != model.White {
		t.Fatalf("unexpected move %+v", moved)
	}
	lines := <-prompt
	if lines[0] != "startpos\n" || lines[1] != "1000 900 60000\n" {
		t.Fatalf("unexpected prompt lines %q", lines)
	}
}

func TestTurnBuffersFragments(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	go func() {
		_, _ = white.prompts.ReadString('\n')
		_, _ = white.prompts.ReadString('\n')
		_, _ = io.WriteString(white.out, "e7")
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(white.out, "e8q\n")
	}()
	out := Turn(context.Background(), white.session, nil, testPrompt, time.Second, 0)
	if moved, ok := out.(Moved); !ok || moved.Token != "e7e8q" {
		t.Fatalf("expected reassembled move, got %#v", out)
	}
}

func TestTurnTimesOutAndIgnoresLateLine(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	white.answer(t, "e2e4\n", 200*time.Millisecond)

	start := time.Now()
	out := Turn(context.Background(), white.session, nil, testPrompt, 30*time.Millisecond, 0)
	if _, ok := out.(TimedOut); !ok {
		t.Fatalf("expected TimedOut, got %#v", out)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("timeout fired too late: %v", time.Since(start))
	}
}

func TestTurnLineAfterDeadlineIsTimeout(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	white.answer(t, "e2e4\n", 0)
	// A negative budget with no grace means the deadline has already passed.
	out := Turn(context.Background(), white.session, nil, testPrompt, -time.Millisecond, 0)
	if _, ok := out.(TimedOut); !ok {
		t.Fatalf("expected TimedOut, got %#v", out)
	}
}

func TestTurnCrashedOnExit(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	go func() {
		_, _ = white.prompts.ReadString('\n')
		_ = white.out.Close()
	}()
	out := Turn(context.Background(), white.session, nil, testPrompt, time.Second, 0)
	crashed, ok := out.(Crashed)
	if !ok {
		t.Fatalf("expected Crashed, got %#v", out)
	}
	if !errors.Is(crashed.Err, io.EOF) {
		t.Fatalf("expected EOF cause, got %v", crashed.Err)
	}
}

func TestTurnCrashedOnWriteFailure(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	_ = white.in.CloseWithError(errors.New("broken pipe"))
	out := Turn(context.Background(), white.session, nil, testPrompt, time.Second, 0)
	if _, ok := out.(Crashed); !ok {
		t.Fatalf("expected Crashed, got %#v", out)
	}
}

func TestTurnFinalLineBeforeExitCounts(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	go func() {
		_, _ = white.prompts.ReadString('\n')
		_, _ = white.prompts.ReadString('\n')
		_, _ = io.WriteString(white.out, "e2e4\n")
		_ = white.out.Close()
	}()
	out := Turn(context.Background(), white.session, nil, testPrompt, time.Second, 0)
	if moved, ok := out.(Moved); !ok || moved.Token != "e2e4" {
		t.Fatalf("expected Moved, got %#v", out)
	}
}

func TestTurnPartialLineAtExitIsCrash(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	go func() {
		_, _ = white.prompts.ReadString('\n')
		_, _ = io.WriteString(white.out, "e2e4")
		_ = white.out.Close()
	}()
	out := Turn(context.Background(), white.session, nil, testPrompt, time.Second, 0)
	if _, ok := out.(Crashed); !ok {
		t.Fatalf("expected Crashed, got %#v", out)
	}
}

func TestTurnLineTooLong(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 16)
	white.answer(t, strings.Repeat("x", 64)+"\n", 0)
	out := Turn(context.Background(), white.session, nil, testPrompt, time.Second, 0)
	crashed, ok := out.(Crashed)
	if !ok || !errors.Is(crashed.Err, ErrLineTooLong) {
		t.Fatalf("expected line-too-long crash, got %#v", out)
	}
}

func TestTurnOffTurnLine(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	black := newFakeBot(t, model.Black, 0)
	go func() {
		_, _ = io.WriteString(black.out, "e7e5\n")
	}()
	// White never answers; black speaks out of turn.
	out := Turn(context.Background(), white.session, black.session, testPrompt, time.Second, 0)
	off, ok := out.(OffTurn)
	if !ok || off.Side != model.Black || off.Line != "e7e5" {
		t.Fatalf("expected black OffTurn, got %#v", out)
	}
}

func TestTurnQueuedLineFromMoverIsOffTurn(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	_, _ = io.WriteString(white.out, "e2e4\n")
	deadline := time.Now().Add(time.Second)
	for len(white.session.lines) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	out := Turn(context.Background(), white.session, nil, testPrompt, time.Second, 0)
	if off, ok := out.(OffTurn); !ok || off.Side != model.White {
		t.Fatalf("expected white OffTurn, got %#v", out)
	}
}

func TestTurnCanceled(t *testing.T) {
	t.Parallel()
	white := newFakeBot(t, model.White, 0)
	go func() { _, _ = io.Copy(io.Discard, white.prompts) }()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := Turn(ctx, white.session, nil, testPrompt, time.Second, 0)
	if _, ok := out.(Canceled); !ok {
		t.Fatalf("expected Canceled, got %#v", out)
	}
}
