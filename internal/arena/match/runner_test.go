package match

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"botarena/internal/arena/model"
	"botarena/internal/arena/rating"
	"botarena/internal/arena/rules"
	"botarena/internal/arena/sandbox"
	appErr "botarena/pkg/errors"
)

type harness struct {
	store    *memStore
	launcher *scriptedLauncher
	board    *recordingBoard
	events   *recordingEvents
	root     string
	runner   *Runner
	pairing  model.Pairing
}

func newHarness(t *testing.T, cfg Config, white, black botFunc) *harness {
	t.Helper()
	h := &harness{
		store:  newMemStore(),
		board:  &recordingBoard{},
		events: &recordingEvents{},
		root:   t.TempDir(),
	}
	h.pairing = model.Pairing{White: h.store.addBot("white", 1200), Black: h.store.addBot("black", 1200)}
	h.launcher = &scriptedLauncher{
		bots:       map[string]botFunc{"white": white, "black": black},
		unprompted: map[string]string{},
	}
	cfg.Workspace.Root = h.root
	runner, err := NewRunner(cfg, Deps{
		Store:     h.store,
		Oracle:    rules.NewChessOracle(),
		Launcher:  h.launcher,
		Artifacts: mapArtifacts{"white": "w-bin", "black": "b-bin"},
		Board:     h.board,
		Events:    h.events,
		Rand:      rand.New(rand.NewPCG(1, 2)),
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	h.runner = runner
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context) (Report, error) {
	t.Helper()
	done := make(chan struct{})
	var (
		report Report
		err    error
	)
	go func() {
		defer close(done)
		report, err = h.runner.Run(ctx, h.pairing)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("match did not finish")
	}
	return report, err
}

// assertTornDown checks that no process, workspace or live entry outlives the match.
func (h *harness) assertTornDown(t *testing.T, wantProcs int) {
	t.Helper()
	procs := h.launcher.all()
	if len(procs) != wantProcs {
		t.Fatalf("expected %d processes, got %d", wantProcs, len(procs))
	}
	for i, p := range procs {
		if p.terminated.Load() != 1 || p.released.Load() != 1 {
			t.Fatalf("process %d: terminated=%d released=%d", i, p.terminated.Load(), p.released.Load())
		}
	}
	entries, err := os.ReadDir(h.root)
	if err != nil {
		t.Fatalf("read workspace root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("workspace left behind: %d entries", len(entries))
	}
	if h.store.finalize != 1 {
		t.Fatalf("expected %d, got %d", 1, h.store.finalize)
	}
}

func TestCheckmateSettlesRatings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, playMoves("f2f3", "g2g4"), playMoves("e7e5", "d8h4"))

	report, err := h.run(t, context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Result.Winner != model.WinnerBlack || report.Result.Reason != "Checkmate" {
		t.Fatalf("unexpected result %+v", report.Result)
	}
	if report.Plies != 4 {
		t.Fatalf("expected %d, got %d", 4, report.Plies)
	}
	h.assertTornDown(t, 2)

	evs := h.store.matchEvents(report.MatchID)
	if len(evs) != 2 {
		t.Fatalf("expected %d, got %d", 2, len(evs))
	}
	if evs[0].Delta+evs[1].Delta != 0 {
		t.Fatalf("rating deltas are not zero-sum: %v %v", evs[0].Delta, evs[1].Delta)
	}
	if math.Abs(report.Settlement.BlackDelta-16) > 1e-9 {
		t.Fatalf("expected black +16, got %v", report.Settlement.BlackDelta)
	}

	moves, _ := h.store.ListMoves(context.Background(), report.MatchID)
	stored, _ := h.store.GetMatch(context.Background(), report.MatchID)
	replay, err := rules.NewChessOracle().NewGame(stored.InitialPosition)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	for i, mv := range moves {
		if mv.Ply != i+1 {
			t.Fatalf("expected ply %d, got %d", i+1, mv.Ply)
		}
		if _, err := replay.Apply(mv.Move); err != nil {
			t.Fatalf("replay %s: %v", mv.Move, err)
		}
	}
	if replay.Serialize() != stored.CurrentPosition {
		t.Fatalf("replayed %q, stored %q", replay.Serialize(), stored.CurrentPosition)
	}
	if moves[0].Move != "f3" || moves[0].Side != model.White || moves[3].Side != model.Black {
		t.Fatalf("unexpected move records %+v", moves)
	}

	if len(h.board.snapshots) != 4 || h.board.snapshots[3].Ply != 4 {
		t.Fatalf("expected a snapshot per move, got %d", len(h.board.snapshots))
	}
	if len(h.board.removed) != 1 {
		t.Fatalf("expected live board entry removed")
	}
	if len(h.events.events) != 1 || h.events.events[0].Reason != "Checkmate" || h.events.events[0].BlackDelta <= 0 {
		t.Fatalf("unexpected events %+v", h.events.events)
	}
}

func TestLosses(t *testing.T) {
	t.Parallel()
	never := make(chan struct{})
	t.Cleanup(func() { close(never) })

	tests := []struct {
		name       string
		cfg        Config
		white      botFunc
		black      botFunc
		unprompted string
		want       model.Result
		noMoves    bool
	}{
		{
			name:  "illegal move",
			white: playMoves("e2e5"),
			black: playMoves(),
			want:  model.Result{Winner: model.WinnerBlack, Reason: "White made an illegal move: e2e5", Rated: true},
		},
		{
			name:  "crash",
			white: nil,
			black: playMoves(),
			want:  model.Result{Winner: model.WinnerBlack, Reason: "White kicked to bucket early (crashed)", Rated: true},
		},
		{
			name:  "black crash after reply",
			white: playMoves("e2e4", "d2d4"),
			black: playMoves(),
			want:  model.Result{Winner: model.WinnerWhite, Reason: "Black kicked to bucket early (crashed)", Rated: true},
		},
		{
			name: "timeout",
			cfg:  Config{InitialTime: 80 * time.Millisecond},
			white: func(int, string) (string, bool) {
				time.Sleep(300 * time.Millisecond)
				return "e2e4\n", true
			},
			black: playMoves(),
			want:  model.Result{Winner: model.WinnerBlack, Reason: "White timed out", Rated: true},
		},
		{
			name: "reply inside grace but over budget",
			cfg:  Config{InitialTime: 40 * time.Millisecond, Grace: 300 * time.Millisecond},
			white: func(int, string) (string, bool) {
				time.Sleep(120 * time.Millisecond)
				return "e2e4\n", true
			},
			black:   playMoves(),
			want:    model.Result{Winner: model.WinnerBlack, Reason: "White timed out", Rated: true},
			noMoves: true,
		},
		{
			name: "blocked bot times out",
			cfg:  Config{InitialTime: 50 * time.Millisecond},
			white: func(int, string) (string, bool) {
				<-never
				return "", false
			},
			black: playMoves(),
			want:  model.Result{Winner: model.WinnerBlack, Reason: "White timed out", Rated: true},
		},
		{
			name:       "out of turn",
			white:      func(int, string) (string, bool) { <-never; return "", false },
			black:      playMoves("e7e5"),
			unprompted: "e7e5\n",
			want:       model.Result{Winner: model.WinnerWhite, Reason: "Black responded out of turn", Rated: true},
		},
		{
			name:  "impossible promotion",
			white: playMoves("e2e4", "e4e5"),
			black: playMoves("h7h5", "e7e8q"),
			want:  model.Result{Winner: model.WinnerWhite, Reason: "Black made an illegal move: e7e8q", Rated: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tt.cfg, tt.white, tt.black)
			if tt.unprompted != "" {
				h.launcher.unprompted["black"] = tt.unprompted
			}
			report, err := h.run(t, context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if report.Result != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, report.Result)
			}
			h.assertTornDown(t, 2)
			if tt.noMoves && report.Plies != 0 {
				t.Fatalf("expected the late move to be discarded, got %d plies", report.Plies)
			}
			if evs := h.store.matchEvents(report.MatchID); len(evs) != 2 || evs[0].Delta+evs[1].Delta != 0 {
				t.Fatalf("expected zero-sum rating events, got %+v", evs)
			}
		})
	}
}

func TestPreparationFailuresAbortUnrated(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantProcs int
		want      string
	}{
		{
			name:      "launch failure",
			setup:     func(h *harness) { h.launcher.failHash = "black" },
			wantProcs: 1,
			want:      "Aborted: Black failed to start",
		},
		{
			name: "missing artifact",
			setup: func(h *harness) {
				h.runner.deps.Artifacts = mapArtifacts{"white": "w-bin"}
			},
			want: "Aborted: artifact not found",
		},
		{
			name:  "bad opening",
			setup: func(h *harness) { h.runner.deps.Book = rules.NewOpeningBook("not a position") },
			want:  "Aborted: invalid starting position",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{}, playMoves("e2e4"), playMoves("e7e5"))
			tt.setup(h)
			report, err := h.run(t, context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if report.Result.Reason != tt.want || report.Result.Rated || report.Result.Winner != model.WinnerDraw {
				t.Fatalf("unexpected result %+v", report.Result)
			}
			h.assertTornDown(t, tt.wantProcs)
			if evs := h.store.matchEvents(report.MatchID); len(evs) != 0 {
				t.Fatalf("aborted match must not be rated, got %+v", evs)
			}
			stored, _ := h.store.GetMatch(context.Background(), report.MatchID)
			if stored.Reason != tt.want {
				t.Fatalf("expected stored reason %q, got %q", tt.want, stored.Reason)
			}
		})
	}
}

func TestPersistenceFailureAbortsMatch(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk on fire")
	tests := []struct {
		name string
		op   string
	}{
		{"match start", "UpdateMatchStart"},
		{"move append", "AppendMove"},
		{"rating write", "AppendRatingEvent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, Config{}, playMoves("f2f3", "g2g4"), playMoves("e7e5", "d8h4"))
			h.store.failOn[tt.op] = boom

			report, err := h.run(t, context.Background())
			if !errors.Is(err, boom) {
				t.Fatalf("expected persistence error, got %v", err)
			}
			if report.Result != abortedPersistence {
				t.Fatalf("unexpected result %+v", report.Result)
			}
			stored, _ := h.store.GetMatch(context.Background(), report.MatchID)
			if stored.Reason != "Aborted: persistence failure" || stored.Winner != model.WinnerDraw {
				t.Fatalf("unexpected stored match %+v", stored)
			}
			if evs := h.store.matchEvents(report.MatchID); len(evs) != 0 {
				t.Fatalf("expected no rating events, got %+v", evs)
			}
			h.assertTornDown(t, 2)
			h.events.mu.Lock()
			announced := len(h.events.events)
			h.events.mu.Unlock()
			if announced != 0 {
				t.Fatalf("expected no match-finished event, got %d", announced)
			}
		})
	}
}

func TestCancellationAbortsAndStillFinalizes(t *testing.T) {
	t.Parallel()
	never := make(chan struct{})
	t.Cleanup(func() { close(never) })
	h := newHarness(t, Config{}, func(int, string) (string, bool) { <-never; return "", false }, playMoves())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	report, err := h.run(t, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Result.Reason != "Aborted: context canceled" || report.Result.Rated {
		t.Fatalf("unexpected result %+v", report.Result)
	}
	h.assertTornDown(t, 2)
}

func TestCreateMatchFailureIsReturned(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, playMoves(), playMoves())
	h.store.failOn["CreateMatch"] = errors.New("no connection")
	if _, err := h.run(t, context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if len(h.launcher.all()) != 0 {
		t.Fatalf("no process may start without a match record")
	}
}

func TestFinalizeRunsOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, playMoves(), playMoves())
	m := &model.Match{WhiteID: 1, BlackID: 2, InitialPosition: rules.StandardStart}
	if _, err := h.store.CreateMatch(context.Background(), m); err != nil {
		t.Fatalf("create: %v", err)
	}
	run := newMatchRun(h.runner, m, h.pairing)
	first, err := run.finalize(context.Background(), crashed(model.White))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	second, err := run.finalize(context.Background(), timedOut(model.Black))
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if first.Result != second.Result || h.store.finalize != 1 {
		t.Fatalf("terminal state changed: %+v vs %+v", first.Result, second.Result)
	}
}

func TestPairingFor(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil, nil)
	ctx := context.Background()

	p, err := h.runner.PairingFor(ctx, h.pairing.White.ID, h.pairing.Black.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.White.Hash != "white" || p.Black.Rating != 1200 {
		t.Fatalf("unexpected pairing %+v", p)
	}
	_ = h.store.SetPaused(ctx, h.pairing.Black.ID, true)
	if _, err := h.runner.PairingFor(ctx, h.pairing.White.ID, h.pairing.Black.ID); !appErr.Is(err, appErr.BotPaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if _, err := h.runner.PairingFor(ctx, 404, h.pairing.Black.ID); !appErr.Is(err, appErr.BotNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewRunnerRequiresDeps(t *testing.T) {
	t.Parallel()
	if _, err := NewRunner(Config{}, Deps{}); err == nil {
		t.Fatalf("expected error")
	}
	r, err := NewRunner(Config{}, Deps{
		Store:     newMemStore(),
		Oracle:    rules.NewChessOracle(),
		Launcher:  &scriptedLauncher{},
		Artifacts: mapArtifacts{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.cfg.InitialTime != DefaultInitialTime || r.deps.Ledger.K != rating.DefaultK {
		t.Fatalf("defaults not applied: %+v", r.cfg)
	}
	var _ sandbox.Launcher = r.deps.Launcher
}
