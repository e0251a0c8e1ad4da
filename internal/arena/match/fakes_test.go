package match

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"botarena/internal/arena/events"
	"botarena/internal/arena/liveboard"
	"botarena/internal/arena/model"
	"botarena/internal/arena/repository"
	"botarena/internal/arena/sandbox"
	appErr "botarena/pkg/errors"
)

// memStore is an in-memory Gateway. failOn makes the named operation fail.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	bots     map[int64]*model.Bot
	matches  map[int64]*model.Match
	moves    map[int64][]model.MoveRecord
	ratings  []model.RatingEvent
	finalize int
	failOn   map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		bots:    make(map[int64]*model.Bot),
		matches: make(map[int64]*model.Match),
		moves:   make(map[int64][]model.MoveRecord),
		failOn:  make(map[string]error),
	}
}

func (s *memStore) fail(op string) error {
	return s.failOn[op]
}

func (s *memStore) addBot(name string, rating float64) model.EligibleBot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.bots[id] = &model.Bot{ID: id, Name: name, Hash: name}
	s.ratings = append(s.ratings, model.RatingEvent{BotID: id, Delta: rating})
	return model.EligibleBot{ID: id, Hash: name, Rating: rating}
}

func (s *memStore) CreateMatch(_ context.Context, m *model.Match) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateMatch"); err != nil {
		return 0, err
	}
	s.nextID++
	m.ID = s.nextID
	m.CurrentPosition = m.InitialPosition
	cp := *m
	s.matches[m.ID] = &cp
	return m.ID, nil
}

func (s *memStore) UpdateMatchStart(_ context.Context, id int64, started time.Time, position string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateMatchStart"); err != nil {
		return err
	}
	m := s.matches[id]
	m.Started = &started
	m.InitialPosition = position
	m.CurrentPosition = position
	return nil
}

func (s *memStore) AppendMove(_ context.Context, rec model.MoveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AppendMove"); err != nil {
		return err
	}
	s.moves[rec.MatchID] = append(s.moves[rec.MatchID], rec)
	return nil
}

func (s *memStore) UpdateCurrentPosition(_ context.Context, id int64, position string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[id].CurrentPosition = position
	return nil
}

func (s *memStore) FinalizeMatch(_ context.Context, id int64, ended time.Time, res model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FinalizeMatch"); err != nil {
		return err
	}
	m := s.matches[id]
	if m.Ended != nil {
		return appErr.New(appErr.MatchAlreadyFinished)
	}
	s.finalize++
	m.Ended = &ended
	m.Winner = res.Winner
	m.Reason = res.Reason
	return nil
}

func (s *memStore) AppendRatingEvent(_ context.Context, ev model.RatingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AppendRatingEvent"); err != nil {
		return err
	}
	s.ratings = append(s.ratings, ev)
	return nil
}

func (s *memStore) GetRating(_ context.Context, botID int64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, ev := range s.ratings {
		if ev.BotID == botID {
			sum += ev.Delta
		}
	}
	return sum, nil
}

func (s *memStore) ListEligibleBots(context.Context) ([]model.EligibleBot, error) {
	return nil, errors.New("not used")
}

func (s *memStore) CreateBot(context.Context, *model.Bot) (int64, error) {
	return 0, errors.New("not used")
}

func (s *memStore) SetPaused(_ context.Context, id int64, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[id].Paused = paused
	return nil
}

func (s *memStore) GetBot(_ context.Context, id int64) (*model.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, appErr.NotFoundError(appErr.BotNotFound, "bot", id)
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) GetMatch(_ context.Context, id int64) (*model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.matches[id]
	return &cp, nil
}

func (s *memStore) ListMoves(_ context.Context, id int64) ([]model.MoveRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.MoveRecord(nil), s.moves[id]...), nil
}

// WithinTx applies fn directly and rolls back rating events on failure.
func (s *memStore) WithinTx(_ context.Context, fn func(repository.Gateway) error) error {
	s.mu.Lock()
	ratings := len(s.ratings)
	finalizeCount := s.finalize
	var snapshot map[int64]model.Match
	snapshot = make(map[int64]model.Match, len(s.matches))
	for id, m := range s.matches {
		snapshot[id] = *m
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.ratings = s.ratings[:ratings]
		s.finalize = finalizeCount
		for id, m := range snapshot {
			cp := m
			s.matches[id] = &cp
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) matchEvents(matchID int64) []model.RatingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RatingEvent
	for _, ev := range s.ratings {
		if ev.MatchID != nil && *ev.MatchID == matchID {
			out = append(out, ev)
		}
	}
	return out
}

type mapArtifacts map[string]string

func (a mapArtifacts) Open(_ context.Context, name string) (io.ReadCloser, error) {
	data, ok := a[name]
	if !ok {
		return nil, appErr.NotFoundError(appErr.ArtifactNotFound, "artifact", name)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

// botFunc answers one prompt. Returning ok=false makes the bot exit.
type botFunc func(turn int, position string) (reply string, ok bool)

// scriptedLauncher runs a botFunc per artifact hash instead of a real process.
type scriptedLauncher struct {
	bots     map[string]botFunc
	failHash string
	// unprompted is written by a bot as soon as it starts.
	unprompted map[string]string

	mu    sync.Mutex
	procs []*fakeProcess
}

func (l *scriptedLauncher) Mode() sandbox.IsolationMode { return sandbox.ModeUnconfined }

func (l *scriptedLauncher) Launch(_ context.Context, spec sandbox.Spec) (sandbox.Process, error) {
	if spec.Hash == l.failHash {
		return nil, appErr.New(appErr.SandboxStartFailed)
	}
	p := newFakeProcess(l.bots[spec.Hash], l.unprompted[spec.Hash])
	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	return p, nil
}

func (l *scriptedLauncher) all() []*fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeProcess(nil), l.procs...)
}

type fakeProcess struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	terminated atomic.Int32
	released   atomic.Int32
}

func newFakeProcess(bot botFunc, unprompted string) *fakeProcess {
	p := &fakeProcess{}
	p.inR, p.inW = io.Pipe()
	p.outR, p.outW = io.Pipe()
	go p.serve(bot, unprompted)
	return p
}

func (p *fakeProcess) serve(bot botFunc, unprompted string) {
	defer p.outW.Close()
	if unprompted != "" {
		if _, err := io.WriteString(p.outW, unprompted); err != nil {
			return
		}
	}
	r := bufio.NewReader(p.inR)
	for turn := 0; ; turn++ {
		position, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		if bot == nil {
			return
		}
		reply, ok := bot(turn, strings.TrimSpace(position))
		if !ok {
			return
		}
		if _, err := io.WriteString(p.outW, reply); err != nil {
			return
		}
	}
}

func (p *fakeProcess) Stdin() io.Writer  { return p.inW }
func (p *fakeProcess) Stdout() io.Reader { return p.outR }
func (p *fakeProcess) Pid() int          { return 1 }

func (p *fakeProcess) Terminate(context.Context) error {
	p.terminated.Add(1)
	_ = p.inR.CloseWithError(io.ErrClosedPipe)
	_ = p.outW.Close()
	_ = p.outR.Close()
	return nil
}

func (p *fakeProcess) Release(context.Context) error {
	p.released.Add(1)
	return nil
}

type recordingBoard struct {
	mu        sync.Mutex
	snapshots []liveboard.Snapshot
	removed   []int64
}

func (b *recordingBoard) Publish(_ context.Context, snap liveboard.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, snap)
	return nil
}

func (b *recordingBoard) Remove(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, id)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.MatchFinished
}

func (e *recordingEvents) PublishMatchFinished(_ context.Context, ev events.MatchFinished) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

// playMoves answers each prompt with the next move of a fixed list.
func playMoves(moves ...string) botFunc {
	return func(turn int, _ string) (string, bool) {
		if turn >= len(moves) {
			return "", false
		}
		return moves[turn] + "\n", true
	}
}
