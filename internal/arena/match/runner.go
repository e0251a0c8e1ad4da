// Package match runs one game between two sandboxed bots from creation to a single terminal result.
package match

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"botarena/internal/arena/events"
	"botarena/internal/arena/liveboard"
	"botarena/internal/arena/metrics"
	"botarena/internal/arena/model"
	"botarena/internal/arena/rating"
	"botarena/internal/arena/repository"
	"botarena/internal/arena/rules"
	"botarena/internal/arena/sandbox"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/contextkey"
	"botarena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultInitialTime    = 60 * time.Second
	defaultPersistTimeout = 10 * time.Second
)

// Config holds per-match settings.
type Config struct {
	InitialTime time.Duration `yaml:"initialTime"`
	// Grace is added to the mover's remaining time when arming the turn deadline.
	Grace   time.Duration `yaml:"grace"`
	MaxLine int           `yaml:"maxLine"`
	// PersistTimeout bounds the terminal write, which runs even after cancellation.
	PersistTimeout time.Duration           `yaml:"persistTimeout"`
	Workspace      sandbox.WorkspaceConfig `yaml:"workspace"`
}

// LiveBoard receives position snapshots while a match runs.
type LiveBoard interface {
	Publish(ctx context.Context, snap liveboard.Snapshot) error
	Remove(ctx context.Context, matchID int64) error
}

// Deps are the collaborators of a Runner. Board, Events and Metrics are optional.
type Deps struct {
	Store     repository.Gateway
	Oracle    rules.Oracle
	Launcher  sandbox.Launcher
	Artifacts sandbox.ArtifactSource
	Ledger    *rating.Ledger
	Book      *rules.OpeningBook
	Board     LiveBoard
	Events    events.Publisher
	Metrics   *metrics.Recorder
	Rand      *rand.Rand
	Now       func() time.Time
}

// Runner plays matches. It is safe for concurrent use; each Run owns its match.
type Runner struct {
	cfg  Config
	deps Deps

	randMu sync.Mutex
}

// Report summarizes a finished match.
type Report struct {
	MatchID    int64
	WhiteID    int64
	BlackID    int64
	Result     model.Result
	Plies      int
	Settlement *rating.Settlement
}

func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("rules oracle is required")
	}
	if deps.Launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if deps.Artifacts == nil {
		return nil, fmt.Errorf("artifact source is required")
	}
	if deps.Ledger == nil {
		deps.Ledger = rating.NewLedger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		deps.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if cfg.InitialTime <= 0 {
		cfg.InitialTime = DefaultInitialTime
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return &Runner{cfg: cfg, deps: deps}, nil
}

// PairingFor builds a pairing for two named bots, refusing paused ones.
func (r *Runner) PairingFor(ctx context.Context, whiteID, blackID int64) (model.Pairing, error) {
	var p model.Pairing
	for _, side := range []struct {
		id  int64
		out *model.EligibleBot
	}{{whiteID, &p.White}, {blackID, &p.Black}} {
		bot, err := r.deps.Store.GetBot(ctx, side.id)
		if err != nil {
			return model.Pairing{}, err
		}
		if bot.Paused {
			return model.Pairing{}, appErr.Newf(appErr.BotPaused, "bot %d is paused", bot.ID)
		}
		rt, err := r.deps.Store.GetRating(ctx, bot.ID)
		if err != nil {
			return model.Pairing{}, err
		}
		*side.out = model.EligibleBot{ID: bot.ID, Hash: bot.Hash, Rating: rt}
	}
	return p, nil
}

// Run plays pairing to completion. The returned error is non-nil only when the match
// could not be created or its result could not be persisted; every other failure is
// reported as the match result.
func (r *Runner) Run(ctx context.Context, pairing model.Pairing) (Report, error) {
	if _, ok := ctx.Value(contextkey.TraceID).(string); !ok {
		ctx = context.WithValue(ctx, contextkey.TraceID, uuid.NewString())
	}

	position := r.pickPosition()
	m := &model.Match{
		WhiteID:         pairing.White.ID,
		BlackID:         pairing.Black.ID,
		InitialTimeMS:   r.cfg.InitialTime.Milliseconds(),
		InitialPosition: position,
	}
	if _, err := r.deps.Store.CreateMatch(ctx, m); err != nil {
		return Report{}, err
	}
	ctx = context.WithValue(ctx, contextkey.MatchID, m.ID)
	logger.Info(ctx, "match created",
		zap.Int64("white_id", m.WhiteID), zap.Int64("black_id", m.BlackID), zap.String("position", position))
	r.deps.Metrics.MatchStarted()

	run := newMatchRun(r, m, pairing)
	result, err := run.play(ctx)
	if err != nil {
		result = abortedPersistence
	}
	report, finalErr := run.finalize(ctx, result)
	if err == nil {
		err = finalErr
	}
	return report, err
}

func (r *Runner) pickPosition() string {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.deps.Book.Pick(r.deps.Rand)
}
