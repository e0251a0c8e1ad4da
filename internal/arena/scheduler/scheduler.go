// Package scheduler starts matches: continuously from the matchmaker and on request
// from the fight-request queue, under one active-match ceiling.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"botarena/internal/arena/events"
	"botarena/internal/arena/match"
	"botarena/internal/arena/matchmaker"
	"botarena/internal/arena/metrics"
	"botarena/internal/arena/model"
	"botarena/internal/common/mq"
	appErr "botarena/pkg/errors"
	"botarena/pkg/utils/contextkey"
	"botarena/pkg/utils/logger"

	"go.uber.org/zap"
)

// Runner plays one match to completion.
type Runner interface {
	Run(ctx context.Context, pairing model.Pairing) (match.Report, error)
	PairingFor(ctx context.Context, whiteID, blackID int64) (model.Pairing, error)
}

// Matchmaker chooses the next pairing.
type Matchmaker interface {
	Pick(ctx context.Context) (model.Pairing, error)
}

// Config holds scheduling settings.
type Config struct {
	// MaxActive is the ceiling on concurrently running matches.
	MaxActive int  `yaml:"maxActive" env:"MAX_ACTIVE"`
	Autoplay  bool `yaml:"autoplay" env:"AUTOPLAY"`
	// IdleBackoff is the wait after the matchmaker found no pairing.
	IdleBackoff  time.Duration `yaml:"idleBackoff"`
	ErrorBackoff time.Duration `yaml:"errorBackoff"`

	FightTopic      string        `yaml:"fightTopic"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	FightRetries    int           `yaml:"fightRetries"`
	FightRetryDelay time.Duration `yaml:"fightRetryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
}

func DefaultConfig() Config {
	return Config{
		MaxActive:       4,
		Autoplay:        true,
		IdleBackoff:     5 * time.Second,
		ErrorBackoff:    10 * time.Second,
		FightTopic:      events.TopicFightRequested,
		ConsumerGroup:   "arena",
		FightRetries:    5,
		FightRetryDelay: 3 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MaxActive <= 0 {
		c.MaxActive = def.MaxActive
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = def.IdleBackoff
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = def.ErrorBackoff
	}
	if c.FightTopic == "" {
		c.FightTopic = def.FightTopic
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = def.ConsumerGroup
	}
	if c.FightRetries <= 0 {
		c.FightRetries = def.FightRetries
	}
	if c.FightRetryDelay <= 0 {
		c.FightRetryDelay = def.FightRetryDelay
	}
}

// Scheduler owns the active-match ceiling.
type Scheduler struct {
	cfg        Config
	runner     Runner
	matchmaker Matchmaker
	metrics    *metrics.Recorder
	limiter    *mq.TokenLimiter

	wg sync.WaitGroup
}

func New(cfg Config, runner Runner, mm Matchmaker, rec *metrics.Recorder) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("match runner is required")
	}
	if mm == nil {
		return nil, fmt.Errorf("matchmaker is required")
	}
	cfg.applyDefaults()
	return &Scheduler{
		cfg:        cfg,
		runner:     runner,
		matchmaker: mm,
		metrics:    rec,
		limiter:    mq.NewTokenLimiter(cfg.MaxActive),
	}, nil
}

// Active returns the number of matches currently holding a slot.
func (s *Scheduler) Active() int {
	return s.limiter.InUse()
}

// Run keeps the arena busy until ctx is done, then waits for running matches.
// It returns immediately when autoplay is disabled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.wg.Wait()
	if !s.cfg.Autoplay {
		logger.Info(ctx, "autoplay disabled")
		return nil
	}
	logger.Info(ctx, "scheduler started", zap.Int("max_active", s.cfg.MaxActive))
	for {
		if err := s.limiter.Acquire(ctx); err != nil {
			logger.Info(ctx, "scheduler stopping", zap.Int("active", s.limiter.InUse()))
			return nil
		}
		pairing, err := s.matchmaker.Pick(ctx)
		if err != nil {
			s.limiter.Release()
			wait := s.cfg.ErrorBackoff
			if errors.Is(err, matchmaker.ErrNoPairing) {
				s.metrics.PairingAttempt(metrics.PairingNone)
				wait = s.cfg.IdleBackoff
				logger.Debug(ctx, "no pairing available")
			} else {
				s.metrics.PairingAttempt(metrics.PairingError)
				logger.Warn(ctx, "matchmaker failed", zap.Error(err))
			}
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}
		s.metrics.PairingAttempt(metrics.PairingFound)
		s.start(ctx, pairing)
	}
}

// start runs pairing on its own goroutine. The caller must hold a slot.
func (s *Scheduler) start(ctx context.Context, pairing model.Pairing) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		s.play(ctx, pairing)
	}()
}

func (s *Scheduler) play(ctx context.Context, pairing model.Pairing) (match.Report, error) {
	report, err := s.runner.Run(ctx, pairing)
	if err != nil {
		logger.Error(ctx, "match failed", zap.Int64("match_id", report.MatchID), zap.Error(err))
		return report, err
	}
	logger.Info(ctx, "match finished",
		zap.Int64("match_id", report.MatchID),
		zap.String("winner", string(report.Result.Winner)),
		zap.String("reason", report.Result.Reason),
		zap.Int("plies", report.Plies))
	return report, nil
}

// Fight runs one match synchronously, waiting for a free slot. Zero ids let the
// matchmaker choose both bots.
func (s *Scheduler) Fight(ctx context.Context, whiteID, blackID int64) (match.Report, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return match.Report{}, appErr.Wrap(err, appErr.ArenaBusy)
	}
	defer s.limiter.Release()
	pairing, err := s.pairingFor(ctx, whiteID, blackID)
	if err != nil {
		return match.Report{}, err
	}
	return s.play(ctx, pairing)
}

func (s *Scheduler) pairingFor(ctx context.Context, whiteID, blackID int64) (model.Pairing, error) {
	if whiteID > 0 && blackID > 0 {
		if whiteID == blackID {
			return model.Pairing{}, appErr.ValidationError("black_id", "a bot cannot play itself")
		}
		return s.runner.PairingFor(ctx, whiteID, blackID)
	}
	pairing, err := s.matchmaker.Pick(ctx)
	if err != nil {
		if errors.Is(err, matchmaker.ErrNoPairing) {
			s.metrics.PairingAttempt(metrics.PairingNone)
		} else {
			s.metrics.PairingAttempt(metrics.PairingError)
		}
		return model.Pairing{}, err
	}
	s.metrics.PairingAttempt(metrics.PairingFound)
	return pairing, nil
}

// HandleFightRequest is the queue handler for fight requests. A full arena or a
// missing pairing is returned as an error so the queue redelivers the request;
// malformed requests and finished matches are acknowledged.
func (s *Scheduler) HandleFightRequest(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	req, err := events.DecodeFightRequest(msg)
	if err != nil {
		logger.Warn(ctx, "dropping malformed fight request", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	ctx = context.WithValue(ctx, contextkey.TraceID, req.RequestID)

	if !s.limiter.TryAcquire() {
		return appErr.Newf(appErr.ArenaBusy, "arena is running %d matches", s.limiter.InUse())
	}
	defer s.limiter.Release()

	pairing, err := s.pairingFor(ctx, req.WhiteID, req.BlackID)
	if err != nil {
		if appErr.Is(err, appErr.NoPairingAvailable) {
			return err
		}
		logger.Warn(ctx, "fight request rejected", zap.Error(err))
		return nil
	}
	// Matches are never replayed; a failed run is logged by play and acknowledged.
	_, _ = s.play(ctx, pairing)
	return nil
}

// Subscribe registers the fight-request handler on consumer.
func (s *Scheduler) Subscribe(ctx context.Context, consumer mq.Consumer) error {
	return consumer.SubscribeWithOptions(ctx, s.cfg.FightTopic, s.HandleFightRequest, &mq.SubscribeOptions{
		ConsumerGroup:   s.cfg.ConsumerGroup,
		Concurrency:     s.cfg.MaxActive,
		MaxRetries:      s.cfg.FightRetries,
		RetryDelay:      s.cfg.FightRetryDelay,
		DeadLetterTopic: s.cfg.DeadLetterTopic,
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
