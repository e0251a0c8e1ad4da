package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"botarena/internal/arena/artifact"
	"botarena/internal/arena/bots"
	"botarena/internal/arena/events"
	"botarena/internal/arena/liveboard"
	"botarena/internal/arena/match"
	"botarena/internal/arena/matchmaker"
	"botarena/internal/arena/metrics"
	"botarena/internal/arena/rating"
	"botarena/internal/arena/repository"
	"botarena/internal/arena/rules"
	"botarena/internal/arena/sandbox"
	"botarena/internal/arena/scheduler"
	"botarena/internal/arena/server"
	"botarena/internal/common/cache"
	"botarena/internal/common/db"
	"botarena/internal/common/mq"
	"botarena/internal/common/storage"
	"botarena/pkg/utils/logger"

	"go.uber.org/zap"
)

// app holds the shared infrastructure of one arena process.
type app struct {
	cfg      *AppConfig
	database *db.SQLDatabase
	store    *repository.SQLStore
	redis    *cache.RedisCache
	board    *liveboard.Board
	queue    mq.MessageQueue
	objects  storage.ObjectStorage
	metrics  *metrics.Recorder

	closers []func() error
}

// appOptions selects the optional infrastructure a command needs.
type appOptions struct {
	broker  bool
	objects bool
}

func newApp(ctx context.Context, cfg *AppConfig, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	database, err := db.Open(ctx, &cfg.Database.Config)
	if err != nil {
		return nil, fmt.Errorf("init database failed: %w", err)
	}
	a.database = database
	a.closers = append(a.closers, database.Close)
	if cfg.Database.AutoMigrate {
		applied, err := repository.Migrate(ctx, database)
		if err != nil {
			return nil, fmt.Errorf("migrate database failed: %w", err)
		}
		if len(applied) > 0 {
			logger.Info(ctx, "database migrated", zap.Strings("applied", applied))
		}
	}
	a.store = repository.NewSQLStore(database)

	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis failed: %w", err)
		}
		a.redis = redisCache
		a.closers = append(a.closers, redisCache.Close)
		a.board = liveboard.New(redisCache, cfg.LiveBoard.TTL)
	}

	if opts.objects && cfg.Artifacts.Backend == "minio" {
		objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("init minio failed: %w", err)
		}
		a.objects = objStorage
	}

	if opts.broker {
		switch cfg.Events.Broker {
		case brokerKafka:
			q, err := mq.NewKafkaQueue(cfg.Kafka.toMQConfig())
			if err != nil {
				return nil, fmt.Errorf("init kafka failed: %w", err)
			}
			a.queue = q
		case brokerNATS:
			q, err := mq.NewNATSQueue(cfg.NATS)
			if err != nil {
				return nil, fmt.Errorf("init nats failed: %w", err)
			}
			a.queue = q
		}
		if a.queue != nil {
			a.closers = append(a.closers, a.queue.Close)
		}
		if kq, isKafka := a.queue.(*mq.KafkaQueue); isKafka && cfg.Kafka.AutoCreateTopics {
			err := kq.EnsureTopics(ctx, cfg.Scheduler.FightTopic, cfg.Scheduler.DeadLetterTopic, cfg.Events.MatchFinishedTopic)
			if err != nil {
				return nil, fmt.Errorf("create kafka topics failed: %w", err)
			}
		}
	}
	ok = true
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn(context.Background(), "close resource failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func newRand() *rand.Rand {
	seed := uint64(time.Now().UnixNano())
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// runner wires the match orchestrator: sandbox, artifacts, opening book and event sinks.
func (a *app) runner(ctx context.Context) (*match.Runner, error) {
	launcher, err := sandbox.NewLauncher(ctx, a.cfg.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("init sandbox failed: %w", err)
	}
	a.metrics.SetIsolationMode(string(launcher.Mode()))

	src, srcCloser, err := artifact.New(a.cfg.Artifacts, a.objects)
	if err != nil {
		return nil, fmt.Errorf("init artifact source failed: %w", err)
	}
	a.closers = append(a.closers, srcCloser.Close)

	oracle := rules.NewChessOracle()
	book := rules.NewOpeningBook()
	if a.cfg.OpeningBook != "" {
		book, err = rules.LoadOpeningBook(a.cfg.OpeningBook, oracle)
		if err != nil {
			return nil, fmt.Errorf("load opening book failed: %w", err)
		}
		logger.Info(ctx, "opening book loaded", zap.Int("positions", book.Len()))
	}

	deps := match.Deps{
		Store:     a.store,
		Oracle:    oracle,
		Launcher:  launcher,
		Artifacts: src,
		Ledger:    rating.NewLedger(),
		Book:      book,
		Metrics:   a.metrics,
		Rand:      newRand(),
	}
	if a.board != nil {
		deps.Board = a.board
	}
	if a.queue != nil {
		deps.Events = events.NewMQPublisher(a.queue, a.cfg.Events.MatchFinishedTopic)
	}
	return match.NewRunner(a.cfg.Match, deps)
}

func (a *app) scheduler(runner *match.Runner) (*scheduler.Scheduler, error) {
	mm := matchmaker.New(a.store, a.cfg.Matchmaker, newRand())
	return scheduler.New(a.cfg.Scheduler, runner, mm, a.metrics)
}

func (a *app) bots() (*bots.Service, error) {
	var uploader artifact.Uploader
	if a.cfg.Artifacts.Backend != "minio" || a.objects != nil {
		up, err := artifact.NewUploader(a.cfg.Artifacts, a.objects)
		if err != nil {
			return nil, err
		}
		uploader = up
	}
	return bots.NewService(a.store, rating.NewLedger(), uploader)
}

func (a *app) serverDeps() server.Deps {
	deps := server.Deps{
		Store:      a.store,
		FightTopic: a.cfg.Scheduler.FightTopic,
		Metrics:    a.metrics,
		Checks:     map[string]server.Pinger{"database": a.database},
	}
	if a.board != nil {
		deps.Board = a.board
		deps.Checks["redis"] = a.redis
	}
	if a.queue != nil {
		deps.Producer = a.queue
		deps.Checks["broker"] = a.queue
	}
	return deps
}
