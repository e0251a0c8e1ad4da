// Package server exposes the arena's read-only state and fight requests over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"botarena/internal/arena/liveboard"
	"botarena/internal/arena/metrics"
	"botarena/internal/arena/model"
	commonmw "botarena/internal/common/http/middleware"
	"botarena/internal/common/mq"

	"github.com/gin-gonic/gin"
)

// Config holds HTTP listener settings.
type Config struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// MatchStore is the read side of the persistence gateway.
type MatchStore interface {
	GetMatch(ctx context.Context, matchID int64) (*model.Match, error)
	ListMoves(ctx context.Context, matchID int64) ([]model.MoveRecord, error)
	GetBot(ctx context.Context, botID int64) (*model.Bot, error)
	GetRating(ctx context.Context, botID int64) (float64, error)
}

// LiveReader reads running match snapshots.
type LiveReader interface {
	Get(ctx context.Context, matchID int64) (liveboard.Snapshot, bool, error)
	Live(ctx context.Context) ([]int64, error)
}

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP API. Board, Producer and Metrics are optional.
type Deps struct {
	Store      MatchStore
	Board      LiveReader
	Producer   mq.Producer
	FightTopic string
	Metrics    *metrics.Recorder
	Checks     map[string]Pinger
}

// NewRouter builds the gin engine.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("match store is required")
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	ctrl := &controller{deps: deps}
	router.GET("/healthz", ctrl.Health)
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := router.Group("/api/v1")
	api.GET("/matches/live", ctrl.ListLive)
	api.GET("/matches/:id", ctrl.GetMatch)
	api.GET("/matches/:id/live", ctrl.GetLive)
	api.GET("/bots/:id", ctrl.GetBot)
	api.POST("/fights", ctrl.RequestFight)
	return router, nil
}

// NewHTTPServer wraps the router in an http.Server.
func NewHTTPServer(cfg Config, deps Deps) (*http.Server, error) {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	router, err := NewRouter(deps)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}, nil
}
