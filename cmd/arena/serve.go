package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"botarena/internal/arena/server"
	"botarena/pkg/utils/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the fight-request consumer and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, state.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *AppConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{broker: true, objects: true})
	if err != nil {
		return err
	}
	defer a.close()

	runner, err := a.runner(ctx)
	if err != nil {
		return err
	}
	sched, err := a.scheduler(runner)
	if err != nil {
		return err
	}

	if a.queue != nil {
		if err := sched.Subscribe(ctx, a.queue); err != nil {
			return err
		}
		if err := a.queue.Start(); err != nil {
			return err
		}
		logger.Info(ctx, "fight-request consumer started", zap.String("broker", cfg.Events.Broker))
	}

	httpServer, err := server.NewHTTPServer(cfg.Server, a.serverDeps())
	if err != nil {
		return err
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = sched.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			logger.Error(ctx, "http server failed", zap.Error(err))
		}
	}
	logger.Info(context.Background(), "shutting down", zap.Int("active_matches", sched.Active()))
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if a.queue != nil {
		_ = a.queue.Stop()
	}
	<-schedDone
	return nil
}
