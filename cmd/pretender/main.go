// Command pretender runs the DynamoDB-compatible server over a SQL backend.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pretenderdb/pretender/config"
	"github.com/pretenderdb/pretender/dynamo/server"
	"github.com/pretenderdb/pretender/dynamo/sqlstore"
	"github.com/pretenderdb/pretender/dynamo/streams"
	"github.com/pretenderdb/pretender/dynamo/ttl"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		zap.NewExample().Fatal("build logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	store, err := sqlstore.Open(ctx, sqlstore.Options{
		DatabaseURL: cfg.EffectiveDatabaseURL(),
		Logger:      logger.Named("store"),
		Clock:       clock,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	reader := streams.NewReader(store.DB())
	srv := server.New(store, reader, logger.Named("server"), cfg.RequestTimeout.Std())

	sweeper := ttl.New(store, logger.Named("ttl"), ttl.Config{
		Interval:  cfg.TTLSweepInterval.Std(),
		BatchSize: cfg.TTLBatchSize,
	})
	pruner := streams.NewPruner(store.DB(), clock, logger.Named("streams"),
		cfg.StreamRetention.Std(), cfg.StreamPruneInterval.Std())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return sweeper.Run(ctx) })
	group.Go(func() error { return pruner.Run(ctx) })
	group.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return httpServer.Shutdown(context.WithoutCancel(ctx))
	})

	return group.Wait()
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
