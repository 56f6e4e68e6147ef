package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alim08/finql/pkg/config"
	"github.com/alim08/finql/pkg/database"
	"github.com/alim08/finql/pkg/logger"
	"github.com/alim08/finql/pkg/metrics"
	"github.com/alim08/finql/pkg/redisclient"
	"go.uber.org/zap"
)

func main() {
	if err := logger.Init(); err != nil {
		panic("logger init: " + err.Error())
	}
	defer logger.Log.Sync()
	log := logger.Log

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load", zap.Error(err))
	}
	if err := cfg.RequireRedis(); err != nil {
		log.Fatal("config load", zap.Error(err))
	}

	db, err := database.New(database.NewConfig())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	rdb, err := redisclient.New(cfg.RedisURL)
	if err != nil {
		log.Fatal("failed to configure Redis", zap.Error(err))
	}
	defer rdb.Close()

	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	im := &importer{
		streams:    rdb,
		quotes:     database.NewQuoteRepository(db),
		stream:     cfg.QuoteStream,
		group:      cfg.ConsumerGroup,
		consumer:   cfg.ConsumerName,
		deadStream: cfg.DeadLetterStream,
		workers:    cfg.MaxWorkers,
		batchSize:  int64(cfg.BatchSize),
		block:      500 * time.Millisecond,

		maxDeliveries: cfg.MaxDeliveries,
		claimIdle:     cfg.ClaimIdle,
		claimEvery:    cfg.ClaimInterval,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := im.run(ctx); err != nil {
		log.Error("quote import failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)
}
