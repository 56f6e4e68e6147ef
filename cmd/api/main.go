package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alim08/finql/pkg/auth"
	"github.com/alim08/finql/pkg/config"
	"github.com/alim08/finql/pkg/database"
	"github.com/alim08/finql/pkg/logger"
	"github.com/alim08/finql/pkg/redisclient"
	"go.uber.org/zap"
)

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Log
	defer log.Sync()

	log.Info("starting finql API server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	db, err := database.New(database.NewConfig())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(ctx); err != nil {
		cancel()
		log.Fatal("failed to run database migrations", zap.Error(err))
	}
	cancel()

	authService, err := auth.NewAuthService(auth.NewConfig())
	if err != nil {
		log.Fatal("failed to initialize authentication service", zap.Error(err))
	}

	checks := map[string]func(context.Context) error{"database": db.HealthCheck}
	// Redis only feeds the importer; the API reports on it when configured.
	if cfg.RedisURL != "" {
		rc, err := redisclient.New(cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to configure Redis", zap.Error(err))
		}
		defer rc.Close()
		checks["redis"] = rc.Ping
	}

	srv := NewServer(ServerDeps{
		Quotes:     database.NewQuoteRepository(db),
		Assets:     database.NewAssetRepository(db),
		Rounding:   database.NewRoundingRepository(db),
		Auth:       authService,
		Migrations: db,
		Checks:     checks,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}
