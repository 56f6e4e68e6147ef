package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/alim08/finql/pkg/auth"
	"github.com/alim08/finql/pkg/config"
	"github.com/alim08/finql/pkg/database"
	"github.com/alim08/finql/pkg/logger"
	"github.com/alim08/finql/pkg/models"
	"go.uber.org/zap"
)

type migrator interface {
	RunMigrations(ctx context.Context) error
	GetMigrationStatus(ctx context.Context) ([]database.MigrationStatus, error)
	RollbackMigration(ctx context.Context) error
}

type roundingSetter interface {
	SetRoundingDigits(ctx context.Context, currency models.Currency, digits int32) error
}

type deduper interface {
	RemoveDuplicateQuotes(ctx context.Context) (int64, error)
}

func main() {
	action := flag.String("action", "up", "up, status, rollback, dedupe or keygen")
	keyBits := flag.Int("bits", 2048, "RSA key size for keygen")
	flag.Parse()

	if err := logger.Init(); err != nil {
		panic("logger init: " + err.Error())
	}
	defer logger.Log.Sync()
	log := logger.Log

	if *action == "keygen" {
		if err := keygen(auth.NewConfig(), *keyBits); err != nil {
			log.Fatal("keygen failed", zap.Error(err))
		}
		return
	}

	cfg, err := config.LoadArgs(nil)
	if err != nil {
		log.Fatal("config load", zap.Error(err))
	}

	db, err := database.New(database.NewConfig())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t := &tool{
		db:       db,
		rounding: database.NewRoundingRepository(db),
		quotes:   database.NewQuoteRepository(db),
		digits:   cfg.RoundingDigits,
		out:      os.Stdout,
	}
	if err := t.run(ctx, *action); err != nil {
		log.Fatal("migrate failed", zap.String("action", *action), zap.Error(err))
	}
}

type tool struct {
	db       migrator
	rounding roundingSetter
	quotes   deduper
	digits   map[string]int32
	out      io.Writer
}

func (t *tool) run(ctx context.Context, action string) error {
	switch action {
	case "up":
		if err := t.db.RunMigrations(ctx); err != nil {
			return err
		}
		return t.seedRounding(ctx)
	case "status":
		status, err := t.db.GetMigrationStatus(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(t.out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "rollback":
		return t.db.RollbackMigration(ctx)
	case "dedupe":
		n, err := t.quotes.RemoveDuplicateQuotes(ctx)
		if err != nil {
			return err
		}
		logger.Log.Info("removed duplicate quotes", zap.Int64("count", n))
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// seedRounding stores the configured rounding rules in currency order.
func (t *tool) seedRounding(ctx context.Context) error {
	codes := make([]string, 0, len(t.digits))
	for code := range t.digits {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		currency, err := models.ParseCurrency(code)
		if err != nil {
			return err
		}
		if err := t.rounding.SetRoundingDigits(ctx, currency, t.digits[code]); err != nil {
			return fmt.Errorf("seed rounding for %s: %w", code, err)
		}
		logger.Log.Info("rounding rule stored", zap.String("currency", code), zap.Int32("digits", t.digits[code]))
	}
	return nil
}

// keygen writes a fresh RSA pair to the paths the API reads its keys from.
func keygen(cfg *auth.Config, bits int) error {
	priv, pub, err := auth.GenerateKeyPair(bits)
	if err != nil {
		return err
	}
	if err := auth.SavePrivateKey(priv, cfg.PrivateKeyPath); err != nil {
		return err
	}
	if err := auth.SavePublicKey(pub, cfg.PublicKeyPath); err != nil {
		return err
	}
	logger.Log.Info("key pair written",
		zap.String("private", cfg.PrivateKeyPath),
		zap.String("public", cfg.PublicKeyPath))
	return nil
}
