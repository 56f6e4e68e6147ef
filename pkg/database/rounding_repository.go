package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alim08/finql/pkg/models"
)

// RoundingRepository keeps the number of decimal places per currency.
// It satisfies fx.RoundingDigits.
type RoundingRepository interface {
	SetRoundingDigits(ctx context.Context, currency models.Currency, digits int32) error
	GetRoundingDigits(ctx context.Context, currency models.Currency) (int32, error)
}

type roundingRepository struct {
	db *DB
}

func NewRoundingRepository(db *DB) RoundingRepository {
	return &roundingRepository{db: db}
}

// SetRoundingDigits inserts or replaces the rule for currency.
func (r *roundingRepository) SetRoundingDigits(ctx context.Context, currency models.Currency, digits int32) (err error) {
	start := time.Now()
	defer func() { observe("set_rounding_digits", start, err) }()

	if digits < 0 {
		return fmt.Errorf("rounding digits for %s must not be negative, got %d", currency, digits)
	}
	if _, err := models.ParseCurrency(currency.String()); err != nil {
		return err
	}

	query := `
		INSERT INTO rounding_digits (currency, digits)
		VALUES ($1, $2)
		ON CONFLICT (currency) DO UPDATE SET digits = EXCLUDED.digits
	`
	if _, err := r.db.ExecContext(ctx, query, currency.String(), digits); err != nil {
		return fmt.Errorf("failed to set rounding digits: %w", err)
	}
	return nil
}

func (r *roundingRepository) GetRoundingDigits(ctx context.Context, currency models.Currency) (digits int32, err error) {
	start := time.Now()
	defer func() { observe("get_rounding_digits", start, err) }()

	err = r.db.QueryRowContext(ctx, `SELECT digits FROM rounding_digits WHERE currency = $1`, currency.String()).Scan(&digits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("rounding digits for %s: %w", currency, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rounding digits: %w", err)
	}
	return digits, nil
}
