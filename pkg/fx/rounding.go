package fx

import (
	"context"
	"errors"
	"time"

	"github.com/alim08/finql/pkg/models"
	"github.com/shopspring/decimal"
)

// DefaultDigits is used for currencies without a configured rounding rule.
const DefaultDigits int32 = 2

// RoundingDigits returns the number of decimal places amounts in a currency are
// rounded to. Unknown currencies yield an error wrapping models.ErrNotFound.
type RoundingDigits interface {
	GetRoundingDigits(ctx context.Context, currency models.Currency) (int32, error)
}

// Round rounds amount to digits decimal places, half away from zero.
func Round(amount float64, digits int32) float64 {
	rounded, _ := decimal.NewFromFloat(amount).Round(digits).Float64()
	return rounded
}

// ConvertRounded converts amount from one currency to another and rounds the
// result to the target currency's digits.
func (c *Converter) ConvertRounded(ctx context.Context, digits RoundingDigits, amount float64, from, to models.Currency, t time.Time) (float64, error) {
	converted, err := c.Convert(ctx, amount, from, to, t)
	if err != nil {
		return 0, err
	}

	n, err := digits.GetRoundingDigits(ctx, to)
	switch {
	case errors.Is(err, models.ErrNotFound):
		n = DefaultDigits
	case err != nil:
		return 0, err
	}
	return Round(converted, n), nil
}
