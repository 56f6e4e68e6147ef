// Package fx derives foreign exchange rates from stored quotes.
//
// FX series are stored as ordinary tickers named after a currency code and
// denominated in whatever currency the data source quotes them against. A
// "USD" ticker in EUR is a direct quote for USD->EUR and a reverse quote for
// EUR->USD. The converter tries both directions and never triangulates
// through a third currency.
package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alim08/finql/pkg/logger"
	"github.com/alim08/finql/pkg/metrics"
	"github.com/alim08/finql/pkg/models"
	"go.uber.org/zap"
)

// ErrConversionFailed is returned when no stored quote pairs the two currencies.
var ErrConversionFailed = errors.New("currency conversion failed")

// QuoteLookup finds the latest quote of the series called name observed at or
// before t, along with the currency the quote is denominated in.
type QuoteLookup interface {
	GetLastQuoteBefore(ctx context.Context, name string, t time.Time) (models.Quote, models.Currency, error)
}

// Converter resolves FX rates against a QuoteLookup. It holds no state between
// calls and re-queries the lookup every time.
type Converter struct {
	lookup QuoteLookup
}

func NewConverter(lookup QuoteLookup) *Converter {
	return &Converter{lookup: lookup}
}

// FxRate returns the rate such that 1 unit of foreign equals rate units of
// domestic at time t.
func (c *Converter) FxRate(ctx context.Context, foreign, domestic models.Currency, t time.Time) (float64, error) {
	if foreign == domestic {
		metrics.FxConversions.WithLabelValues("identity").Inc()
		return 1.0, nil
	}

	if rate, ok := c.leg(ctx, foreign, domestic, t); ok {
		metrics.FxConversions.WithLabelValues("direct").Inc()
		return rate, nil
	}

	if price, ok := c.leg(ctx, domestic, foreign, t); ok && price != 0 {
		metrics.FxConversions.WithLabelValues("reverse").Inc()
		return 1 / price, nil
	}

	metrics.FxConversions.WithLabelValues("failed").Inc()
	return 0, fmt.Errorf("%w: no quote pairs %s and %s at %s",
		ErrConversionFailed, foreign, domestic, t.UTC().Format(time.RFC3339))
}

// leg looks up the series named subject and returns its price if it is
// denominated in want. Lookup errors count as a miss.
func (c *Converter) leg(ctx context.Context, subject, want models.Currency, t time.Time) (float64, bool) {
	metrics.FxLookups.Inc()
	quote, currency, err := c.lookup.GetLastQuoteBefore(ctx, subject.String(), t)
	if err != nil {
		logger.Log.Debug("fx leg lookup failed",
			zap.String("series", subject.String()),
			zap.Time("time", t),
			zap.Error(err))
		return 0, false
	}
	if currency != want {
		logger.Log.Debug("fx leg denominated in other currency",
			zap.String("series", subject.String()),
			zap.String("currency", currency.String()),
			zap.String("want", want.String()))
		return 0, false
	}
	return quote.Price, true
}

// Convert returns amount, given in from, expressed in to at time t.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to models.Currency, t time.Time) (float64, error) {
	rate, err := c.FxRate(ctx, from, to, t)
	if err != nil {
		return 0, err
	}
	return amount * rate, nil
}
