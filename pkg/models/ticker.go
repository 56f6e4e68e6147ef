package models

import (
	"github.com/alim08/finql/pkg/validation"
)

// DefaultFactor leaves raw prices unscaled.
const DefaultFactor = 1.0

// Ticker is one named price series of an asset as delivered by a single source.
// Among several tickers of the same asset, the lower Priority wins.
type Ticker struct {
	ID       ID       `json:"-"`
	Asset    int64    `json:"asset_id" validate:"gt=0"`
	Name     string   `json:"name" validate:"required,max=100"`
	Currency Currency `json:"currency" validate:"required,currency"`
	Source   string   `json:"source" validate:"required,source"`
	Priority int32    `json:"priority"`
	// Factor multiplies raw prices to reach canonical units.
	Factor float64 `json:"factor" validate:"gt=0"`
}

// NewTicker returns an unpersisted ticker with the default factor.
func NewTicker(asset int64, name string, currency Currency, source string, priority int32) *Ticker {
	return &Ticker{
		Asset:    asset,
		Name:     name,
		Currency: currency,
		Source:   source,
		Priority: priority,
		Factor:   DefaultFactor,
	}
}

// GetID returns the stored id, or ErrDataAccessFailure for a ticker never persisted.
func (t *Ticker) GetID() (int64, error) {
	return t.ID.get("ticker")
}

// SetID assigns id once; a second call fails with ErrDataAccessFailure.
func (t *Ticker) SetID(id int64) error {
	return t.ID.set("ticker", id)
}

// Validate validates the Ticker struct
func (t Ticker) Validate() error {
	if errors := validation.ValidateStruct(t); len(errors) > 0 {
		return errors
	}
	return nil
}

// Sanitize trims the text fields and fills in a missing factor.
func (t *Ticker) Sanitize() {
	t.Name = validation.SanitizeString(t.Name)
	t.Source = validation.SanitizeString(t.Source)
	t.Currency = Currency(validation.SanitizeCode(string(t.Currency)))
	if t.Factor == 0 {
		t.Factor = DefaultFactor
	}
}
