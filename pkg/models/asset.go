package models

import (
	"github.com/alim08/finql/pkg/validation"
)

// Asset is the instrument tickers belong to.
type Asset struct {
	ID   ID      `json:"-"`
	Name string  `json:"name" validate:"required,max=200"`
	WKN  *string `json:"wkn,omitempty" validate:"omitempty,wkn"`
	ISIN *string `json:"isin,omitempty" validate:"omitempty,isin"`
	Note *string `json:"note,omitempty"`
}

// GetID returns the stored id, or ErrDataAccessFailure for an asset never persisted.
func (a *Asset) GetID() (int64, error) {
	return a.ID.get("asset")
}

// SetID assigns id once; a second call fails with ErrDataAccessFailure.
func (a *Asset) SetID(id int64) error {
	return a.ID.set("asset", id)
}

// Validate validates the Asset struct
func (a Asset) Validate() error {
	if errors := validation.ValidateStruct(a); len(errors) > 0 {
		return errors
	}
	return nil
}

// Sanitize trims the name and upper-cases the security codes.
func (a *Asset) Sanitize() {
	a.Name = validation.SanitizeString(a.Name)
	a.WKN = sanitizeCode(a.WKN)
	a.ISIN = sanitizeCode(a.ISIN)
}

// sanitizeCode drops empty codes so they are stored as NULL and don't collide
// on the unique constraints.
func sanitizeCode(s *string) *string {
	if s == nil {
		return nil
	}
	code := validation.SanitizeCode(*s)
	if code == "" {
		return nil
	}
	return &code
}
