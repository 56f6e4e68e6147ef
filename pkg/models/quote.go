package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alim08/finql/pkg/validation"
)

// Quote is a single price observation of a ticker. Price is expressed in the
// ticker's currency.
type Quote struct {
	ID     ID        `json:"-"`
	Ticker int64     `json:"ticker_id" validate:"gt=0"`
	Price  float64   `json:"price" validate:"price"`
	Time   time.Time `json:"time"`
	Volume *float64  `json:"volume,omitempty" validate:"omitempty,gte=0"`
}

// GetID returns the stored id, or ErrDataAccessFailure for a quote never persisted.
func (q *Quote) GetID() (int64, error) {
	return q.ID.get("quote")
}

// SetID assigns id once; a second call fails with ErrDataAccessFailure.
func (q *Quote) SetID(id int64) error {
	return q.ID.set("quote", id)
}

// Validate validates the Quote struct
func (q Quote) Validate() error {
	errors := validation.ValidateStruct(q)
	if q.Time.IsZero() {
		errors = append(errors, validation.ValidationError{
			Field:   "Time",
			Message: "Time is required",
		})
	}
	if len(errors) > 0 {
		return errors
	}
	return nil
}

// Sanitize normalises the observation time to UTC.
func (q *Quote) Sanitize() {
	q.Time = q.Time.UTC()
}

// ToMap converts the quote to a map for a Redis stream entry.
func (q Quote) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"ticker_id": strconv.FormatInt(q.Ticker, 10),
		"price":     strconv.FormatFloat(q.Price, 'f', -1, 64),
		"time":      q.Time.UTC().Format(time.RFC3339Nano),
	}
	if q.Volume != nil {
		m["volume"] = strconv.FormatFloat(*q.Volume, 'f', -1, 64)
	}
	return m
}

// QuoteFromMap parses a Redis stream entry into an unpersisted Quote.
// Returns an error if required fields are missing or malformed.
func QuoteFromMap(m map[string]interface{}) (Quote, error) {
	var q Quote

	schema := map[string]string{
		"ticker_id": "int64",
		"price":     "float64",
		"time":      "time",
	}
	if errors := validation.ValidateMap(m, schema); len(errors) > 0 {
		return q, errors
	}

	tickerID, err := toInt64(m["ticker_id"])
	if err != nil {
		return q, fmt.Errorf("ticker_id parse error: %w", err)
	}
	q.Ticker = tickerID

	price, err := toFloat64(m["price"])
	if err != nil {
		return q, fmt.Errorf("price parse error: %w", err)
	}
	q.Price = price

	switch v := m["time"].(type) {
	case time.Time:
		q.Time = v
	case string:
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return q, fmt.Errorf("time parse error: %w", err)
		}
		q.Time = ts
	}

	// Volume is optional
	if raw, ok := m["volume"]; ok && raw != "" {
		volume, err := toFloat64(raw)
		if err != nil {
			return q, fmt.Errorf("volume parse error: %w", err)
		}
		q.Volume = &volume
	}

	q.Sanitize()
	if err := q.Validate(); err != nil {
		return q, fmt.Errorf("validation failed: %w", err)
	}

	return q, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
