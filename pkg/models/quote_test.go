package models

import (
	"testing"
	"time"
)

func mustParseTime(t *testing.T, s string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("time.Parse: %v", err)
	}
	return ts
}

func TestQuoteFromMap_Success(t *testing.T) {
	when := mustParseTime(t, "2025-07-10T14:34:56.789+02:00")
	m := map[string]interface{}{
		"ticker_id": "12",
		"price":     "1.0845",
		"time":      when.Format(time.RFC3339Nano),
		"volume":    "1500",
	}

	q, err := QuoteFromMap(m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Ticker != 12 {
		t.Errorf("Ticker = %d; want %d", q.Ticker, 12)
	}
	if q.Price != 1.0845 {
		t.Errorf("Price = %v; want %v", q.Price, 1.0845)
	}
	if !q.Time.Equal(when) || q.Time.Location() != time.UTC {
		t.Errorf("Time = %v; want %v in UTC", q.Time, when)
	}
	if q.Volume == nil || *q.Volume != 1500 {
		t.Errorf("Volume = %v; want 1500", q.Volume)
	}
	if q.ID.IsAssigned() {
		t.Error("parsed quote must not carry an id")
	}
}

func TestQuoteFromMap_InvalidCases(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]interface{}
	}{
		{
			name:  "missing ticker",
			input: map[string]interface{}{"price": "1", "time": "2025-01-01T00:00:00Z"},
		},
		{
			name:  "bad price",
			input: map[string]interface{}{"ticker_id": "1", "price": "not-a-number", "time": "2025-01-01T00:00:00Z"},
		},
		{
			name:  "negative price",
			input: map[string]interface{}{"ticker_id": "1", "price": "-3", "time": "2025-01-01T00:00:00Z"},
		},
		{
			name:  "bad time",
			input: map[string]interface{}{"ticker_id": "1", "price": "1", "time": "garbage"},
		},
		{
			name:  "bad volume",
			input: map[string]interface{}{"ticker_id": "1", "price": "1", "time": "2025-01-01T00:00:00Z", "volume": "x"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := QuoteFromMap(c.input); err == nil {
				t.Errorf("QuoteFromMap(%v) err = nil; want error", c.input)
			}
		})
	}
}

func TestQuote_ToMapRoundTrip(t *testing.T) {
	vol := 10.5
	in := Quote{Ticker: 3, Price: 99.5, Time: mustParseTime(t, "2025-01-02T03:04:05Z"), Volume: &vol}

	out, err := QuoteFromMap(in.ToMap())
	if err != nil {
		t.Fatalf("QuoteFromMap: %v", err)
	}
	if out.Ticker != in.Ticker || out.Price != in.Price || !out.Time.Equal(in.Time) || *out.Volume != vol {
		t.Errorf("round trip = %+v; want %+v", out, in)
	}
}

func TestTicker_ValidateAndSanitize(t *testing.T) {
	tk := &Ticker{Asset: 1, Name: " EUR ", Currency: "usd", Source: "ecb"}
	tk.Sanitize()

	if tk.Name != "EUR" {
		t.Errorf("Name = %q; want %q", tk.Name, "EUR")
	}
	if tk.Currency != "USD" {
		t.Errorf("Currency = %q; want %q", tk.Currency, "USD")
	}
	if tk.Factor != DefaultFactor {
		t.Errorf("Factor = %v; want %v", tk.Factor, DefaultFactor)
	}
	if err := tk.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	bad := Ticker{Asset: 0, Name: "", Currency: "EURO", Source: "a b", Factor: -1}
	if err := bad.Validate(); err == nil {
		t.Error("Validate(bad ticker) = nil; want error")
	}
}

func TestAsset_Validate(t *testing.T) {
	isin := " us0378331005 "
	empty := ""
	a := &Asset{Name: "Apple Inc.", ISIN: &isin, WKN: &empty}
	a.Sanitize()

	if a.WKN != nil {
		t.Errorf("WKN = %v; want nil", *a.WKN)
	}
	if *a.ISIN != "US0378331005" {
		t.Errorf("ISIN = %q; want %q", *a.ISIN, "US0378331005")
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	badISIN := "123"
	if err := (Asset{Name: "x", ISIN: &badISIN}).Validate(); err == nil {
		t.Error("Validate(bad isin) = nil; want error")
	}
}

func TestParseCurrency(t *testing.T) {
	cases := []struct {
		in      string
		want    Currency
		wantErr bool
	}{
		{"EUR", "EUR", false},
		{" usd ", "USD", false},
		{"EURO", "", true},
		{"E1R", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseCurrency(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseCurrency(%q) err = %v; wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if got != c.want {
			t.Errorf("ParseCurrency(%q) = %q; want %q", c.in, got, c.want)
		}
	}
}
