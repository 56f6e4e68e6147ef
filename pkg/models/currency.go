package models

import (
	"fmt"
	"strings"
)

// Currency is a three letter ISO 4217 style code such as "EUR".
type Currency string

// ParseCurrency normalises s and checks that it is a three letter code.
func ParseCurrency(s string) (Currency, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != 3 {
		return "", fmt.Errorf("invalid currency %q: need 3 letters", s)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("invalid currency %q: need 3 letters", s)
		}
	}
	return Currency(code), nil
}

// MustParseCurrency is ParseCurrency for constants; it panics on bad input.
func MustParseCurrency(s string) Currency {
	c, err := ParseCurrency(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the canonical code, which doubles as the FX series name.
func (c Currency) String() string {
	return string(c)
}
