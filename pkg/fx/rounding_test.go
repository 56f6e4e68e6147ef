package fx

import (
	"context"
	"errors"
	"testing"

	"github.com/alim08/finql/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type digitsMap map[models.Currency]int32

func (d digitsMap) GetRoundingDigits(_ context.Context, c models.Currency) (int32, error) {
	n, ok := d[c]
	if !ok {
		return 0, models.ErrNotFound
	}
	return n, nil
}

type brokenDigits struct{}

func (brokenDigits) GetRoundingDigits(context.Context, models.Currency) (int32, error) {
	return 0, errors.New("db down")
}

func TestRound(t *testing.T) {
	cases := []struct {
		in     float64
		digits int32
		want   float64
	}{
		{2.345, 2, 2.35},
		{-2.345, 2, -2.35},
		{1.004, 2, 1.0},
		{1234.5, 0, 1235},
		{0.123456, 4, 0.1235},
	}
	for _, c := range cases {
		if got := Round(c.in, c.digits); got != c.want {
			t.Errorf("Round(%v, %d) = %v; want %v", c.in, c.digits, got, c.want)
		}
	}
}

func TestConvertRounded(t *testing.T) {
	lookup := &memLookup{}
	lookup.add("USD", jpy, 151.237, t0)
	c := NewConverter(lookup)
	digits := digitsMap{jpy: 0}

	got, err := c.ConvertRounded(context.Background(), digits, 10, usd, jpy, t0)
	require.NoError(t, err)
	assert.Equal(t, 1512.0, got)

	// EUR has no entry and falls back to DefaultDigits
	lookup = &memLookup{}
	lookup.add("USD", eur, 0.923456, t0)
	got, err = NewConverter(lookup).ConvertRounded(context.Background(), digits, 10, usd, eur, t0)
	require.NoError(t, err)
	assert.Equal(t, 9.23, got)

	_, err = NewConverter(lookup).ConvertRounded(context.Background(), brokenDigits{}, 10, usd, eur, t0)
	assert.EqualError(t, err, "db down")
}
