package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alim08/finql/pkg/models"
)

// QuoteRepository stores tickers and their quotes. Its GetLastQuoteBefore
// satisfies fx.QuoteLookup.
type QuoteRepository interface {
	InsertTicker(ctx context.Context, ticker *models.Ticker) error
	GetTickerByID(ctx context.Context, id int64) (*models.Ticker, error)
	GetTickersForAsset(ctx context.Context, assetID int64) ([]*models.Ticker, error)
	UpdateTicker(ctx context.Context, ticker *models.Ticker) error
	DeleteTicker(ctx context.Context, id int64) error

	InsertQuote(ctx context.Context, quote *models.Quote) error
	GetQuotesForTicker(ctx context.Context, tickerID int64) ([]*models.Quote, error)
	GetLastQuoteBefore(ctx context.Context, name string, t time.Time) (models.Quote, models.Currency, error)
	GetLastQuoteBeforeByAsset(ctx context.Context, assetID int64, t time.Time) (models.Quote, models.Currency, error)
	UpdateQuote(ctx context.Context, quote *models.Quote) error
	DeleteQuote(ctx context.Context, id int64) error
	RemoveDuplicateQuotes(ctx context.Context) (int64, error)
	GetQuoteStats(ctx context.Context) (*QuoteStats, error)
}

// QuoteStats summarises the stored series
type QuoteStats struct {
	TotalQuotes  int64      `json:"total_quotes"`
	TotalTickers int64      `json:"total_tickers"`
	TotalAssets  int64      `json:"total_assets"`
	LastQuote    *time.Time `json:"last_quote,omitempty"`
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// quoteRepository implements QuoteRepository
type quoteRepository struct {
	db *DB
}

// NewQuoteRepository creates a repository on top of db. The caller keeps
// ownership of db and must serialise conflicting writes.
func NewQuoteRepository(db *DB) QuoteRepository {
	return &quoteRepository{db: db}
}

const tickerColumns = `id, name, asset_id, source, priority, currency, factor`

func scanTicker(s scanner) (*models.Ticker, error) {
	var (
		t        models.Ticker
		id       int64
		currency string
	)
	if err := s.Scan(&id, &t.Name, &t.Asset, &t.Source, &t.Priority, &currency, &t.Factor); err != nil {
		return nil, err
	}
	t.Currency = models.Currency(currency)
	t.ID = models.Assigned(id)
	return &t, nil
}

// InsertTicker stores a new ticker and assigns its id.
func (r *quoteRepository) InsertTicker(ctx context.Context, ticker *models.Ticker) (err error) {
	start := time.Now()
	defer func() { observe("insert_ticker", start, err) }()

	if id, err := ticker.GetID(); err == nil {
		return fmt.Errorf("insert ticker: %w: already stored with id %d", models.ErrDataAccessFailure, id)
	}

	ticker.Sanitize()
	if err := ticker.Validate(); err != nil {
		return fmt.Errorf("ticker validation failed: %w", err)
	}

	query := `
		INSERT INTO ticker (name, asset_id, source, priority, currency, factor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	err = r.db.QueryRowContext(ctx, query,
		ticker.Name, ticker.Asset, ticker.Source, ticker.Priority, ticker.Currency.String(), ticker.Factor,
	).Scan(&id)
	if err != nil {
		return writeError("insert ticker", err)
	}
	return ticker.SetID(id)
}

// GetTickerByID loads a single ticker
func (r *quoteRepository) GetTickerByID(ctx context.Context, id int64) (ticker *models.Ticker, err error) {
	start := time.Now()
	defer func() { observe("get_ticker", start, err) }()

	row := r.db.QueryRowContext(ctx, `SELECT `+tickerColumns+` FROM ticker WHERE id = $1`, id)
	ticker, err = scanTicker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticker %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker: %w", err)
	}
	return ticker, nil
}

// GetTickersForAsset lists the tickers of an asset, preferred (lowest priority) first.
func (r *quoteRepository) GetTickersForAsset(ctx context.Context, assetID int64) (tickers []*models.Ticker, err error) {
	start := time.Now()
	defer func() { observe("get_tickers_for_asset", start, err) }()

	query := `SELECT ` + tickerColumns + ` FROM ticker WHERE asset_id = $1 ORDER BY priority ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tickers for asset: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTicker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickers: %w", err)
	}
	return tickers, nil
}

// UpdateTicker overwrites all columns of a stored ticker
func (r *quoteRepository) UpdateTicker(ctx context.Context, ticker *models.Ticker) (err error) {
	start := time.Now()
	defer func() { observe("update_ticker", start, err) }()

	id, err := ticker.GetID()
	if err != nil {
		return fmt.Errorf("update ticker: %w", err)
	}
	ticker.Sanitize()
	if err := ticker.Validate(); err != nil {
		return fmt.Errorf("ticker validation failed: %w", err)
	}

	query := `
		UPDATE ticker
		SET name = $2, asset_id = $3, source = $4, priority = $5, currency = $6, factor = $7
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		id, ticker.Name, ticker.Asset, ticker.Source, ticker.Priority, ticker.Currency.String(), ticker.Factor)
	if err != nil {
		return writeError("update ticker", err)
	}
	return expectAffected(res, "ticker", id)
}

// DeleteTicker removes a ticker together with its quotes.
func (r *quoteRepository) DeleteTicker(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { observe("delete_ticker", start, err) }()

	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM quotes WHERE ticker_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete quotes of ticker: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM ticker WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete ticker: %w", err)
		}
		return expectAffected(res, "ticker", id)
	})
}

const quoteColumns = `q.id, q.ticker_id, q.price, q.time, q.volume`

func scanQuote(s scanner, extra ...interface{}) (*models.Quote, error) {
	var (
		q      models.Quote
		id     int64
		volume sql.NullFloat64
	)
	dest := append([]interface{}{&id, &q.Ticker, &q.Price, &q.Time, &volume}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	if volume.Valid {
		v := volume.Float64
		q.Volume = &v
	}
	q.Time = q.Time.UTC()
	q.ID = models.Assigned(id)
	return &q, nil
}

func nullVolume(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// InsertQuote stores a new quote and assigns its id.
func (r *quoteRepository) InsertQuote(ctx context.Context, quote *models.Quote) (err error) {
	start := time.Now()
	defer func() { observe("insert_quote", start, err) }()

	if id, err := quote.GetID(); err == nil {
		return fmt.Errorf("insert quote: %w: already stored with id %d", models.ErrDataAccessFailure, id)
	}

	quote.Sanitize()
	if err := quote.Validate(); err != nil {
		return fmt.Errorf("quote validation failed: %w", err)
	}

	query := `
		INSERT INTO quotes (ticker_id, price, time, volume)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	err = r.db.QueryRowContext(ctx, query,
		quote.Ticker, quote.Price, quote.Time, nullVolume(quote.Volume),
	).Scan(&id)
	if err != nil {
		return writeError("insert quote", err)
	}
	return quote.SetID(id)
}

// GetQuotesForTicker returns all quotes of a ticker in chronological order
func (r *quoteRepository) GetQuotesForTicker(ctx context.Context, tickerID int64) (quotes []*models.Quote, err error) {
	start := time.Now()
	defer func() { observe("get_quotes_for_ticker", start, err) }()

	query := `SELECT ` + quoteColumns + ` FROM quotes q WHERE q.ticker_id = $1 ORDER BY q.time ASC, q.id ASC`
	rows, err := r.db.QueryContext(ctx, query, tickerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quotes for ticker: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotes: %w", err)
	}
	return quotes, nil
}

// GetLastQuoteBefore returns the latest quote observed at or before t over all
// tickers called name, with the price scaled by the ticker's factor. Quotes at
// the same time are resolved by ticker priority.
func (r *quoteRepository) GetLastQuoteBefore(ctx context.Context, name string, t time.Time) (quote models.Quote, currency models.Currency, err error) {
	start := time.Now()
	defer func() { observe("get_last_quote_before", start, err) }()

	query := `
		SELECT q.id, q.ticker_id, q.price * t.factor, q.time, q.volume, t.currency
		FROM quotes q
		JOIN ticker t ON t.id = q.ticker_id
		WHERE t.name = $1 AND q.time <= $2
		ORDER BY q.time DESC, t.priority ASC, q.id DESC
		LIMIT 1
	`
	return r.lastQuote(ctx, query, name, t)
}

// GetLastQuoteBeforeByAsset is GetLastQuoteBefore over all tickers of an asset.
func (r *quoteRepository) GetLastQuoteBeforeByAsset(ctx context.Context, assetID int64, t time.Time) (quote models.Quote, currency models.Currency, err error) {
	start := time.Now()
	defer func() { observe("get_last_quote_before_by_asset", start, err) }()

	query := `
		SELECT q.id, q.ticker_id, q.price * t.factor, q.time, q.volume, t.currency
		FROM quotes q
		JOIN ticker t ON t.id = q.ticker_id
		WHERE t.asset_id = $1 AND q.time <= $2
		ORDER BY q.time DESC, t.priority ASC, q.id DESC
		LIMIT 1
	`
	return r.lastQuote(ctx, query, assetID, t)
}

func (r *quoteRepository) lastQuote(ctx context.Context, query string, key interface{}, t time.Time) (models.Quote, models.Currency, error) {
	var currency string
	q, err := scanQuote(r.db.QueryRowContext(ctx, query, key, t.UTC()), &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Quote{}, "", fmt.Errorf("no quote for %v at or before %s: %w", key, t.UTC().Format(time.RFC3339), ErrNotFound)
	}
	if err != nil {
		return models.Quote{}, "", fmt.Errorf("failed to get last quote: %w", err)
	}
	return *q, models.Currency(currency), nil
}

// UpdateQuote overwrites all columns of a stored quote
func (r *quoteRepository) UpdateQuote(ctx context.Context, quote *models.Quote) (err error) {
	start := time.Now()
	defer func() { observe("update_quote", start, err) }()

	id, err := quote.GetID()
	if err != nil {
		return fmt.Errorf("update quote: %w", err)
	}
	quote.Sanitize()
	if err := quote.Validate(); err != nil {
		return fmt.Errorf("quote validation failed: %w", err)
	}

	query := `UPDATE quotes SET ticker_id = $2, price = $3, time = $4, volume = $5 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, quote.Ticker, quote.Price, quote.Time, nullVolume(quote.Volume))
	if err != nil {
		return writeError("update quote", err)
	}
	return expectAffected(res, "quote", id)
}

// DeleteQuote removes a single quote
func (r *quoteRepository) DeleteQuote(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { observe("delete_quote", start, err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM quotes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete quote: %w", err)
	}
	return expectAffected(res, "quote", id)
}

// RemoveDuplicateQuotes deletes quotes repeating an earlier one's ticker, time
// and price, keeping the lowest id. It returns the number of rows removed.
func (r *quoteRepository) RemoveDuplicateQuotes(ctx context.Context) (n int64, err error) {
	start := time.Now()
	defer func() { observe("remove_duplicate_quotes", start, err) }()

	query := `
		DELETE FROM quotes q
		USING quotes d
		WHERE q.ticker_id = d.ticker_id
			AND q.time = d.time
			AND q.price = d.price
			AND q.id > d.id
	`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to remove duplicate quotes: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed quotes: %w", err)
	}
	return n, nil
}

// GetQuoteStats counts stored quotes, tickers and assets and reports the
// time of the most recent quote.
func (r *quoteRepository) GetQuoteStats(ctx context.Context) (stats *QuoteStats, err error) {
	start := time.Now()
	defer func() { observe("get_quote_stats", start, err) }()

	query := `
		SELECT
			(SELECT COUNT(*) FROM quotes),
			(SELECT COUNT(*) FROM ticker),
			(SELECT COUNT(*) FROM assets),
			(SELECT MAX(time) FROM quotes)
	`
	var (
		s    QuoteStats
		last sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query).Scan(&s.TotalQuotes, &s.TotalTickers, &s.TotalAssets, &last); err != nil {
		return nil, fmt.Errorf("failed to get quote stats: %w", err)
	}
	if last.Valid {
		t := last.Time.UTC()
		s.LastQuote = &t
	}
	return &s, nil
}

// expectAffected turns an update or delete that touched nothing into ErrNotFound.
func expectAffected(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}
