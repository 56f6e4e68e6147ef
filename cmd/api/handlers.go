package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alim08/finql/pkg/database"
	"github.com/alim08/finql/pkg/fx"
	"github.com/alim08/finql/pkg/logger"
	"github.com/alim08/finql/pkg/models"
	"github.com/alim08/finql/pkg/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type tickerResponse struct {
	ID int64 `json:"id"`
	*models.Ticker
}

type quoteResponse struct {
	ID int64 `json:"id"`
	*models.Quote
}

type assetResponse struct {
	ID int64 `json:"id"`
	*models.Asset
}

type fxRateResponse struct {
	Foreign  models.Currency `json:"foreign"`
	Domestic models.Currency `json:"domestic"`
	Time     time.Time       `json:"time"`
	Rate     float64         `json:"rate"`
}

type convertResponse struct {
	From      models.Currency `json:"from"`
	To        models.Currency `json:"to"`
	Time      time.Time       `json:"time"`
	Amount    float64         `json:"amount"`
	Converted float64         `json:"converted"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Error("JSON encoding error", zap.Error(err))
	}
}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, Response{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, Response{Success: false, Error: message})
}

// writeStoreError maps repository errors to status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	var verrs validation.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		s.writeJSON(w, http.StatusBadRequest, Response{Error: "validation failed", Details: verrs})
	case errors.Is(err, database.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrDataAccessFailure):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrInvalidReference):
		s.writeError(w, http.StatusUnprocessableEntity, database.ErrInvalidReference.Error())
	default:
		logger.Log.Error("store operation failed", zap.String("operation", op), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// parseTime accepts RFC3339 timestamps; empty means now.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC3339", s)
	}
	return t.UTC(), nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			logger.Log.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}
	s.writeData(w, http.StatusOK, map[string]string{"status": "ready"})
}

// fxRateHandler answers GET /api/v1/fx?foreign=USD&domestic=EUR&time=...
func (s *Server) fxRateHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	foreign, err := models.ParseCurrency(q.Get("foreign"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	domestic, err := models.ParseCurrency(q.Get("domestic"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	at, err := parseTime(q.Get("time"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.ctx(r)
	defer cancel()

	rate, err := s.converter.FxRate(ctx, foreign, domestic, at)
	if errors.Is(err, fx.ErrConversionFailed) {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		logger.Log.Error("fx rate failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeData(w, http.StatusOK, fxRateResponse{Foreign: foreign, Domestic: domestic, Time: at, Rate: rate})
}

// convertHandler answers GET /api/v1/convert?amount=10&from=USD&to=JPY&time=...
// The result is rounded to the target currency's digits.
func (s *Server) convertHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	from, err := models.ParseCurrency(q.Get("from"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := models.ParseCurrency(q.Get("to"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	at, err := parseTime(q.Get("time"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := s.ctx(r)
	defer cancel()

	converted, err := s.converter.ConvertRounded(ctx, s.rounding, amount, from, to, at)
	if errors.Is(err, fx.ErrConversionFailed) {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		logger.Log.Error("conversion failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeData(w, http.StatusOK, convertResponse{From: from, To: to, Time: at, Amount: amount, Converted: converted})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()

	stats, err := s.quotes.GetQuoteStats(ctx)
	if err != nil {
		s.writeStoreError(w, "get_quote_stats", err)
		return
	}
	s.writeData(w, http.StatusOK, stats)
}

func (s *Server) getTickerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid ticker id")
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()

	ticker, err := s.quotes.GetTickerByID(ctx, id)
	if err != nil {
		s.writeStoreError(w, "get_ticker", err)
		return
	}
	s.writeData(w, http.StatusOK, tickerResponse{ID: id, Ticker: ticker})
}

func (s *Server) getAssetTickersHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()

	tickers, err := s.quotes.GetTickersForAsset(ctx, id)
	if err != nil {
		s.writeStoreError(w, "get_tickers_for_asset", err)
		return
	}
	out := make([]tickerResponse, 0, len(tickers))
	for _, t := range tickers {
		tid, _ := t.ID.Value()
		out = append(out, tickerResponse{ID: tid, Ticker: t})
	}
	s.writeData(w, http.StatusOK, out)
}

func (s *Server) getQuotesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid ticker id")
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()

	quotes, err := s.quotes.GetQuotesForTicker(ctx, id)
	if err != nil {
		s.writeStoreError(w, "get_quotes_for_ticker", err)
		return
	}
	out := make([]quoteResponse, 0, len(quotes))
	for _, q := range quotes {
		qid, _ := q.ID.Value()
		out = append(out, quoteResponse{ID: qid, Quote: q})
	}
	s.writeData(w, http.StatusOK, out)
}

func (s *Server) getAssetHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()

	var (
		asset *models.Asset
		err   error
	)
	if name := r.URL.Query().Get("name"); name != "" {
		asset, err = s.assets.GetAssetByName(ctx, name)
	} else {
		id, perr := pathID(r)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, "asset id or name required")
			return
		}
		asset, err = s.assets.GetAssetByID(ctx, id)
	}
	if err != nil {
		s.writeStoreError(w, "get_asset", err)
		return
	}
	id, _ := asset.ID.Value()
	s.writeData(w, http.StatusOK, assetResponse{ID: id, Asset: asset})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) createAssetHandler(w http.ResponseWriter, r *http.Request) {
	var asset models.Asset
	if err := decodeBody(w, r, &asset); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()

	if err := s.assets.InsertAsset(ctx, &asset); err != nil {
		s.writeStoreError(w, "insert_asset", err)
		return
	}
	id, _ := asset.GetID()
	s.writeData(w, http.StatusCreated, assetResponse{ID: id, Asset: &asset})
}

func (s *Server) createTickerHandler(w http.ResponseWriter, r *http.Request) {
	var ticker models.Ticker
	if err := decodeBody(w, r, &ticker); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()

	if err := s.quotes.InsertTicker(ctx, &ticker); err != nil {
		s.writeStoreError(w, "insert_ticker", err)
		return
	}
	id, _ := ticker.GetID()
	s.writeData(w, http.StatusCreated, tickerResponse{ID: id, Ticker: &ticker})
}

func (s *Server) updateTickerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid ticker id")
		return
	}
	var ticker models.Ticker
	if err := decodeBody(w, r, &ticker); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ticker.ID = models.Assigned(id)

	ctx, cancel := s.ctx(r)
	defer cancel()

	if err := s.quotes.UpdateTicker(ctx, &ticker); err != nil {
		s.writeStoreError(w, "update_ticker", err)
		return
	}
	s.writeData(w, http.StatusOK, tickerResponse{ID: id, Ticker: &ticker})
}

func (s *Server) createQuoteHandler(w http.ResponseWriter, r *http.Request) {
	var quote models.Quote
	if err := decodeBody(w, r, &quote); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()

	if err := s.quotes.InsertQuote(ctx, &quote); err != nil {
		s.writeStoreError(w, "insert_quote", err)
		return
	}
	id, _ := quote.GetID()
	s.writeData(w, http.StatusCreated, quoteResponse{ID: id, Quote: &quote})
}

func (s *Server) updateQuoteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid quote id")
		return
	}
	var quote models.Quote
	if err := decodeBody(w, r, &quote); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	quote.ID = models.Assigned(id)

	ctx, cancel := s.ctx(r)
	defer cancel()

	if err := s.quotes.UpdateQuote(ctx, &quote); err != nil {
		s.writeStoreError(w, "update_quote", err)
		return
	}
	s.writeData(w, http.StatusOK, quoteResponse{ID: id, Quote: &quote})
}

// getAssetQuoteHandler returns the preferred quote of an asset at or before time.
func (s *Server) getAssetQuoteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}
	at, err := parseTime(r.URL.Query().Get("time"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := s.ctx(r)
	defer cancel()

	quote, currency, err := s.quotes.GetLastQuoteBeforeByAsset(ctx, id, at)
	if err != nil {
		s.writeStoreError(w, "get_last_quote_before_by_asset", err)
		return
	}
	qid, _ := quote.ID.Value()
	s.writeData(w, http.StatusOK, struct {
		quoteResponse
		Currency models.Currency `json:"currency"`
	}{quoteResponse{ID: qid, Quote: &quote}, currency})
}

func (s *Server) deleteHandler(op string, del func(context.Context, int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid id")
			return
		}
		ctx, cancel := s.ctx(r)
		defer cancel()

		if err := del(ctx, id); err != nil {
			s.writeStoreError(w, op, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) dedupeQuotesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()

	n, err := s.quotes.RemoveDuplicateQuotes(ctx)
	if err != nil {
		s.writeStoreError(w, "remove_duplicate_quotes", err)
		return
	}
	logger.Log.Info("removed duplicate quotes", zap.Int64("count", n))
	s.writeData(w, http.StatusOK, map[string]int64{"removed": n})
}

func (s *Server) migrationStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.ctx(r)
	defer cancel()

	status, err := s.migrations.GetMigrationStatus(ctx)
	if err != nil {
		logger.Log.Error("failed to get migration status", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeData(w, http.StatusOK, status)
}
