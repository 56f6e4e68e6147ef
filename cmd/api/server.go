package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/alim08/finql/pkg/auth"
	"github.com/alim08/finql/pkg/database"
	"github.com/alim08/finql/pkg/fx"
	"github.com/alim08/finql/pkg/logger"
	"github.com/alim08/finql/pkg/metrics"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// MigrationStatusProvider is satisfied by *database.DB.
type MigrationStatusProvider interface {
	GetMigrationStatus(ctx context.Context) ([]database.MigrationStatus, error)
}

// Server serves the read API for tickers, quotes and FX rates and the
// token-protected write API.
type Server struct {
	quotes     database.QuoteRepository
	assets     database.AssetRepository
	rounding   fx.RoundingDigits
	converter  *fx.Converter
	auth       *auth.AuthService
	migrations MigrationStatusProvider
	// checks run by /ready, keyed by dependency name
	checks  map[string]func(context.Context) error
	timeout time.Duration
}

type ServerDeps struct {
	Quotes     database.QuoteRepository
	Assets     database.AssetRepository
	Rounding   fx.RoundingDigits
	Auth       *auth.AuthService
	Migrations MigrationStatusProvider
	Checks     map[string]func(context.Context) error
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		quotes:     deps.Quotes,
		assets:     deps.Assets,
		rounding:   deps.Rounding,
		converter:  fx.NewConverter(deps.Quotes),
		auth:       deps.Auth,
		migrations: deps.Migrations,
		checks:     deps.Checks,
		timeout:    10 * time.Second,
	}
}

// Router builds the mux with all routes and middleware.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.Use(corsMiddleware)
	router.Use(metricsMiddleware)

	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.readyHandler).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler())

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/fx", s.fxRateHandler).Methods(http.MethodGet)
	api.HandleFunc("/convert", s.convertHandler).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	api.HandleFunc("/tickers/{id:[0-9]+}", s.getTickerHandler).Methods(http.MethodGet)
	api.HandleFunc("/tickers/{id:[0-9]+}/quotes", s.getQuotesHandler).Methods(http.MethodGet)
	api.HandleFunc("/assets", s.getAssetHandler).Methods(http.MethodGet).Queries("name", "{name}")
	api.HandleFunc("/assets/{id:[0-9]+}", s.getAssetHandler).Methods(http.MethodGet)
	api.HandleFunc("/assets/{id:[0-9]+}/tickers", s.getAssetTickersHandler).Methods(http.MethodGet)
	api.HandleFunc("/assets/{id:[0-9]+}/quote", s.getAssetQuoteHandler).Methods(http.MethodGet)

	writer := api.PathPrefix("").Subrouter()
	writer.Use(s.auth.AuthMiddleware)
	writer.Use(s.auth.RoleMiddleware(auth.RoleWriter))
	writer.HandleFunc("/assets", s.createAssetHandler).Methods(http.MethodPost)
	writer.HandleFunc("/assets/{id:[0-9]+}", s.deleteHandler("delete_asset", s.assets.DeleteAsset)).Methods(http.MethodDelete)
	writer.HandleFunc("/tickers", s.createTickerHandler).Methods(http.MethodPost)
	writer.HandleFunc("/tickers/{id:[0-9]+}", s.updateTickerHandler).Methods(http.MethodPut)
	writer.HandleFunc("/tickers/{id:[0-9]+}", s.deleteHandler("delete_ticker", s.quotes.DeleteTicker)).Methods(http.MethodDelete)
	writer.HandleFunc("/quotes", s.createQuoteHandler).Methods(http.MethodPost)
	writer.HandleFunc("/quotes/{id:[0-9]+}", s.updateQuoteHandler).Methods(http.MethodPut)
	writer.HandleFunc("/quotes/{id:[0-9]+}", s.deleteHandler("delete_quote", s.quotes.DeleteQuote)).Methods(http.MethodDelete)
	writer.HandleFunc("/quotes/dedupe", s.dedupeQuotesHandler).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.auth.AuthMiddleware)
	admin.Use(s.auth.RoleMiddleware("admin"))
	admin.HandleFunc("/migrations", s.migrationStatusHandler).Methods(http.MethodGet)

	return router
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Log.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware labels by route template so ids don't explode cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		status := strconv.Itoa(rec.status)
		metrics.APIRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		metrics.APIRequestTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}
