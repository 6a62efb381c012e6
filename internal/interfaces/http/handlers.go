package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptoscan/internal/application/scan"
	"github.com/sawpanic/cryptoscan/internal/models"
	"github.com/sawpanic/cryptoscan/internal/net/circuit"
	"github.com/sawpanic/cryptoscan/internal/scheduler"
)

// Scanner runs an on-demand scan
type Scanner interface {
	ScanOnce(ctx context.Context, opts scan.Options) (*models.ScanResult, error)
}

// PriceSource resolves a last price
type PriceSource interface {
	LastPrice(ctx context.Context, ex models.Exchange, mk models.Market, symbol string) (models.PriceQuote, error)
}

// BreakerStats exposes per-venue breaker state
type BreakerStats interface {
	Stats() map[string]circuit.Stats
	Unhealthy() []string
}

// JobLister reports scheduled jobs
type JobLister interface {
	Status() []scheduler.JobStatus
}

// Deps are the collaborators behind the routes. Nil optional fields disable their data.
type Deps struct {
	Scanner      Scanner
	Prices       PriceSource
	Breakers     BreakerStats
	Jobs         JobLister
	Results      *ResultStore
	Signals      *SignalStore
	Metrics      http.Handler
	ScanDefaults scan.Options
}

// Handlers serves the API routes
type Handlers struct {
	deps Deps
	now  func() time.Time
}

// NewHandlers creates handlers, allocating empty stores when none are given
func NewHandlers(deps Deps) *Handlers {
	if deps.Results == nil {
		deps.Results = NewResultStore()
	}
	if deps.Signals == nil {
		deps.Signals = NewSignalStore()
	}
	return &Handlers{deps: deps, now: time.Now}
}

// Scan handles GET /scan?market=&interval=&lookback=&maxPerExchange=
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request) {
	opts, err := h.scanOptions(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := h.deps.Scanner.ScanOnce(r.Context(), opts)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, result)
	case errors.Is(err, models.ErrInvalidMarket), errors.Is(err, models.ErrInvalidInterval):
		h.writeError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, scan.ErrUnreachable):
		h.writeError(w, r, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, r, http.StatusGatewayTimeout, err)
	default:
		h.writeError(w, r, http.StatusInternalServerError, err)
	}
}

func (h *Handlers) scanOptions(r *http.Request) (scan.Options, error) {
	q := r.URL.Query()
	opts := h.deps.ScanDefaults
	if v := q.Get("market"); v != "" {
		opts.Market = models.Market(strings.ToLower(v))
	}
	if v := q.Get("interval"); v != "" {
		opts.Interval = models.Interval(v)
	}
	if v := q.Get("lookback"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("lookback must be an integer, got %q", v)
		}
		opts.Lookback = n
	}
	if v := q.Get("maxPerExchange"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("maxPerExchange must be an integer, got %q", v)
		}
		opts.MaxPerExchange = n
	}
	return opts.Normalize()
}

// LatestScan handles GET /scan/latest
func (h *Handlers) LatestScan(w http.ResponseWriter, r *http.Request) {
	job, result, ok := h.deps.Results.Latest()
	if !ok {
		h.writeJSON(w, http.StatusNotFound, StatusResponse{Status: "warming_up"})
		return
	}
	w.Header().Set("X-Scan-Job", job)
	h.writeJSON(w, http.StatusOK, result)
}

// Signal handles GET /signal
func (h *Handlers) Signal(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	sig, ok := h.deps.Signals.Latest()
	if !ok {
		h.writeJSON(w, http.StatusOK, StatusResponse{Status: "warming_up"})
		return
	}
	h.writeJSON(w, http.StatusOK, sig)
}

// Price handles GET /price?exchange=&market=&symbol=
func (h *Handlers) Price(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ex, err := models.ParseExchange(defaultString(q.Get("exchange"), string(models.ExchangeBinance)))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	mk, err := models.ParseMarket(defaultString(q.Get("market"), string(models.MarketSpot)))
	if err != nil || mk == models.MarketBoth {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%w: price needs spot or futures", models.ErrInvalidMarket))
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		h.writeError(w, r, http.StatusBadRequest, errors.New("symbol is required"))
		return
	}

	quote, err := h.deps.Prices.LastPrice(r.Context(), ex, mk, symbol)
	if err != nil {
		log.Warn().Err(err).Str("exchange", string(ex)).Str("market", string(mk)).Str("symbol", symbol).Msg("price unavailable")
		h.writeError(w, r, http.StatusBadGateway, fmt.Errorf("price unavailable for %s", symbol))
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusOK, quote)
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Breakers:  map[string]circuit.Stats{},
	}
	if h.deps.Breakers != nil {
		resp.Breakers = h.deps.Breakers.Stats()
		resp.Unhealthy = h.deps.Breakers.Unhealthy()
	}
	if len(resp.Unhealthy) > 0 {
		resp.Status = "degraded"
	}
	if h.deps.Jobs != nil {
		resp.Jobs = h.deps.Jobs.Status()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// NotFound handles unknown routes
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, errors.New("endpoint not found"))
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.writeJSON(w, status, ErrorResponse{Error: err.Error(), RequestID: requestID(r.Context())})
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
