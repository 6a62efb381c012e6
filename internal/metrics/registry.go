package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/cryptoscan/internal/models"
)

const namespace = "cryptoscan"

// Registry holds every Prometheus metric the scanner exports
type Registry struct {
	reg *prometheus.Registry

	ScansTotal     *prometheus.CounterVec
	ScanDuration   *prometheus.HistogramVec
	ActiveScans    prometheus.Gauge
	UniverseSize   *prometheus.GaugeVec
	Candidates     *prometheus.GaugeVec
	VenueFetches   *prometheus.CounterVec
	VenueLatency   *prometheus.HistogramVec
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheHitRatio  prometheus.Gauge
	BreakerState   *prometheus.GaugeVec
	StreamMessages *prometheus.CounterVec

	mu     sync.Mutex
	venues map[string]struct{}
}

// NewRegistry creates and registers all metrics on a private registry
func NewRegistry() *Registry {
	r := &Registry{
		reg:    prometheus.NewRegistry(),
		venues: make(map[string]struct{}),

		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Completed scan passes by market and result",
			},
			[]string{"market", "result"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Wall time of one scan pass",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"market"},
		),
		ActiveScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_scans",
				Help:      "Scans currently running",
			},
		),
		UniverseSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "universe_symbols",
				Help:      "Symbols in the last scan universe",
			},
			[]string{"market"},
		),
		Candidates: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidates",
				Help:      "Candidates that passed every gate in the last scan",
			},
			[]string{"market"},
		),
		VenueFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "venue_requests_total",
				Help:      "Upstream calls by venue and outcome",
			},
			[]string{"venue", "outcome"},
		),
		VenueLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "venue_request_duration_seconds",
				Help:      "Upstream call latency",
				Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 6},
			},
			[]string{"venue"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticker_cache_hits_total",
				Help:      "Ticker cache hits by venue",
			},
			[]string{"venue"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticker_cache_misses_total",
				Help:      "Ticker cache misses by venue",
			},
			[]string{"venue"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ticker_cache_hit_ratio",
				Help:      "Ticker cache hit ratio across venues (0.0 to 1.0)",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per venue (0=closed, 1=half-open, 2=open)",
			},
			[]string{"venue"},
		),
		StreamMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_messages_total",
				Help:      "Websocket kline messages by stream and kind",
			},
			[]string{"stream", "kind"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ScansTotal,
		r.ScanDuration,
		r.ActiveScans,
		r.UniverseSize,
		r.Candidates,
		r.VenueFetches,
		r.VenueLatency,
		r.CacheHits,
		r.CacheMisses,
		r.CacheHitRatio,
		r.BreakerState,
		r.StreamMessages,
	)
	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveFetch records one upstream call
func (r *Registry) ObserveFetch(venue, outcome string, elapsed time.Duration) {
	r.VenueFetches.WithLabelValues(venue, outcome).Inc()
	r.VenueLatency.WithLabelValues(venue).Observe(elapsed.Seconds())
}

// ObserveCache records a ticker cache lookup
func (r *Registry) ObserveCache(venue string, hit bool) {
	r.mu.Lock()
	r.venues[venue] = struct{}{}
	r.mu.Unlock()

	if hit {
		r.CacheHits.WithLabelValues(venue).Inc()
	} else {
		r.CacheMisses.WithLabelValues(venue).Inc()
	}
	r.updateCacheHitRatio()
}

// ScanStarted marks a scan as running. Call the returned func when it ends.
func (r *Registry) ScanStarted() func() {
	r.ActiveScans.Inc()
	return r.ActiveScans.Dec
}

// ObserveScan records a finished scan pass
func (r *Registry) ObserveScan(market models.Market, elapsed time.Duration, result *models.ScanResult, err error) {
	mk := string(market)
	r.ScanDuration.WithLabelValues(mk).Observe(elapsed.Seconds())
	if err != nil {
		r.ScansTotal.WithLabelValues(mk, "error").Inc()
		return
	}
	outcome := "wait"
	if result.HasPicks() {
		outcome = "picks"
	}
	r.ScansTotal.WithLabelValues(mk, outcome).Inc()
	r.UniverseSize.WithLabelValues(mk).Set(float64(result.UniverseCount))
	r.Candidates.WithLabelValues(mk).Set(float64(result.CandidatesCount))
}

// BreakerChanged records a breaker transition
func (r *Registry) BreakerChanged(venue string, _, to gobreaker.State) {
	r.BreakerState.WithLabelValues(venue).Set(breakerValue(to))
}

// ObserveStreamMessage counts one websocket message
func (r *Registry) ObserveStreamMessage(stream, kind string) {
	r.StreamMessages.WithLabelValues(stream, kind).Inc()
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// updateCacheHitRatio sums hits and misses over every venue seen so far
func (r *Registry) updateCacheHitRatio() {
	r.mu.Lock()
	venues := make([]string, 0, len(r.venues))
	for v := range r.venues {
		venues = append(venues, v)
	}
	r.mu.Unlock()

	var hits, misses float64
	for _, v := range venues {
		h, err := counterValue(r.CacheHits, v)
		if err != nil {
			log.Debug().Err(err).Str("venue", v).Msg("reading cache hit counter")
			continue
		}
		m, err := counterValue(r.CacheMisses, v)
		if err != nil {
			log.Debug().Err(err).Str("venue", v).Msg("reading cache miss counter")
			continue
		}
		hits += h
		misses += m
	}
	if total := hits + misses; total > 0 {
		r.CacheHitRatio.Set(hits / total)
	}
}

func counterValue(vec *prometheus.CounterVec, labels ...string) (float64, error) {
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0, err
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0, err
	}
	if m.GetCounter() == nil {
		return 0, errors.New("not a counter")
	}
	return m.GetCounter().GetValue(), nil
}
