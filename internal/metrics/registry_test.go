package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptoscan/internal/models"
)

func TestRegistry_ObserveFetch(t *testing.T) {
	r := NewRegistry()
	r.ObserveFetch("binance_spot", "ok", 120*time.Millisecond)
	r.ObserveFetch("binance_spot", "ok", 80*time.Millisecond)
	r.ObserveFetch("binance_spot", "timeout", 6*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.VenueFetches.WithLabelValues("binance_spot", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.VenueFetches.WithLabelValues("binance_spot", "timeout")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.VenueLatency))
}

func TestRegistry_CacheHitRatio(t *testing.T) {
	r := NewRegistry()
	r.ObserveCache("binance_spot", false)
	r.ObserveCache("binance_spot", true)
	r.ObserveCache("mexc_spot", true)
	r.ObserveCache("mexc_spot", true)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.CacheHits.WithLabelValues("binance_spot"))+testutil.ToFloat64(r.CacheHits.WithLabelValues("mexc_spot")))
	assert.InDelta(t, 0.75, testutil.ToFloat64(r.CacheHitRatio), 1e-9)
}

func TestRegistry_ObserveScan(t *testing.T) {
	r := NewRegistry()
	done := r.ScanStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActiveScans))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(r.ActiveScans))

	picks := &models.ScanResult{UniverseCount: 30, CandidatesCount: 4, Picks: []models.Candidate{{Side: models.SideLong}}}
	wait := &models.ScanResult{UniverseCount: 12, Picks: []models.Candidate{models.WaitCandidate()}}

	r.ObserveScan(models.MarketSpot, time.Second, picks, nil)
	r.ObserveScan(models.MarketSpot, time.Second, wait, nil)
	r.ObserveScan(models.MarketFutures, time.Second, nil, errors.New("unreachable"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.ScansTotal.WithLabelValues("spot", "picks")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ScansTotal.WithLabelValues("spot", "wait")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ScansTotal.WithLabelValues("futures", "error")))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.UniverseSize.WithLabelValues("spot")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.Candidates.WithLabelValues("spot")))
}

func TestRegistry_BreakerChanged(t *testing.T) {
	r := NewRegistry()
	r.BreakerChanged("mexc_futures", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.BreakerState.WithLabelValues("mexc_futures")))
	r.BreakerChanged("mexc_futures", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BreakerState.WithLabelValues("mexc_futures")))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ObserveStreamMessage("btcusdt@kline_5m", "closed")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `cryptoscan_stream_messages_total{kind="closed",stream="btcusdt@kline_5m"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
