package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptoscan/internal/net/circuit"
	"github.com/sawpanic/cryptoscan/internal/net/ratelimit"
)

type recorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recorder) ObserveFetch(_, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func TestFetcher_FirstSuccessWins(t *testing.T) {
	var primaryHits, mirrorHits int
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mirrorHits++
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	defer mirror.Close()

	rec := &recorder{}
	f := NewFetcher(Config{Timeout: time.Second, Observer: rec})
	body, err := f.Get(context.Background(), "binance_spot", primary.URL+"/api/v3/klines", mirror.URL+"/api/v3/klines")

	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, string(body))
	assert.Equal(t, 1, primaryHits)
	assert.Equal(t, 1, mirrorHits)
	assert.Equal(t, []string{ErrTypeHTTP, "ok"}, rec.outcomes)
}

func TestFetcher_AllCandidatesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	f := NewFetcher(Config{Timeout: time.Second})
	_, err := f.Get(context.Background(), "mexc_spot", srv.URL+"/a", srv.URL+"/b")

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ErrTypeHTTP, perr.Type)
	assert.Equal(t, http.StatusTeapot, perr.StatusCode)
	assert.Equal(t, srv.URL+"/b", perr.URL)
	assert.False(t, IsTransport(err))
}

func TestFetcher_PerCallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(Config{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := f.Get(context.Background(), "mexc_futures", srv.URL)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetcher_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := NewFetcher(Config{Timeout: time.Second})
	_, err := f.Get(context.Background(), "binance_futures", addr)
	assert.True(t, IsTransport(err))
}

func TestFetcher_OpenCircuitSkipsHost(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := circuit.DefaultConfig()
	cfg.ConsecutiveFailures = 2
	breakers := circuit.NewManager(cfg, nil)
	limits := ratelimit.NewManager()
	limits.AddVenue("mexc_spot", 0, 1)

	f := NewFetcher(Config{Timeout: time.Second, Breakers: breakers, Limits: limits})
	_, err := f.Get(context.Background(), "mexc_spot", srv.URL, srv.URL, srv.URL)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ErrTypeCircuit, perr.Type)
	assert.Equal(t, 2, hits)
	assert.ErrorIs(t, err, circuit.ErrOpen)
}

func TestFetcher_NoCandidates(t *testing.T) {
	_, err := NewFetcher(Config{}).Get(context.Background(), "binance_spot")
	assert.Error(t, err)
}

func TestFetcher_BlockedPrimaryKeepsMirrorReachable(t *testing.T) {
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
	}))
	defer blocked.Close()
	var mirrorHits int32
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&mirrorHits, 1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer mirror.Close()

	breakers := circuit.NewManager(circuit.DefaultConfig(), nil)
	f := NewFetcher(Config{Timeout: time.Second, Breakers: breakers})

	for i := 0; i < 40; i++ {
		body, err := f.Get(context.Background(), "binance_spot", blocked.URL+"/api/v3/ticker/24hr", mirror.URL+"/api/v3/ticker/24hr")
		require.NoError(t, err, "call %d", i+1)
		assert.Equal(t, `{"ok":true}`, string(body))
	}
	assert.Equal(t, int32(40), atomic.LoadInt32(&mirrorHits))

	blockedKey := circuit.Key("binance_spot", strings.TrimPrefix(blocked.URL, "http://"))
	mirrorKey := circuit.Key("binance_spot", strings.TrimPrefix(mirror.URL, "http://"))
	assert.Equal(t, []string{blockedKey}, breakers.Unhealthy())
	assert.True(t, breakers.Stats()[mirrorKey].IsHealthy())
}
