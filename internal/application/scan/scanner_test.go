package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptoscan/internal/data/facade"
	"github.com/sawpanic/cryptoscan/internal/data/venue/binance"
	"github.com/sawpanic/cryptoscan/internal/data/venue/mexc"
	"github.com/sawpanic/cryptoscan/internal/models"
	"github.com/sawpanic/cryptoscan/internal/net/client"
)

type venueKey struct {
	ex models.Exchange
	mk models.Market
}

// fakeData serves canned tickers and one-bar series for every requested symbol
type fakeData struct {
	tickers  map[venueKey][]models.TickerSnapshot
	errs     map[venueKey]error
	inFlight int32
	peak     int32
}

func (f *fakeData) TickersE(_ context.Context, ex models.Exchange, mk models.Market) ([]models.TickerSnapshot, error) {
	k := venueKey{ex, mk}
	if err := f.errs[k]; err != nil {
		return nil, err
	}
	return f.tickers[k], nil
}

func (f *fakeData) Candles(_ context.Context, ex models.Exchange, mk models.Market, symbol string, interval models.Interval, limit int) (models.CandleSeries, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return models.CandleSeries{
		Exchange: ex, Market: mk, Symbol: symbol, Interval: interval,
		Candles: []models.Candle{{OpenTime: 1, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}},
	}, nil
}

// fakeEvaluator emits a candidate with a preset confidence per (market, exchange, symbol)
type fakeEvaluator struct {
	mu    sync.Mutex
	conf  map[string]int
	calls int
}

func (e *fakeEvaluator) Evaluate(series models.CandleSeries, ticker models.TickerSnapshot) *models.Candidate {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	c, ok := e.conf[fmt.Sprintf("%s/%s/%s", series.Market, series.Exchange, series.Symbol)]
	if !ok {
		return nil
	}
	return &models.Candidate{
		Exchange: series.Exchange, Market: series.Market, Symbol: series.Symbol,
		Side: models.SideLong, ConfidencePercent: c, RiskPercent: 10,
	}
}

func tickers(symbols ...string) []models.TickerSnapshot {
	out := make([]models.TickerSnapshot, len(symbols))
	for i, s := range symbols {
		out[i] = models.TickerSnapshot{Symbol: s, LastPrice: 1, QuoteVolume: float64(1000 - i)}
	}
	return out
}

func newTestScanner(data MarketData, ev Evaluator) *Scanner {
	return NewScanner(data, ev, Config{ExchangeDelay: -1})
}

func TestOptions_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Options
		want Options
		err  error
	}{
		{"defaults", Options{}, Options{Market: models.MarketSpot, Interval: "5m", Lookback: 150, MaxPerExchange: 36}, nil},
		{"clamp low", Options{Lookback: 10, MaxPerExchange: 1}, Options{Market: models.MarketSpot, Interval: "5m", Lookback: 120, MaxPerExchange: 24}, nil},
		{"clamp high", Options{Market: "futures", Interval: "1h", Lookback: 1000, MaxPerExchange: 100}, Options{Market: models.MarketFutures, Interval: "1h", Lookback: 200, MaxPerExchange: 48}, nil},
		{"bad market", Options{Market: "options"}, Options{}, models.ErrInvalidMarket},
		{"bad interval", Options{Interval: "7m"}, Options{}, models.ErrInvalidInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRank_Deterministic(t *testing.T) {
	in := []models.Candidate{
		{Symbol: "A", ConfidencePercent: 70, RiskPercent: 20},
		{Symbol: "B", ConfidencePercent: 90, RiskPercent: 30},
		{Symbol: "C", ConfidencePercent: 70, RiskPercent: 10},
		{Symbol: "D", ConfidencePercent: 70, RiskPercent: 20},
		{Symbol: "E", ConfidencePercent: 40, RiskPercent: 6},
	}
	first := Rank(in)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Rank(in))
	}

	var order []string
	for _, c := range first {
		order = append(order, c.Symbol)
	}
	assert.Equal(t, []string{"B", "C", "A", "D", "E"}, order)
	assert.Equal(t, "A", in[0].Symbol, "input untouched")
	assert.Len(t, Top(first, MaxPicks), 3)
}

func TestScanOnce_InvalidInput(t *testing.T) {
	s := newTestScanner(&fakeData{}, &fakeEvaluator{})
	_, err := s.ScanOnce(context.Background(), Options{Market: "margin"})
	assert.ErrorIs(t, err, models.ErrInvalidMarket)
	_, err = s.ScanOnce(context.Background(), Options{Interval: "2m"})
	assert.ErrorIs(t, err, models.ErrInvalidInterval)
}

func TestScanOnce_OneExchangeDown(t *testing.T) {
	syms := make([]string, 10)
	for i := range syms {
		syms[i] = fmt.Sprintf("S%dUSDT", i)
	}
	data := &fakeData{
		tickers: map[venueKey][]models.TickerSnapshot{
			{models.ExchangeMEXC, models.MarketSpot}: tickers(syms...),
		},
		errs: map[venueKey]error{
			{models.ExchangeBinance, models.MarketSpot}: &client.ProviderError{Venue: "binance_spot", Type: client.ErrTypeTimeout, Err: context.DeadlineExceeded},
		},
	}
	s := newTestScanner(data, &fakeEvaluator{})

	res, err := s.ScanOnce(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 10, res.UniverseCount)
	assert.Equal(t, 0, res.CandidatesCount)
	require.Len(t, res.Picks, 1)
	assert.True(t, res.Picks[0].IsWait())
	assert.Equal(t, models.WaitNote, res.Picks[0].Note)
}

func TestScanOnce_BothMarketsMerge(t *testing.T) {
	data := &fakeData{tickers: map[venueKey][]models.TickerSnapshot{
		{models.ExchangeBinance, models.MarketSpot}:    tickers("AUSDT", "BUSDT"),
		{models.ExchangeMEXC, models.MarketSpot}:       tickers("AUSDT", "BUSDT"),
		{models.ExchangeBinance, models.MarketFutures}: tickers("CUSDT", "DUSDT"),
		{models.ExchangeMEXC, models.MarketFutures}:    tickers("CUSDT", "DUSDT"),
	}}
	ev := &fakeEvaluator{conf: map[string]int{
		"spot/BINANCE/AUSDT":    80,
		"spot/MEXC/BUSDT":       60,
		"futures/BINANCE/CUSDT": 90,
		"futures/MEXC/DUSDT":    50,
	}}
	s := newTestScanner(data, ev)

	res, err := s.ScanOnce(context.Background(), Options{Market: models.MarketBoth})
	require.NoError(t, err)
	assert.Equal(t, 4, res.UniverseCount)
	assert.Equal(t, 4, res.CandidatesCount)

	var conf []int
	for _, p := range res.Picks {
		conf = append(conf, p.ConfidencePercent)
	}
	assert.Equal(t, []int{90, 80, 60}, conf)
	assert.Equal(t, models.MarketFutures, res.Picks[0].Market)
	assert.Equal(t, 8, ev.calls, "each symbol is evaluated on both exchanges")
}

func TestScanOnce_Unreachable(t *testing.T) {
	transport := func(v string) error {
		return &client.ProviderError{Venue: v, Type: client.ErrTypeTransport, Err: errors.New("dial tcp: no route to host")}
	}
	data := &fakeData{errs: map[venueKey]error{
		{models.ExchangeBinance, models.MarketSpot}: transport("binance_spot"),
		{models.ExchangeMEXC, models.MarketSpot}:    transport("mexc_spot"),
	}}
	_, err := newTestScanner(data, &fakeEvaluator{}).ScanOnce(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestScanOnce_HTTPErrorsStillWait(t *testing.T) {
	httpErr := &client.ProviderError{Venue: "x", Type: client.ErrTypeHTTP, StatusCode: 451, Err: errors.New("HTTP 451")}
	data := &fakeData{errs: map[venueKey]error{
		{models.ExchangeBinance, models.MarketSpot}: httpErr,
		{models.ExchangeMEXC, models.MarketSpot}:    httpErr,
	}}
	res, err := newTestScanner(data, &fakeEvaluator{}).ScanOnce(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.UniverseCount)
	assert.True(t, res.Picks[0].IsWait())
}

func TestScanOnce_BoundedPool(t *testing.T) {
	syms := make([]string, 30)
	for i := range syms {
		syms[i] = fmt.Sprintf("P%02dUSDT", i)
	}
	data := &fakeData{tickers: map[venueKey][]models.TickerSnapshot{
		{models.ExchangeBinance, models.MarketSpot}: tickers(syms...),
		{models.ExchangeMEXC, models.MarketSpot}:    tickers(syms...),
	}}
	_, err := newTestScanner(data, &fakeEvaluator{}).ScanOnce(context.Background(), Options{})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&data.peak), int32(defaultWorkers))
}

// venueServer serves Binance-shaped tickers and steadily rising klines for five symbols
func venueServer(t *testing.T) *httptest.Server {
	t.Helper()
	symbols := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT"}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ticker/24hr":
			var out []map[string]string
			for i, s := range symbols {
				out = append(out, map[string]string{
					"symbol":      s,
					"lastPrice":   "100",
					"quoteVolume": strconv.Itoa((i + 1) * 10_000_000),
				})
			}
			_ = json.NewEncoder(w).Encode(out)
		case "/api/v3/klines":
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			rows := make([][]interface{}, 0, limit)
			for i := 0; i < limit; i++ {
				c := 100 + float64(i)*0.5
				o := c - 0.3
				rows = append(rows, []interface{}{
					int64(1_700_000_000_000 + i*300_000),
					fmt.Sprint(o), fmt.Sprint(c + 0.2), fmt.Sprint(o - 0.2), fmt.Sprint(c), "1000",
				})
			}
			_ = json.NewEncoder(w).Encode(rows)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestScanOnce_EndToEndOverHTTP(t *testing.T) {
	srv := venueServer(t)
	defer srv.Close()

	fetcher := client.NewFetcher(client.Config{Timeout: 2 * time.Second})
	gw := facade.NewGateway(facade.Config{},
		binance.NewSpot(fetcher, []string{srv.URL}),
		mexc.NewSpot(fetcher, []string{srv.URL}),
	)
	s := NewScanner(gw, nil, Config{ExchangeDelay: time.Millisecond})

	res, err := s.ScanOnce(context.Background(), Options{Interval: "5m"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.UniverseCount)
	assert.Equal(t, 10, res.CandidatesCount)
	require.Len(t, res.Picks, 3)
	for _, p := range res.Picks {
		assert.Equal(t, models.SideLong, p.Side)
		assert.Greater(t, p.TakeProfit, p.Entry)
		assert.Less(t, p.Stop, p.Entry)
	}
	assert.GreaterOrEqual(t, res.Picks[0].ConfidencePercent, res.Picks[1].ConfidencePercent)
}

type recordingRecorder struct {
	mu       sync.Mutex
	active   int
	peak     int
	observed []error
}

func (r *recordingRecorder) ScanStarted() func() {
	r.mu.Lock()
	r.active++
	if r.active > r.peak {
		r.peak = r.active
	}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}
}

func (r *recordingRecorder) ObserveScan(_ models.Market, _ time.Duration, _ *models.ScanResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, err)
}

func TestScanOnce_Recorder(t *testing.T) {
	rec := &recordingRecorder{}
	data := &fakeData{tickers: map[venueKey][]models.TickerSnapshot{
		{models.ExchangeBinance, models.MarketSpot}: tickers("AUSDT"),
	}}
	s := NewScanner(data, &fakeEvaluator{}, Config{ExchangeDelay: -1, Recorder: rec})

	_, err := s.ScanOnce(context.Background(), Options{})
	require.NoError(t, err)
	_, err = s.ScanOnce(context.Background(), Options{Market: "options"})
	require.Error(t, err)

	assert.Equal(t, 0, rec.active)
	assert.Equal(t, 1, rec.peak)
	require.Len(t, rec.observed, 1, "invalid input is rejected before recording")
	assert.NoError(t, rec.observed[0])
}

// stallingMEXC answers Binance at once and holds every MEXC candle call for stall
type stallingMEXC struct {
	*fakeData
	stall time.Duration
}

func (s stallingMEXC) Candles(ctx context.Context, ex models.Exchange, mk models.Market, symbol string, interval models.Interval, limit int) (models.CandleSeries, error) {
	if ex == models.ExchangeMEXC {
		select {
		case <-time.After(s.stall):
		case <-ctx.Done():
			return models.CandleSeries{}, ctx.Err()
		}
	}
	return s.fakeData.Candles(ctx, ex, mk, symbol, interval, limit)
}

func TestScanOnce_DeadlineRanksFinishedSymbols(t *testing.T) {
	syms := make([]string, 36)
	conf := make(map[string]int, len(syms))
	for i := range syms {
		syms[i] = fmt.Sprintf("D%02dUSDT", i)
		conf["spot/BINANCE/"+syms[i]] = 50 + i
	}
	data := stallingMEXC{
		fakeData: &fakeData{tickers: map[venueKey][]models.TickerSnapshot{
			{models.ExchangeBinance, models.MarketSpot}: tickers(syms...),
			{models.ExchangeMEXC, models.MarketSpot}:    tickers(syms...),
		}},
		stall: 40 * time.Millisecond,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := newTestScanner(data, &fakeEvaluator{conf: conf}).ScanOnce(ctx, Options{})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Partial)
	assert.Equal(t, 36, res.UniverseCount)
	assert.Positive(t, res.CandidatesCount)
	require.NotEmpty(t, res.Picks)
	assert.False(t, res.Picks[0].IsWait())
	assert.Equal(t, models.ExchangeBinance, res.Picks[0].Exchange)
}

func TestScanOnce_CancelledCallerGetsError(t *testing.T) {
	data := &fakeData{tickers: map[venueKey][]models.TickerSnapshot{
		{models.ExchangeBinance, models.MarketSpot}: tickers("AUSDT"),
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestScanner(data, &fakeEvaluator{}).ScanOnce(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}
