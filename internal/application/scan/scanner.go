package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/cryptoscan/internal/domain/scoring"
	"github.com/sawpanic/cryptoscan/internal/models"
	"github.com/sawpanic/cryptoscan/internal/net/client"
	"github.com/sawpanic/cryptoscan/internal/universe"
)

// ErrUnreachable means no exchange could be contacted at all
var ErrUnreachable = errors.New("no exchange reachable")

const (
	DefaultInterval       models.Interval = "5m"
	DefaultLookback                       = 150
	MinLookback                           = 120
	MaxLookback                           = 200
	DefaultMaxPerExchange                 = 36
	MinMaxPerExchange                     = 24
	MaxMaxPerExchange                     = 48
	MaxPicks                              = 3

	defaultWorkers       = 4
	defaultExchangeDelay = 40 * time.Millisecond
)

// MarketData is the upstream surface a scan needs
type MarketData interface {
	TickersE(ctx context.Context, ex models.Exchange, mk models.Market) ([]models.TickerSnapshot, error)
	Candles(ctx context.Context, ex models.Exchange, mk models.Market, symbol string, interval models.Interval, limit int) (models.CandleSeries, error)
}

// Evaluator scores one series; nil means rejected
type Evaluator interface {
	Evaluate(series models.CandleSeries, ticker models.TickerSnapshot) *models.Candidate
}

// Recorder tracks in-flight scans and receives one callback per finished ScanOnce
type Recorder interface {
	ScanStarted() (done func())
	ObserveScan(market models.Market, elapsed time.Duration, result *models.ScanResult, err error)
}

// Options are the caller-facing scan parameters
type Options struct {
	Market         models.Market   `json:"market"`
	Interval       models.Interval `json:"interval"`
	Lookback       int             `json:"lookback"`
	MaxPerExchange int             `json:"maxPerExchange"`
}

// Normalize validates market and interval, fills defaults and clamps the numeric bounds
func (o Options) Normalize() (Options, error) {
	mk, err := models.ParseMarket(string(o.Market))
	if err != nil {
		return o, err
	}
	o.Market = mk

	if o.Interval == "" {
		o.Interval = DefaultInterval
	} else {
		iv, err := models.ParseInterval(string(o.Interval))
		if err != nil {
			return o, err
		}
		o.Interval = iv
	}

	if o.Lookback == 0 {
		o.Lookback = DefaultLookback
	}
	o.Lookback = clampInt(o.Lookback, MinLookback, MaxLookback)

	if o.MaxPerExchange == 0 {
		o.MaxPerExchange = DefaultMaxPerExchange
	}
	o.MaxPerExchange = clampInt(o.MaxPerExchange, MinMaxPerExchange, MaxMaxPerExchange)
	return o, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Config tunes a Scanner. Zero values take the defaults.
type Config struct {
	Workers       int
	ExchangeDelay time.Duration
	Recorder      Recorder
}

// Scanner runs scan passes. It holds no per-scan state, so concurrent ScanOnce calls are safe.
type Scanner struct {
	data      MarketData
	evaluator Evaluator
	workers   int
	delay     time.Duration
	recorder  Recorder
	now       func() time.Time
}

// NewScanner creates a scanner over data
func NewScanner(data MarketData, evaluator Evaluator, cfg Config) *Scanner {
	if evaluator == nil {
		evaluator = scoring.NewEvaluator(scoring.DefaultPolicy())
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	delay := cfg.ExchangeDelay
	if delay < 0 {
		delay = 0
	} else if delay == 0 {
		delay = defaultExchangeDelay
	}
	return &Scanner{
		data:      data,
		evaluator: evaluator,
		workers:   workers,
		delay:     delay,
		recorder:  cfg.Recorder,
		now:       time.Now,
	}
}

// marketPass is the outcome of scanning one market
type marketPass struct {
	universe   int
	candidates []models.Candidate
	tickerErrs []error
}

// ScanOnce runs one full pass and returns the ranked shortlist
func (s *Scanner) ScanOnce(ctx context.Context, opts Options) (*models.ScanResult, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	start := s.now()
	if s.recorder != nil {
		defer s.recorder.ScanStarted()()
	}

	markets := []models.Market{opts.Market}
	if opts.Market == models.MarketBoth {
		markets = []models.Market{models.MarketSpot, models.MarketFutures}
	}

	passes := make([]marketPass, len(markets))
	g, gctx := errgroup.WithContext(ctx)
	for i, mk := range markets {
		i, mk := i, mk
		g.Go(func() error {
			passes[i] = s.scanMarket(gctx, mk, opts)
			return nil
		})
	}
	_ = g.Wait()

	result := &models.ScanResult{
		RanAt:          start.UTC(),
		Market:         opts.Market,
		Interval:       opts.Interval,
		Lookback:       opts.Lookback,
		MaxPerExchange: opts.MaxPerExchange,
	}

	var (
		all        []models.Candidate
		tickerErrs []error
		fetches    int
	)
	for _, p := range passes {
		result.UniverseCount += p.universe
		all = append(all, p.candidates...)
		tickerErrs = append(tickerErrs, p.tickerErrs...)
		fetches += len(models.Exchanges)
	}

	// a caller that went away gets nothing; an expired deadline ranks what finished
	if errors.Is(ctx.Err(), context.Canceled) {
		s.observe(opts.Market, start, nil, ctx.Err())
		return nil, ctx.Err()
	}
	if ctx.Err() != nil {
		result.Partial = true
		log.Warn().
			Str("market", string(opts.Market)).
			Int("candidates", len(all)).
			Msg("scan deadline reached, ranking finished symbols")
	} else if unreachable(tickerErrs, fetches) {
		err := fmt.Errorf("%w: %v", ErrUnreachable, errors.Join(tickerErrs...))
		s.observe(opts.Market, start, nil, err)
		return nil, err
	}

	result.CandidatesCount = len(all)
	result.Picks = Top(Rank(all), MaxPicks)
	if len(result.Picks) == 0 {
		result.Picks = []models.Candidate{models.WaitCandidate()}
	}

	log.Info().
		Str("market", string(opts.Market)).
		Str("interval", string(opts.Interval)).
		Int("universe", result.UniverseCount).
		Int("candidates", result.CandidatesCount).
		Dur("duration", s.now().Sub(start)).
		Msg("scan complete")

	s.observe(opts.Market, start, result, nil)
	return result, nil
}

func (s *Scanner) observe(mk models.Market, start time.Time, result *models.ScanResult, err error) {
	if s.recorder != nil {
		s.recorder.ObserveScan(mk, s.now().Sub(start), result, err)
	}
}

// unreachable is true when every ticker fetch failed without getting any HTTP response
func unreachable(errs []error, fetches int) bool {
	if fetches == 0 || len(errs) < fetches {
		return false
	}
	for _, err := range errs {
		if !client.IsTransport(err) && !client.IsTimeout(err) {
			return false
		}
	}
	return true
}

// tickerMaps is the read-only per-exchange symbol to ticker lookup
type tickerMaps map[models.Exchange]map[string]models.TickerSnapshot

// scanMarket builds the universe and ticker maps concurrently, then evaluates
// every symbol on each exchange with a bounded pool
func (s *Scanner) scanMarket(ctx context.Context, mk models.Market, opts Options) marketPass {
	var (
		symbols []string
		maps    = make(tickerMaps, len(models.Exchanges))
		errs    = make([]error, len(models.Exchanges))
		lists   = make([][]models.TickerSnapshot, len(models.Exchanges))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		symbols = universe.NewBuilder(lenientSource{s.data}).Build(gctx, mk, opts.MaxPerExchange)
		return nil
	})
	for i, ex := range models.Exchanges {
		i, ex := i, ex
		g.Go(func() error {
			lists[i], errs[i] = s.data.TickersE(gctx, ex, mk)
			return nil
		})
	}
	_ = g.Wait()

	var tickerErrs []error
	for i, ex := range models.Exchanges {
		m := make(map[string]models.TickerSnapshot, len(lists[i]))
		for _, t := range lists[i] {
			m[t.Symbol] = t
		}
		maps[ex] = m
		if errs[i] != nil {
			tickerErrs = append(tickerErrs, errs[i])
		}
	}

	slots := make([][]models.Candidate, len(symbols))
	pool, pctx := errgroup.WithContext(ctx)
	pool.SetLimit(s.workers)
	for i, sym := range symbols {
		i, sym := i, sym
		pool.Go(func() error {
			slots[i] = s.evaluateSymbol(pctx, mk, sym, opts, maps)
			return nil
		})
	}
	_ = pool.Wait()

	var candidates []models.Candidate
	for _, slot := range slots {
		candidates = append(candidates, slot...)
	}
	return marketPass{universe: len(symbols), candidates: candidates, tickerErrs: tickerErrs}
}

// evaluateSymbol scores symbol on each exchange in turn. Per-exchange failures are skipped.
func (s *Scanner) evaluateSymbol(ctx context.Context, mk models.Market, symbol string, opts Options, maps tickerMaps) []models.Candidate {
	var out []models.Candidate
	for i, ex := range models.Exchanges {
		if i > 0 && !sleep(ctx, s.delay) {
			return out
		}
		series, err := s.data.Candles(ctx, ex, mk, symbol, opts.Interval, opts.Lookback)
		if err != nil {
			log.Debug().
				Str("exchange", string(ex)).
				Str("market", string(mk)).
				Str("symbol", symbol).
				Err(err).
				Msg("skipping symbol on exchange")
			continue
		}
		ticker, ok := maps[ex][symbol]
		if !ok {
			ticker = models.TickerSnapshot{Symbol: symbol}
		}
		if c := s.evaluator.Evaluate(series, ticker); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// lenientSource adapts MarketData to the universe builder, treating failures as empty
type lenientSource struct {
	data MarketData
}

func (l lenientSource) Tickers(ctx context.Context, ex models.Exchange, mk models.Market) []models.TickerSnapshot {
	t, err := l.data.TickersE(ctx, ex, mk)
	if err != nil {
		return nil
	}
	return t
}

// Rank orders candidates by confidence descending, then risk ascending.
// Equal candidates keep their input order. The input is not modified.
func Rank(candidates []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ConfidencePercent != out[j].ConfidencePercent {
			return out[i].ConfidencePercent > out[j].ConfidencePercent
		}
		return out[i].RiskPercent < out[j].RiskPercent
	})
	return out
}

// Top returns at most n leading candidates
func Top(candidates []models.Candidate, n int) []models.Candidate {
	if len(candidates) > n {
		return candidates[:n]
	}
	return candidates
}
