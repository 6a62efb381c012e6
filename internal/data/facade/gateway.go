package facade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/sawpanic/cryptoscan/internal/data/cache"
	"github.com/sawpanic/cryptoscan/internal/data/venue/types"
	"github.com/sawpanic/cryptoscan/internal/models"
)

// ErrUnknownVenue is returned for an (exchange, market) pair with no adapter
var ErrUnknownVenue = errors.New("no adapter for venue")

// Price sources reported on a PriceQuote
const (
	SourceTicker = "ticker"
	SourceKline  = "kline_1m"
)

const defaultTickerTTL = 15 * time.Second

// CacheObserver is notified of every ticker cache lookup
type CacheObserver interface {
	ObserveCache(venue string, hit bool)
}

// Config configures a Gateway
type Config struct {
	Cache     cache.Cache
	TickerTTL time.Duration
	Observer  CacheObserver
}

// Gateway is the single entry point for upstream market data. Ticker lists go
// through a short-TTL cache and concurrent identical requests are collapsed.
type Gateway struct {
	adapters  map[models.Venue]types.Adapter
	cache     cache.Cache
	tickerTTL time.Duration
	observer  CacheObserver
	group     singleflight.Group
	now       func() time.Time
}

// NewGateway registers adapters by their venue. A later adapter for the same venue replaces an earlier one.
func NewGateway(cfg Config, adapters ...types.Adapter) *Gateway {
	c := cfg.Cache
	if c == nil {
		c = cache.NewTTLCache(256)
	}
	ttl := cfg.TickerTTL
	if ttl <= 0 {
		ttl = defaultTickerTTL
	}
	g := &Gateway{
		adapters:  make(map[models.Venue]types.Adapter, len(adapters)),
		cache:     c,
		tickerTTL: ttl,
		observer:  cfg.Observer,
		now:       time.Now,
	}
	for _, a := range adapters {
		g.adapters[a.Venue()] = a
	}
	return g
}

// Venues lists registered venues in a stable order
func (g *Gateway) Venues() []models.Venue {
	out := make([]models.Venue, 0, len(g.adapters))
	for v := range g.adapters {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (g *Gateway) adapter(ex models.Exchange, mk models.Market) (types.Adapter, models.Venue, error) {
	v := models.Venue{Exchange: ex, Market: mk}
	a, ok := g.adapters[v]
	if !ok {
		return nil, v, fmt.Errorf("%s: %w", v, ErrUnknownVenue)
	}
	return a, v, nil
}

// TickersE returns the venue's 24h tickers or the upstream error
func (g *Gateway) TickersE(ctx context.Context, ex models.Exchange, mk models.Market) ([]models.TickerSnapshot, error) {
	a, v, err := g.adapter(ex, mk)
	if err != nil {
		return nil, err
	}
	key := "tickers:" + v.String()

	res, err, _ := g.group.Do(key, func() (interface{}, error) {
		if tickers, ok := g.cachedTickers(ctx, v, key); ok {
			return tickers, nil
		}
		tickers, err := a.Tickers(ctx)
		if err != nil {
			return nil, err
		}
		g.storeTickers(ctx, v, key, tickers)
		return tickers, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]models.TickerSnapshot), nil
}

// Tickers is TickersE with failures logged and reported as an empty list
func (g *Gateway) Tickers(ctx context.Context, ex models.Exchange, mk models.Market) []models.TickerSnapshot {
	tickers, err := g.TickersE(ctx, ex, mk)
	if err != nil {
		log.Warn().
			Str("exchange", string(ex)).
			Str("market", string(mk)).
			Err(err).
			Msg("ticker fetch failed, treating venue as empty")
		return nil
	}
	return tickers
}

func (g *Gateway) cachedTickers(ctx context.Context, v models.Venue, key string) ([]models.TickerSnapshot, bool) {
	raw, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		log.Debug().Str("venue", v.String()).Str("cache", g.cache.Name()).Err(err).Msg("ticker cache read failed")
	}
	if g.observer != nil {
		g.observer.ObserveCache(v.String(), ok)
	}
	if !ok {
		return nil, false
	}
	var tickers []models.TickerSnapshot
	if err := json.Unmarshal(raw, &tickers); err != nil {
		log.Debug().Str("venue", v.String()).Err(err).Msg("discarding undecodable cached tickers")
		return nil, false
	}
	return tickers, true
}

func (g *Gateway) storeTickers(ctx context.Context, v models.Venue, key string, tickers []models.TickerSnapshot) {
	raw, err := json.Marshal(tickers)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, raw, g.tickerTTL); err != nil {
		log.Debug().Str("venue", v.String()).Str("cache", g.cache.Name()).Err(err).Msg("ticker cache write failed")
	}
}

// Candles fetches a fresh series. Candles are never cached.
func (g *Gateway) Candles(ctx context.Context, ex models.Exchange, mk models.Market, symbol string, interval models.Interval, limit int) (models.CandleSeries, error) {
	series := models.CandleSeries{Exchange: ex, Market: mk, Symbol: symbol, Interval: interval}
	a, _, err := g.adapter(ex, mk)
	if err != nil {
		return series, err
	}
	candles, err := a.Candles(ctx, symbol, interval, limit)
	if err != nil {
		return series, err
	}
	series.Candles = candles
	return series, nil
}

// LastPrice asks the native price endpoint first and falls back to the close of the latest 1m bar
func (g *Gateway) LastPrice(ctx context.Context, ex models.Exchange, mk models.Market, symbol string) (models.PriceQuote, error) {
	quote := models.PriceQuote{Exchange: ex, Market: mk, Symbol: symbol}
	a, v, err := g.adapter(ex, mk)
	if err != nil {
		return quote, err
	}

	p, perr := a.Price(ctx, symbol)
	if perr == nil && p > 0 {
		quote.Price = p
		quote.Source = SourceTicker
		quote.Timestamp = g.now().UnixMilli()
		return quote, nil
	}
	log.Debug().Str("venue", v.String()).Str("symbol", symbol).Err(perr).Msg("price endpoint failed, trying 1m kline")

	candles, kerr := a.Candles(ctx, symbol, "1m", 1)
	if kerr != nil {
		return quote, fmt.Errorf("last price %s %s: %w", v, symbol, errors.Join(perr, kerr))
	}
	if len(candles) == 0 || candles[len(candles)-1].Close <= 0 {
		return quote, fmt.Errorf("last price %s %s: no data", v, symbol)
	}
	last := candles[len(candles)-1]
	quote.Price = last.Close
	quote.Source = SourceKline
	quote.Timestamp = last.OpenTime
	return quote, nil
}
