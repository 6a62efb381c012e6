package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sawpanic/cryptoscan/internal/data/venue/types"
	"github.com/sawpanic/cryptoscan/internal/models"
	"github.com/sawpanic/cryptoscan/internal/net/client"
)

// Default public endpoints
var (
	SpotBases    = []string{"https://api.binance.com", "https://data-api.binance.vision"}
	FuturesBases = []string{"https://fapi.binance.com"}
)

// Paths of a Binance-compatible REST API
type Paths struct {
	Klines string
	Ticker string
	Price  string
}

var (
	SpotPaths    = Paths{Klines: "/api/v3/klines", Ticker: "/api/v3/ticker/24hr", Price: "/api/v3/ticker/price"}
	FuturesPaths = Paths{Klines: "/fapi/v1/klines", Ticker: "/fapi/v1/ticker/24hr", Price: "/fapi/v1/ticker/price"}
)

// IntervalCode maps a standard interval to the venue's code
type IntervalCode func(models.Interval) (string, bool)

// StandardIntervals passes every supported interval through unchanged
func StandardIntervals(iv models.Interval) (string, bool) {
	return string(iv), iv.Duration() > 0
}

// RESTClient talks to any venue exposing the Binance REST shape
type RESTClient struct {
	venue     models.Venue
	bases     []string
	paths     Paths
	intervals IntervalCode
	getter    types.Getter
}

// NewRESTClient builds a client for a Binance-shaped API
func NewRESTClient(venue models.Venue, getter types.Getter, bases []string, paths Paths, intervals IntervalCode) *RESTClient {
	if intervals == nil {
		intervals = StandardIntervals
	}
	return &RESTClient{venue: venue, bases: bases, paths: paths, intervals: intervals, getter: getter}
}

// NewSpot creates the Binance spot adapter
func NewSpot(getter types.Getter, bases []string) *RESTClient {
	if len(bases) == 0 {
		bases = SpotBases
	}
	return NewRESTClient(models.Venue{Exchange: models.ExchangeBinance, Market: models.MarketSpot}, getter, bases, SpotPaths, nil)
}

// NewFutures creates the Binance USD-M futures adapter
func NewFutures(getter types.Getter, bases []string) *RESTClient {
	if len(bases) == 0 {
		bases = FuturesBases
	}
	return NewRESTClient(models.Venue{Exchange: models.ExchangeBinance, Market: models.MarketFutures}, getter, bases, FuturesPaths, nil)
}

func (c *RESTClient) Venue() models.Venue { return c.venue }

// Tickers fetches every 24h ticker of the venue
func (c *RESTClient) Tickers(ctx context.Context) ([]models.TickerSnapshot, error) {
	urls := types.BuildURLs(c.bases, c.paths.Ticker, nil)
	body, err := c.getter.Get(ctx, c.venue.String(), urls...)
	if err != nil {
		return nil, err
	}
	doc, err := types.ParseJSON(body)
	if err != nil {
		return nil, client.DecodeError(c.venue.String(), urls[0], err)
	}
	tickers, err := types.ParseTickers(doc, nil)
	if err != nil {
		return nil, client.DecodeError(c.venue.String(), urls[0], err)
	}
	return tickers, nil
}

// Candles fetches up to limit bars for symbol
func (c *RESTClient) Candles(ctx context.Context, symbol string, interval models.Interval, limit int) ([]models.Candle, error) {
	code, ok := c.intervals(interval)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", c.venue, interval, types.ErrUnsupportedInterval)
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", code)
	q.Set("limit", strconv.Itoa(limit))

	urls := types.BuildURLs(c.bases, c.paths.Klines, q)
	body, err := c.getter.Get(ctx, c.venue.String(), urls...)
	if err != nil {
		return nil, err
	}
	doc, err := types.ParseJSON(body)
	if err != nil {
		return nil, client.DecodeError(c.venue.String(), urls[0], err)
	}
	candles, err := types.ParseKlineRows(doc, limit)
	if err != nil {
		return nil, client.DecodeError(c.venue.String(), urls[0], err)
	}
	return candles, nil
}

// Price returns the last traded price for symbol
func (c *RESTClient) Price(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	urls := types.BuildURLs(c.bases, c.paths.Price, q)
	body, err := c.getter.Get(ctx, c.venue.String(), urls...)
	if err != nil {
		return 0, err
	}
	doc, err := types.ParseJSON(body)
	if err != nil {
		return 0, client.DecodeError(c.venue.String(), urls[0], err)
	}
	p, ok := types.FirstNumber(doc, "price", "lastPrice")
	if !ok || p <= 0 {
		return 0, client.DecodeError(c.venue.String(), urls[0], fmt.Errorf("no price for %s", symbol))
	}
	return p, nil
}
