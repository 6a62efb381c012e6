package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Exchange identifies an upstream exchange
type Exchange string

const (
	ExchangeBinance Exchange = "BINANCE"
	ExchangeMEXC    Exchange = "MEXC"
)

// Exchanges lists the scanned exchanges in evaluation order
var Exchanges = []Exchange{ExchangeBinance, ExchangeMEXC}

// ParseExchange accepts any casing of a known exchange id
func ParseExchange(s string) (Exchange, error) {
	switch Exchange(strings.ToUpper(strings.TrimSpace(s))) {
	case ExchangeBinance:
		return ExchangeBinance, nil
	case ExchangeMEXC:
		return ExchangeMEXC, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidExchange, s)
}

// Market is the product type on an exchange
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
	MarketBoth    Market = "both"
)

// ParseMarket validates a market string. Empty defaults to spot.
func ParseMarket(s string) (Market, error) {
	switch Market(strings.ToLower(strings.TrimSpace(s))) {
	case "", MarketSpot:
		return MarketSpot, nil
	case MarketFutures:
		return MarketFutures, nil
	case MarketBoth:
		return MarketBoth, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMarket, s)
}

// Venue is one (exchange, market) pair
type Venue struct {
	Exchange Exchange `json:"exchange"`
	Market   Market   `json:"market"`
}

func (v Venue) String() string {
	return strings.ToLower(string(v.Exchange)) + "_" + string(v.Market)
}

var (
	ErrInvalidExchange = errors.New("invalid exchange")
	ErrInvalidMarket   = errors.New("invalid market")
	ErrInvalidInterval = errors.New("invalid interval")
)

// Interval is a standard candle interval string such as "5m" or "1h"
type Interval string

var intervalDurations = map[Interval]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ValidIntervals returns the supported intervals, shortest first
func ValidIntervals() []Interval {
	out := make([]Interval, 0, len(intervalDurations))
	for iv := range intervalDurations {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return intervalDurations[out[i]] < intervalDurations[out[j]] })
	return out
}

// ParseInterval validates an interval string. Empty is rejected; callers apply their own default.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return iv, nil
}

// Duration returns the bar length, or zero for unknown intervals
func (iv Interval) Duration() time.Duration {
	return intervalDurations[iv]
}

// Candle is one OHLCV bar; OpenTime is unix milliseconds
type Candle struct {
	OpenTime int64   `json:"openTime"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Valid reports whether the OHLC values are internally consistent
func (c Candle) Valid() bool {
	if c.OpenTime <= 0 || c.Low < 0 || c.Volume < 0 {
		return false
	}
	return c.High >= c.Open && c.High >= c.Close && c.Low <= c.Open && c.Low <= c.Close
}

// CandleSeries is an ordered (oldest first) run of candles for one venue/symbol/interval
type CandleSeries struct {
	Exchange Exchange `json:"exchange"`
	Market   Market   `json:"market"`
	Symbol   string   `json:"symbol"`
	Interval Interval `json:"interval"`
	Candles  []Candle `json:"candles"`
}

// Len returns the number of bars
func (s CandleSeries) Len() int { return len(s.Candles) }

// Last returns the newest bar
func (s CandleSeries) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

func (s CandleSeries) column(f func(Candle) float64) []float64 {
	out := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		out[i] = f(c)
	}
	return out
}

func (s CandleSeries) Opens() []float64   { return s.column(func(c Candle) float64 { return c.Open }) }
func (s CandleSeries) Highs() []float64   { return s.column(func(c Candle) float64 { return c.High }) }
func (s CandleSeries) Lows() []float64    { return s.column(func(c Candle) float64 { return c.Low }) }
func (s CandleSeries) Closes() []float64  { return s.column(func(c Candle) float64 { return c.Close }) }
func (s CandleSeries) Volumes() []float64 { return s.column(func(c Candle) float64 { return c.Volume }) }

// NormalizeCandles sorts by open time and drops invalid or duplicate bars.
// When limit > 0 only the newest limit bars are kept.
func NormalizeCandles(in []Candle, limit int) []Candle {
	out := make([]Candle, 0, len(in))
	for _, c := range in {
		if c.Valid() {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })

	dedup := out[:0]
	for i, c := range out {
		if i > 0 && c.OpenTime == dedup[len(dedup)-1].OpenTime {
			dedup[len(dedup)-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	if limit > 0 && len(dedup) > limit {
		dedup = dedup[len(dedup)-limit:]
	}
	return dedup
}

// TickerSnapshot is a 24h summary for one symbol
type TickerSnapshot struct {
	Symbol      string  `json:"symbol"`
	LastPrice   float64 `json:"lastPrice"`
	QuoteVolume float64 `json:"quoteVolume"`
}

// PriceQuote is a last-trade price with its provenance
type PriceQuote struct {
	Exchange  Exchange `json:"exchange"`
	Market    Market   `json:"market"`
	Symbol    string   `json:"symbol"`
	Price     float64  `json:"price"`
	Timestamp int64    `json:"ts"`
	Source    string   `json:"source"`
}
