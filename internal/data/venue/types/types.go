package types

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sawpanic/cryptoscan/internal/models"
)

// ErrUnsupportedInterval is returned when a venue has no code for an interval
var ErrUnsupportedInterval = errors.New("interval not supported by venue")

// Getter performs a GET across ordered endpoint candidates, first success wins
type Getter interface {
	Get(ctx context.Context, venue string, urls ...string) ([]byte, error)
}

// Adapter is one (exchange, market) REST integration
type Adapter interface {
	Venue() models.Venue
	Tickers(ctx context.Context) ([]models.TickerSnapshot, error)
	Candles(ctx context.Context, symbol string, interval models.Interval, limit int) ([]models.Candle, error)
	Price(ctx context.Context, symbol string) (float64, error)
}

// BuildURLs joins every base URL with path and query
func BuildURLs(bases []string, path string, query url.Values) []string {
	out := make([]string, 0, len(bases))
	for _, b := range bases {
		u := strings.TrimRight(b, "/") + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		out = append(out, u)
	}
	return out
}

// FirstNumber returns the first present field of obj that parses as a number
func FirstNumber(obj gjson.Result, fields ...string) (float64, bool) {
	for _, f := range fields {
		v := obj.Get(f)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		switch v.Type {
		case gjson.Number:
			return v.Num, true
		case gjson.String:
			if strings.TrimSpace(v.Str) == "" {
				continue
			}
			return v.Float(), true
		}
	}
	return 0, false
}

// Ticker field fallbacks across venues
var (
	LastPriceFields   = []string{"lastPrice", "c", "last"}
	QuoteVolumeFields = []string{"quoteVolume", "q", "amount24", "volume"}
)

// ParseTickers reads an array of ticker objects. mapSymbol may rename or drop (return "") symbols.
func ParseTickers(arr gjson.Result, mapSymbol func(string) string) ([]models.TickerSnapshot, error) {
	if !arr.IsArray() {
		return nil, fmt.Errorf("ticker payload is not an array")
	}
	items := arr.Array()
	out := make([]models.TickerSnapshot, 0, len(items))
	for _, it := range items {
		sym := it.Get("symbol").String()
		if mapSymbol != nil {
			sym = mapSymbol(sym)
		}
		if sym == "" {
			continue
		}
		last, _ := FirstNumber(it, LastPriceFields...)
		qv, _ := FirstNumber(it, QuoteVolumeFields...)
		out = append(out, models.TickerSnapshot{Symbol: sym, LastPrice: last, QuoteVolume: qv})
	}
	return out, nil
}

// ParseKlineRows reads Binance-shaped rows [openTime, open, high, low, close, volume, ...].
// Rows with fewer than six cells are skipped; the result is normalized and trimmed to limit.
func ParseKlineRows(arr gjson.Result, limit int) ([]models.Candle, error) {
	if !arr.IsArray() {
		return nil, fmt.Errorf("kline payload is not an array")
	}
	rows := arr.Array()
	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		cells := row.Array()
		if len(cells) < 6 {
			continue
		}
		candles = append(candles, models.Candle{
			OpenTime: NormalizeMillis(cells[0].Int()),
			Open:     cells[1].Float(),
			High:     cells[2].Float(),
			Low:      cells[3].Float(),
			Close:    cells[4].Float(),
			Volume:   cells[5].Float(),
		})
	}
	return models.NormalizeCandles(candles, limit), nil
}

// NormalizeMillis scales second timestamps to milliseconds
func NormalizeMillis(ts int64) int64 {
	if ts > 0 && ts < 1_000_000_000_000 {
		return ts * 1000
	}
	return ts
}

// ParseJSON validates and parses a raw body
func ParseJSON(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("invalid JSON payload")
	}
	return gjson.ParseBytes(body), nil
}
