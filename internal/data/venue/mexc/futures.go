package mexc

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sawpanic/cryptoscan/internal/data/venue/types"
	"github.com/sawpanic/cryptoscan/internal/models"
	"github.com/sawpanic/cryptoscan/internal/net/client"
)

// FuturesBases are the default MEXC contract endpoints
var FuturesBases = []string{"https://contract.mexc.com"}

const (
	contractKlinePath  = "/api/v1/contract/kline"
	contractTickerPath = "/api/v1/contract/ticker"
)

var futuresIntervals = map[models.Interval]string{
	"1m":  "Min1",
	"3m":  "Min3",
	"5m":  "Min5",
	"15m": "Min15",
	"30m": "Min30",
	"1h":  "Hour1",
	"2h":  "Hour2",
	"4h":  "Hour4",
	"6h":  "Hour6",
	"8h":  "Hour8",
	"12h": "Hour12",
	"1d":  "Day1",
	"3d":  "Day3",
	"1w":  "Week1",
}

// FuturesInterval maps a standard interval to its contract API code
func FuturesInterval(iv models.Interval) (string, bool) {
	code, ok := futuresIntervals[iv]
	return code, ok
}

// ContractSymbol converts BTCUSDT to BTC_USDT
func ContractSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if strings.Contains(s, "_") || !strings.HasSuffix(s, "USDT") || s == "USDT" {
		return s
	}
	return strings.TrimSuffix(s, "USDT") + "_USDT"
}

// PlainSymbol converts BTC_USDT to BTCUSDT
func PlainSymbol(contract string) string {
	return strings.ReplaceAll(strings.ToUpper(contract), "_", "")
}

// Futures is the MEXC contract adapter
type Futures struct {
	venue  models.Venue
	bases  []string
	getter types.Getter
}

// NewFutures creates the MEXC futures adapter
func NewFutures(getter types.Getter, bases []string) *Futures {
	if len(bases) == 0 {
		bases = FuturesBases
	}
	return &Futures{
		venue:  models.Venue{Exchange: models.ExchangeMEXC, Market: models.MarketFutures},
		bases:  bases,
		getter: getter,
	}
}

func (f *Futures) Venue() models.Venue { return f.venue }

// contractData returns the data field of a contract API envelope, or the document itself
func contractData(body []byte) (gjson.Result, error) {
	doc, err := types.ParseJSON(body)
	if err != nil {
		return gjson.Result{}, err
	}
	if success := doc.Get("success"); success.Exists() && !success.Bool() {
		return gjson.Result{}, fmt.Errorf("contract api error code %d", doc.Get("code").Int())
	}
	if data := doc.Get("data"); data.Exists() {
		return data, nil
	}
	return doc, nil
}

// Tickers lists every contract ticker, renamed to plain symbols
func (f *Futures) Tickers(ctx context.Context) ([]models.TickerSnapshot, error) {
	urls := types.BuildURLs(f.bases, contractTickerPath, nil)
	body, err := f.getter.Get(ctx, f.venue.String(), urls...)
	if err != nil {
		return nil, err
	}
	data, err := contractData(body)
	if err != nil {
		return nil, client.DecodeError(f.venue.String(), urls[0], err)
	}
	tickers, err := types.ParseTickers(data, PlainSymbol)
	if err != nil {
		return nil, client.DecodeError(f.venue.String(), urls[0], err)
	}
	return tickers, nil
}

// Candles tries the query form first and falls back to the path form
func (f *Futures) Candles(ctx context.Context, symbol string, interval models.Interval, limit int) ([]models.Candle, error) {
	code, ok := FuturesInterval(interval)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", f.venue, interval, types.ErrUnsupportedInterval)
	}
	pair := ContractSymbol(symbol)

	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("interval", code)
	q.Set("limit", strconv.Itoa(limit))
	urls := types.BuildURLs(f.bases, contractKlinePath, q)

	pq := url.Values{}
	pq.Set("interval", code)
	pq.Set("limit", strconv.Itoa(limit))
	urls = append(urls, types.BuildURLs(f.bases, contractKlinePath+"/"+url.PathEscape(pair), pq)...)

	// an error envelope or bad payload moves on to the next form like a failed fetch
	var lastErr error
	for _, u := range urls {
		body, err := f.getter.Get(ctx, f.venue.String(), u)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		candles, err := decodeContractKlines(body, limit)
		if err == nil {
			return candles, nil
		}
		lastErr = client.DecodeError(f.venue.String(), u, err)
	}
	return nil, lastErr
}

func decodeContractKlines(body []byte, limit int) ([]models.Candle, error) {
	data, err := contractData(body)
	if err != nil {
		return nil, err
	}
	return ParseContractKlines(data, limit)
}

// ParseContractKlines accepts either rows [t,o,h,l,c,v] or column arrays
// {time[], open[], high[], low[], close[], vol[]}
func ParseContractKlines(data gjson.Result, limit int) ([]models.Candle, error) {
	if data.IsArray() {
		return types.ParseKlineRows(data, limit)
	}
	if !data.IsObject() {
		return nil, fmt.Errorf("unexpected kline payload")
	}

	times := data.Get("time").Array()
	opens := data.Get("open").Array()
	highs := data.Get("high").Array()
	lows := data.Get("low").Array()
	closes := data.Get("close").Array()
	vols := data.Get("vol").Array()
	if len(vols) == 0 {
		vols = data.Get("volume").Array()
	}

	n := len(times)
	for _, col := range [][]gjson.Result{opens, highs, lows, closes, vols} {
		if len(col) < n {
			n = len(col)
		}
	}
	candles := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, models.Candle{
			OpenTime: types.NormalizeMillis(times[i].Int()),
			Open:     opens[i].Float(),
			High:     highs[i].Float(),
			Low:      lows[i].Float(),
			Close:    closes[i].Float(),
			Volume:   vols[i].Float(),
		})
	}
	return models.NormalizeCandles(candles, limit), nil
}

// Price reads lastPrice, then fairPrice, then indexPrice of the symbol's contract ticker
func (f *Futures) Price(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", ContractSymbol(symbol))
	urls := types.BuildURLs(f.bases, contractTickerPath, q)
	body, err := f.getter.Get(ctx, f.venue.String(), urls...)
	if err != nil {
		return 0, err
	}
	data, err := contractData(body)
	if err != nil {
		return 0, client.DecodeError(f.venue.String(), urls[0], err)
	}
	if data.IsArray() {
		data = data.Get("0")
	}
	p, ok := types.FirstNumber(data, "lastPrice", "fairPrice", "indexPrice")
	if !ok || p <= 0 {
		return 0, client.DecodeError(f.venue.String(), urls[0], fmt.Errorf("no price for %s", symbol))
	}
	return p, nil
}
