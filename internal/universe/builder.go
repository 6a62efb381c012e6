package universe

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptoscan/internal/models"
)

// QuoteAsset is the only quote currency scanned
const QuoteAsset = "USDT"

// leveragedMarkers flag leveraged tokens, which are never scanned
var leveragedMarkers = []string{"UP", "DOWN", "BULL", "BEAR"}

// TickerSource supplies 24h tickers. A failing venue returns an empty list.
type TickerSource interface {
	Tickers(ctx context.Context, ex models.Exchange, mk models.Market) []models.TickerSnapshot
}

// IsStandardQuote reports whether symbol is a plain USDT pair
func IsStandardQuote(symbol string) bool {
	if !strings.HasSuffix(symbol, QuoteAsset) {
		return false
	}
	for _, m := range leveragedMarkers {
		if strings.Contains(symbol, m) {
			return false
		}
	}
	return true
}

type ranked struct {
	symbol string
	volume float64
}

// volumes returns standard-quote symbols in first-seen order with summed quote volume
func volumes(tickers []models.TickerSnapshot) ([]string, map[string]float64) {
	order := make([]string, 0, len(tickers))
	vol := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		if !IsStandardQuote(t.Symbol) {
			continue
		}
		if _, seen := vol[t.Symbol]; !seen {
			order = append(order, t.Symbol)
		}
		vol[t.Symbol] += t.QuoteVolume
	}
	return order, vol
}

func top(order []string, vol func(string) float64, limit int) []string {
	rs := make([]ranked, len(order))
	for i, s := range order {
		rs[i] = ranked{symbol: s, volume: vol(s)}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].volume > rs[j].volume })
	if limit >= 0 && len(rs) > limit {
		rs = rs[:limit]
	}
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.symbol
	}
	return out
}

// Select picks the scan universe from both exchanges' tickers.
// Symbols listed on both rank by combined quote volume, ties keeping Binance order.
// Without an overlap the responding venue's own top symbols are used, Binance first.
func Select(binance, mexc []models.TickerSnapshot, max int) []string {
	bOrder, bVol := volumes(binance)
	mOrder, mVol := volumes(mexc)

	common := make([]string, 0, len(bOrder))
	for _, s := range bOrder {
		if _, ok := mVol[s]; ok {
			common = append(common, s)
		}
	}

	switch {
	case len(common) > 0:
		return top(common, func(s string) float64 { return bVol[s] + mVol[s] }, max)
	case len(binance) > 0:
		return top(bOrder, func(s string) float64 { return bVol[s] }, max)
	case len(mexc) > 0:
		return top(mOrder, func(s string) float64 { return mVol[s] }, max)
	default:
		return []string{}
	}
}

// Builder fetches both exchanges' tickers and selects the universe
type Builder struct {
	source TickerSource
}

// NewBuilder creates a universe builder over source
func NewBuilder(source TickerSource) *Builder {
	return &Builder{source: source}
}

// Build returns at most max symbols for market. It never fails: an unreachable
// exchange contributes nothing and the result may be empty.
func (b *Builder) Build(ctx context.Context, market models.Market, max int) []string {
	var (
		wg        sync.WaitGroup
		bin, mexc []models.TickerSnapshot
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		bin = b.source.Tickers(ctx, models.ExchangeBinance, market)
	}()
	go func() {
		defer wg.Done()
		mexc = b.source.Tickers(ctx, models.ExchangeMEXC, market)
	}()
	wg.Wait()

	symbols := Select(bin, mexc, max)
	log.Debug().
		Str("market", string(market)).
		Int("binance_tickers", len(bin)).
		Int("mexc_tickers", len(mexc)).
		Int("universe", len(symbols)).
		Msg("universe built")
	return symbols
}
