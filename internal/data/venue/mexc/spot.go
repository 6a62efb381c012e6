package mexc

import (
	"github.com/sawpanic/cryptoscan/internal/data/venue/binance"
	"github.com/sawpanic/cryptoscan/internal/data/venue/types"
	"github.com/sawpanic/cryptoscan/internal/models"
)

// SpotBases are the default MEXC spot endpoints
var SpotBases = []string{"https://api.mexc.com"}

// spotIntervals lists the kline codes the MEXC spot v3 API accepts
var spotIntervals = map[models.Interval]string{
	"1m":  "1m",
	"5m":  "5m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "60m",
	"4h":  "4h",
	"1d":  "1d",
	"1w":  "1W",
}

// SpotInterval maps a standard interval to its MEXC spot code
func SpotInterval(iv models.Interval) (string, bool) {
	code, ok := spotIntervals[iv]
	return code, ok
}

// NewSpot creates the MEXC spot adapter. The v3 spot API is Binance shaped.
func NewSpot(getter types.Getter, bases []string) *binance.RESTClient {
	if len(bases) == 0 {
		bases = SpotBases
	}
	return binance.NewRESTClient(
		models.Venue{Exchange: models.ExchangeMEXC, Market: models.MarketSpot},
		getter, bases, binance.SpotPaths, SpotInterval,
	)
}
