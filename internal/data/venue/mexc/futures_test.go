package mexc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sawpanic/cryptoscan/internal/data/venue/types"
	"github.com/sawpanic/cryptoscan/internal/models"
	"github.com/sawpanic/cryptoscan/internal/net/client"
)

func TestSymbolMapping(t *testing.T) {
	tests := []struct {
		plain    string
		contract string
	}{
		{"BTCUSDT", "BTC_USDT"},
		{"1000PEPEUSDT", "1000PEPE_USDT"},
		{"ETH_USDT", "ETH_USDT"},
		{"BTCUSDC", "BTCUSDC"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.contract, ContractSymbol(tt.plain), tt.plain)
	}
	assert.Equal(t, "BTCUSDT", PlainSymbol("BTC_USDT"))
}

func TestIntervalTables(t *testing.T) {
	for _, iv := range models.ValidIntervals() {
		_, ok := FuturesInterval(iv)
		assert.True(t, ok, "futures code for %s", iv)
	}
	code, _ := FuturesInterval("5m")
	assert.Equal(t, "Min5", code)
	code, _ = FuturesInterval("1w")
	assert.Equal(t, "Week1", code)

	code, ok := SpotInterval("1h")
	assert.True(t, ok)
	assert.Equal(t, "60m", code)
	_, ok = SpotInterval("3m")
	assert.False(t, ok)
}

func TestParseContractKlines(t *testing.T) {
	t.Run("row form", func(t *testing.T) {
		data := gjson.Parse(`[[1700000000000,1,2,0.5,1.5,10],[1700000060000,1.5,2.5,1,2,11]]`)
		got, err := ParseContractKlines(data, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 2.0, got[1].Close)
	})

	t.Run("column form in seconds", func(t *testing.T) {
		data := gjson.Parse(`{"time":[1700000000,1700000060],"open":[1,1.5],"high":[2,2.5],"low":[0.5,1],"close":[1.5,2],"vol":[10,11],"amount":[15,22]}`)
		got, err := ParseContractKlines(data, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(1700000060000), got[1].OpenTime)
		assert.Equal(t, 11.0, got[1].Volume)
	})

	t.Run("ragged columns truncate", func(t *testing.T) {
		data := gjson.Parse(`{"time":[1700000000,1700000060],"open":[1],"high":[2,2.5],"low":[0.5,1],"close":[1.5,2],"vol":[10,11]}`)
		got, err := ParseContractKlines(data, 10)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("scalar payload", func(t *testing.T) {
		_, err := ParseContractKlines(gjson.Parse(`"oops"`), 10)
		assert.Error(t, err)
	})
}

func TestFutures_CandlesFallsBackToPathForm(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/v1/contract/kline" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "/api/v1/contract/kline/BTC_USDT", r.URL.Path)
		assert.Equal(t, "Min15", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`{"success":true,"code":0,"data":{"time":[1700000000],"open":[1],"high":[2],"low":[0.5],"close":[1.5],"vol":[10]}}`))
	}))
	defer srv.Close()

	f := NewFutures(client.NewFetcher(client.Config{Timeout: time.Second}), []string{srv.URL})
	candles, err := f.Candles(context.Background(), "BTCUSDT", "15m", 150)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, []string{"/api/v1/contract/kline", "/api/v1/contract/kline/BTC_USDT"}, paths)
}

func TestFutures_CandlesErrorEnvelopeTriesPathForm(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/v1/contract/kline" {
			_, _ = w.Write([]byte(`{"success":false,"code":600,"message":"param error"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"code":0,"data":[[1700000000,1,2,0.5,1.5,10]]}`))
	}))
	defer srv.Close()

	f := NewFutures(client.NewFetcher(client.Config{Timeout: time.Second}), []string{srv.URL})
	candles, err := f.Candles(context.Background(), "ETHUSDT", "1h", 150)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 1.5, candles[0].Close)
	assert.Equal(t, []string{"/api/v1/contract/kline", "/api/v1/contract/kline/ETH_USDT"}, paths)
}

func TestFutures_CandlesAllFormsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"code":1001,"message":"contract not exists"}`))
	}))
	defer srv.Close()

	f := NewFutures(client.NewFetcher(client.Config{Timeout: time.Second}), []string{srv.URL})
	_, err := f.Candles(context.Background(), "NOPEUSDT", "5m", 150)

	var perr *client.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, client.ErrTypeDecode, perr.Type)
	assert.Contains(t, perr.URL, "/api/v1/contract/kline/NOPE_USDT")
}

func TestFutures_Tickers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"code":0,"data":[
			{"symbol":"BTC_USDT","lastPrice":65000,"volume24":120000,"amount24":7800000000},
			{"symbol":"ETH_USDT","lastPrice":3200,"amount24":2100000000}
		]}`))
	}))
	defer srv.Close()

	f := NewFutures(client.NewFetcher(client.Config{Timeout: time.Second}), []string{srv.URL})
	tickers, err := f.Tickers(context.Background())
	require.NoError(t, err)
	require.Len(t, tickers, 2)
	assert.Equal(t, models.TickerSnapshot{Symbol: "BTCUSDT", LastPrice: 65000, QuoteVolume: 7.8e9}, tickers[0])
}

func TestFutures_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"code":1001,"message":"contract not exists"}`))
	}))
	defer srv.Close()

	f := NewFutures(client.NewFetcher(client.Config{Timeout: time.Second}), []string{srv.URL})
	_, err := f.Price(context.Background(), "NOPEUSDT")
	assert.Error(t, err)
}

func TestFutures_Price(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SOL_USDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{"success":true,"code":0,"data":{"symbol":"SOL_USDT","fairPrice":150.25}}`))
	}))
	defer srv.Close()

	f := NewFutures(client.NewFetcher(client.Config{Timeout: time.Second}), []string{srv.URL})
	p, err := f.Price(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 150.25, p)
}

func TestSpot_UsesMEXCVenueAndCodes(t *testing.T) {
	s := NewSpot(nil, nil)
	assert.Equal(t, "mexc_spot", s.Venue().String())
	_, err := s.Candles(context.Background(), "BTCUSDT", "2h", 10)
	assert.ErrorIs(t, err, types.ErrUnsupportedInterval)
}
