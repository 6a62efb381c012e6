package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptoscan/internal/models"
)

func sampleResult() *models.ScanResult {
	return &models.ScanResult{
		Market:          models.MarketSpot,
		Interval:        "5m",
		Lookback:        150,
		UniverseCount:   36,
		CandidatesCount: 2,
		Picks: []models.Candidate{
			{Exchange: models.ExchangeBinance, Market: models.MarketSpot, Symbol: "SOLUSDT", Side: models.SideLong, ConfidencePercent: 84, RiskPercent: 6,
				Price: 150.25, Entry: 150.25, Stop: 148.1, TakeProfit: 152.09, Reasoning: "trend up | ATR 1.02 percent gives risk estimate",
				Meta: &models.CandidateMeta{QuoteVolume: 250_000_000, Pattern: "bullish_engulfing"}},
			{Exchange: models.ExchangeMEXC, Market: models.MarketSpot, Symbol: "PEPEUSDT", Side: models.SideShort, ConfidencePercent: 61, RiskPercent: 12,
				Price: 0.0000123, Entry: 0.0000123, Stop: 0.0000131, TakeProfit: 0.0000116},
		},
	}
}

func TestEmitTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEmitter(false).EmitTable(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "spot scan  interval=5m lookback=150 universe=36 candidates=2")
	assert.Contains(t, out, "SOLUSDT")
	assert.Contains(t, out, "0.0000123")
	assert.Contains(t, out, "1. trend up")
	assert.NotContains(t, out, "\x1b[")

	buf.Reset()
	require.NoError(t, NewEmitter(true).EmitTable(&buf, sampleResult()))
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestEmitTable_Wait(t *testing.T) {
	var buf bytes.Buffer
	res := &models.ScanResult{Market: models.MarketFutures, Interval: "15m", Picks: []models.Candidate{models.WaitCandidate()}}
	require.NoError(t, NewEmitter(false).EmitTable(&buf, res))
	assert.Contains(t, buf.String(), "WAIT  "+models.WaitNote)
}

func TestEmitJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEmitter(false).EmitJSON(&buf, sampleResult()))

	var back models.ScanResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, 36, back.UniverseCount)
	assert.Equal(t, "PEPEUSDT", back.Picks[1].Symbol)
}

func TestEmitCSV(t *testing.T) {
	var buf bytes.Buffer
	res := sampleResult()
	res.Picks = append(res.Picks, models.WaitCandidate())
	require.NoError(t, NewEmitter(false).EmitCSV(&buf, res))

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "header plus two picks, sentinel skipped")
	assert.Equal(t, "Exchange", records[0][0])
	assert.Equal(t, []string{"BINANCE", "spot", "SOLUSDT", "LONG", "84", "6"}, records[1][:6])
	assert.Equal(t, "250000000", records[1][10])
	assert.Equal(t, "bullish_engulfing", records[1][11])
	assert.Equal(t, "", records[2][10])
}
