package indicators

import "math"

// Undefined outputs (not enough bars yet) are NaN. Use Last or At to read them safely.

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Last returns the newest value of a series and whether it is defined
func Last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return At(values, len(values)-1)
}

// At returns values[i] and whether it is defined
func At(values []float64, i int) (float64, bool) {
	if i < 0 || i >= len(values) {
		return 0, false
	}
	v := values[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// LastOr returns the newest defined value or fallback
func LastOr(values []float64, fallback float64) float64 {
	if v, ok := Last(values); ok {
		return v
	}
	return fallback
}

// EMA seeds with values[0] and has no warm-up truncation
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period <= 0 {
		return out
	}
	k := 2 / float64(period+1)
	prev := values[0]
	out[0] = prev
	for i := 1; i < len(values); i++ {
		prev = values[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

// SMA is undefined for the first period-1 bars
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI uses Wilder smoothing. The whole series is undefined when len < period+2,
// and the first period values are always undefined.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period <= 0 || len(closes) < period+2 {
		return out
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		diff := closes[i] - closes[i-1]
		if diff >= 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		avgGain = (avgGain*(p-1) + math.Max(diff, 0)) / p
		avgLoss = (avgLoss*(p-1) + math.Max(-diff, 0)) / p
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	v := 100 - 100/(1+avgGain/avgLoss)
	return math.Max(0, math.Min(100, v))
}

// TrueRange uses h-l for the first bar
func TrueRange(high, low, close []float64) []float64 {
	n := minLen(high, low, close)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		hl := high[i] - low[i]
		if i == 0 {
			out[i] = hl
			continue
		}
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR is seeded at index period-1 with the mean of the first period true ranges
func ATR(high, low, close []float64, period int) []float64 {
	tr := TrueRange(high, low, close)
	out := nanSeries(len(tr))
	if period <= 0 || len(tr) < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	p := float64(period)
	atr := sum / p
	out[period-1] = atr
	for i := period; i < len(tr); i++ {
		atr = (atr*(p-1) + tr[i]) / p
		out[i] = atr
	}
	return out
}

// VWAP accumulates typical price * volume and resets every period bars.
// This is a block-reset VWAP, not a sliding window.
func VWAP(high, low, close, volume []float64, period int) []float64 {
	n := minLen(high, low, close, volume)
	out := nanSeries(n)
	var cumPV, cumV float64
	for i := 0; i < n; i++ {
		tp := (high[i] + low[i] + close[i]) / 3
		cumPV += tp * volume[i]
		cumV += volume[i]
		if cumV > 0 {
			out[i] = cumPV / cumV
		}
		if period > 0 && (i+1)%period == 0 {
			cumPV, cumV = 0, 0
		}
	}
	return out
}

// MACDResult holds the three MACD lines, aligned with the input
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the signal as an EMA of the line starting at bar slow-1.
// Bars before that have an undefined signal, and their histogram equals the line.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	n := len(closes)
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	line := make([]float64, n)
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}

	sig := nanSeries(n)
	start := slow - 1
	if start < 0 {
		start = 0
	}
	if start < n {
		copy(sig[start:], EMA(line[start:], signal))
	}

	hist := make([]float64, n)
	for i := range line {
		s, ok := At(sig, i)
		if !ok {
			s = 0
		}
		hist[i] = line[i] - s
	}
	return MACDResult{Line: line, Signal: sig, Histogram: hist}
}

func minLen(series ...[]float64) int {
	n := -1
	for _, s := range series {
		if n < 0 || len(s) < n {
			n = len(s)
		}
	}
	if n < 0 {
		return 0
	}
	return n
}
