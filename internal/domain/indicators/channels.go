package indicators

import "math"

// DonchianResult holds the rolling channel bounds
type DonchianResult struct {
	Upper []float64
	Lower []float64
}

// Donchian returns the rolling max(high)/min(low) over length bars, undefined until length bars exist
func Donchian(high, low []float64, length int) DonchianResult {
	n := minLen(high, low)
	res := DonchianResult{Upper: nanSeries(n), Lower: nanSeries(n)}
	if length <= 0 {
		return res
	}
	for i := length - 1; i < n; i++ {
		hi, lo := high[i], low[i]
		for j := i - length + 1; j < i; j++ {
			hi = math.Max(hi, high[j])
			lo = math.Min(lo, low[j])
		}
		res.Upper[i] = hi
		res.Lower[i] = lo
	}
	return res
}

// BollingerResult holds the bands and bandwidth series
type BollingerResult struct {
	Mean      []float64
	Upper     []float64
	Lower     []float64
	Bandwidth []float64
}

// BollingerBandwidth uses the population standard deviation over period bars.
// Bandwidth is (upper-lower)/mean and 0 when the mean is 0.
func BollingerBandwidth(closes []float64, period int, k float64) BollingerResult {
	n := len(closes)
	res := BollingerResult{
		Mean:      SMA(closes, period),
		Upper:     nanSeries(n),
		Lower:     nanSeries(n),
		Bandwidth: nanSeries(n),
	}
	if period <= 0 {
		return res
	}
	for i := period - 1; i < n; i++ {
		mean := res.Mean[i]
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(period))
		res.Upper[i] = mean + k*std
		res.Lower[i] = mean - k*std
		if mean == 0 {
			res.Bandwidth[i] = 0
			continue
		}
		res.Bandwidth[i] = (res.Upper[i] - res.Lower[i]) / mean
	}
	return res
}
