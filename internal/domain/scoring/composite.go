package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptoscan/internal/domain/indicators"
	"github.com/sawpanic/cryptoscan/internal/models"
)

// Policy holds the gates, weights and level multipliers of the scorer
type Policy struct {
	MinPrice       float64
	MinQuoteVolume float64

	TrendWeight    float64
	MomentumWeight float64
	VolWeight      float64

	// VWAP proximity tiers: distance below Near scores VWAPNear, below Mid scores VWAPMid
	VWAPNearDist  float64
	VWAPMidDist   float64
	VWAPNearScore float64
	VWAPMidScore  float64
	VWAPFarScore  float64

	// ATR% band favoured by the volatility sub-score
	ATRLow  float64
	ATRHigh float64

	StopATR   float64
	TargetATR float64
}

// DefaultPolicy returns the production scoring policy
func DefaultPolicy() Policy {
	return Policy{
		MinPrice:       0.005,
		MinQuoteVolume: 1_500_000,
		TrendWeight:    0.35,
		MomentumWeight: 0.35,
		VolWeight:      0.15,
		VWAPNearDist:   0.008,
		VWAPMidDist:    0.015,
		VWAPNearScore:  0.15,
		VWAPMidScore:   0.10,
		VWAPFarScore:   0.04,
		ATRLow:         0.002,
		ATRHigh:        0.03,
		StopATR:        1.4,
		TargetATR:      1.2,
	}
}

// Snapshot is the indicator state at the newest bar
type Snapshot struct {
	Price    float64
	EMA20    float64
	EMA50    float64
	RSI      float64
	ATR      float64
	VWAP     float64
	MACDHist float64
}

// Votes records which directional checks fired
type Votes struct {
	TrendLong, TrendShort float64
	MomLong, MomShort     float64
	VWAPLong, VWAPShort   float64
}

// Breakdown shows the weighted contribution of each sub-score
type Breakdown struct {
	Trend      float64
	Momentum   float64
	VWAP       float64
	Volatility float64
	Liquidity  float64 // multiplier applied to the sum
	Raw        float64
}

// Evaluator scores one candle series into a directional candidate
type Evaluator struct {
	policy Policy
}

// NewEvaluator creates an evaluator with the given policy
func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Policy returns the active policy
func (e *Evaluator) Policy() Policy { return e.policy }

// Measure computes the indicator snapshot for the newest bar of series
func Measure(series models.CandleSeries) (Snapshot, bool) {
	last, ok := series.Last()
	if !ok {
		return Snapshot{}, false
	}
	c, h, l, v := series.Closes(), series.Highs(), series.Lows(), series.Volumes()
	price := last.Close
	return Snapshot{
		Price:    price,
		EMA20:    indicators.LastOr(indicators.EMA(c, 20), price),
		EMA50:    indicators.LastOr(indicators.EMA(c, 50), price),
		RSI:      indicators.LastOr(indicators.RSI(c, 14), 50),
		ATR:      indicators.LastOr(indicators.ATR(h, l, c, 14), 0),
		VWAP:     indicators.LastOr(indicators.VWAP(h, l, c, v, 30), price),
		MACDHist: indicators.LastOr(indicators.MACD(c, 12, 26, 9).Histogram, 0),
	}, true
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func round(x float64, places int32) float64 {
	return decimal.NewFromFloat(x).Round(places).InexactFloat64()
}

// Vote evaluates the trend, momentum and VWAP checks
func Vote(s Snapshot) Votes {
	return Votes{
		TrendLong:  flag(s.Price > s.EMA20 && s.EMA20 > s.EMA50),
		TrendShort: flag(s.Price < s.EMA20 && s.EMA20 < s.EMA50),
		MomLong:    flag(s.RSI > 55 && s.MACDHist > 0),
		MomShort:   flag(s.RSI < 45 && s.MACDHist < 0),
		VWAPLong:   flag(s.Price > s.VWAP),
		VWAPShort:  flag(s.Price < s.VWAP),
	}
}

// Direction applies the 2-of-3 rule. LONG is checked first.
func (v Votes) Direction() (models.Side, bool) {
	if v.TrendLong+v.MomLong+v.VWAPLong >= 2 {
		return models.SideLong, true
	}
	if v.TrendShort+v.MomShort+v.VWAPShort >= 2 {
		return models.SideShort, true
	}
	return "", false
}

// Score returns the confidence breakdown for a snapshot with the given votes and quote volume
func (e *Evaluator) Score(s Snapshot, v Votes, quoteVolume float64) Breakdown {
	p := e.policy
	b := Breakdown{
		Trend:    p.TrendWeight * math.Max(v.TrendLong, v.TrendShort),
		Momentum: p.MomentumWeight * math.Max(v.MomLong, v.MomShort),
	}

	dist := math.Abs(s.Price-s.VWAP) / s.Price
	switch {
	case dist < p.VWAPNearDist:
		b.VWAP = p.VWAPNearScore
	case dist < p.VWAPMidDist:
		b.VWAP = p.VWAPMidScore
	default:
		b.VWAP = p.VWAPFarScore
	}

	atrPct := s.ATR / s.Price
	volScore := 1 - clamp((atrPct-p.ATRLow)/(p.ATRHigh-p.ATRLow), 0, 1)
	b.Volatility = p.VolWeight * clamp(volScore, 0, 1)

	qv := quoteVolume
	if qv <= 0 {
		qv = 1
	}
	liq := math.Log10(qv+1) / 8
	b.Liquidity = 0.8 + 0.2*clamp(liq, 0.5, 1)
	b.Raw = (b.Trend + b.Momentum + b.VWAP + b.Volatility) * b.Liquidity
	return b
}

// Evaluate returns a candidate for the newest bar of series, or nil when a gate rejects it
func (e *Evaluator) Evaluate(series models.CandleSeries, ticker models.TickerSnapshot) *models.Candidate {
	s, ok := Measure(series)
	if !ok {
		return nil
	}
	if s.Price < e.policy.MinPrice || s.Price <= 0 {
		return nil
	}
	if ticker.QuoteVolume < e.policy.MinQuoteVolume {
		return nil
	}

	votes := Vote(s)
	side, ok := votes.Direction()
	if !ok {
		return nil
	}

	b := e.Score(s, votes, ticker.QuoteVolume)
	atrPct := s.ATR / s.Price

	stop := s.Price + s.ATR*e.policy.StopATR
	target := math.Max(0, s.Price-s.ATR*e.policy.TargetATR)
	if side == models.SideLong {
		stop = math.Max(0, s.Price-s.ATR*e.policy.StopATR)
		target = s.Price + s.ATR*e.policy.TargetATR
	}

	meta := &models.CandidateMeta{
		QuoteVolume: ticker.QuoteVolume,
		ATRPercent:  round(atrPct*100, 2),
		RSI:         round(s.RSI, 2),
		MACDHist:    round(s.MACDHist, 6),
	}
	if pat, ok := indicators.DetectPattern(series.Candles, len(series.Candles)-1); ok {
		meta.Pattern = pat.Name
	}

	return &models.Candidate{
		Exchange:          series.Exchange,
		Market:            series.Market,
		Symbol:            series.Symbol,
		Side:              side,
		ConfidencePercent: int(math.Round(100 * clamp(b.Raw, 0, 1))),
		RiskPercent:       int(math.Round(100 * clamp(atrPct*2.2, 0.06, 0.40))),
		Price:             round(s.Price, 8),
		Entry:             round(s.Price, 8),
		Stop:              round(stop, 8),
		TakeProfit:        round(target, 8),
		Reasoning:         reasoning(votes, atrPct),
		Meta:              meta,
	}
}

func reasoning(v Votes, atrPct float64) string {
	parts := make([]string, 0, 4)
	switch {
	case v.TrendLong > 0:
		parts = append(parts, "EMA20 above EMA50 and price above EMAs")
	case v.TrendShort > 0:
		parts = append(parts, "EMA20 below EMA50 and price below EMAs")
	}
	switch {
	case v.MomLong > 0:
		parts = append(parts, "RSI and MACD momentum up")
	case v.MomShort > 0:
		parts = append(parts, "RSI and MACD momentum down")
	}
	switch {
	case v.VWAPLong > 0:
		parts = append(parts, "Holding above VWAP")
	case v.VWAPShort > 0:
		parts = append(parts, "Trading below VWAP")
	}
	parts = append(parts, fmt.Sprintf("ATR %.2f percent gives risk estimate", atrPct*100))
	return strings.Join(parts, " | ")
}
