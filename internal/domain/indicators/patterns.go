package indicators

import (
	"math"

	"github.com/sawpanic/cryptoscan/internal/models"
)

// PatternDirection is the bias implied by a candle pattern
type PatternDirection string

const (
	PatternBull    PatternDirection = "bull"
	PatternBear    PatternDirection = "bear"
	PatternNeutral PatternDirection = "neutral"
)

// Pattern is a recognised two-bar or single-bar formation
type Pattern struct {
	Name      string           `json:"name"`
	Direction PatternDirection `json:"dir"`
}

func body(c models.Candle) float64  { return math.Abs(c.Close - c.Open) }
func span(c models.Candle) float64  { return c.High - c.Low }
func upper(c models.Candle) float64 { return c.High - math.Max(c.Open, c.Close) }
func lower(c models.Candle) float64 { return math.Min(c.Open, c.Close) - c.Low }
func green(c models.Candle) bool    { return c.Close > c.Open }
func red(c models.Candle) bool      { return c.Open > c.Close }

// DetectPattern classifies bar i against bar i-1. It returns false when nothing matches.
func DetectPattern(candles []models.Candle, i int) (Pattern, bool) {
	if i <= 0 || i >= len(candles) {
		return Pattern{}, false
	}
	p, c := candles[i-1], candles[i]
	pr, pb := span(p), body(p)
	cr, cb := span(c), body(c)
	if pr == 0 || cr == 0 {
		return Pattern{}, false
	}

	if cb/cr <= 0.1 {
		return Pattern{Name: "Doji", Direction: PatternNeutral}, true
	}

	if red(p) && green(c) && c.Open <= p.Close && c.Close >= p.Open && cb > pb*0.8 {
		return Pattern{Name: "Bullish Engulfing", Direction: PatternBull}, true
	}
	if green(p) && red(c) && c.Open >= p.Close && c.Close <= p.Open && cb > pb*0.8 {
		return Pattern{Name: "Bearish Engulfing", Direction: PatternBear}, true
	}

	u, l := upper(c), lower(c)
	if l >= cb*2 && u <= cb*0.35 && (c.Close > c.Open || c.Close >= c.Open*0.995) {
		return Pattern{Name: "Hammer", Direction: PatternBull}, true
	}
	if u >= cb*2 && l <= cb*0.35 && (c.Close < c.Open || c.Close <= c.Open*1.005) {
		return Pattern{Name: "Shooting Star", Direction: PatternBear}, true
	}
	return Pattern{}, false
}
