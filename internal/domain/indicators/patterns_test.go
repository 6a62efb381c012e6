package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/cryptoscan/internal/models"
)

func bar(o, h, l, c float64) models.Candle {
	return models.Candle{OpenTime: 1, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func TestDetectPattern(t *testing.T) {
	tests := []struct {
		name  string
		prev  models.Candle
		cur   models.Candle
		want  string
		dir   PatternDirection
		found bool
	}{
		{"doji", bar(10, 10.5, 9.5, 10.2), bar(10, 11, 9, 10.05), "Doji", PatternNeutral, true},
		{"bullish engulfing", bar(10, 10.5, 8.5, 9), bar(8.9, 11.2, 8.8, 11), "Bullish Engulfing", PatternBull, true},
		{"bearish engulfing", bar(9, 10.5, 8.8, 10), bar(10.1, 10.2, 8.5, 8.8), "Bearish Engulfing", PatternBear, true},
		{"hammer", bar(10, 10.5, 9.5, 10.2), bar(10, 10.55, 8, 10.5), "Hammer", PatternBull, true},
		{"shooting star", bar(10.2, 10.5, 9.9, 10), bar(10.5, 12.5, 9.95, 10), "Shooting Star", PatternBear, true},
		{"flat previous bar", bar(10, 10, 10, 10), bar(10, 11, 9, 10.5), "", "", false},
		{"plain bar", bar(10, 10.6, 9.9, 10.5), bar(10.5, 11.1, 10.4, 11), "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := DetectPattern([]models.Candle{tt.prev, tt.cur}, 1)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, p.Name)
			assert.Equal(t, tt.dir, p.Direction)
		})
	}
}

func TestDetectPattern_OutOfRange(t *testing.T) {
	_, ok := DetectPattern([]models.Candle{bar(1, 2, 0.5, 1.5)}, 0)
	assert.False(t, ok)
	_, ok = DetectPattern(nil, 3)
	assert.False(t, ok)
}
