package models

import (
	"encoding/json"
	"time"
)

// Side is the trade direction of a candidate
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideWait  Side = "WAIT"
)

// WaitNote is attached to the sentinel pick when nothing qualifies
const WaitNote = "No qualified opportunities by current gates"

// CandidateMeta carries informational values behind a candidate
type CandidateMeta struct {
	QuoteVolume float64 `json:"quoteVolume"`
	ATRPercent  float64 `json:"atrPct"`
	RSI         float64 `json:"rsi"`
	MACDHist    float64 `json:"macdHist"`
	Pattern     string  `json:"pattern,omitempty"`
}

// Candidate is one scored directional trade suggestion. A WAIT sentinel only sets Side and Note.
type Candidate struct {
	Exchange          Exchange       `json:"exchange,omitempty"`
	Market            Market         `json:"market,omitempty"`
	Symbol            string         `json:"symbol,omitempty"`
	Side              Side           `json:"side"`
	ConfidencePercent int            `json:"confidencePercent,omitempty"`
	RiskPercent       int            `json:"riskPercent,omitempty"`
	Price             float64        `json:"price"`
	Entry             float64        `json:"entry"`
	Stop              float64        `json:"stop"`
	TakeProfit        float64        `json:"takeProfit"`
	Reasoning         string         `json:"reasoning,omitempty"`
	Meta              *CandidateMeta `json:"meta,omitempty"`
	Note              string         `json:"note,omitempty"`
}

// WaitCandidate returns the "scanned, found nothing" sentinel
func WaitCandidate() Candidate {
	return Candidate{Side: SideWait, Note: WaitNote}
}

// MarshalJSON writes the sentinel as side and note only. Real candidates keep zero levels.
func (c Candidate) MarshalJSON() ([]byte, error) {
	if c.IsWait() {
		return json.Marshal(struct {
			Side Side   `json:"side"`
			Note string `json:"note,omitempty"`
		}{c.Side, c.Note})
	}
	type plain Candidate
	return json.Marshal(plain(c))
}

// IsWait reports whether c is the sentinel
func (c Candidate) IsWait() bool { return c.Side == SideWait }

// ScanResult is the output of one scan pass
type ScanResult struct {
	RanAt           time.Time   `json:"ranAt"`
	Market          Market      `json:"market"`
	Interval        Interval    `json:"interval"`
	Lookback        int         `json:"lookback"`
	MaxPerExchange  int         `json:"maxPerExchange"`
	UniverseCount   int         `json:"universeCount"`
	CandidatesCount int         `json:"candidatesCount"`
	Picks           []Candidate `json:"picks"`
	Partial         bool        `json:"partial,omitempty"`
}

// HasPicks reports whether the result holds at least one real candidate
func (r *ScanResult) HasPicks() bool {
	return len(r.Picks) > 0 && !r.Picks[0].IsWait()
}

// LiveSignal is the latest evaluation produced from a closed streamed kline
type LiveSignal struct {
	Exchange  Exchange   `json:"exchange"`
	Market    Market     `json:"market"`
	Symbol    string     `json:"symbol"`
	Interval  Interval   `json:"interval"`
	CloseTime int64      `json:"closeTime"`
	Price     float64    `json:"price"`
	Candidate *Candidate `json:"candidate"`
	At        time.Time  `json:"at"`
}
