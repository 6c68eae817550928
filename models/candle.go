package models

import (
	"fmt"
	"time"
)

// Candle is one OHLC bar with separate ask and bid series.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Period    string    `json:"period"`
	StartDate time.Time `json:"start_date"`
	AskOpen   float64   `json:"ask_open"`
	AskHigh   float64   `json:"ask_high"`
	AskLow    float64   `json:"ask_low"`
	AskClose  float64   `json:"ask_close"`
	BidOpen   float64   `json:"bid_open"`
	BidHigh   float64   `json:"bid_high"`
	BidLow    float64   `json:"bid_low"`
	BidClose  float64   `json:"bid_close"`
}

var periods = map[string]time.Duration{
	"m1":  time.Minute,
	"m5":  5 * time.Minute,
	"m15": 15 * time.Minute,
	"m30": 30 * time.Minute,
	"H1":  time.Hour,
	"H2":  2 * time.Hour,
	"H3":  3 * time.Hour,
	"H4":  4 * time.Hour,
	"H6":  6 * time.Hour,
	"H8":  8 * time.Hour,
	"D1":  24 * time.Hour,
	"W1":  7 * 24 * time.Hour,
}

// PeriodDuration returns the length of a canonical period code such as "m5" or "D1".
func PeriodDuration(code string) (time.Duration, bool) {
	d, ok := periods[code]
	return d, ok
}

// ParsePeriod is PeriodDuration reporting unknown codes as an error.
func ParsePeriod(code string) (time.Duration, error) {
	if d, ok := periods[code]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown period %q", code)
}

// PeriodCodes lists every supported canonical period code.
func PeriodCodes() []string {
	return []string{"m1", "m5", "m15", "m30", "H1", "H2", "H3", "H4", "H6", "H8", "D1", "W1"}
}
