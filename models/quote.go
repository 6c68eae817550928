package models

import "time"

// Quote is a top-of-book price snapshot for one instrument.
type Quote struct {
	OfferID    string    `json:"offer_id"`
	Symbol     string    `json:"symbol"`
	SymbolType string    `json:"symbol_type"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	PipCost    float64   `json:"pip_cost"`
	PointSize  float64   `json:"point_size"`
	Time       time.Time `json:"time"`
	Reserve    string    `json:"reserve,omitempty"`
}

// Account is the state of a trading account.
type Account struct {
	AccountID                  string  `json:"account_id"`
	AccountName                string  `json:"account_name"`
	AccountType                string  `json:"account_type"`
	Balance                    float64 `json:"balance"`
	Equity                     float64 `json:"equity"`
	DayPL                      float64 `json:"day_pl"`
	GrossPL                    float64 `json:"gross_pl"`
	UsedMargin                 float64 `json:"used_margin"`
	UsableMargin               float64 `json:"usable_margin"`
	UsableMarginInPercent      float64 `json:"usable_margin_pct"`
	UsableMaintMarginInPercent float64 `json:"usable_maint_margin_pct"`
	MarginRate                 float64 `json:"margin_rate"`
	Hedging                    string  `json:"hedging"`
	Currency                   string  `json:"currency"`
	Broker                     string  `json:"broker"`
	Reserve                    string  `json:"reserve,omitempty"`
}

// FillEquity derives Equity from Balance and GrossPL when the broker does not report it.
func (a *Account) FillEquity() {
	if a.Equity == 0 {
		a.Equity = a.Balance + a.GrossPL
	}
}
