package models

import (
	"math"
	"time"
)

// PLUnknown marks a profit/loss figure the broker did not report.
const PLUnknown = math.MaxFloat64

// Order is a single order acknowledged by the broker.
type Order struct {
	OrderID     string    `json:"order_id"`
	RequestID   string    `json:"request_id"`
	AccountID   string    `json:"account_id"`
	OfferID     string    `json:"offer_id"`
	Symbol      string    `json:"symbol"`
	TradeID     string    `json:"trade_id"`
	Side        Side      `json:"side"`
	Stage       string    `json:"stage"`
	OrderType   string    `json:"order_type"`
	OrderStatus string    `json:"order_status"`
	Amount      float64   `json:"amount"`
	Rate        float64   `json:"rate"`
	Stop        float64   `json:"stop"`
	Limit       float64   `json:"limit"`
	Time        time.Time `json:"time"`
	Reserve     string    `json:"reserve,omitempty"`
}

// Trade is an open or closed position.
type Trade struct {
	TradeID      string    `json:"trade_id"`
	AccountID    string    `json:"account_id"`
	OfferID      string    `json:"offer_id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Amount       float64   `json:"amount"`
	Open         float64   `json:"open"`
	Close        float64   `json:"close"`
	Stop         float64   `json:"stop"`
	Limit        float64   `json:"limit"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	PL           float64   `json:"pl"`
	GrossPL      float64   `json:"gross_pl"`
	Commission   float64   `json:"commission"`
	Interest     float64   `json:"interest"`
	OpenTime     time.Time `json:"open_time"`
	CloseTime    time.Time `json:"close_time"`
	OpenOrderID  string    `json:"open_order_id"`
	CloseOrderID string    `json:"close_order_id"`
	StopOrderID  string    `json:"stop_order_id"`
	LimitOrderID string    `json:"limit_order_id"`
	Reserve      string    `json:"reserve,omitempty"`
}

// HasPL reports whether PL carries a broker supplied value.
func (t Trade) HasPL() bool { return t.PL != PLUnknown }

// HasGrossPL reports whether GrossPL carries a broker supplied value.
func (t Trade) HasGrossPL() bool { return t.GrossPL != PLUnknown }
