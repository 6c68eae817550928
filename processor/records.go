// Package processor turns mapped broker JSON into typed trading records,
// applying the symbol, side, account and P/L conventions of the adapter.
package processor

import (
	"math"
	"time"

	appconfig "restbridge/config"
	"restbridge/internal/fieldmap"
	"restbridge/internal/symbols"
	"restbridge/models"
)

// Mapper builds records from fieldmap.Records. It is immutable and safe for
// concurrent use.
type Mapper struct {
	symbols   symbols.Mapper
	buy       string
	sell      string
	accountID string
	broker    string
}

func NewMapper(cfg *appconfig.Config) *Mapper {
	return &Mapper{
		symbols:   symbols.Mapper{Combination: cfg.Symbol.Combination, Delimiter: cfg.Symbol.Delimiter},
		buy:       cfg.Side.Buy,
		sell:      cfg.Side.Sell,
		accountID: cfg.Base.AccountID,
		broker:    cfg.Base.Broker,
	}
}

// Symbols exposes the wire symbol conversion.
func (m *Mapper) Symbols() symbols.Mapper { return m.symbols }

// AccountID is the configured account.
func (m *Mapper) AccountID() string { return m.accountID }

// Side derives the side from an explicit token or, without one, from the
// sign of amount.
func (m *Mapper) Side(token string, amount float64) models.Side {
	if token != "" {
		if token == m.buy {
			return models.SideBuy
		}
		return models.SideSell
	}
	switch {
	case amount > 0:
		return models.SideBuy
	case amount < 0:
		return models.SideSell
	default:
		return models.SideUnknown
	}
}

// WireSide returns the broker token for side, or "" when the broker encodes
// side as the sign of the amount.
func (m *Mapper) WireSide(side models.Side) string {
	switch side {
	case models.SideBuy:
		return m.buy
	case models.SideSell:
		return m.sell
	}
	return ""
}

func (m *Mapper) Quote(r fieldmap.Record) models.Quote {
	return models.Quote{
		OfferID:    r.Str("OfferID"),
		Symbol:     m.symbols.FromWire(r.Str("Symbol")),
		SymbolType: r.Str("SymbolType"),
		Bid:        r.Dbl("Bid"),
		Ask:        r.Dbl("Ask"),
		High:       r.Dbl("High"),
		Low:        r.Dbl("Low"),
		PipCost:    r.Dbl("PipCost"),
		PointSize:  r.Dbl("PointSize"),
		Time:       r.Time("Time"),
		Reserve:    r.Str("Reserve"),
	}
}

func (m *Mapper) Account(r fieldmap.Record) models.Account {
	a := models.Account{
		AccountID:                  r.Str("AccountID"),
		AccountName:                r.Str("AccountName"),
		AccountType:                r.Str("AccountType"),
		Balance:                    r.Dbl("Balance"),
		Equity:                     r.Dbl("Equity"),
		DayPL:                      r.Dbl("DayPL"),
		GrossPL:                    r.Dbl("GrossPL"),
		UsedMargin:                 r.Dbl("UsedMargin"),
		UsableMargin:               r.Dbl("UsableMargin"),
		UsableMarginInPercent:      r.Dbl("UsableMarginInPercent"),
		UsableMaintMarginInPercent: r.Dbl("UsableMaintMarginInPercent"),
		MarginRate:                 r.Dbl("MarginRate"),
		Hedging:                    r.Str("Hedging"),
		Currency:                   r.Str("Currency"),
		Broker:                     m.broker,
		Reserve:                    r.Str("Reserve"),
	}
	a.FillEquity()
	return a
}

func (m *Mapper) Order(r fieldmap.Record) models.Order {
	amount := r.Dbl("Amount")
	return models.Order{
		OrderID:     r.Str("OrderID"),
		RequestID:   r.Str("RequestID"),
		AccountID:   r.Str("AccountID"),
		OfferID:     r.Str("OfferID"),
		Symbol:      m.symbols.FromWire(r.Str("Symbol")),
		TradeID:     r.Str("TradeID"),
		Side:        m.Side(r.Str("BS"), amount),
		Stage:       r.Str("Stage"),
		OrderType:   r.Str("OrderType"),
		OrderStatus: r.Str("OrderStatus"),
		Amount:      math.Abs(amount),
		Rate:        r.Dbl("Rate"),
		Stop:        r.Dbl("Stop"),
		Limit:       r.Dbl("Limit"),
		Time:        r.Time("Time"),
		Reserve:     r.Str("Reserve"),
	}
}

func (m *Mapper) Trade(r fieldmap.Record) models.Trade {
	amount := r.Dbl("Amount")
	accountID := r.Str("AccountID")
	if accountID == "" {
		accountID = m.accountID
	}
	return models.Trade{
		TradeID:      r.Str("TradeID"),
		AccountID:    accountID,
		OfferID:      r.Str("OfferID"),
		Symbol:       m.symbols.FromWire(r.Str("Symbol")),
		Side:         m.Side(r.Str("BS"), amount),
		Amount:       math.Abs(amount),
		Open:         r.Dbl("Open"),
		Close:        r.Dbl("Close"),
		Stop:         r.Dbl("Stop"),
		Limit:        r.Dbl("Limit"),
		High:         r.Dbl("High"),
		Low:          r.Dbl("Low"),
		PL:           r.DblOr("PL", models.PLUnknown),
		GrossPL:      r.DblOr("GrossPL", models.PLUnknown),
		Commission:   r.Dbl("Commission"),
		Interest:     r.Dbl("Interest"),
		OpenTime:     r.Time("OpenTime"),
		CloseTime:    r.Time("CloseTime"),
		OpenOrderID:  r.Str("OpenOrderID"),
		CloseOrderID: r.Str("CloseOrderID"),
		StopOrderID:  r.Str("StopOrderID"),
		LimitOrderID: r.Str("LimitOrderID"),
		Reserve:      r.Str("Reserve"),
	}
}

// Candle maps one bar. Symbol and period come from the request because
// brokers rarely echo them per bar.
func (m *Mapper) Candle(r fieldmap.Record, symbol, period string) models.Candle {
	return models.Candle{
		Symbol:    symbol,
		Period:    period,
		StartDate: r.Time("StartDate"),
		AskOpen:   r.Dbl("AskOpen"),
		AskHigh:   r.Dbl("AskHigh"),
		AskLow:    r.Dbl("AskLow"),
		AskClose:  r.Dbl("AskClose"),
		BidOpen:   r.Dbl("BidOpen"),
		BidHigh:   r.Dbl("BidHigh"),
		BidLow:    r.Dbl("BidLow"),
		BidClose:  r.Dbl("BidClose"),
	}
}

// WeekStart returns Sunday 00:00 UTC of the week containing now.
func WeekStart(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// ClosedThisWeek keeps trades closed after the start of the current week.
func ClosedThisWeek(trades []models.Trade, now time.Time) []models.Trade {
	start := WeekStart(now)
	out := trades[:0:0]
	for _, t := range trades {
		if t.CloseTime.After(start) {
			out = append(out, t)
		}
	}
	return out
}
