package adapter

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"restbridge/internal/envelope"
	"restbridge/internal/fieldmap"
	"restbridge/internal/metrics"
	"restbridge/internal/registry"
	"restbridge/internal/template"
	"restbridge/models"
)

func price(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func units(v float64) string {
	return strconv.FormatInt(int64(math.Abs(v)), 10)
}

// commandFailed reports a failed command to the host and returns err.
func (a *Adapter) commandFailed(kind registry.Kind, err error) error {
	metrics.ObserveCommand(kind.String(), err)
	a.dispatch.Message(models.LevelError, fmt.Sprintf("%s failed: %s", kind, envelope.Message(err)))
	return err
}

// order runs a command whose response carries one order.
func (a *Adapter) order(ctx context.Context, kind registry.Kind, params template.Params) (models.Order, fieldmap.Record, error) {
	ep, env, _, err := a.call(ctx, kind, params)
	if err != nil {
		return models.Order{}, fieldmap.Record{}, err
	}
	r, err := record(ep, env)
	if err != nil {
		return models.Order{}, fieldmap.Record{}, err
	}
	return a.mapper.Order(r), r, nil
}

// OpenMarketOrder places o at market and, when o carries a stop or limit,
// attaches the protective orders. o.OrderID is filled in on success.
func (a *Adapter) OpenMarketOrder(ctx context.Context, o *models.Order) error {
	if a.cfg == nil {
		return ErrNotInitialized
	}
	const kind = registry.OpenMarketOrder

	requestID := uuid.NewString()
	params := template.Params{
		"$symbol":     a.mapper.Symbols().ToWire(o.Symbol),
		"$request_id": requestID,
	}
	if tok := a.mapper.WireSide(o.Side); tok != "" {
		params.Set("$amount", units(o.Amount))
		params.Set("$bs", tok)
	} else {
		amount := math.Abs(o.Amount)
		if o.Side == models.SideSell {
			amount = -amount
		}
		params.Set("$amount", price(amount))
	}

	ep, env, _, err := a.call(ctx, kind, params)
	if err != nil {
		return a.commandFailed(kind, err)
	}
	r, err := record(ep, env)
	if err != nil {
		return a.commandFailed(kind, err)
	}

	placed := a.mapper.Order(r)
	if placed.RequestID == "" {
		placed.RequestID = requestID
	}
	if placed.Symbol == "" {
		placed.Symbol = o.Symbol
	}
	if placed.Side == models.SideUnknown {
		placed.Side = o.Side
	}
	a.dispatch.Order(models.ChangeNew, placed)

	trade := a.mapper.Trade(r)
	if trade.Symbol == "" {
		trade.Symbol = o.Symbol
	}
	if trade.Side == models.SideUnknown {
		trade.Side = o.Side
	}
	if trade.Amount == 0 {
		trade.Amount = math.Abs(o.Amount)
	}

	if o.Stop != 0 {
		stop, _, err := a.order(ctx, registry.StopLossOrder, template.Params{
			"$symbol":   params["$symbol"],
			"$trade_id": trade.TradeID,
			"$stop":     price(o.Stop),
		})
		if err != nil {
			a.commandFailed(registry.StopLossOrder, err)
		} else {
			metrics.ObserveCommand(registry.StopLossOrder.String(), nil)
			trade.StopOrderID = stop.OrderID
			trade.Stop = o.Stop
		}
	}
	if o.Limit != 0 {
		limit, _, err := a.order(ctx, registry.TakeProfitOrder, template.Params{
			"$symbol":   params["$symbol"],
			"$trade_id": trade.TradeID,
			"$limit":    price(o.Limit),
		})
		if err != nil {
			a.commandFailed(registry.TakeProfitOrder, err)
		} else {
			metrics.ObserveCommand(registry.TakeProfitOrder.String(), nil)
			trade.LimitOrderID = limit.OrderID
			trade.Limit = o.Limit
		}
	}

	trade.OpenOrderID = placed.OrderID
	a.dispatch.OpenedTrade(models.ChangeNew, trade)

	o.OrderID = placed.OrderID
	o.RequestID = placed.RequestID
	metrics.ObserveCommand(kind.String(), nil)
	return nil
}

// ChangeStopLoss replaces the stop order of t with one at t.Stop.
func (a *Adapter) ChangeStopLoss(ctx context.Context, t *models.Trade) error {
	if a.cfg == nil {
		return ErrNotInitialized
	}
	const kind = registry.ChangeStopLoss

	o, _, err := a.order(ctx, kind, template.Params{
		"$symbol":   a.mapper.Symbols().ToWire(t.Symbol),
		"$order_id": t.StopOrderID,
		"$trade_id": t.TradeID,
		"$stop":     price(t.Stop),
	})
	if err != nil {
		return a.commandFailed(kind, err)
	}
	if o.Symbol == "" {
		o.Symbol = t.Symbol
	}
	a.dispatch.Order(models.ChangeNew, o)
	if o.OrderID != "" {
		t.StopOrderID = o.OrderID
	}
	metrics.ObserveCommand(kind.String(), nil)
	return nil
}

// ChangeTakeProfit replaces the limit order of t with one at t.Limit.
func (a *Adapter) ChangeTakeProfit(ctx context.Context, t *models.Trade) error {
	if a.cfg == nil {
		return ErrNotInitialized
	}
	const kind = registry.ChangeTakeProfit

	o, _, err := a.order(ctx, kind, template.Params{
		"$symbol":   a.mapper.Symbols().ToWire(t.Symbol),
		"$order_id": t.LimitOrderID,
		"$trade_id": t.TradeID,
		"$limit":    price(t.Limit),
	})
	if err != nil {
		return a.commandFailed(kind, err)
	}
	if o.Symbol == "" {
		o.Symbol = t.Symbol
	}
	a.dispatch.Order(models.ChangeNew, o)
	if o.OrderID != "" {
		t.LimitOrderID = o.OrderID
	}
	metrics.ObserveCommand(kind.String(), nil)
	return nil
}

// CloseTrade closes t.Amount units of t. The host sees the opened trade
// deleted and a closed trade created.
func (a *Adapter) CloseTrade(ctx context.Context, t *models.Trade) error {
	if a.cfg == nil {
		return ErrNotInitialized
	}
	const kind = registry.CloseTrade

	o, r, err := a.order(ctx, kind, template.Params{
		"$symbol":   a.mapper.Symbols().ToWire(t.Symbol),
		"$trade_id": t.TradeID,
		"$amount":   units(t.Amount),
	})
	if err != nil {
		return a.commandFailed(kind, err)
	}
	o.TradeID = t.TradeID
	if o.Symbol == "" {
		o.Symbol = t.Symbol
	}
	a.dispatch.Order(models.ChangeNew, o)

	closed := a.mapper.Trade(r)
	closed.TradeID = t.TradeID
	closed.Open = t.Open
	closed.Stop = t.Stop
	closed.Limit = t.Limit
	closed.High = t.High
	closed.Low = t.Low
	closed.OpenTime = t.OpenTime
	closed.OpenOrderID = t.OpenOrderID
	closed.StopOrderID = t.StopOrderID
	closed.LimitOrderID = t.LimitOrderID
	if closed.Symbol == "" {
		closed.Symbol = t.Symbol
	}
	if closed.Side == models.SideUnknown {
		closed.Side = t.Side
	}
	if closed.Amount == 0 {
		closed.Amount = t.Amount
	}
	if closed.CloseOrderID == "" {
		closed.CloseOrderID = o.OrderID
	}

	a.dispatch.OpenedTrade(models.ChangeDelete, closed)
	a.dispatch.ClosedTrade(models.ChangeNew, closed)
	metrics.ObserveCommand(kind.String(), nil)
	return nil
}
