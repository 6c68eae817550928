package adapter

import (
	"context"
	"fmt"
	"time"

	"restbridge/internal/envelope"
	"restbridge/internal/fieldmap"
	"restbridge/internal/httpclient"
	"restbridge/internal/metrics"
	"restbridge/internal/registry"
	"restbridge/internal/template"
	"restbridge/logger"
	"restbridge/models"
	"restbridge/processor"
)

func records(ep *registry.Endpoint, env map[string]any) ([]fieldmap.Record, error) {
	if env == nil {
		return nil, nil
	}
	objs, err := envelope.Array(env, ep.Schema.Target)
	if err != nil {
		return nil, err
	}
	out := make([]fieldmap.Record, len(objs))
	for i, obj := range objs {
		out[i] = fieldmap.Record{Object: obj, Schema: ep.Schema}
	}
	return out, nil
}

func record(ep *registry.Endpoint, env map[string]any) (fieldmap.Record, error) {
	obj, err := envelope.Object(env, ep.Schema.Target)
	if err != nil {
		return fieldmap.Record{}, err
	}
	return fieldmap.Record{Object: obj, Schema: ep.Schema}, nil
}

// readFailed turns a failed read into its result: parse errors read as an
// empty result, everything else fails the call.
func (a *Adapter) readFailed(kind registry.Kind, err error) error {
	if envelope.IsParseError(err) {
		a.log.WithComponent("adapter").WithFields(logger.Fields{"endpoint": kind.String()}).WithError(err).Warn("unparsable response read as empty")
		return nil
	}
	a.dispatch.Message(models.LevelError, fmt.Sprintf("%s failed: %s", kind, envelope.Message(err)))
	return err
}

func (a *Adapter) flow(kind registry.Kind, n int, dataType string) {
	logger.LogDataFlowEntry(a.log.WithComponent("adapter"), kind.String(), "host", n, dataType)
}

func (a *Adapter) quotes(ep *registry.Endpoint, env map[string]any) ([]models.Quote, error) {
	recs, err := records(ep, env)
	if err != nil {
		return nil, err
	}
	out := make([]models.Quote, len(recs))
	for i, r := range recs {
		out[i] = a.mapper.Quote(r)
	}
	return out, nil
}

// GetPrice reads quotes for symbols and keeps them refreshed afterwards.
func (a *Adapter) GetPrice(ctx context.Context, symbols []string) ([]models.Quote, error) {
	if a.cfg == nil {
		return nil, ErrNotInitialized
	}
	params := template.Params{"$symbols": a.mapper.Symbols().JoinWire(symbols)}
	ep, env, resp, err := a.call(ctx, registry.GetPrice, params)
	if err != nil {
		return nil, a.readFailed(registry.GetPrice, err)
	}
	a.recordServerTime(resp)
	ep.Arm(params, a.now())

	out, err := a.quotes(ep, env)
	if err != nil {
		return nil, a.readFailed(registry.GetPrice, err)
	}
	a.flow(registry.GetPrice, len(out), "quote")
	return out, nil
}

func (a *Adapter) account(ep *registry.Endpoint, env map[string]any) ([]models.Account, error) {
	if env == nil {
		return nil, nil
	}
	r, err := record(ep, env)
	if err != nil {
		return nil, err
	}
	return []models.Account{a.mapper.Account(r)}, nil
}

// GetAccount reads one account. An id that does not match the returned
// account yields no records.
func (a *Adapter) GetAccount(ctx context.Context, id string) ([]models.Account, error) {
	if a.cfg == nil {
		return nil, ErrNotInitialized
	}
	var params template.Params
	if id != "" {
		params = template.Params{"$account_id": id}
	}
	ep, env, _, err := a.call(ctx, registry.GetAccount, params)
	if err != nil {
		return nil, a.readFailed(registry.GetAccount, err)
	}
	ep.Arm(params, a.now())

	out, err := a.account(ep, env)
	if err != nil {
		return nil, a.readFailed(registry.GetAccount, err)
	}
	if id != "" && len(out) == 1 && out[0].AccountID != id {
		a.log.WithComponent("adapter").WithFields(logger.Fields{
			"requested": id,
			"returned":  out[0].AccountID,
		}).Warn("account id mismatch")
		out = nil
	}
	a.flow(registry.GetAccount, len(out), "account")
	return out, nil
}

func (a *Adapter) trades(ep *registry.Endpoint, env map[string]any) ([]models.Trade, error) {
	recs, err := records(ep, env)
	if err != nil {
		return nil, err
	}
	out := make([]models.Trade, len(recs))
	for i, r := range recs {
		t := a.mapper.Trade(r)
		t.AccountID = a.mapper.AccountID()
		out[i] = t
	}
	return out, nil
}

func (a *Adapter) getTrades(ctx context.Context, kind registry.Kind) ([]models.Trade, error) {
	if a.cfg == nil {
		return nil, ErrNotInitialized
	}
	ep, env, _, err := a.call(ctx, kind, nil)
	if err != nil {
		return nil, a.readFailed(kind, err)
	}
	ep.Arm(nil, a.now())

	out, err := a.trades(ep, env)
	if err != nil {
		return nil, a.readFailed(kind, err)
	}
	return out, nil
}

func (a *Adapter) GetOpenedTrades(ctx context.Context) ([]models.Trade, error) {
	out, err := a.getTrades(ctx, registry.GetOpenedTrades)
	if err == nil {
		a.flow(registry.GetOpenedTrades, len(out), "opened_trade")
	}
	return out, err
}

// GetClosedTrades returns the trades closed since the start of this week.
func (a *Adapter) GetClosedTrades(ctx context.Context) ([]models.Trade, error) {
	out, err := a.getTrades(ctx, registry.GetClosedTrades)
	if err != nil {
		return nil, err
	}
	out = processor.ClosedThisWeek(out, a.now())
	a.flow(registry.GetClosedTrades, len(out), "closed_trade")
	return out, nil
}

// GetHistoricalData returns the bars of symbol strictly after start and up to
// one period before end.
func (a *Adapter) GetHistoricalData(ctx context.Context, symbol, period string, start, end time.Time) ([]models.Candle, error) {
	if a.cfg == nil {
		return nil, ErrNotInitialized
	}
	if _, err := a.registry.Lookup(registry.GetHistoricalData); err != nil {
		return nil, err
	}
	out, err := a.history.Assemble(ctx, symbol, period, start, end)
	if err != nil {
		a.dispatch.Message(models.LevelError, fmt.Sprintf("%s failed: %s", registry.GetHistoricalData, envelope.Message(err)))
		return nil, err
	}
	metrics.ObserveCandles(symbol, period, len(out))
	a.flow(registry.GetHistoricalData, len(out), "candle")
	return out, nil
}

// fetchCandles loads one history window.
func (a *Adapter) fetchCandles(ctx context.Context, symbol, period string, from, to time.Time) ([]models.Candle, error) {
	wirePeriod := a.cfg.Periods[period]
	if wirePeriod == "" {
		wirePeriod = period
	}
	shift := time.Duration(a.cfg.Base.AdjustmentTimezone) * time.Hour
	params := template.Params{
		"$symbol": a.mapper.Symbols().ToWire(symbol),
		"$period": wirePeriod,
		"$start":  template.FormatTime(from.Add(shift), a.cfg.Base.TimeFormat),
		"$end":    template.FormatTime(to.Add(shift), a.cfg.Base.TimeFormat),
	}
	ep, env, _, err := a.call(ctx, registry.GetHistoricalData, params)
	if err != nil {
		return nil, err
	}
	recs, err := records(ep, env)
	if err != nil {
		return nil, err
	}
	out := make([]models.Candle, len(recs))
	for i, r := range recs {
		out[i] = a.mapper.Candle(r, symbol, period)
	}
	return out, nil
}

func (a *Adapter) refreshPrices(_ context.Context, ep *registry.Endpoint, resp *httpclient.Response) error {
	env, err := a.decode(ep.Kind, resp)
	if err != nil {
		return err
	}
	a.recordServerTime(resp)
	quotes, err := a.quotes(ep, env)
	if err != nil {
		return err
	}
	for _, q := range quotes {
		a.dispatch.Price(models.ChangeUpdate, q)
	}
	a.flow(ep.Kind, len(quotes), "quote")
	return nil
}

func (a *Adapter) refreshAccount(_ context.Context, ep *registry.Endpoint, resp *httpclient.Response) error {
	env, err := a.decode(ep.Kind, resp)
	if err != nil {
		return err
	}
	accounts, err := a.account(ep, env)
	if err != nil {
		return err
	}
	n := 0
	for _, acc := range accounts {
		if acc.AccountID != a.mapper.AccountID() {
			continue
		}
		a.dispatch.Account(models.ChangeUpdate, acc)
		n++
	}
	a.flow(ep.Kind, n, "account")
	return nil
}

func (a *Adapter) refreshOpenedTrades(_ context.Context, ep *registry.Endpoint, resp *httpclient.Response) error {
	env, err := a.decode(ep.Kind, resp)
	if err != nil {
		return err
	}
	trades, err := a.trades(ep, env)
	if err != nil {
		return err
	}
	for _, t := range trades {
		a.dispatch.OpenedTrade(models.ChangeUpdate, t)
	}
	a.flow(ep.Kind, len(trades), "opened_trade")
	return nil
}

func (a *Adapter) refreshClosedTrades(_ context.Context, ep *registry.Endpoint, resp *httpclient.Response) error {
	env, err := a.decode(ep.Kind, resp)
	if err != nil {
		return err
	}
	trades, err := a.trades(ep, env)
	if err != nil {
		return err
	}
	trades = processor.ClosedThisWeek(trades, a.now())
	for _, t := range trades {
		a.dispatch.ClosedTrade(models.ChangeUpdate, t)
	}
	a.flow(ep.Kind, len(trades), "closed_trade")
	return nil
}
