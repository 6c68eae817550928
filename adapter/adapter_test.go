package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"restbridge/config"
	"restbridge/internal/envelope"
	"restbridge/models"
)

type event struct {
	name  string
	kind  models.ChangeKind
	value any
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) add(name string, kind models.ChangeKind, v any) {
	s.mu.Lock()
	s.events = append(s.events, event{name, kind, v})
	s.mu.Unlock()
}

func (s *recordingSink) OnMessage(level models.Level, text string) {
	s.add("message:"+level.String(), models.ChangeNew, text)
}
func (s *recordingSink) OnPrice(k models.ChangeKind, q models.Quote) {
	s.add("price", k, q)
}
func (s *recordingSink) OnAccount(k models.ChangeKind, a models.Account) {
	s.add("account", k, a)
}
func (s *recordingSink) OnOrder(k models.ChangeKind, o models.Order) {
	s.add("order", k, o)
}
func (s *recordingSink) OnOpenedTrade(k models.ChangeKind, t models.Trade) {
	s.add("opened", k, t)
}
func (s *recordingSink) OnClosedTrade(k models.ChangeKind, t models.Trade) {
	s.add("closed", k, t)
}
func (s *recordingSink) OnDisconnected() {
	s.add("disconnected", models.ChangeNew, nil)
}

func (s *recordingSink) named(name string) []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event
	for _, e := range s.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.name
	}
	return out
}

func brokerConfig(host string) *config.Config {
	cfg := config.Default()
	cfg.Base.Host = host
	cfg.Base.AccountID = "001-001"
	cfg.Base.Broker = "demo"
	cfg.Base.TimeFormat = "RFC3339"
	cfg.Symbol = config.SymbolConfig{Combination: "_", Delimiter: ","}
	cfg.Error.Message = "errorMessage"
	cfg.Scheduler.Tick = 10 * time.Millisecond
	cfg.Endpoints = map[string]config.EndpointConfig{
		"GetPrice": {
			Path:     "/v3/accounts/$account_id/pricing",
			Method:   "GET",
			Request:  "instruments=$symbols",
			Response: "prices:Symbol-instrument,Bid-closeoutBid,Ask-closeoutAsk,Time-time",
		},
		"GetAccount": {
			Path:     "/v3/accounts/$account_id/summary",
			Method:   "GET",
			Response: "account:AccountID-id,Balance-balance,GrossPL-unrealizedPL,Currency-currency",
		},
		"GetOpenedTrades": {
			Path:     "/v3/accounts/$account_id/openTrades",
			Method:   "GET",
			Response: "trades:TradeID-id,Symbol-instrument,Amount-currentUnits,Open-price",
		},
		"GetHistoricalData": {
			Path:     "/v3/instruments/$symbol/candles",
			Method:   "GET",
			Request:  "granularity=$period&from=$start&to=$end",
			Response: "candles:StartDate-time,BidClose-bid.c,AskClose-ask.c",
		},
		"OpenMarketOrder": {
			Path:     "/v3/accounts/$account_id/orders",
			Method:   "POST",
			Request:  `{"order":{"instrument":"$symbol","units":"$amount","clientExtensions":{"id":"$request_id"}}}`,
			Response: "orderFillTransaction:OrderID-orderID,TradeID-tradeOpened.tradeID,Rate-price,Amount-units,Symbol-instrument,RequestID-clientOrderID",
		},
		"StopLossOrder": {
			Path:     "/v3/accounts/$account_id/orders",
			Method:   "POST",
			Request:  `{"order":{"type":"STOP_LOSS","tradeID":"$trade_id","price":"$stop"}}`,
			Response: "orderCreateTransaction:OrderID-id",
		},
		"CloseTrade": {
			Path:     "/v3/accounts/$account_id/trades/$trade_id/close",
			Method:   "PUT",
			Request:  `{"units":"$amount"}`,
			Response: "orderFillTransaction:OrderID-id,Close-price,PL-pl,CloseTime-time",
		},
	}
	return &cfg
}

func newAdapter(t *testing.T, h http.HandlerFunc) (*Adapter, *recordingSink, *config.Config) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	sink := &recordingSink{}
	a := New(sink)
	cfg := brokerConfig(srv.URL)
	if err := a.Init(cfg); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(a.Close)
	return a, sink, cfg
}

func TestGetPrice(t *testing.T) {
	var query string
	a, _, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/accounts/001-001/pricing" {
			http.NotFound(w, r)
			return
		}
		query = r.URL.RawQuery
		fmt.Fprint(w, `{"prices":[
			{"instrument":"EUR_USD","closeoutBid":"1.10010","closeoutAsk":"1.10025","time":"2024-03-01T12:00:00.000000000Z"},
			{"instrument":"USD_JPY","closeoutBid":150.1,"closeoutAsk":150.12,"time":"2024-03-01T12:00:01.000000000Z"}
		]}`)
	})

	quotes, err := a.GetPrice(context.Background(), []string{"EUR/USD", "USD/JPY"})
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if query != "instruments=EUR_USD,USD_JPY" {
		t.Fatalf("query = %q", query)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes", len(quotes))
	}
	q := quotes[0]
	if q.Symbol != "EUR/USD" || q.Bid != 1.1001 || q.Ask != 1.10025 {
		t.Fatalf("quote = %+v", q)
	}
	if !q.Time.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("quote time = %v", q.Time)
	}
	if quotes[1].Symbol != "USD/JPY" || quotes[1].Bid != 150.1 {
		t.Fatalf("second quote = %+v", quotes[1])
	}
	if a.ServerTime().IsZero() {
		t.Fatalf("server time not recorded from Date header")
	}
	for _, g := range a.Gates() {
		if g.Kind == "GetPrice" && !g.Armed {
			t.Fatalf("GetPrice not armed after first call")
		}
	}
}

func TestRefreshDispatchesUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"prices":[{"instrument":"EUR_USD","closeoutBid":"1.1","closeoutAsk":"1.2"}]}`)
	}))
	defer srv.Close()

	cfg := brokerConfig(srv.URL)
	ep := cfg.Endpoints["GetPrice"]
	ep.Refresh = 30
	cfg.Endpoints["GetPrice"] = ep

	sink := &recordingSink{}
	b := New(sink)
	if err := b.Init(cfg); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer b.Close()

	if _, err := b.GetPrice(context.Background(), []string{"EUR/USD"}); err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if err := b.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.named("price")) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	prices := sink.named("price")
	if len(prices) == 0 {
		t.Fatalf("no refresh dispatched")
	}
	if prices[0].kind != models.ChangeUpdate {
		t.Fatalf("refresh kind = %v", prices[0].kind)
	}
	if q := prices[0].value.(models.Quote); q.Symbol != "EUR/USD" {
		t.Fatalf("refreshed quote = %+v", q)
	}

	b.Close()
	b.Close()
	if n := len(sink.named("disconnected")); n != 1 {
		t.Fatalf("disconnected dispatched %d times", n)
	}
	if b.SchedulerState() != "stopped" {
		t.Fatalf("scheduler state = %s", b.SchedulerState())
	}
}

func TestGetAccount(t *testing.T) {
	a, _, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		id := strings.Split(r.URL.Path, "/")[3]
		fmt.Fprintf(w, `{"account":{"id":%q,"balance":"1000.5","unrealizedPL":"-0.5","currency":"USD"}}`, id)
	})

	accs, err := a.GetAccount(context.Background(), "")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if len(accs) != 1 {
		t.Fatalf("got %d accounts", len(accs))
	}
	acc := accs[0]
	if acc.AccountID != "001-001" || acc.Balance != 1000.5 || acc.Equity != 1000 || acc.Broker != "demo" {
		t.Fatalf("account = %+v", acc)
	}

	accs, err = a.GetAccount(context.Background(), "002-002")
	if err != nil || len(accs) != 1 || accs[0].AccountID != "002-002" {
		t.Fatalf("explicit account = %+v, %v", accs, err)
	}
}

func TestGetAccountMismatch(t *testing.T) {
	a, _, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"account":{"id":"other"}}`)
	})
	accs, err := a.GetAccount(context.Background(), "001-001")
	if err != nil || len(accs) != 0 {
		t.Fatalf("mismatched account = %+v, %v", accs, err)
	}
}

func TestGetOpenedTradesForcesAccount(t *testing.T) {
	a, _, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"trades":[{"id":"7","instrument":"EUR_USD","currentUnits":"-100","price":"1.1"}]}`)
	})
	trades, err := a.GetOpenedTrades(context.Background())
	if err != nil {
		t.Fatalf("GetOpenedTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades", len(trades))
	}
	tr := trades[0]
	if tr.AccountID != "001-001" || tr.Side != models.SideSell || tr.Amount != 100 || tr.Symbol != "EUR/USD" {
		t.Fatalf("trade = %+v", tr)
	}
	if tr.HasPL() {
		t.Fatalf("absent PL should be unknown")
	}
}

func TestReadParseErrorIsEmpty(t *testing.T) {
	a, _, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>maintenance</html>`)
	})
	quotes, err := a.GetPrice(context.Background(), []string{"EUR/USD"})
	if err != nil || len(quotes) != 0 {
		t.Fatalf("parse error read = %v, %v", quotes, err)
	}
}

func TestApplicationErrorFailsCommand(t *testing.T) {
	a, sink, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errorMessage":"Insufficient margin"}`)
	})

	o := &models.Order{Symbol: "EUR/USD", Side: models.SideBuy, Amount: 100}
	err := a.OpenMarketOrder(context.Background(), o)
	var ae *envelope.ApplicationError
	if !errors.As(err, &ae) || ae.Message != "Insufficient margin" {
		t.Fatalf("err = %v", err)
	}
	msgs := sink.named("message:error")
	if len(msgs) != 1 || !strings.Contains(msgs[0].value.(string), "Insufficient margin") {
		t.Fatalf("messages = %+v", msgs)
	}
	if len(sink.named("order")) != 0 {
		t.Fatalf("failed command dispatched an order")
	}
}

func TestOpenMarketOrderWithStop(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	a, sink, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if strings.Contains(string(b), "STOP_LOSS") {
			fmt.Fprint(w, `{"orderCreateTransaction":{"id":"55"}}`)
			return
		}
		fmt.Fprint(w, `{"orderFillTransaction":{"orderID":"50","tradeOpened":{"tradeID":"51"},"price":"1.1","units":"-1000","instrument":"EUR_USD"}}`)
	})

	o := &models.Order{Symbol: "EUR/USD", Side: models.SideSell, Amount: 1000, Stop: 1.125}
	if err := a.OpenMarketOrder(context.Background(), o); err != nil {
		t.Fatalf("OpenMarketOrder: %v", err)
	}
	if o.OrderID != "50" {
		t.Fatalf("order id = %q", o.OrderID)
	}

	mu.Lock()
	if len(bodies) != 2 || !strings.Contains(bodies[0], `"units":"-1000"`) || !strings.Contains(bodies[1], `"price":"1.125"`) {
		t.Fatalf("request bodies = %v", bodies)
	}
	if strings.Contains(bodies[0], "$request_id") {
		t.Fatalf("request id not substituted: %s", bodies[0])
	}
	mu.Unlock()

	orders := sink.named("order")
	if len(orders) != 1 || orders[0].value.(models.Order).RequestID == "" {
		t.Fatalf("orders = %+v", orders)
	}
	opened := sink.named("opened")
	if len(opened) != 1 || opened[0].kind != models.ChangeNew {
		t.Fatalf("opened = %+v", opened)
	}
	tr := opened[0].value.(models.Trade)
	if tr.TradeID != "51" || tr.StopOrderID != "55" || tr.Stop != 1.125 || tr.OpenOrderID != "50" || tr.Side != models.SideSell {
		t.Fatalf("opened trade = %+v", tr)
	}
}

func TestCloseTrade(t *testing.T) {
	var path, body string
	a, sink, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		path, body = r.Method+" "+r.URL.Path, string(b)
		fmt.Fprint(w, `{"orderFillTransaction":{"id":"90","price":"1.2","pl":"12.5","time":"2024-03-01T12:00:00Z"}}`)
	})

	in := &models.Trade{TradeID: "51", Symbol: "EUR/USD", Side: models.SideBuy, Amount: 1000, Open: 1.1, StopOrderID: "55", OpenOrderID: "50"}
	if err := a.CloseTrade(context.Background(), in); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	if path != "PUT /v3/accounts/001-001/trades/51/close" || body != `{"units":"1000"}` {
		t.Fatalf("request = %s %s", path, body)
	}

	names := sink.names()
	want := []string{"order", "opened", "closed"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v", names)
	}
	if k := sink.named("opened")[0].kind; k != models.ChangeDelete {
		t.Fatalf("opened trade kind = %v", k)
	}
	closed := sink.named("closed")[0].value.(models.Trade)
	if closed.TradeID != "51" || closed.Open != 1.1 || closed.Close != 1.2 || closed.PL != 12.5 || closed.StopOrderID != "55" {
		t.Fatalf("closed trade = %+v", closed)
	}
}

func TestGetHistoricalData(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	a, _, _ := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.RawQuery)
		mu.Unlock()
		fmt.Fprint(w, `{"candles":[
			{"time":"2024-01-01T02:00:00Z","bid":{"c":"1.3"},"ask":{"c":"1.31"}},
			{"time":"2024-01-01T01:00:00Z","bid":{"c":"1.2"},"ask":{"c":"1.21"}},
			{"time":"2024-01-01T00:00:00Z","bid":{"c":"1.1"},"ask":{"c":"1.11"}}
		]}`)
	})
	a.cfg.Periods = map[string]string{"H1": "H1"}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles, err := a.GetHistoricalData(context.Background(), "EUR/USD", "H1", start, start.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("GetHistoricalData: %v", err)
	}
	if len(candles) != 2 || candles[0].BidClose != 1.2 || candles[1].AskClose != 1.31 {
		t.Fatalf("candles = %+v", candles)
	}
	if candles[0].Symbol != "EUR/USD" || candles[0].Period != "H1" {
		t.Fatalf("candle labels = %+v", candles[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(queries) == 0 || !strings.Contains(queries[0], "granularity=H1&from=2023-12-31T23%3A00%3A00") {
		t.Fatalf("queries = %v", queries)
	}
}

func TestUninitialized(t *testing.T) {
	a := New(&recordingSink{})
	if _, err := a.GetPrice(context.Background(), nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v", err)
	}
	if err := a.Login(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("err = %v", err)
	}
	a.Close()
}
