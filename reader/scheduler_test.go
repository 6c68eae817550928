package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"restbridge/config"
	"restbridge/internal/httpclient"
	"restbridge/internal/registry"
	"restbridge/internal/template"
)

func setup(t *testing.T, handler http.HandlerFunc) (*registry.Registry, *httpclient.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Base.Host = srv.URL
	cfg.Base.AccountID = "A1"
	cfg.Endpoints = map[string]config.EndpointConfig{
		"GetPrice":   {Path: "/pricing", Method: "GET", Request: "instruments=$symbols", Refresh: 50},
		"GetAccount": {Path: "/accounts/$account_id", Method: "GET", Refresh: 50},
	}
	reg, err := registry.New(&cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg, httpclient.New(httpclient.OptionsFromConfig(&cfg))
}

func arm(t *testing.T, reg *registry.Registry, kind registry.Kind) *registry.Endpoint {
	t.Helper()
	ep, err := reg.Lookup(kind)
	if err != nil {
		t.Fatalf("lookup %s: %v", kind, err)
	}
	ep.Arm(template.Params{"$symbols": "EUR_USD"}, time.Now())
	return ep
}

func TestSchedulerRefreshesArmedEndpoints(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		var mu sync.Mutex
		paths := map[string]int{}
		reg, client := setup(t, func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			paths[r.URL.Path]++
			mu.Unlock()
			w.Write([]byte(`{}`))
		})
		arm(t, reg, registry.GetPrice)

		var handled atomic.Int32
		s := New(reg, client, Options{Parallel: parallel, Tick: 10 * time.Millisecond})
		s.Handle(registry.GetPrice, HandlerFunc(func(ctx context.Context, ep *registry.Endpoint, resp *httpclient.Response) error {
			if resp.Request.URL == "" || ep.Kind != registry.GetPrice {
				t.Errorf("unexpected refresh %v %+v", ep.Kind, resp.Request)
			}
			handled.Add(1)
			return nil
		}))

		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		time.Sleep(400 * time.Millisecond)
		s.Stop()

		n := handled.Load()
		if n < 2 || n > 9 {
			t.Fatalf("parallel=%v: handled %d refreshes", parallel, n)
		}
		mu.Lock()
		if paths["/accounts/A1"] != 0 {
			t.Fatalf("unarmed endpoint was polled")
		}
		mu.Unlock()
	}
}

func TestSchedulerNeverOverlapsAnEndpoint(t *testing.T) {
	var active, peak atomic.Int32
	reg, client := setup(t, func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		active.Add(-1)
		w.Write([]byte(`{}`))
	})
	arm(t, reg, registry.GetPrice)

	s := New(reg, client, Options{Parallel: true, Tick: 5 * time.Millisecond, WaitCeiling: 20 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	s.Stop()

	if peak.Load() != 1 {
		t.Fatalf("peak concurrent refreshes = %d", peak.Load())
	}
}

func TestSchedulerReportsErrors(t *testing.T) {
	reg, client := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	arm(t, reg, registry.GetAccount)

	errs := make(chan registry.Kind, 16)
	s := New(reg, client, Options{
		Tick: 10 * time.Millisecond,
		OnError: func(kind registry.Kind, err error) {
			select {
			case errs <- kind:
			default:
			}
		},
	})
	s.Handle(registry.GetAccount, HandlerFunc(func(context.Context, *registry.Endpoint, *httpclient.Response) error {
		return context.DeadlineExceeded
	}))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case kind := <-errs:
		if kind != registry.GetAccount {
			t.Fatalf("error kind = %v", kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error reported")
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	reg, client := setup(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	})
	arm(t, reg, registry.GetPrice)

	s := New(reg, client, Options{Tick: 10 * time.Millisecond, ShutdownTimeout: 5 * time.Second})
	if s.State() != Idle {
		t.Fatalf("state = %v", s.State())
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("second start should fail")
	}
	if s.State() != Running {
		t.Fatalf("state = %v", s.State())
	}

	// let a slow refresh get in flight so Stop has to abort it
	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	s.Stop()
	if d := time.Since(start); d > time.Second {
		t.Fatalf("stop took %v", d)
	}
	if s.State() != Stopped {
		t.Fatalf("state = %v", s.State())
	}
	s.Stop()
}
