// Package adapter is the broker adapter: a configurable REST client that
// serves account, price, trade and history reads, places orders, and keeps
// the polled endpoints refreshed in the background.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"restbridge/config"
	"restbridge/internal/dispatch"
	"restbridge/internal/envelope"
	"restbridge/internal/history"
	"restbridge/internal/httpclient"
	ratemetrics "restbridge/internal/metrics/rate"
	"restbridge/internal/registry"
	"restbridge/internal/template"
	"restbridge/logger"
	"restbridge/models"
	"restbridge/processor"
	"restbridge/reader"
)

var (
	ErrNotInitialized     = errors.New("adapter is not initialized")
	ErrAlreadyInitialized = errors.New("adapter is already initialized")
)

type Adapter struct {
	dispatch *dispatch.Dispatcher
	log      *logger.Log
	now      func() time.Time

	cfg       *config.Config
	registry  *registry.Registry
	client    *httpclient.Client
	mapper    *processor.Mapper
	scheduler *reader.Scheduler
	history   *history.Assembler

	serverTime atomic.Int64
	closeOnce  sync.Once
}

// New returns an adapter reporting to sink. Call Init before anything else.
func New(sink dispatch.EventSink) *Adapter {
	return &Adapter{
		dispatch: dispatch.New(sink),
		log:      logger.GetLogger(),
		now:      time.Now,
	}
}

// Init wires every component from cfg. Configuration problems are returned
// as *config.ConfigurationError.
func (a *Adapter) Init(cfg *config.Config) error {
	if a.cfg != nil {
		return ErrAlreadyInitialized
	}
	reg, err := registry.New(cfg)
	if err != nil {
		return fmt.Errorf("init endpoints: %w", err)
	}

	a.cfg = cfg
	a.registry = reg
	a.client = httpclient.New(httpclient.OptionsFromConfig(cfg))
	a.mapper = processor.NewMapper(cfg)
	a.history = history.NewAssembler(history.FetcherFunc(a.fetchCandles), history.Options{
		Session:    history.SessionFromConfig(cfg.Market),
		MaxBatch:   cfg.History.MaxBatch,
		Benign:     cfg.History.BenignErrors,
		ServerTime: a.ServerTime,
	})

	a.scheduler = reader.New(reg, a.client, reader.Options{
		Parallel:        cfg.Base.Parallel,
		Tick:            cfg.Scheduler.Tick,
		WaitCeiling:     cfg.Scheduler.WaitCeiling,
		ShutdownTimeout: cfg.Scheduler.ShutdownTimeout,
		OnError:         a.refreshFailed,
	})
	a.scheduler.Handle(registry.GetPrice, reader.HandlerFunc(a.refreshPrices))
	a.scheduler.Handle(registry.GetAccount, reader.HandlerFunc(a.refreshAccount))
	a.scheduler.Handle(registry.GetOpenedTrades, reader.HandlerFunc(a.refreshOpenedTrades))
	a.scheduler.Handle(registry.GetClosedTrades, reader.HandlerFunc(a.refreshClosedTrades))

	a.log.WithComponent("adapter").WithFields(logger.Fields{
		"host":     cfg.Base.Host,
		"broker":   cfg.Base.Broker,
		"parallel": cfg.Base.Parallel,
	}).Info("adapter initialized")
	return nil
}

// Login starts background refreshing. The loop lives until Close, not until
// ctx is done.
func (a *Adapter) Login(ctx context.Context) error {
	if a.cfg == nil {
		return ErrNotInitialized
	}
	if err := a.scheduler.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	a.dispatch.Message(models.LevelInfo, fmt.Sprintf("connected to %s", a.cfg.Base.Host))
	return nil
}

// Close stops the refresh loop, releases connections and tells the sink.
// Further calls do nothing.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		if a.scheduler != nil {
			a.scheduler.Stop()
		}
		if a.client != nil {
			a.client.CloseIdle()
		}
		a.dispatch.Disconnected()
		a.log.WithComponent("adapter").Info("adapter closed")
	})
}

// ServerTime is the broker clock as last seen in a price response, or the
// zero time before the first one.
func (a *Adapter) ServerTime() time.Time {
	ns := a.serverTime.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func (a *Adapter) recordServerTime(resp *httpclient.Response) {
	if t := httpclient.ServerTime(resp); !t.IsZero() {
		a.serverTime.Store(t.UnixNano())
	}
}

// Gates exposes the refresh gate of every polled endpoint.
func (a *Adapter) Gates() []registry.GateState {
	if a.registry == nil {
		return nil
	}
	return a.registry.States()
}

// SchedulerState reports the refresh loop lifecycle.
func (a *Adapter) SchedulerState() string {
	if a.scheduler == nil {
		return reader.Idle.String()
	}
	return a.scheduler.State().String()
}

// call performs one exchange for kind and decodes the envelope. The endpoint
// is returned whenever it was resolved.
func (a *Adapter) call(ctx context.Context, kind registry.Kind, params template.Params) (*registry.Endpoint, map[string]any, *httpclient.Response, error) {
	if a.cfg == nil {
		return nil, nil, nil, ErrNotInitialized
	}
	ep, err := a.registry.Lookup(kind)
	if err != nil {
		return nil, nil, nil, err
	}
	resp, err := a.client.Perform(ctx, a.registry.Request(ep, params))
	if err != nil {
		return ep, nil, nil, err
	}
	env, err := a.decode(kind, resp)
	return ep, env, resp, err
}

func (a *Adapter) decode(kind registry.Kind, resp *httpclient.Response) (map[string]any, error) {
	env, err := envelope.Decode(resp, a.cfg.Error.Message)
	if envelope.IsApplicationError(err) {
		ratemetrics.ReportLimitFromMessage(a.log, a.cfg.Base.Broker, kind.String(), envelope.Message(err))
	}
	return env, err
}

func (a *Adapter) refreshFailed(kind registry.Kind, err error) {
	a.dispatch.Message(models.LevelWarn, fmt.Sprintf("%s refresh failed: %s", kind, envelope.Message(err)))
}
