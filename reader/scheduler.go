// Package reader runs the background refresh loop that keeps the polled
// endpoints warm and hands their responses to typed handlers.
package reader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"restbridge/internal/httpclient"
	"restbridge/internal/metrics"
	"restbridge/internal/registry"
	"restbridge/internal/template"
	"restbridge/logger"
)

// State of the scheduler lifecycle.
type State int32

const (
	Idle State = iota
	Running
	StopRequested
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Handler consumes a successful refresh of one endpoint.
type Handler interface {
	HandleResponse(ctx context.Context, ep *registry.Endpoint, resp *httpclient.Response) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ep *registry.Endpoint, resp *httpclient.Response) error

func (f HandlerFunc) HandleResponse(ctx context.Context, ep *registry.Endpoint, resp *httpclient.Response) error {
	return f(ctx, ep, resp)
}

// Performer is the part of httpclient.Client the scheduler needs.
type Performer interface {
	Perform(ctx context.Context, req template.Request) (*httpclient.Response, error)
	Multi(ctx context.Context, jobs []httpclient.Job) <-chan httpclient.Result
}

type Options struct {
	// Parallel selects multiplexed mode.
	Parallel        bool
	Tick            time.Duration
	WaitCeiling     time.Duration
	ShutdownTimeout time.Duration
	// OnError is told about every failed refresh.
	OnError func(kind registry.Kind, err error)
	// Now replaces time.Now in tests.
	Now func() time.Time
}

type Scheduler struct {
	registry *registry.Registry
	client   Performer
	opts     Options
	log      *logger.Log

	handlersMu sync.RWMutex
	handlers   map[registry.Kind]Handler

	state  atomic.Int32
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

func New(reg *registry.Registry, client Performer, opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = 100 * time.Millisecond
	}
	if opts.WaitCeiling <= 0 {
		opts.WaitCeiling = time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		registry: reg,
		client:   client,
		opts:     opts,
		log:      logger.GetLogger(),
		handlers: map[registry.Kind]Handler{},
	}
}

// Handle registers h for refreshes of kind.
func (s *Scheduler) Handle(kind registry.Kind, h Handler) {
	s.handlersMu.Lock()
	s.handlers[kind] = h
	s.handlersMu.Unlock()
}

func (s *Scheduler) handler(kind registry.Kind) Handler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers[kind]
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start launches the loop and returns once it is running.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.cancel = cancel
	s.mu.Unlock()

	ready := make(chan struct{})
	go s.run(runCtx, ready)
	<-ready

	s.log.WithComponent("scheduler").WithFields(logger.Fields{
		"parallel": s.opts.Parallel,
		"tick":     s.opts.Tick,
		"polled":   len(s.registry.Polled()),
	}).Info("scheduler started")
	return nil
}

// Stop asks the loop to exit and waits for it, bounded by ShutdownTimeout.
func (s *Scheduler) Stop() {
	if !s.state.CompareAndSwap(int32(Running), int32(StopRequested)) {
		return
	}
	s.mu.Lock()
	stop, done, cancel := s.stop, s.done, s.cancel
	s.mu.Unlock()

	log := s.log.WithComponent("scheduler")
	log.Info("stopping scheduler")
	close(stop)
	cancel()

	select {
	case <-done:
		log.Info("scheduler stopped")
	case <-time.After(s.opts.ShutdownTimeout):
		log.Warn("scheduler stop timeout exceeded")
	}
}

func (s *Scheduler) stopping(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (s *Scheduler) run(ctx context.Context, ready chan<- struct{}) {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	defer func() {
		s.state.Store(int32(Stopped))
		close(s.done)
	}()
	close(ready)

	log := s.log.WithComponent("scheduler")
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.stopping(ctx) {
			return
		}

		start := time.Now()
		n := s.tick(ctx)
		if d := time.Since(start); n > 0 && d > s.opts.Tick {
			log.WithFields(logger.Fields{
				"duration_ms": d.Milliseconds(),
				"tick_ms":     s.opts.Tick.Milliseconds(),
				"refreshed":   n,
			}).Debug("tick took longer than interval")
		}
	}
}

// tick refreshes every due endpoint and returns how many were started.
func (s *Scheduler) tick(ctx context.Context) int {
	now := s.opts.Now()
	var due []*registry.Endpoint
	for _, ep := range s.registry.Polled() {
		if ep.Begin(now) {
			due = append(due, ep)
		}
	}
	if len(due) == 0 {
		return 0
	}
	if s.opts.Parallel {
		s.tickMulti(ctx, due)
	} else {
		s.tickSerial(ctx, due)
	}
	return len(due)
}

func (s *Scheduler) tickSerial(ctx context.Context, due []*registry.Endpoint) {
	for i, ep := range due {
		if s.stopping(ctx) {
			for _, rest := range due[i:] {
				rest.Finish()
			}
			return
		}
		resp, err := s.client.Perform(ctx, s.registry.Request(ep, nil))
		s.complete(ctx, ep, resp, err)
	}
}

func (s *Scheduler) tickMulti(ctx context.Context, due []*registry.Endpoint) {
	jobs := make([]httpclient.Job, len(due))
	for i, ep := range due {
		jobs[i] = httpclient.Job{ID: i, Request: s.registry.Request(ep, nil)}
	}
	results := s.client.Multi(ctx, jobs)

	pending := len(jobs)
	ceiling := time.NewTimer(s.opts.WaitCeiling)
	defer ceiling.Stop()
	for pending > 0 {
		select {
		case r, ok := <-results:
			if !ok {
				return
			}
			pending--
			s.complete(ctx, due[r.ID], r.Response, r.Err)
		case <-ceiling.C:
			if s.stopping(ctx) {
				go drain(results, due)
				return
			}
			ceiling.Reset(s.opts.WaitCeiling)
		}
	}
}

// drain releases the gates of transfers abandoned during shutdown.
func drain(results <-chan httpclient.Result, due []*registry.Endpoint) {
	for r := range results {
		due[r.ID].Finish()
	}
}

func (s *Scheduler) complete(ctx context.Context, ep *registry.Endpoint, resp *httpclient.Response, err error) {
	defer ep.Finish()

	log := s.log.WithComponent("scheduler").WithFields(logger.Fields{"endpoint": ep.Kind.String()})
	if err == nil {
		if h := s.handler(ep.Kind); h != nil {
			err = h.HandleResponse(ctx, ep, resp)
		} else {
			log.Debug("no handler registered")
		}
	}
	metrics.ObserveRefresh(ep.Kind.String(), err)
	if err == nil {
		return
	}
	if s.stopping(ctx) {
		log.WithError(err).Debug("refresh aborted by shutdown")
		return
	}
	log.WithError(err).Warn("refresh failed")
	if s.opts.OnError != nil {
		s.opts.OnError(ep.Kind, err)
	}
}
