// Package registry holds the configured endpoint for every broker operation
// together with its refresh gate.
package registry

import (
	"sync"
	"time"

	"restbridge/config"
	"restbridge/internal/fieldmap"
	"restbridge/internal/template"
)

// Endpoint is one configured operation. Everything but the refresh gate is
// fixed after New.
type Endpoint struct {
	Kind     Kind
	Template template.Template
	Schema   fieldmap.Schema
	Refresh  time.Duration

	mu       sync.Mutex
	params   template.Params
	armed    bool
	inFlight bool
	last     time.Time
}

// Arm enables polling with the parameters of the first explicit call.
func (e *Endpoint) Arm(params template.Params, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = template.Merge(params)
	e.armed = true
	e.last = now
}

// Params returns a copy of the armed parameters.
func (e *Endpoint) Params() template.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return template.Merge(e.params)
}

func (e *Endpoint) due(now time.Time) bool {
	return e.armed && e.Refresh > 0 && !e.inFlight && now.Sub(e.last) > e.Refresh
}

// Due reports whether a refresh should start at now.
func (e *Endpoint) Due(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.due(now)
}

// Begin claims a due refresh. The interval restarts at now whether or not
// the attempt succeeds.
func (e *Endpoint) Begin(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.due(now) {
		return false
	}
	e.inFlight = true
	e.last = now
	return true
}

// Finish releases a refresh claimed with Begin.
func (e *Endpoint) Finish() {
	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()
}

// GateState is a point-in-time view of the refresh gate.
type GateState struct {
	Kind        string        `json:"kind"`
	Refresh     time.Duration `json:"refresh"`
	Armed       bool          `json:"armed"`
	InFlight    bool          `json:"in_flight"`
	LastAttempt time.Time     `json:"last_attempt"`
}

func (e *Endpoint) State() GateState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return GateState{
		Kind:        e.Kind.String(),
		Refresh:     e.Refresh,
		Armed:       e.armed,
		InFlight:    e.inFlight,
		LastAttempt: e.last,
	}
}

// Registry maps operations to endpoints.
type Registry struct {
	host      string
	globals   template.Params
	endpoints map[Kind]*Endpoint
}

// New builds the registry from cfg. Read sections that are present must
// name a path and a method; command sections are checked when invoked.
func New(cfg *config.Config) (*Registry, error) {
	if cfg.Base.Host == "" {
		return nil, &config.ConfigurationError{Section: "base", Key: "host", Reason: "is required"}
	}
	r := &Registry{
		host:      cfg.Base.Host,
		globals:   template.Params{"$account_id": cfg.Base.AccountID},
		endpoints: map[Kind]*Endpoint{},
	}
	for _, kind := range Kinds {
		sec, ok := cfg.Endpoints[kind.String()]
		if !ok {
			continue
		}
		if kind.Read() {
			if sec.Path == "" {
				return nil, &config.ConfigurationError{Section: kind.String(), Key: "path", Reason: "is required"}
			}
			if sec.Method == "" {
				return nil, &config.ConfigurationError{Section: kind.String(), Key: "method", Reason: "is required"}
			}
		}
		refresh := time.Duration(0)
		if kind.Polled() {
			refresh = sec.RefreshInterval()
		}
		r.endpoints[kind] = &Endpoint{
			Kind:     kind,
			Template: template.Template{Method: sec.Method, Path: sec.Path, Body: sec.Request},
			Schema:   fieldmap.ParseSchema(sec.Response),
			Refresh:  refresh,
		}
	}
	return r, nil
}

// Lookup returns the endpoint for kind, failing with a ConfigurationError
// when the section is missing or incomplete.
func (r *Registry) Lookup(kind Kind) (*Endpoint, error) {
	ep, ok := r.endpoints[kind]
	if !ok {
		return nil, &config.ConfigurationError{Section: kind.String(), Reason: "endpoint is not configured"}
	}
	if ep.Template.Path == "" {
		return nil, &config.ConfigurationError{Section: kind.String(), Key: "path", Reason: "is required"}
	}
	return ep, nil
}

// Polled returns the configured polled endpoints in registration order.
func (r *Registry) Polled() []*Endpoint {
	var out []*Endpoint
	for _, kind := range Kinds {
		if !kind.Polled() {
			continue
		}
		if ep, ok := r.endpoints[kind]; ok {
			out = append(out, ep)
		}
	}
	return out
}

// Request builds the concrete request for ep. Call params override the
// endpoint's armed params, which override the globals.
func (r *Registry) Request(ep *Endpoint, params template.Params) template.Request {
	return ep.Template.Build(r.host, template.Merge(r.globals, ep.Params(), params))
}

// States returns the refresh gate of every polled endpoint.
func (r *Registry) States() []GateState {
	polled := r.Polled()
	out := make([]GateState, 0, len(polled))
	for _, ep := range polled {
		out = append(out, ep.State())
	}
	return out
}
