package metrics

import (
	"maps"
	"sync"
	"time"

	"restbridge/logger"
)

// Metric is one structured metric event. The dashboard keeps the recent
// ones; Fields never contains the metric, value or type keys.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

type MetricHandler func(Metric)

// MetricHandlerID identifies a registration. Zero is never issued.
type MetricHandlerID uint64

type registeredHandler struct {
	id MetricHandlerID
	fn MetricHandler
}

// handlerRegistry calls handlers in registration order, outside its lock.
type handlerRegistry struct {
	mu      sync.RWMutex
	next    MetricHandlerID
	entries []registeredHandler
}

var handlers handlerRegistry

func (r *handlerRegistry) add(fn MetricHandler) MetricHandlerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries = append(r.entries, registeredHandler{id: r.next, fn: fn})
	return r.next
}

func (r *handlerRegistry) remove(id MetricHandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *handlerRegistry) reset() {
	r.mu.Lock()
	r.next = 0
	r.entries = nil
	r.mu.Unlock()
}

func (r *handlerRegistry) dispatch(m Metric) {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()
	for _, e := range entries {
		e.fn(m)
	}
}

// RegisterMetricHandler subscribes handler to every emitted metric. A nil
// handler is ignored and yields zero.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	return handlers.add(handler)
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id != 0 {
		handlers.remove(id)
	}
}

// EmitMetric logs a metric at debug level and hands it to every handler.
// Metrics without a name are discarded; the type defaults to "counter".
func EmitMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    logger.Fields{},
	}
	maps.Copy(m.Fields, fields)

	logFields := maps.Clone(m.Fields)
	logFields["metric"] = name
	logFields["metric_type"] = metricType
	logFields["value"] = value
	log.WithComponent(component).WithFields(logFields).Debug("metric")

	handlers.dispatch(m)
}
