// Package metrics exposes adapter counters to Prometheus and fans structured
// metric events out to in-process handlers such as the dashboard.
package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"restbridge/logger"
)

var (
	once          sync.Once
	refreshTotal  *prometheus.CounterVec
	commandTotal  *prometheus.CounterVec
	eventsTotal   *prometheus.CounterVec
	candlesTotal  *prometheus.CounterVec
	eventsDropped prometheus.Counter
)

func newCollectors() {
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restbridge_refresh_total",
			Help: "Polled endpoint refreshes by outcome",
		},
		[]string{"endpoint", "result"},
	)
	commandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restbridge_command_total",
			Help: "Trading commands by outcome",
		},
		[]string{"command", "result"},
	)
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restbridge_events_total",
			Help: "Events delivered to the host",
		},
		[]string{"kind"},
	)
	candlesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restbridge_candles_total",
			Help: "Historical candles assembled",
		},
		[]string{"symbol", "period"},
	)
	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "restbridge_events_dropped_total",
		Help: "Events dropped because the host channel was full",
	})
}

// Init registers the collectors and serves /metrics on addr. An empty addr
// registers without serving. Only the first call has any effect.
func Init(addr string) {
	once.Do(func() {
		newCollectors()

		reg := prometheus.DefaultRegisterer
		_ = reg.Register(refreshTotal)
		_ = reg.Register(commandTotal)
		_ = reg.Register(eventsTotal)
		_ = reg.Register(candlesTotal)
		_ = reg.Register(eventsDropped)
		_ = reg.Register(collectors.NewGoCollector())
		_ = reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if addr == "" {
			return
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server failed")
			}
		}()
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveRefresh counts one polled refresh of endpoint.
func ObserveRefresh(endpoint string, err error) {
	logger.IncrementRefresh(err != nil)
	if refreshTotal != nil {
		refreshTotal.WithLabelValues(endpoint, result(err)).Inc()
	}
	EmitMetric(nil, "scheduler", "refresh", int64(1), "counter", logger.Fields{"endpoint": endpoint, "result": result(err)})
}

// ObserveCommand counts one trading command.
func ObserveCommand(command string, err error) {
	logger.IncrementCommand(err != nil)
	if commandTotal != nil {
		commandTotal.WithLabelValues(command, result(err)).Inc()
	}
	EmitMetric(nil, "adapter", "command", int64(1), "counter", logger.Fields{"command": command, "result": result(err)})
}

// ObserveEvent counts one event handed to the host.
func ObserveEvent(kind string) {
	if eventsTotal != nil {
		eventsTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveCandles counts assembled candles.
func ObserveCandles(symbol, period string, n int) {
	if candlesTotal != nil {
		candlesTotal.WithLabelValues(symbol, period).Add(float64(n))
	}
	EmitMetric(nil, "history", "candles", int64(n), "counter", logger.Fields{"symbol": symbol, "period": period})
}
