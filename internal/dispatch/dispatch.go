// Package dispatch is the only path from the adapter to the host. It
// serializes every call so a sink never sees concurrent callbacks.
package dispatch

import (
	"sync"

	"restbridge/internal/metrics"
	"restbridge/logger"
	"restbridge/models"
)

// EventSink receives adapter output. Implementations need not be safe for
// concurrent use.
type EventSink interface {
	OnMessage(level models.Level, text string)
	OnPrice(kind models.ChangeKind, q models.Quote)
	OnAccount(kind models.ChangeKind, a models.Account)
	OnOrder(kind models.ChangeKind, o models.Order)
	OnOpenedTrade(kind models.ChangeKind, t models.Trade)
	OnClosedTrade(kind models.ChangeKind, t models.Trade)
	OnDisconnected()
}

// Dispatcher forwards events to a sink under a mutex.
type Dispatcher struct {
	mu   sync.Mutex
	sink EventSink
	log  *logger.Log
}

func New(sink EventSink) *Dispatcher {
	return &Dispatcher{sink: sink, log: logger.GetLogger()}
}

// Message mirrors text into the log and forwards it to the host.
func (d *Dispatcher) Message(level models.Level, text string) {
	entry := d.log.WithComponent("adapter")
	switch level {
	case models.LevelError:
		entry.Error(text)
	case models.LevelWarn:
		entry.Warn(text)
	case models.LevelInfo:
		entry.Info(text)
	default:
		entry.Debug(text)
	}
	d.deliver("message", func(s EventSink) { s.OnMessage(level, text) })
}

func (d *Dispatcher) Price(kind models.ChangeKind, q models.Quote) {
	d.deliver("price", func(s EventSink) { s.OnPrice(kind, q) })
}

func (d *Dispatcher) Account(kind models.ChangeKind, a models.Account) {
	d.deliver("account", func(s EventSink) { s.OnAccount(kind, a) })
}

func (d *Dispatcher) Order(kind models.ChangeKind, o models.Order) {
	d.deliver("order", func(s EventSink) { s.OnOrder(kind, o) })
}

func (d *Dispatcher) OpenedTrade(kind models.ChangeKind, t models.Trade) {
	d.deliver("opened_trade", func(s EventSink) { s.OnOpenedTrade(kind, t) })
}

func (d *Dispatcher) ClosedTrade(kind models.ChangeKind, t models.Trade) {
	d.deliver("closed_trade", func(s EventSink) { s.OnClosedTrade(kind, t) })
}

func (d *Dispatcher) Disconnected() {
	d.deliver("disconnected", func(s EventSink) { s.OnDisconnected() })
}

func (d *Dispatcher) deliver(kind string, call func(EventSink)) {
	if d.sink == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	call(d.sink)
	metrics.ObserveEvent(kind)
}
