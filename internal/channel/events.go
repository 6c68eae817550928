// Package channel turns adapter callbacks into values on a buffered Go
// channel for hosts that prefer to range over events.
package channel

import (
	"sync"

	"restbridge/internal/metrics"
	"restbridge/logger"
	"restbridge/models"
)

// EventType names the callback an Event came from.
type EventType string

const (
	EventMessage      EventType = "message"
	EventPrice        EventType = "price"
	EventAccount      EventType = "account"
	EventOrder        EventType = "order"
	EventOpenedTrade  EventType = "opened_trade"
	EventClosedTrade  EventType = "closed_trade"
	EventDisconnected EventType = "disconnected"
)

// Event carries one callback. Only the field matching Type is set.
type Event struct {
	Type    EventType
	Change  models.ChangeKind
	Level   models.Level
	Text    string
	Quote   models.Quote
	Account models.Account
	Order   models.Order
	Trade   models.Trade
}

type ChannelStats struct {
	Sent    int64
	Dropped int64
}

// Events implements dispatch.EventSink. Sends never block; when the buffer
// is full the event is dropped and counted. Events arriving after Close are
// discarded.
type Events struct {
	C chan Event

	stats      ChannelStats
	statsMutex sync.RWMutex
	closeMu    sync.RWMutex
	closed     bool
	log        *logger.Log
}

func NewEvents(bufferSize int) *Events {
	log := logger.GetLogger()
	e := &Events{
		C:   make(chan Event, bufferSize),
		log: log,
	}
	log.WithComponent("events").WithFields(logger.Fields{
		"buffer_size": bufferSize,
	}).Info("event channel initialized")
	return e
}

func (e *Events) send(ev Event) bool {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.C <- ev:
		e.statsMutex.Lock()
		e.stats.Sent++
		e.statsMutex.Unlock()
		return true
	default:
		e.statsMutex.Lock()
		e.stats.Dropped++
		e.statsMutex.Unlock()
		metrics.EmitDropMetric(e.log, "events", string(ev.Type))
		return false
	}
}

func (e *Events) OnMessage(level models.Level, text string) {
	e.send(Event{Type: EventMessage, Level: level, Text: text})
}

func (e *Events) OnPrice(kind models.ChangeKind, q models.Quote) {
	e.send(Event{Type: EventPrice, Change: kind, Quote: q})
}

func (e *Events) OnAccount(kind models.ChangeKind, a models.Account) {
	e.send(Event{Type: EventAccount, Change: kind, Account: a})
}

func (e *Events) OnOrder(kind models.ChangeKind, o models.Order) {
	e.send(Event{Type: EventOrder, Change: kind, Order: o})
}

func (e *Events) OnOpenedTrade(kind models.ChangeKind, t models.Trade) {
	e.send(Event{Type: EventOpenedTrade, Change: kind, Trade: t})
}

func (e *Events) OnClosedTrade(kind models.ChangeKind, t models.Trade) {
	e.send(Event{Type: EventClosedTrade, Change: kind, Trade: t})
}

func (e *Events) OnDisconnected() {
	e.send(Event{Type: EventDisconnected})
}

// Close closes C once; later callbacks are ignored.
func (e *Events) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	close(e.C)
	e.closeMu.Unlock()

	stats := e.GetStats()
	e.log.WithComponent("events").WithFields(logger.Fields{
		"sent":    stats.Sent,
		"dropped": stats.Dropped,
	}).Info("event channel closed")
}

func (e *Events) GetStats() ChannelStats {
	e.statsMutex.RLock()
	defer e.statsMutex.RUnlock()
	return e.stats
}
