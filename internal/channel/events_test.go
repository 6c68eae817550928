package channel

import (
	"sync"
	"testing"

	"restbridge/models"
)

func TestEventsDeliverAndDrop(t *testing.T) {
	e := NewEvents(2)
	e.OnPrice(models.ChangeUpdate, models.Quote{Symbol: "EUR/USD"})
	e.OnOrder(models.ChangeNew, models.Order{OrderID: "1"})
	e.OnDisconnected() // buffer full

	stats := e.GetStats()
	if stats.Sent != 2 || stats.Dropped != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	first := <-e.C
	if first.Type != EventPrice || first.Quote.Symbol != "EUR/USD" || first.Change != models.ChangeUpdate {
		t.Fatalf("first event = %+v", first)
	}
	second := <-e.C
	if second.Type != EventOrder || second.Order.OrderID != "1" {
		t.Fatalf("second event = %+v", second)
	}

	e.Close()
	e.Close()
	if _, ok := <-e.C; ok {
		t.Fatalf("channel not closed")
	}
}

func TestEventsIgnoreCallbacksAfterClose(t *testing.T) {
	e := NewEvents(4)
	e.Close()

	e.OnMessage(models.LevelError, "late handler")
	e.OnClosedTrade(models.ChangeNew, models.Trade{TradeID: "7"})
	if stats := e.GetStats(); stats.Sent != 0 || stats.Dropped != 0 {
		t.Fatalf("stats after close = %+v", stats)
	}
	if _, ok := <-e.C; ok {
		t.Fatalf("event delivered after close")
	}
}

func TestEventsCloseWhileSending(t *testing.T) {
	e := NewEvents(8)
	go func() {
		for range e.C {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				e.OnPrice(models.ChangeUpdate, models.Quote{Symbol: "EUR/USD"})
			}
		}()
	}
	e.Close()
	wg.Wait()

	stats := e.GetStats()
	if stats.Sent+stats.Dropped > 2000 {
		t.Fatalf("stats = %+v", stats)
	}
}
