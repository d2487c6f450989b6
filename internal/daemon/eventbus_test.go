package daemon

import (
	"testing"
	"time"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	eb := NewEventBus()
	ch, done := eb.Subscribe()
	defer eb.Unsubscribe(done)

	eb.Publish(Event{Type: EventDecision, Channel: "!room", Outcome: "escalated"})

	select {
	case e := <-ch:
		if e.Type != EventDecision || e.Channel != "!room" || e.Outcome != "escalated" {
			t.Errorf("event = %+v", e)
		}
		if e.TS == "" {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEventBusRecent(t *testing.T) {
	eb := NewEventBus()
	for i := 0; i < 5; i++ {
		eb.Publish(Event{Type: EventStatus, Message: "m"})
	}

	if got := len(eb.Recent(3)); got != 3 {
		t.Errorf("Recent(3) len = %d", got)
	}
	if got := len(eb.Recent(0)); got != 5 {
		t.Errorf("Recent(0) len = %d, want all", got)
	}
}

func TestEventBusSlowSubscriberDropped(t *testing.T) {
	eb := NewEventBus()
	_, done := eb.Subscribe()
	defer eb.Unsubscribe(done)

	// Fill the subscriber buffer and keep publishing; Publish must not block.
	for i := 0; i < 200; i++ {
		eb.Publish(Event{Type: EventStatus, Message: "burst"})
	}

	if eb.SubscriberCount() != 1 {
		t.Errorf("SubscriberCount = %d", eb.SubscriberCount())
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	ch, done := eb.Subscribe()
	eb.Unsubscribe(done)

	if eb.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d after unsubscribe", eb.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed after unsubscribe")
	}
}
