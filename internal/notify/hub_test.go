package notify

import (
	"io"
	"log"
	"testing"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	defer hub.Close()

	sub := hub.subscribe()
	if sub == nil {
		t.Fatalf("subscribe failed")
	}
	defer hub.unsubscribe(sub)

	hub.Publish("seeded", map[string]int{"seeded": 10})

	select {
	case event := <-sub.events:
		if event.Type != "seeded" {
			t.Fatalf("unexpected event type: %s", event.Type)
		}
		if event.At.IsZero() {
			t.Fatalf("event timestamp missing")
		}
	default:
		t.Fatalf("event not delivered")
	}
}

func TestSlowSubscriberLosesEventsNotPublisher(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	defer hub.Close()

	sub := hub.subscribe()
	defer hub.unsubscribe(sub)

	// Publish past the buffer; none of these may block.
	for i := 0; i < subscriberBuffer*2; i++ {
		hub.Publish("telemetry.snapshot", i)
	}
	if got := len(sub.events); got != subscriberBuffer {
		t.Fatalf("expected a full buffer of %d, got %d", subscriberBuffer, got)
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	sub := hub.subscribe()
	hub.Close()

	hub.Publish("connectivity", nil)
	if len(sub.events) != 0 {
		t.Fatalf("closed hub delivered an event")
	}
	if hub.subscribe() != nil {
		t.Fatalf("closed hub accepted a subscriber")
	}
	if hub.SubscriberCount() != 0 {
		t.Fatalf("closed hub retained subscribers")
	}
}
