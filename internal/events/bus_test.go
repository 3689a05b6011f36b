package events

import (
	"errors"
	"sync"
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var issued, all []Event

	bus.Subscribe(EventLicenseIssued, func(e Event) {
		mu.Lock()
		issued = append(issued, e)
		mu.Unlock()
	})
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		all = append(all, e)
		mu.Unlock()
	})

	bus.PublishLicenseIssued("id-1", "A1", "gold", "op")
	bus.PublishLicenseRejected("decode", "INVALID_LENGTH", errors.New("short"))
	bus.Wait()

	if len(issued) != 1 {
		t.Fatalf("Expected 1 issued event, got %d", len(issued))
	}
	if issued[0].Data["system_serial"] != "A1" || issued[0].Timestamp.IsZero() {
		t.Errorf("Unexpected issued event: %+v", issued[0])
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 events on SubscribeAll, got %d", len(all))
	}
}

func TestPublishRejectedCarriesError(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventLicenseRejected, func(e Event) { got <- e })

	bus.PublishLicenseRejected("encode", "FIELD_TOO_LONG", errors.New("model too long"))
	e := <-got

	if e.Data["code"] != "FIELD_TOO_LONG" || e.Data["error"] != "model too long" {
		t.Errorf("Unexpected data: %v", e.Data)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewEventBus()
	bus.PublishLicenseDecoded("A1", "silver", false)
	bus.Wait()
}
