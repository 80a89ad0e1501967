package hub

import (
	"sync"
	"testing"
	"time"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	h := New()
	var order []int

	h.Subscribe(ChannelAuth, func(e Event) { order = append(order, 1) })
	h.Subscribe(ChannelAuth, func(e Event) { order = append(order, 2) })
	h.Subscribe(ChannelAuth, func(e Event) { order = append(order, 3) })

	h.Publish(ChannelAuth, Event{Name: "signedIn"})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected delivery order [1 2 3], got %v", order)
	}
}

func TestPublishOnlyMatchingChannel(t *testing.T) {
	h := New()
	var authEvents, storageEvents int

	h.Subscribe(ChannelAuth, func(e Event) { authEvents++ })
	h.Subscribe(ChannelStorage, func(e Event) { storageEvents++ })

	h.Publish(ChannelAuth, Event{Name: "signedIn"})
	h.Publish(ChannelAuth, Event{Name: "signedOut"})

	if authEvents != 2 {
		t.Errorf("expected 2 auth events, got %d", authEvents)
	}
	if storageEvents != 0 {
		t.Errorf("expected 0 storage events, got %d", storageEvents)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	h := New()
	var count int

	cancel := h.Subscribe(ChannelAuth, func(e Event) { count++ })
	h.Publish(ChannelAuth, Event{Name: "signedIn"})

	cancel()
	cancel() // cancelling twice is a no-op
	h.Publish(ChannelAuth, Event{Name: "signedOut"})

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
}

func TestPublishSetsTimestamp(t *testing.T) {
	h := New()
	var got Event
	h.Subscribe(ChannelAuth, func(e Event) { got = e })

	before := time.Now()
	h.Publish(ChannelAuth, Event{Name: "signedIn"})

	if got.Time.Before(before) {
		t.Errorf("expected timestamp to be set at publish time, got %v", got.Time)
	}
}

func TestListenerCanSubscribeReentrantly(t *testing.T) {
	h := New()
	var nested int

	h.Subscribe(ChannelAuth, func(e Event) {
		h.Subscribe(ChannelAuth, func(e Event) { nested++ })
	})

	h.Publish(ChannelAuth, Event{Name: "first"})
	h.Publish(ChannelAuth, Event{Name: "second"})

	// The listener registered during "first" sees only "second".
	if nested != 1 {
		t.Errorf("expected 1 nested delivery, got %d", nested)
	}
}

func TestPublishAsyncPreservesOrder(t *testing.T) {
	h := New()
	var mu sync.Mutex
	var names []string
	done := make(chan struct{})

	h.Subscribe(ChannelAnalytics, func(e Event) {
		mu.Lock()
		names = append(names, e.Name)
		if len(names) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	h.PublishAsync(ChannelAnalytics, Event{Name: "a"})
	h.PublishAsync(ChannelAnalytics, Event{Name: "b"})
	h.PublishAsync(ChannelAnalytics, Event{Name: "c"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	if names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("expected order [a b c], got %v", names)
	}
}

func TestCloseDrainsAndFallsBackToSync(t *testing.T) {
	h := New()
	var count int
	var mu sync.Mutex

	h.Subscribe(ChannelAuth, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	h.PublishAsync(ChannelAuth, Event{Name: "queued"})
	h.Close()
	h.Close() // closing twice is a no-op

	mu.Lock()
	if count != 1 {
		t.Errorf("expected queued event delivered before Close returned, got %d", count)
	}
	mu.Unlock()

	// After Close, PublishAsync degrades to synchronous delivery.
	h.PublishAsync(ChannelAuth, Event{Name: "after"})
	mu.Lock()
	if count != 2 {
		t.Errorf("expected synchronous delivery after Close, got %d", count)
	}
	mu.Unlock()
}
