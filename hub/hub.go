// Package hub implements the cross-category event bus. Rather than a global
// publish/subscribe singleton, a Hub is an explicit observer list owned by
// whoever constructs it; categories receive the Hub they should publish to.
//
// Delivery ordering: Publish invokes listeners synchronously on the caller's
// goroutine, in subscription order. PublishAsync preserves the same ordering
// through a single dispatch goroutine, so two asynchronous events published
// from the same goroutine are observed in publish order.
package hub

import (
	"sync"
	"time"
)

// Channel groups related events. Each category publishes on its own channel.
type Channel string

const (
	ChannelAuth           Channel = "auth"
	ChannelStorage        Channel = "storage"
	ChannelAnalytics      Channel = "analytics"
	ChannelAPI            Channel = "api"
	ChannelInAppMessaging Channel = "inAppMessaging"
)

// Event is the payload delivered to listeners.
type Event struct {
	Name    string         // Event name, e.g. "signedIn"
	Message string         // Optional human-readable message
	Data    map[string]any // Optional structured payload
	Time    time.Time      // When the event was published
}

// Listener receives events for a channel.
type Listener func(Event)

type subscriber struct {
	id      int
	channel Channel
	fn      Listener
}

// Hub fans events out to subscribed listeners.
type Hub struct {
	mu          sync.Mutex
	subscribers []subscriber
	nextID      int

	asyncCh   chan delivery
	asyncDone chan struct{}
	senders   sync.WaitGroup
	closed    bool
}

type delivery struct {
	channel Channel
	event   Event
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{}
}

// Subscribe registers a listener for a channel and returns its cancel
// function. Cancelling is idempotent.
// Example:
//
//	cancel := h.Subscribe(hub.ChannelAuth, func(e hub.Event) {
//	    fmt.Println("auth event:", e.Name)
//	})
//	defer cancel()
func (h *Hub) Subscribe(channel Channel, fn Listener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.subscribers = append(h.subscribers, subscriber{id: id, channel: channel, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.subscribers {
			if s.id == id {
				h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every listener on the channel, synchronously
// and in subscription order. Listeners run outside the Hub lock, so they may
// subscribe or cancel re-entrantly.
func (h *Hub) Publish(channel Channel, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	for _, fn := range h.listeners(channel) {
		fn(event)
	}
}

// PublishAsync queues the event for delivery on the Hub's dispatch goroutine.
// Ordering between PublishAsync calls is preserved per Hub. After Close the
// event is delivered synchronously instead.
func (h *Hub) PublishAsync(channel Channel, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.Publish(channel, event)
		return
	}
	if h.asyncCh == nil {
		h.asyncCh = make(chan delivery, 64)
		h.asyncDone = make(chan struct{})
		go h.dispatchLoop()
	}
	ch := h.asyncCh
	h.senders.Add(1)
	h.mu.Unlock()

	ch <- delivery{channel: channel, event: event}
	h.senders.Done()
}

// Close stops the async dispatcher after draining queued events. A Hub used
// only with Publish never needs closing.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	ch := h.asyncCh
	done := h.asyncDone
	h.mu.Unlock()

	h.senders.Wait()
	if ch == nil {
		return
	}
	close(ch)
	<-done
}

func (h *Hub) dispatchLoop() {
	defer close(h.asyncDone)
	for d := range h.asyncCh {
		for _, fn := range h.listeners(d.channel) {
			fn(d.event)
		}
	}
}

// listeners snapshots the matching listener functions in subscription order.
func (h *Hub) listeners(channel Channel) []Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	var fns []Listener
	for _, s := range h.subscribers {
		if s.channel == channel {
			fns = append(fns, s.fn)
		}
	}
	return fns
}
