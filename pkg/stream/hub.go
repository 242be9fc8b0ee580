// Package stream fans order events out to live websocket subscribers.
package stream

import (
	"encoding/json"
	"sync"
	"time"
)

type Event struct {
	Type string          `json:"type"`
	At   string          `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`

	// Buyer and Provider scope delivery; subscribers only see events for
	// identities they own. Not serialized, the payload carries its own copy.
	Buyer    string `json:"-"`
	Provider string `json:"-"`
}

func NewEvent(eventType, buyer, provider string, data interface{}) Event {
	var raw json.RawMessage
	if data != nil {
		b, _ := json.Marshal(data)
		raw = b
	}
	return Event{
		Type:     eventType,
		At:       time.Now().UTC().Format(time.RFC3339Nano),
		Data:     raw,
		Buyer:    buyer,
		Provider: provider,
	}
}

// Visible reports whether the event concerns the given identity.
func (e Event) Visible(email string) bool {
	if email == "" {
		return false
	}
	return e.Buyer == email || e.Provider == email
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]struct{}{}}
}

// Subscribe returns a buffered channel of events. The caller must
// Unsubscribe when done.
func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Subscribers reports the current subscription count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

// Publish delivers to every subscriber without blocking; slow subscribers
// with full buffers miss the event.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
