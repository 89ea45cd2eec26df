// internal/sse/hub.go
package sse

import (
	"strconv"
	"sync"
)

// Event is one message pushed to observers of a channel.
type Event struct {
	Type string
	Data any
}

// Hub is a per-channel set of long-lived observers. It holds no durable
// state: a new observer sees only events emitted after it attaches.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// CampaignKey is the channel key for a campaign's progress stream.
func CampaignKey(campaignID int) string {
	return "campaign:" + strconv.Itoa(campaignID)
}

// DisparoKey is the shared channel for disparo run progress.
const DisparoKey = "disparo"

// GatewayKey is the shared channel for gateway instance status updates.
const GatewayKey = "zapi"

// Subscribe attaches a new observer to key. The returned channel is buffered;
// events overflowing the buffer are dropped for that observer only.
func (h *Hub) Subscribe(key string) chan Event {
	ch := make(chan Event, 32)
	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[key] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe detaches an observer and prunes the set when it empties.
func (h *Hub) Unsubscribe(key string, ch chan Event) {
	h.mu.Lock()
	if set, ok := h.subs[key]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
	h.mu.Unlock()
	close(ch)
}

// Emit delivers the event to every observer of key. Delivery is best-effort:
// a full observer buffer drops the event rather than blocking the emitter.
func (h *Hub) Emit(key, typ string, data any) {
	ev := Event{Type: typ, Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[key] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the number of open observers for key.
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}
