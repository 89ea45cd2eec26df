package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	h := NewHub()
	key := CampaignKey(1)

	a := h.Subscribe(key)
	b := h.Subscribe(key)
	other := h.Subscribe(CampaignKey(2))
	require.Equal(t, 2, h.Subscribers(key))

	h.Emit(key, "summary", map[string]int{"total": 10})

	for _, ch := range []chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, "summary", ev.Type)
	}
	assert.Empty(t, other)

	h.Unsubscribe(key, a)
	h.Unsubscribe(key, b)
	h.Unsubscribe(CampaignKey(2), other)
	assert.Equal(t, 0, h.Subscribers(key))
}

func TestHubEmitWithoutSubscribersIsNoop(t *testing.T) {
	h := NewHub()
	h.Emit(DisparoKey, "disparo:progress", nil) // must not panic or block
}

func TestHubDropsOnFullBuffer(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(GatewayKey)

	// Overflow the buffer; Emit must never block.
	for i := 0; i < 100; i++ {
		h.Emit(GatewayKey, "zapi:status", i)
	}
	assert.Equal(t, cap(ch), len(ch))
	h.Unsubscribe(GatewayKey, ch)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(DisparoKey)
	h.Unsubscribe(DisparoKey, ch)
	_, open := <-ch
	assert.False(t, open)
}
