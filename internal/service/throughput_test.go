package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThroughputWindows(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tp := NewThroughput()
	tp.now = func() time.Time { return now }

	tp.Mark(1)
	now = base.Add(10 * time.Millisecond)
	tp.Mark(1)
	now = base.Add(500 * time.Millisecond)
	tp.Mark(1)

	now = base.Add(900 * time.Millisecond)
	assert.Equal(t, 3, tp.Instant(1))
	assert.InDelta(t, 3.0/60.0, tp.Average(1), 1e-9)

	eta := tp.ETASeconds(1, 6)
	require.NotNil(t, eta)
	assert.Equal(t, 120, *eta)

	// Outside the 1s window, inside the 60s one.
	now = base.Add(5 * time.Second)
	assert.Equal(t, 0, tp.Instant(1))
	assert.InDelta(t, 3.0/60.0, tp.Average(1), 1e-9)

	// Everything aged out.
	now = base.Add(2 * time.Minute)
	assert.Equal(t, 0.0, tp.Average(1))
	assert.Nil(t, tp.ETASeconds(1, 6))
}

func TestThroughputForget(t *testing.T) {
	tp := NewThroughput()
	tp.Mark(7)
	assert.Equal(t, 1, tp.Instant(7))
	tp.Forget(7)
	assert.Equal(t, 0, tp.Instant(7))
}

func TestThroughputUnknownCampaign(t *testing.T) {
	tp := NewThroughput()
	assert.Equal(t, 0, tp.Instant(99))
	assert.Equal(t, 0.0, tp.Average(99))
	assert.Nil(t, tp.ETASeconds(99, 100))
}
