package service

import (
	"math"
	"sync"
	"time"
)

const (
	throughputWindow = 60 * time.Second
	instantWindow    = time.Second
)

// Throughput keeps a per-campaign sliding window of terminal-transition
// timestamps and derives current rate, average rate and an ETA. It is an
// approximation: absence of data yields zeros, never an error.
type Throughput struct {
	mu     sync.Mutex
	events map[int][]time.Time
	now    func() time.Time
}

func NewThroughput() *Throughput {
	return &Throughput{
		events: make(map[int][]time.Time),
		now:    time.Now,
	}
}

// Mark records one successful terminal transition and prunes entries older
// than the 60s window.
func (t *Throughput) Mark(campaignID int) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := append(t.events[campaignID], now)
	cutoff := now.Add(-throughputWindow)
	i := 0
	for i < len(buf) && buf[i].Before(cutoff) {
		i++
	}
	t.events[campaignID] = buf[i:]
}

// Instant returns the number of events within the last second.
func (t *Throughput) Instant(campaignID int) int {
	return t.countSince(campaignID, instantWindow)
}

// Average returns events-per-second averaged over the last minute.
func (t *Throughput) Average(campaignID int) float64 {
	return float64(t.countSince(campaignID, throughputWindow)) / throughputWindow.Seconds()
}

// ETASeconds estimates seconds until remaining sends drain at the average
// rate. Nil when the average throughput is zero.
func (t *Throughput) ETASeconds(campaignID, remaining int) *int {
	avg := t.Average(campaignID)
	if avg <= 0 {
		return nil
	}
	if remaining < 0 {
		remaining = 0
	}
	eta := int(math.Ceil(float64(remaining) / avg))
	return &eta
}

// Forget drops the window for a campaign (after completion/cancel).
func (t *Throughput) Forget(campaignID int) {
	t.mu.Lock()
	delete(t.events, campaignID)
	t.mu.Unlock()
}

func (t *Throughput) countSince(campaignID int, window time.Duration) int {
	cutoff := t.now().Add(-window)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ts := range t.events[campaignID] {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}
