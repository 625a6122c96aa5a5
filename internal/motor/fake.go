package motor

import (
	"sync"
	"time"
)

// FakeClock records sleeps instead of blocking.
type FakeClock struct {
	mu sync.Mutex

	// Sleeps contains every duration passed to Sleep, in order.
	Sleeps []time.Duration

	// OnSleep, if set, is called after each recorded sleep.
	// Tests use it to observe state between steps or to cancel a ramp.
	OnSleep func(d time.Duration)
}

// NewFakeClock creates a FakeClock.
func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

// Sleep records d and returns immediately.
func (f *FakeClock) Sleep(d time.Duration) {
	f.mu.Lock()
	f.Sleeps = append(f.Sleeps, d)
	hook := f.OnSleep
	f.mu.Unlock()

	if hook != nil {
		hook(d)
	}
}

// Count returns how many sleeps of exactly d were recorded.
func (f *FakeClock) Count(d time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.Sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// Total returns the sum of all recorded sleeps.
func (f *FakeClock) Total() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total time.Duration
	for _, s := range f.Sleeps {
		total += s
	}
	return total
}

// Reset clears recorded sleeps.
func (f *FakeClock) Reset() {
	f.mu.Lock()
	f.Sleeps = nil
	f.mu.Unlock()
}
