package pwm

import (
	"fmt"
	"sync"
)

// Write is a single recorded duty-cycle write.
type Write struct {
	Channel int
	Duty    uint32
}

// FakeDriver is a test double that records attach calls and writes.
type FakeDriver struct {
	mu sync.Mutex

	// Writes contains every successful write, in order.
	Writes []Write

	// Attached maps attached channels to their maximum duty.
	Attached map[int]uint32

	// Closed tracks if Close was called.
	Closed bool

	// AttachError, if set, will be returned by Attach.
	AttachError error

	// WriteError, if set, will be returned by Write once FailAfter writes
	// have succeeded.
	WriteError error
	FailAfter  int

	duty map[int]uint32
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		Attached: make(map[int]uint32),
		duty:     make(map[int]uint32),
	}
}

// Attach records the channel with its resolution bound.
func (f *FakeDriver) Attach(channel, frequencyHz, resolutionBits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AttachError != nil {
		return f.AttachError
	}
	f.Attached[channel] = MaxDuty(resolutionBits)
	f.duty[channel] = 0
	return nil
}

// Write records the duty cycle. Like the real driver it rejects unattached
// channels and duties beyond the resolution.
func (f *FakeDriver) Write(channel int, duty uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil && len(f.Writes) >= f.FailAfter {
		return f.WriteError
	}
	limit, ok := f.Attached[channel]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotAttached, channel)
	}
	if duty > limit {
		return fmt.Errorf("%w: %d > %d", ErrDutyRange, duty, limit)
	}
	f.Writes = append(f.Writes, Write{Channel: channel, Duty: duty})
	f.duty[channel] = duty
	return nil
}

// Duty returns the last duty written to channel.
func (f *FakeDriver) Duty(channel int) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duty[channel]
}

// History returns a copy of the recorded writes.
func (f *FakeDriver) History() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.Writes))
	copy(out, f.Writes)
	return out
}

// Close marks the driver as closed and zeroes the outputs.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.duty {
		f.duty[ch] = 0
	}
	f.Closed = true
	return nil
}

// Reset clears recorded writes but keeps attached channels.
func (f *FakeDriver) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes = nil
	f.WriteError = nil
	f.FailAfter = 0
}
