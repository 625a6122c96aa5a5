package gpio

import "sync"

// FakeEnabler is a test double that records enable line states.
type FakeEnabler struct {
	mu sync.Mutex

	// States contains every value passed to SetEnabled, in order.
	States []bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by SetEnabled()
	SetError error
}

// NewFakeEnabler creates a FakeEnabler.
func NewFakeEnabler() *FakeEnabler {
	return &FakeEnabler{}
}

// SetEnabled records the requested state.
func (f *FakeEnabler) SetEnabled(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.States = append(f.States, on)
	return nil
}

// Enabled returns the last recorded state (false if none).
func (f *FakeEnabler) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.States) == 0 {
		return false
	}
	return f.States[len(f.States)-1]
}

// Close disables the line and marks the enabler as closed.
func (f *FakeEnabler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States = append(f.States, false)
	f.Closed = true
	return nil
}

// Reset clears recorded states.
func (f *FakeEnabler) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States = nil
	f.Closed = false
	f.SetError = nil
}
