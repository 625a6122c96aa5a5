// Package gpio drives the H-bridge enable (standby) line with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Enabler switches the motor driver's enable line.
// While disabled the bridge outputs float regardless of PWM duty.
type Enabler interface {
	// SetEnabled drives the line active (true) or inactive (false).
	SetEnabled(on bool) error

	// Close disables the driver and releases GPIO resources.
	Close() error
}

// DefaultPinEnable is the BCM pin wired to the driver's STBY/EN input.
// Zero disables the line (see NopEnabler).
const DefaultPinEnable = 6

// NopEnabler is used when the driver has no enable line wired.
type NopEnabler struct{}

// SetEnabled does nothing.
func (NopEnabler) SetEnabled(bool) error { return nil }

// Close does nothing.
func (NopEnabler) Close() error { return nil }
