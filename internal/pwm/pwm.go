// Package pwm provides hardware PWM output with hardware abstraction.
// The real implementation drives the Raspberry Pi PWM peripheral.
// The fake implementation records writes for testing without hardware.
package pwm

import "errors"

// Driver writes duty cycles to PWM channels.
// Channels are identified by BCM pin number.
type Driver interface {
	// Attach configures a channel for PWM output at the given frequency,
	// with duty cycles in [0, 2^resolutionBits - 1].
	Attach(channel, frequencyHz, resolutionBits int) error

	// Write sets the duty cycle of an attached channel.
	Write(channel int, duty uint32) error

	// Close zeroes every attached channel and releases PWM resources.
	Close() error
}

var (
	// ErrNotAttached is returned by Write for a channel that was never attached.
	ErrNotAttached = errors.New("pwm: channel not attached")

	// ErrDutyRange is returned when duty exceeds the channel's resolution.
	ErrDutyRange = errors.New("pwm: duty cycle out of range")

	// ErrNotPWMPin is returned by Attach for a pin without hardware PWM.
	ErrNotPWMPin = errors.New("pwm: pin has no hardware PWM")
)

// Pins with a hardware PWM function (BCM numbering). 12/18 share PWM0 and
// 13/19 share PWM1, so an H-bridge needs one pin from each pair.
var hardwarePins = map[int]int{
	12: 0,
	18: 0,
	13: 1,
	19: 1,
}

// PWMChannel returns the peripheral channel (0 or 1) behind a BCM pin.
func PWMChannel(pin int) (int, bool) {
	ch, ok := hardwarePins[pin]
	return ch, ok
}

// MaxDuty returns the largest duty cycle representable with the given resolution.
func MaxDuty(resolutionBits int) uint32 {
	return uint32(1)<<uint(resolutionBits) - 1
}
