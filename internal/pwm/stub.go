//go:build !linux

package pwm

import "errors"

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// NewRealDriver returns an error on non-Linux platforms.
func NewRealDriver() (*RealDriver, error) {
	return nil, errors.New("pwm: not supported on this platform (requires Linux)")
}

// Attach is not implemented on non-Linux platforms.
func (d *RealDriver) Attach(channel, frequencyHz, resolutionBits int) error {
	return errors.New("pwm: not supported")
}

// Write is not implemented on non-Linux platforms.
func (d *RealDriver) Write(channel int, duty uint32) error {
	return errors.New("pwm: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *RealDriver) Close() error {
	return nil
}
