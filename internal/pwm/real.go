//go:build linux

package pwm

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// RealDriver drives the Raspberry Pi PWM peripheral through /dev/gpiomem.
type RealDriver struct {
	mu       sync.Mutex
	pins     map[int]*attachedPin
	channels map[int]int // peripheral channel -> pin using it
}

type attachedPin struct {
	pin   rpio.Pin
	cycle uint32 // 2^resolutionBits
	max   uint32
}

// NewRealDriver maps the GPIO registers. Requires a Raspberry Pi.
func NewRealDriver() (*RealDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio memory: %w", err)
	}
	return &RealDriver{
		pins:     make(map[int]*attachedPin),
		channels: make(map[int]int),
	}, nil
}

// Attach puts pin into PWM mode. The peripheral clock is set to
// frequencyHz * 2^resolutionBits so one cycle is exactly 2^resolutionBits ticks.
func (d *RealDriver) Attach(channel, frequencyHz, resolutionBits int) error {
	hw, ok := PWMChannel(channel)
	if !ok {
		return fmt.Errorf("%w: BCM %d", ErrNotPWMPin, channel)
	}
	if resolutionBits < 1 || resolutionBits > 16 {
		return fmt.Errorf("pwm: resolution %d bits not supported", resolutionBits)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if other, used := d.channels[hw]; used && other != channel {
		return fmt.Errorf("pwm: BCM %d shares PWM%d with BCM %d", channel, hw, other)
	}

	cycle := uint32(1) << uint(resolutionBits)
	pin := rpio.Pin(channel)
	pin.Mode(rpio.Pwm)
	pin.Freq(frequencyHz * int(cycle))
	pin.DutyCycle(0, cycle)

	d.pins[channel] = &attachedPin{pin: pin, cycle: cycle, max: MaxDuty(resolutionBits)}
	d.channels[hw] = channel
	return nil
}

// Write sets the duty cycle of an attached pin.
func (d *RealDriver) Write(channel int, duty uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pins[channel]
	if !ok {
		return fmt.Errorf("%w: BCM %d", ErrNotAttached, channel)
	}
	if duty > p.max {
		return fmt.Errorf("%w: %d > %d", ErrDutyRange, duty, p.max)
	}
	p.pin.DutyCycle(duty, p.cycle)
	return nil
}

// Close zeroes all attached pins, returns them to input mode, and unmaps
// the GPIO registers.
func (d *RealDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.pins {
		p.pin.DutyCycle(0, p.cycle)
		p.pin.Input()
	}
	d.pins = make(map[int]*attachedPin)
	d.channels = make(map[int]int)

	if err := rpio.Close(); err != nil {
		return fmt.Errorf("close gpio memory: %w", err)
	}
	return nil
}
