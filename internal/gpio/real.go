//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealEnabler drives the enable line through the Linux GPIO character device.
type RealEnabler struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealEnabler requests pin as an output, initially low (driver disabled).
func NewRealEnabler(pin int) (*RealEnabler, error) {
	chip, err := gpiocdev.NewChip("gpiochip0", gpiocdev.WithConsumer("train-motor"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request enable pin %d: %w", pin, err)
	}

	return &RealEnabler{chip: chip, line: line}, nil
}

// SetEnabled drives the line high (enabled) or low (standby).
func (r *RealEnabler) SetEnabled(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set enable pin: %w", err)
	}
	return nil
}

// Close puts the driver in standby, then returns the pin to an input with
// pull-down (the Pi boot default) so the bridge stays off while unowned.
func (r *RealEnabler) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("disable enable pin: %w", err))
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure enable pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close enable pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
