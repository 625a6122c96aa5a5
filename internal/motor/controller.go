package motor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Controller ramps a motor toward a requested speed one unit at a time and
// enforces a full stop and brake pause before any change of direction.
//
// SetTarget and Stop block for their whole duration and are serialised with
// each other. The accessors never block and may be called while a ramp runs.
type Controller struct {
	cfg   Config
	pwm   PWM
	clock Clock
	now   func() time.Time

	// mu is held for the full duration of SetTarget and Stop.
	mu sync.Mutex

	speed   atomic.Int64
	target  atomic.Int64
	ramping atomic.Bool

	evMu    sync.Mutex
	onEvent func(Event)
	counts  EventCounts
}

// New creates a Controller. Zero fields in cfg take their defaults.
// The controller starts at speed 0; call Setup before the first SetTarget.
func New(cfg Config, pwm PWM, clock Clock) *Controller {
	if clock == nil {
		clock = RealClock{}
	}
	return &Controller{
		cfg:   cfg.withDefaults(),
		pwm:   pwm,
		clock: clock,
		now:   time.Now,
	}
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// OnEvent registers fn to be called after every completed or cancelled
// SetTarget and every Stop. fn runs on the caller's goroutine while the
// controller is locked, so it must not call SetTarget or Stop.
func (c *Controller) OnEvent(fn func(Event)) {
	c.evMu.Lock()
	c.onEvent = fn
	c.evMu.Unlock()
}

// Setup attaches both PWM channels and brings the motor to a known stop.
func (c *Controller) Setup() error {
	if err := c.pwm.Attach(c.cfg.ChannelA, c.cfg.FrequencyHz, c.cfg.ResolutionBits); err != nil {
		return fmt.Errorf("attach channel A (%d): %w", c.cfg.ChannelA, err)
	}
	if err := c.pwm.Attach(c.cfg.ChannelB, c.cfg.FrequencyHz, c.cfg.ResolutionBits); err != nil {
		return fmt.Errorf("attach channel B (%d): %w", c.cfg.ChannelB, err)
	}
	return c.Stop()
}

// SetTarget clamps requested to [-MaxSpeed, MaxSpeed] and ramps toward it.
//
// If the target lies on the other side of zero, the speed is first ramped
// down to 0 and a full Stop (zero writes plus brake pause) is performed.
// ctx is checked before every unit step; on cancellation the controller
// stays at the last speed it reached and ctx.Err() is returned.
func (c *Controller) SetTarget(ctx context.Context, requested Speed) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := Clamp(requested, c.cfg.MaxSpeed)
	from := c.CurrentSpeed()

	c.target.Store(int64(target))
	c.ramping.Store(true)
	defer c.ramping.Store(false)

	reversed, err := c.rampTo(ctx, target)
	if err != nil && !isCancel(err) {
		return err
	}

	ev := Event{
		Timestamp: c.now(),
		Type:      EventSpeedSet,
		From:      from,
		To:        c.CurrentSpeed(),
		Target:    target,
		Cancelled: err != nil,
	}
	if reversed {
		ev.Type = EventReverse
	}
	c.emit(ev)
	return err
}

// Stop zeroes both channels immediately, without ramping, and then blocks for
// the brake delay. Calling it while already stopped repeats the full sequence.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.CurrentSpeed()
	c.target.Store(0)
	if err := c.stop(); err != nil {
		return err
	}
	c.emit(Event{
		Timestamp: c.now(),
		Type:      EventStop,
		From:      from,
		To:        0,
		Target:    0,
	})
	return nil
}

// CurrentSpeed returns the speed last written to the hardware.
func (c *Controller) CurrentSpeed() Speed {
	return Speed(c.speed.Load())
}

// CurrentDirection returns the direction of CurrentSpeed.
func (c *Controller) CurrentDirection() Direction {
	return DirectionOf(c.CurrentSpeed())
}

// Target returns the clamped target of the most recent SetTarget or Stop.
func (c *Controller) Target() Speed {
	return Speed(c.target.Load())
}

// Ramping reports whether a SetTarget call is in progress.
func (c *Controller) Ramping() bool {
	return c.ramping.Load()
}

// Counts returns the number of each event type emitted so far.
func (c *Controller) Counts() EventCounts {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	return c.counts
}

func (c *Controller) rampTo(ctx context.Context, target Speed) (reversed bool, err error) {
	if c.CurrentSpeed()*target < 0 {
		if err := c.stepTo(ctx, 0); err != nil {
			return false, err
		}
		if err := c.stop(); err != nil {
			return false, err
		}
		reversed = true
	}

	if err := c.stepTo(ctx, target); err != nil {
		return reversed, err
	}

	// Covers the no-op ramp where target was already reached.
	return reversed, c.apply(target)
}

// stepTo moves the speed to goal in unit steps, writing after each step and
// sleeping StepDelay between them.
func (c *Controller) stepTo(ctx context.Context, goal Speed) error {
	for {
		cur := c.CurrentSpeed()
		if cur == goal {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if cur < goal {
			cur++
		} else {
			cur--
		}
		c.speed.Store(int64(cur))
		if err := c.apply(cur); err != nil {
			return err
		}
		c.clock.Sleep(c.cfg.StepDelay)
	}
}

func (c *Controller) stop() error {
	if err := c.write(c.cfg.ChannelA, "A", 0); err != nil {
		return err
	}
	if err := c.write(c.cfg.ChannelB, "B", 0); err != nil {
		return err
	}
	c.speed.Store(0)
	c.clock.Sleep(c.cfg.BrakeDelay)
	return nil
}

// apply writes the hardware projection of v to both channels.
func (c *Controller) apply(v Speed) error {
	a, b := Duties(v)
	if err := c.write(c.cfg.ChannelA, "A", a); err != nil {
		return err
	}
	return c.write(c.cfg.ChannelB, "B", b)
}

func (c *Controller) write(channel int, name string, duty uint32) error {
	if err := c.pwm.Write(channel, duty); err != nil {
		return fmt.Errorf("write channel %s (%d): %w", name, channel, err)
	}
	return nil
}

func (c *Controller) emit(ev Event) {
	c.evMu.Lock()
	switch ev.Type {
	case EventSpeedSet:
		c.counts.SpeedSet++
	case EventStop:
		c.counts.Stop++
	case EventReverse:
		c.counts.Reverse++
	}
	fn := c.onEvent
	c.evMu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Duties returns the duty cycles for channel A and channel B that represent v:
// (v, 0) forward, (0, -v) reverse and (0, 0) stopped.
func Duties(v Speed) (a, b uint32) {
	switch {
	case v > 0:
		return uint32(v), 0
	case v < 0:
		return 0, uint32(-v)
	default:
		return 0, 0
	}
}
