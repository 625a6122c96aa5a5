// Package motor contains the speed ramp controller for a bidirectional DC drive.
// Hardware output and time are injected through the PWM and Clock interfaces,
// so the stepping sequence can be asserted without real hardware or sleeps.
package motor

import "time"

// Speed is a signed drive level. Positive is forward, negative is reverse,
// and the magnitude is the PWM duty cycle written to the active channel.
type Speed = int

// Direction is derived from the sign of a Speed.
type Direction string

const (
	DirectionForward Direction = "FORWARD"
	DirectionReverse Direction = "REVERSE"
	DirectionStopped Direction = "STOPPED"
)

// Defaults match the 8-bit, 2 kHz H-bridge wiring the controller was built for.
const (
	DefaultMaxSpeed       = 255
	DefaultStepDelay      = 40 * time.Millisecond
	DefaultBrakeDelay     = 1000 * time.Millisecond
	DefaultFrequencyHz    = 2000
	DefaultResolutionBits = 8

	// BCM pins 12 and 13 are the two hardware PWM outputs on separate channels.
	DefaultChannelA = 12
	DefaultChannelB = 13
)

// PWM is the hardware backend driving the two H-bridge inputs.
type PWM interface {
	// Attach configures a channel at the given frequency and bit resolution.
	Attach(channel, frequencyHz, resolutionBits int) error

	// Write sets the duty cycle of an attached channel.
	Write(channel int, duty uint32) error
}

// Clock blocks the caller for a fixed duration.
type Clock interface {
	Sleep(d time.Duration)
}

// RealClock sleeps on the wall clock.
type RealClock struct{}

// Sleep calls time.Sleep.
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// Config holds the controller constants. Zero fields take their defaults.
type Config struct {
	MaxSpeed       int
	StepDelay      time.Duration
	BrakeDelay     time.Duration
	ChannelA       int // driven when speed > 0
	ChannelB       int // driven when speed < 0
	FrequencyHz    int
	ResolutionBits int
}

func (c Config) withDefaults() Config {
	if c.MaxSpeed <= 0 {
		c.MaxSpeed = DefaultMaxSpeed
	}
	if c.StepDelay <= 0 {
		c.StepDelay = DefaultStepDelay
	}
	if c.BrakeDelay <= 0 {
		c.BrakeDelay = DefaultBrakeDelay
	}
	if c.ChannelA == 0 && c.ChannelB == 0 {
		c.ChannelA = DefaultChannelA
		c.ChannelB = DefaultChannelB
	}
	if c.FrequencyHz <= 0 {
		c.FrequencyHz = DefaultFrequencyHz
	}
	if c.ResolutionBits <= 0 {
		c.ResolutionBits = DefaultResolutionBits
	}
	return c
}

// EventType identifies what a completed controller operation did.
type EventType string

const (
	EventSpeedSet EventType = "SPEED_SET"
	EventStop     EventType = "STOP"
	EventReverse  EventType = "REVERSE" // target crossed zero through a brake pause
)

// Event describes one finished SetTarget or Stop call.
type Event struct {
	Timestamp time.Time
	Type      EventType
	From      Speed
	To        Speed // speed actually reached; differs from Target if cancelled
	Target    Speed
	Cancelled bool
}

// Direction returns the direction at the end of the operation.
func (e Event) Direction() Direction {
	return DirectionOf(e.To)
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	SpeedSet int
	Stop     int
	Reverse  int
}

// DirectionOf returns the direction encoded by the sign of s.
func DirectionOf(s Speed) Direction {
	switch {
	case s > 0:
		return DirectionForward
	case s < 0:
		return DirectionReverse
	default:
		return DirectionStopped
	}
}

// Clamp limits s to [-limit, limit].
func Clamp(s Speed, limit int) Speed {
	if s > limit {
		return limit
	}
	if s < -limit {
		return -limit
	}
	return s
}
