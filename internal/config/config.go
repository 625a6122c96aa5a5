// Package config loads daemon settings from built-in defaults, an optional
// YAML file and TRAIN_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"

	"github.com/sweeney/train-motor/internal/drive"
	"github.com/sweeney/train-motor/internal/gpio"
	"github.com/sweeney/train-motor/internal/motor"
	"github.com/sweeney/train-motor/internal/pwm"
	"github.com/sweeney/train-motor/internal/status"
)

// EnvPrefix is stripped from environment variables before they are mapped
// onto config keys: TRAIN_MAX_SPEED sets max_speed.
const EnvPrefix = "TRAIN_"

// Config is the full daemon configuration.
type Config struct {
	MaxSpeed       int   `koanf:"max_speed" yaml:"max_speed"`
	StepMs         int64 `koanf:"step_ms" yaml:"step_ms"`
	BrakeMs        int64 `koanf:"brake_ms" yaml:"brake_ms"`
	FrequencyHz    int   `koanf:"frequency_hz" yaml:"frequency_hz"`
	ResolutionBits int   `koanf:"resolution_bits" yaml:"resolution_bits"`
	ChannelA       int   `koanf:"channel_a" yaml:"channel_a"`
	ChannelB       int   `koanf:"channel_b" yaml:"channel_b"`
	EnablePin      int   `koanf:"enable_pin" yaml:"enable_pin"` // 0 disables the enable line

	Broker      string `koanf:"broker" yaml:"broker"`
	ClientID    string `koanf:"client_id" yaml:"client_id"`
	HTTPAddr    string `koanf:"http_addr" yaml:"http_addr"` // empty disables the HTTP server
	HeartbeatMs int64  `koanf:"heartbeat_ms" yaml:"heartbeat_ms"`
	QueueDepth  int    `koanf:"queue_depth" yaml:"queue_depth"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxSpeed:       motor.DefaultMaxSpeed,
		StepMs:         motor.DefaultStepDelay.Milliseconds(),
		BrakeMs:        motor.DefaultBrakeDelay.Milliseconds(),
		FrequencyHz:    motor.DefaultFrequencyHz,
		ResolutionBits: motor.DefaultResolutionBits,
		ChannelA:       motor.DefaultChannelA,
		ChannelB:       motor.DefaultChannelB,
		EnablePin:      gpio.DefaultPinEnable,
		Broker:         "tcp://192.168.1.200:1883",
		ClientID:       "train-motor",
		HTTPAddr:       ":80",
		HeartbeatMs:    (15 * time.Minute).Milliseconds(),
		QueueDepth:     drive.DefaultQueueDepth,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. The result is not validated.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// ErrInvalid is wrapped by every error Validate returns.
var ErrInvalid = errors.New("invalid config")

// Validate checks the configuration for values the hardware cannot honour.
func (c Config) Validate() error {
	if c.ResolutionBits < 1 || c.ResolutionBits > 16 {
		return fmt.Errorf("%w: resolution_bits %d outside 1..16", ErrInvalid, c.ResolutionBits)
	}
	limit := int(pwm.MaxDuty(c.ResolutionBits))
	if c.MaxSpeed < 1 || c.MaxSpeed > limit {
		return fmt.Errorf("%w: max_speed %d outside 1..%d for %d-bit PWM", ErrInvalid, c.MaxSpeed, limit, c.ResolutionBits)
	}
	if c.StepMs <= 0 {
		return fmt.Errorf("%w: step_ms must be positive, got %d", ErrInvalid, c.StepMs)
	}
	if c.BrakeMs <= 0 {
		return fmt.Errorf("%w: brake_ms must be positive, got %d", ErrInvalid, c.BrakeMs)
	}
	if c.FrequencyHz <= 0 {
		return fmt.Errorf("%w: frequency_hz must be positive, got %d", ErrInvalid, c.FrequencyHz)
	}
	if c.ChannelA == c.ChannelB {
		return fmt.Errorf("%w: channel_a and channel_b are both %d", ErrInvalid, c.ChannelA)
	}
	chA, okA := pwm.PWMChannel(c.ChannelA)
	chB, okB := pwm.PWMChannel(c.ChannelB)
	if !okA || !okB {
		return fmt.Errorf("%w: channels %d/%d must be hardware PWM pins (12, 13, 18, 19)", ErrInvalid, c.ChannelA, c.ChannelB)
	}
	if chA == chB {
		return fmt.Errorf("%w: pins %d and %d share PWM channel %d", ErrInvalid, c.ChannelA, c.ChannelB, chA)
	}
	if c.EnablePin < 0 {
		return fmt.Errorf("%w: enable_pin %d is negative", ErrInvalid, c.EnablePin)
	}
	if c.EnablePin != 0 && (c.EnablePin == c.ChannelA || c.EnablePin == c.ChannelB) {
		return fmt.Errorf("%w: enable_pin %d is also a PWM channel", ErrInvalid, c.EnablePin)
	}
	if c.Broker == "" {
		return fmt.Errorf("%w: broker is required", ErrInvalid)
	}
	if c.HeartbeatMs < 0 {
		return fmt.Errorf("%w: heartbeat_ms must not be negative", ErrInvalid)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("%w: queue_depth must be at least 1", ErrInvalid)
	}
	return nil
}

// StepDelay returns StepMs as a duration.
func (c Config) StepDelay() time.Duration { return time.Duration(c.StepMs) * time.Millisecond }

// BrakeDelay returns BrakeMs as a duration.
func (c Config) BrakeDelay() time.Duration { return time.Duration(c.BrakeMs) * time.Millisecond }

// Heartbeat returns HeartbeatMs as a duration. Zero disables heartbeats.
func (c Config) Heartbeat() time.Duration { return time.Duration(c.HeartbeatMs) * time.Millisecond }

// Motor returns the controller configuration.
func (c Config) Motor() motor.Config {
	return motor.Config{
		MaxSpeed:       c.MaxSpeed,
		StepDelay:      c.StepDelay(),
		BrakeDelay:     c.BrakeDelay(),
		ChannelA:       c.ChannelA,
		ChannelB:       c.ChannelB,
		FrequencyHz:    c.FrequencyHz,
		ResolutionBits: c.ResolutionBits,
	}
}

// Status returns the subset shown on the status page and in heartbeats.
func (c Config) Status() status.Config {
	return status.Config{
		MaxSpeed:    c.MaxSpeed,
		StepMs:      c.StepMs,
		BrakeMs:     c.BrakeMs,
		FrequencyHz: c.FrequencyHz,
		ChannelA:    c.ChannelA,
		ChannelB:    c.ChannelB,
		HeartbeatMs: c.HeartbeatMs,
		Broker:      c.Broker,
		HTTPAddr:    c.HTTPAddr,
	}
}

// YAML renders c in the format Load accepts.
func (c Config) YAML() ([]byte, error) {
	return yml.Marshal(c)
}
