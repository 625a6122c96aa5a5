// Package status provides a thread-safe status tracker for the train-motor daemon.
// It is read by HTTP handlers and the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/train-motor/internal/drive"
	"github.com/sweeney/train-motor/internal/motor"
)

// Motor is the read-only view of the controller the tracker samples.
// All methods must be safe to call while a ramp is running.
type Motor interface {
	CurrentSpeed() motor.Speed
	Target() motor.Speed
	Ramping() bool
	Counts() motor.EventCounts
}

// NetworkInfo contains network state. This is a local copy to avoid
// importing cmd-level env parsing from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	MaxSpeed    int
	StepMs      int64
	BrakeMs     int64
	FrequencyHz int
	ChannelA    int
	ChannelB    int
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// LastCommand summarises the most recent command result.
type LastCommand struct {
	ID     string
	Kind   string
	Speed  int
	Source string
	Status string
	Error  string
	At     time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Speed         motor.Speed
	Direction     motor.Direction
	Target        motor.Speed
	Ramping       bool
	Counts        motor.EventCounts
	LastCommand   *LastCommand
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	motor Motor
}

// NewTracker creates a Tracker with the given start time and config.
// m may be nil, in which case motor fields stay at their zero values.
func NewTracker(startTime time.Time, cfg Config, m Motor) *Tracker {
	return &Tracker{
		motor: m,
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// RecordResult stores the latest command result.
func (t *Tracker) RecordResult(r drive.Result) {
	lc := &LastCommand{
		ID:     r.Command.ID,
		Kind:   string(r.Command.Kind),
		Speed:  r.Command.Speed,
		Source: r.Command.Source,
		Status: string(r.Status),
		At:     r.Timestamp,
	}
	if r.Err != nil {
		lc.Error = r.Err.Error()
	}

	t.mu.Lock()
	t.snap.LastCommand = lc
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// Motor fields are sampled at the moment of the call, as is Now.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()

	if s.LastCommand != nil {
		lc := *s.LastCommand
		s.LastCommand = &lc
	}
	if t.motor != nil {
		s.Speed = t.motor.CurrentSpeed()
		s.Target = t.motor.Target()
		s.Ramping = t.motor.Ramping()
		s.Counts = t.motor.Counts()
	}
	// Derived from the sampled speed so the two always agree mid-ramp.
	s.Direction = motor.DirectionOf(s.Speed)
	s.Now = time.Now()
	return s
}
