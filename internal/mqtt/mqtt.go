// Package mqtt publishes motor events and receives speed commands over MQTT,
// with abstraction for testing.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/train-motor/internal/drive"
	"github.com/sweeney/train-motor/internal/motor"
)

// Topic is the MQTT topic for motor events.
const Topic = "train/motor/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "train/motor/system"

// TopicExec is the MQTT topic for per-command execution results.
const TopicExec = "train/motor/exec"

// TopicCommand is the MQTT topic the daemon subscribes to for commands.
const TopicCommand = "train/motor/command"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a motor event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event motor.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// PublishExec sends a command execution result to the broker.
	PublishExec(result drive.Result) error

	// Close disconnects from the broker.
	Close() error
}

// CommandSource delivers commands received from the broker.
type CommandSource interface {
	// Subscribe registers handler for commands on TopicCommand.
	// Malformed payloads are logged and dropped.
	Subscribe(handler func(drive.Command)) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Motor MotorPayload `json:"motor"`
}

// MotorPayload contains the motor event details.
type MotorPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	From      int    `json:"from"`
	Speed     int    `json:"speed"`
	Target    int    `json:"target"`
	Direction string `json:"direction"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// FormatPayload creates the JSON payload for a motor event.
func FormatPayload(event motor.Event) ([]byte, error) {
	payload := Payload{
		Motor: MotorPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			From:      event.From,
			Speed:     event.To,
			Target:    event.Target,
			Direction: string(event.Direction()),
			Cancelled: event.Cancelled,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command types accepted on TopicCommand.
const (
	CmdSetSpeed = "set_speed"
	CmdStop     = "stop"
)

// CommandPayload is the JSON body of a command message.
type CommandPayload struct {
	MsgID   string `json:"msg_id,omitempty"`
	CmdID   string `json:"cmd_id"`
	Seq     uint64 `json:"seq,omitempty"`
	TsMs    int64  `json:"ts_ms,omitempty"`
	CmdType string `json:"cmd_type"`
	Speed   *int   `json:"speed,omitempty"`
	TTLMs   int64  `json:"ttl_ms,omitempty"`
}

// ErrBadCommand is returned by ParseCommand for payloads that are not a
// valid command.
var ErrBadCommand = errors.New("mqtt: bad command")

// ParseCommand decodes a command payload.
func ParseCommand(payload []byte) (drive.Command, error) {
	var p CommandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return drive.Command{}, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}

	if p.TTLMs < 0 {
		return drive.Command{}, fmt.Errorf("%w: negative ttl_ms %d", ErrBadCommand, p.TTLMs)
	}

	cmd := drive.Command{
		ID:     p.CmdID,
		MsgID:  p.MsgID,
		Source: "mqtt",
		TTL:    time.Duration(p.TTLMs) * time.Millisecond,
	}
	switch p.CmdType {
	case CmdSetSpeed:
		if p.Speed == nil {
			return drive.Command{}, fmt.Errorf("%w: set_speed without speed", ErrBadCommand)
		}
		cmd.Kind = drive.KindSetSpeed
		cmd.Speed = *p.Speed
	case CmdStop:
		cmd.Kind = drive.KindStop
	default:
		return drive.Command{}, fmt.Errorf("%w: unknown cmd_type %q", ErrBadCommand, p.CmdType)
	}
	return cmd, nil
}

// Envelope identifies one outgoing exec message.
type Envelope struct {
	MsgID string
	Seq   uint64
}

// Sequencer hands out envelopes with a fresh UUID and a sequence number
// that increases by one per message. The zero value is ready to use.
type Sequencer struct {
	seq atomic.Uint64
}

// Next returns the envelope for the next message.
func (s *Sequencer) Next() Envelope {
	return Envelope{MsgID: uuid.NewString(), Seq: s.seq.Add(1)}
}

// ExecPayload is the JSON body published on TopicExec.
type ExecPayload struct {
	MsgID    string     `json:"msg_id"`
	CmdID    string     `json:"cmd_id"`
	Seq      uint64     `json:"seq"`
	CmdType  string     `json:"cmd_type"`
	ExecType string     `json:"exec_type"`
	Source   string     `json:"source,omitempty"`
	Target   *int       `json:"target,omitempty"`
	Speed    int        `json:"speed"`
	TsMs     int64      `json:"ts_ms"`
	Error    *ExecError `json:"error,omitempty"`
}

// ExecError describes why a command did not complete.
type ExecError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Error codes carried in ExecError.
const (
	CodeExpired   = "expired"
	CodeQueueFull = "queue_full"
	CodeShutdown  = "shutdown"
	CodePreempted = "preempted"
	CodeRejected  = "rejected"
	CodeHardware  = "hardware_error"
)

// ErrorCode classifies a result error for ExecError.Code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, drive.ErrExpired):
		return CodeExpired
	case errors.Is(err, drive.ErrQueueFull):
		return CodeQueueFull
	case errors.Is(err, drive.ErrClosed):
		return CodeShutdown
	case errors.Is(err, context.Canceled):
		return CodePreempted
	case errors.Is(err, drive.ErrUnknownKind):
		return CodeRejected
	default:
		return CodeHardware
	}
}

// FormatExecPayload creates the JSON payload for a command result.
func FormatExecPayload(result drive.Result, env Envelope) ([]byte, error) {
	p := ExecPayload{
		MsgID:    env.MsgID,
		CmdID:    result.Command.ID,
		Seq:      env.Seq,
		ExecType: string(result.Status),
		Source:   result.Command.Source,
		Speed:    result.Speed,
		TsMs:     result.Timestamp.UnixMilli(),
	}
	switch result.Command.Kind {
	case drive.KindSetSpeed:
		p.CmdType = CmdSetSpeed
		target := result.Command.Speed
		p.Target = &target
	case drive.KindStop:
		p.CmdType = CmdStop
	}
	if result.Err != nil {
		p.Error = &ExecError{Code: ErrorCode(result.Err), Reason: result.Err.Error()}
	}
	return json.Marshal(p)
}
