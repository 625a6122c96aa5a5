// Package drive serialises speed commands from several sources (HTTP, MQTT)
// onto a single goroutine that owns the motor controller.
package drive

import (
	"context"
	"errors"
	"time"
)

// Kind is the type of a drive command.
type Kind string

const (
	KindSetSpeed Kind = "SET_SPEED"
	KindStop     Kind = "STOP"
)

// Command is a request to change the motor speed.
type Command struct {
	ID     string // caller-supplied correlation ID, may be empty
	MsgID  string // ID of the message that carried the command, if any
	Kind   Kind
	Speed  int    // requested speed for KindSetSpeed; clamped by the controller
	Source string // e.g. "http", "mqtt"

	// TTL bounds how long a set-speed may wait in the queue before it is
	// reported expired instead of run. Zero means no limit. Stops never expire.
	TTL time.Duration

	seq       uint64
	submitted time.Time
}

// Status is the lifecycle stage reported for a command.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusStarted   Status = "started" // about to drive the motor
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled" // pre-empted by a stop or shutdown
	StatusExpired   Status = "expired"   // waited longer than its TTL
	StatusFailed    Status = "failed"
)


// Result reports a command's progress.
type Result struct {
	Timestamp time.Time
	Command   Command
	Status    Status
	Speed     int // motor speed when the result was produced
	Err       error
}

// Motor is the part of the controller the dispatcher drives.
type Motor interface {
	SetTarget(ctx context.Context, speed int) error
	Stop() error
	CurrentSpeed() int
}

var (
	// ErrQueueFull is returned by Submit when the queue has no room.
	ErrQueueFull = errors.New("drive: command queue full")

	// ErrClosed is returned by Submit after Run has returned.
	ErrClosed = errors.New("drive: dispatcher closed")

	// ErrUnknownKind is returned by Submit for an unrecognised command kind.
	ErrUnknownKind = errors.New("drive: unknown command kind")

	// ErrExpired is carried by an expired Result.
	ErrExpired = errors.New("drive: command expired in queue")
)
