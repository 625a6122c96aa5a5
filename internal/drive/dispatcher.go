package drive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultQueueDepth bounds the number of pending set-speed commands.
const DefaultQueueDepth = 16

// Dispatcher executes commands one at a time, in submission order, on the
// goroutine running Run.
//
// A stop pre-empts everything submitted before it: the ramp in progress is
// cancelled at its next step and queued set-speed commands are skipped.
type Dispatcher struct {
	motor  Motor
	report func(Result)
	now    func() time.Time

	sets  chan Command
	stops chan Command

	mu      sync.Mutex
	seq     uint64
	stopSeq uint64             // seq of the most recent stop
	cancel  context.CancelFunc // cancels the running set-speed, if any
	closed  bool
}

// NewDispatcher creates a Dispatcher. report, if non-nil, receives every
// Result; it is called from Submit and from Run, must be safe for concurrent
// use, and must not call Submit.
func NewDispatcher(m Motor, depth int, report func(Result)) *Dispatcher {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if report == nil {
		report = func(Result) {}
	}
	return &Dispatcher{
		motor:  m,
		report: report,
		now:    time.Now,
		sets:   make(chan Command, depth),
		stops:  make(chan Command, depth),
	}
}

// Submit queues cmd without blocking.
func (d *Dispatcher) Submit(cmd Command) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}

	d.seq++
	cmd.seq = d.seq
	cmd.submitted = d.now()

	var q chan Command
	switch cmd.Kind {
	case KindSetSpeed:
		q = d.sets
	case KindStop:
		q = d.stops
		d.stopSeq = cmd.seq
		if d.cancel != nil {
			d.cancel()
		}
	default:
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownKind, cmd.Kind)
	}

	select {
	case q <- cmd:
	default:
		d.mu.Unlock()
		return ErrQueueFull
	}

	// Reported under mu so execute cannot report a later stage first.
	d.report(d.result(cmd, StatusAccepted, nil))
	d.mu.Unlock()
	return nil
}

// Run executes queued commands until ctx is done or the motor reports a
// hardware error, which is returned. Commands still queued when Run returns
// are reported as cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.close()

	for {
		// Stops go first; set-speeds queued behind a stop are stale anyway.
		select {
		case cmd := <-d.stops:
			if err := d.execute(ctx, cmd); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case cmd := <-d.stops:
			if err := d.execute(ctx, cmd); err != nil {
				return err
			}
		case cmd := <-d.sets:
			if err := d.execute(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindStop:
		// Submit holds mu until acceptance is reported, so the started
		// result is always ordered after it.
		d.mu.Lock()
		d.report(d.result(cmd, StatusStarted, nil))
		d.mu.Unlock()

		log.Printf("drive: stop (id=%q source=%s)", cmd.ID, cmd.Source)
		if err := d.motor.Stop(); err != nil {
			d.report(d.result(cmd, StatusFailed, err))
			return fmt.Errorf("stop: %w", err)
		}
		d.report(d.result(cmd, StatusCompleted, nil))
		return nil

	case KindSetSpeed:
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		d.mu.Lock()
		if cmd.seq < d.stopSeq {
			d.mu.Unlock()
			d.report(d.result(cmd, StatusCancelled, context.Canceled))
			return nil
		}
		if waited := d.now().Sub(cmd.submitted); cmd.TTL > 0 && waited > cmd.TTL {
			d.mu.Unlock()
			log.Printf("drive: set speed %d expired after %v in queue (ttl %v)", cmd.Speed, waited, cmd.TTL)
			d.report(d.result(cmd, StatusExpired, ErrExpired))
			return nil
		}
		d.cancel = cancel
		d.report(d.result(cmd, StatusStarted, nil))
		d.mu.Unlock()

		log.Printf("drive: set speed %d (id=%q source=%s)", cmd.Speed, cmd.ID, cmd.Source)
		err := d.motor.SetTarget(runCtx, cmd.Speed)

		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()

		switch {
		case err == nil:
			d.report(d.result(cmd, StatusCompleted, nil))
		case errors.Is(err, context.Canceled):
			log.Printf("drive: set speed %d cancelled at %d", cmd.Speed, d.motor.CurrentSpeed())
			d.report(d.result(cmd, StatusCancelled, err))
		default:
			d.report(d.result(cmd, StatusFailed, err))
			return fmt.Errorf("set speed %d: %w", cmd.Speed, err)
		}
	}
	return nil
}

func (d *Dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	for {
		select {
		case cmd := <-d.stops:
			d.report(d.result(cmd, StatusCancelled, ErrClosed))
		case cmd := <-d.sets:
			d.report(d.result(cmd, StatusCancelled, ErrClosed))
		default:
			return
		}
	}
}

func (d *Dispatcher) result(cmd Command, status Status, err error) Result {
	return Result{
		Timestamp: d.now(),
		Command:   cmd,
		Status:    status,
		Speed:     d.motor.CurrentSpeed(),
		Err:       err,
	}
}
