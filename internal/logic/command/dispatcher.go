package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/axisctl/internal/debug"
)

var (
	ErrQueueFull        = errors.New("command queue full")
	ErrDispatcherClosed = errors.New("dispatcher is shut down")
	ErrShutdownTimeout  = errors.New("worker did not stop in time")
)

// DefaultQueueSize is used when NewDispatcher is given a size below 1.
const DefaultQueueSize = 64

// Executor performs commands. *motion.Controller implements it.
type Executor interface {
	Move(ctx context.Context, coords map[string]float64) error
	SetHoldingTorque(axis string, enabled bool) error
	ScheduleMove(coords map[string]float64, delay time.Duration) error
	StopMovement() error
	Home(ctx context.Context, axis string) error
}

// Cleaner releases the hardware once the dispatcher is done with it.
type Cleaner interface {
	Cleanup() error
}

// Dispatcher runs queued commands one at a time, oldest first.
type Dispatcher struct {
	exec  Executor
	hw    Cleaner
	queue chan Command

	mu      sync.Mutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDispatcher creates a dispatcher whose queue holds at most queueSize
// commands. hw may be nil.
func NewDispatcher(exec Executor, hw Cleaner, queueSize int) *Dispatcher {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		exec:  exec,
		hw:    hw,
		queue: make(chan Command, queueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the worker. Cancelling ctx stops it, as does Shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.started = true
	go d.run(ctx)
	debug.Trace("Dispatcher started (queue %d)", cap(d.queue))
}

// Add appends cmd to the queue. It never blocks: a full queue rejects the
// command with ErrQueueFull.
func (d *Dispatcher) Add(cmd Command) error {
	if cmd == nil {
		return errors.New("nil command")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- cmd:
		debug.Verbose("Queued: %s", cmd)
		return nil
	default:
		return fmt.Errorf("%w (%d pending): %s", ErrQueueFull, len(d.queue), cmd)
	}
}

// Len returns the number of queued commands.
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.queue:
			if ctx.Err() != nil {
				return
			}
			if err := d.dispatch(ctx, cmd); err != nil {
				debug.Error(fmt.Errorf("%s: %w", cmd, err))
			}
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command) error {
	debug.Live("Running: %s", cmd)
	switch c := cmd.(type) {
	case Move:
		return d.exec.Move(ctx, c.Coordinates)
	case Hold:
		var err error
		for _, axis := range c.Axes {
			err = multierr.Append(err, d.exec.SetHoldingTorque(axis, true))
		}
		return err
	case DelayedMove:
		return d.exec.ScheduleMove(c.Coordinates, c.Delay)
	case Stop:
		return d.exec.StopMovement()
	case Home:
		var err error
		for _, axis := range c.Axes {
			if ctx.Err() != nil {
				return multierr.Append(err, context.Cause(ctx))
			}
			err = multierr.Append(err, d.exec.Home(ctx, axis))
		}
		return err
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}

// Shutdown stops the worker, stops all motion, waits up to timeout for the
// worker to exit and releases the hardware. Queued commands are discarded.
// Later calls are no-ops.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	if n := len(d.queue); n > 0 {
		debug.Info("Discarding %d queued command(s)", n)
	}

	err := d.exec.StopMovement()
	if started {
		t := time.NewTimer(timeout)
		select {
		case <-d.done:
		case <-t.C:
			err = multierr.Append(err, fmt.Errorf("%w after %v", ErrShutdownTimeout, timeout))
		}
		t.Stop()
	}
	if d.hw != nil {
		err = multierr.Append(err, d.hw.Cleanup())
	}
	debug.Info("Dispatcher shut down")
	return err
}
