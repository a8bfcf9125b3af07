package motion

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/axisctl/internal/debug"
	"github.com/cjeanneret/axisctl/internal/logic/status"
)

// Homing phases, in order.
const (
	PhaseSeekCoarse = "seek_coarse"
	PhaseBackoff    = "backoff"
	PhaseSeekFine   = "seek_fine"
	PhaseDone       = "done"
)

// Home drives axis onto its endstop and makes that position 0°. The mode is
// Homing for the duration of the search and Working afterwards, whatever the
// outcome. On failure the recorded angle of the axis is left untouched.
func (c *Controller) Home(ctx context.Context, axis string) error {
	st, err := c.axis(axis)
	if err != nil {
		return err
	}
	c.cancelDelayed(axis)

	h := c.opts.Homing
	if h.HoldLock {
		c.mu.Lock()
		defer c.mu.Unlock()
	}

	c.setMode(Homing)
	defer c.setMode(Working)

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, h.Timeout, ErrHomingTimeout)
		defer cancel()
	}
	gen := c.stops.Load()
	pin := st.cfg.HomingPin

	debug.Homing(axis, PhaseSeekCoarse)
	if err := c.seek(ctx, gen, axis, pin, h.CoarseStep, h.CoarseInterval); err != nil {
		return fmt.Errorf("home %s (%s): %w", axis, PhaseSeekCoarse, err)
	}

	debug.Homing(axis, PhaseBackoff)
	if err := c.checkStop(ctx, gen); err != nil {
		return fmt.Errorf("home %s (%s): %w", axis, PhaseBackoff, err)
	}
	if err := c.hw.MoveAxis(axis, h.BackoffSteps); err != nil {
		return fmt.Errorf("home %s (%s): %w", axis, PhaseBackoff, err)
	}
	if err := sleepCtx(ctx, h.Settle); err != nil {
		return fmt.Errorf("home %s (%s): %w", axis, PhaseBackoff, err)
	}

	debug.Homing(axis, PhaseSeekFine)
	if err := c.seek(ctx, gen, axis, pin, h.FineStep, h.FineInterval); err != nil {
		return fmt.Errorf("home %s (%s): %w", axis, PhaseSeekFine, err)
	}

	if !h.HoldLock {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	c.stateMu.Lock()
	st.current = 0
	st.target = 0
	c.stateMu.Unlock()

	debug.Homing(axis, PhaseDone)
	debug.Info("Axis %s homed", axis)
	c.events.Publish(status.Event{Kind: status.KindHomed, Axis: axis})
	return nil
}

// seek steps axis by step every interval until the endstop on pin triggers.
func (c *Controller) seek(ctx context.Context, gen uint64, axis string, pin, step int, interval time.Duration) error {
	limit := c.opts.Homing.MaxIterations
	for i := 0; ; i++ {
		triggered, err := c.hw.ReadEndstop(pin)
		if err != nil {
			return err
		}
		if triggered {
			debug.Trace("Endstop %d triggered after %d moves", pin, i)
			return nil
		}
		if limit > 0 && i >= limit {
			return fmt.Errorf("%w: %d moves without trigger", ErrHomingTimeout, i)
		}
		if err := c.checkStop(ctx, gen); err != nil {
			return err
		}
		if err := c.hw.MoveAxis(axis, step); err != nil {
			return err
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
	}
}
