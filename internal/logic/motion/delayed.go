package motion

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cjeanneret/axisctl/internal/debug"
	"github.com/cjeanneret/axisctl/internal/logic/status"
)

// delayedMove is one armed ScheduleMove. It is registered under every axis
// it moves.
type delayedMove struct {
	id    uint64
	axes  []string
	timer *time.Timer
}

// ScheduleMove arms a move to coords after delay. A later schedule touching
// any of the same axes replaces it, as does a direct Move, Jog or Home on one
// of them. StopMovement drops every pending schedule.
func (c *Controller) ScheduleMove(coords map[string]float64, delay time.Duration) error {
	if err := c.Validate(coords); err != nil {
		return err
	}
	if len(coords) == 0 {
		return nil
	}
	target := make(map[string]float64, len(coords))
	for k, v := range coords {
		target[k] = v
	}
	axes := keys(target)
	sort.Strings(axes)

	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	for _, axis := range axes {
		if old, ok := c.timers[axis]; ok {
			debug.Verbose("Delayed move #%d on %v superseded", old.id, old.axes)
			c.dropLocked(old)
		}
	}
	c.nextID++
	dm := &delayedMove{id: c.nextID, axes: axes}
	for _, axis := range axes {
		c.timers[axis] = dm
	}
	dm.timer = time.AfterFunc(delay, func() { c.fireDelayed(dm, target) })

	debug.Verbose("Delayed move #%d to %v in %v", dm.id, target, delay)
	c.events.Publish(status.Event{Kind: status.KindScheduled, Msg: fmt.Sprintf("%v in %v", target, delay)})
	return nil
}

// fireDelayed runs dm once it holds the motion lock. The move stays
// registered until then, so a stop or direct move in the meantime drops it.
func (c *Controller) fireDelayed(dm *delayedMove, coords map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timersMu.Lock()
	if c.timers[dm.axes[0]] != dm {
		c.timersMu.Unlock()
		return
	}
	for _, axis := range dm.axes {
		delete(c.timers, axis)
	}
	c.timersMu.Unlock()

	if err := c.moveLocked(context.Background(), coords); err != nil {
		debug.Error(fmt.Errorf("delayed move #%d: %w", dm.id, err))
		c.events.Publish(status.Event{Kind: status.KindError, Msg: err.Error()})
	}
}

// dropLocked disarms dm. Callers hold c.timersMu.
func (c *Controller) dropLocked(dm *delayedMove) {
	dm.timer.Stop()
	for _, axis := range dm.axes {
		if c.timers[axis] == dm {
			delete(c.timers, axis)
		}
	}
}

// cancelDelayed drops pending moves touching any of axes.
func (c *Controller) cancelDelayed(axes ...string) int {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	n := 0
	for _, axis := range axes {
		if dm, ok := c.timers[axis]; ok {
			c.dropLocked(dm)
			n++
		}
	}
	if n > 0 {
		debug.Verbose("Cancelled %d delayed move(s) on %v", n, axes)
	}
	return n
}

// CancelDelayed drops pending moves touching any of axes, or every pending
// move when none are named. It returns the number of moves dropped.
func (c *Controller) CancelDelayed(axes ...string) int {
	if len(axes) == 0 {
		c.timersMu.Lock()
		for axis := range c.timers {
			axes = append(axes, axis)
		}
		c.timersMu.Unlock()
	}
	return c.cancelDelayed(axes...)
}

// PendingDelayed reports the axes with an armed delayed move.
func (c *Controller) PendingDelayed() map[string]bool {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	out := make(map[string]bool, len(c.timers))
	for axis := range c.timers {
		out[axis] = true
	}
	return out
}
