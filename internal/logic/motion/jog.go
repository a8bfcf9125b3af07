package motion

import (
	"context"
	"fmt"
	"math"

	"github.com/cjeanneret/axisctl/internal/debug"
	"github.com/cjeanneret/axisctl/internal/logic/status"
)

// atLimitEpsilon is the smallest jog, in degrees, worth commanding.
const atLimitEpsilon = 0.001

// JogResult describes one jog.
type JogResult struct {
	Axis       string
	Delta      float64 // signed, before clamping
	Angle      float64 // angle after the jog
	Multiplier int     // multiplier for the next jog
	AtLimit    bool    // nothing moved: the axis already sits at a limit
}

// Jog nudges axis one step in direction (+1 or -1). Jogs issued within the
// axis's reset timeout of each other grow geometrically up to the configured
// maximum; the result is clamped to the axis limits.
func (c *Controller) Jog(ctx context.Context, axis string, direction int) (JogResult, error) {
	if direction != 1 && direction != -1 {
		return JogResult{}, fmt.Errorf("%w: got %d", ErrInvalidDirection, direction)
	}
	st, err := c.axis(axis)
	if err != nil {
		return JogResult{}, err
	}
	if st.jog == nil {
		return JogResult{}, fmt.Errorf("%w: %s", ErrMissingJogConfig, axis)
	}
	c.cancelDelayed(axis)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.stateMu.Lock()
	if now.Sub(st.lastJog) > st.jog.ResetTimeout {
		st.multiplier = 0
	}
	m := st.multiplier
	current := st.current
	c.stateMu.Unlock()

	delta := st.jog.delta(m) * float64(direction)
	proposed := st.clamp(current + delta)
	res := JogResult{Axis: axis, Delta: delta, Angle: proposed, Multiplier: m}

	if math.Abs(proposed-current) < atLimitEpsilon {
		debug.Live("Axis %s at limit: %.3f°", axis, proposed)
		c.events.Publish(status.Event{Kind: status.KindAtLimit, Axis: axis, Angle: proposed})
		res.Angle = current
		res.AtLimit = true
		return res, nil
	}

	if err := c.moveLocked(ctx, map[string]float64{axis: proposed}); err != nil {
		return JogResult{}, fmt.Errorf("jog %s: %w", axis, err)
	}

	c.stateMu.Lock()
	st.multiplier++
	st.lastJog = now
	res.Multiplier = st.multiplier
	c.stateMu.Unlock()

	debug.Jog(axis, delta, proposed, res.Multiplier)
	c.events.Publish(status.Event{Kind: status.KindJogged, Axis: axis, Angle: proposed})
	return res, nil
}

// ResetJogMultiplier restarts jog growth on axis from the initial delta.
func (c *Controller) ResetJogMultiplier(axis string) error {
	st, err := c.axis(axis)
	if err != nil {
		return err
	}
	c.stateMu.Lock()
	st.multiplier = 0
	c.stateMu.Unlock()
	debug.Verbose("Jog multiplier of %s reset", axis)
	return nil
}
