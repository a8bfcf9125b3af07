package motion

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/axisctl/internal/debug"
	"github.com/cjeanneret/axisctl/internal/hw/hardware"
	"github.com/cjeanneret/axisctl/internal/logic/geometry"
	"github.com/cjeanneret/axisctl/internal/logic/status"
)

// HomingOptions tunes the endstop search.
type HomingOptions struct {
	CoarseStep     int
	CoarseInterval time.Duration
	BackoffSteps   int
	Settle         time.Duration
	FineStep       int
	FineInterval   time.Duration
	Timeout        time.Duration // whole sequence, 0 = none
	MaxIterations  int           // per seek loop, 0 = unbounded
	HoldLock       bool          // run the whole sequence under the motion lock
}

// DefaultHomingOptions returns the stock search: -10 steps every 100ms,
// back off 50 steps, then -1 step every 50ms.
func DefaultHomingOptions() HomingOptions {
	return HomingOptions{
		CoarseStep:     -10,
		CoarseInterval: 100 * time.Millisecond,
		BackoffSteps:   50,
		Settle:         500 * time.Millisecond,
		FineStep:       -1,
		FineInterval:   50 * time.Millisecond,
	}
}

// Options configures a Controller. Zero fields take defaults.
type Options struct {
	TrajectoryPoints int
	PointDelay       time.Duration
	CancelOnStop     bool
	LinearitySettle  time.Duration
	Homing           HomingOptions
	Events           *status.Broadcaster
	Now              func() time.Time
}

// Controller coordinates every axis of the rig. Full moves, jogs,
// calibration and the homing zero write are serialized by one lock shared
// by all axes.
type Controller struct {
	hw     hardware.Hardware
	opts   Options
	events *status.Broadcaster
	now    func() time.Time

	mu sync.Mutex // motion lock

	stateMu sync.Mutex // guards axis runtime fields
	axes    map[string]*axisState
	order   []string

	mode  atomic.Int32
	stops atomic.Uint64

	timersMu sync.Mutex
	timers   map[string]*delayedMove
	nextID   uint64
}

// New builds a controller over hw. jogs may omit axes that do not jog.
func New(hw hardware.Hardware, axes []AxisConfig, jogs map[string]JogConfig, opts Options) (*Controller, error) {
	if hw == nil {
		return nil, fmt.Errorf("hardware is required")
	}
	if len(axes) == 0 {
		return nil, fmt.Errorf("at least one axis is required")
	}
	if opts.TrajectoryPoints < 2 {
		opts.TrajectoryPoints = 50
	}
	if opts.PointDelay <= 0 {
		opts.PointDelay = 10 * time.Millisecond
	}
	if opts.LinearitySettle < 0 {
		opts.LinearitySettle = 0
	}
	if opts.Homing == (HomingOptions{}) {
		opts.Homing = DefaultHomingOptions()
	}
	if opts.Homing.CoarseStep >= 0 || opts.Homing.FineStep >= 0 || opts.Homing.BackoffSteps <= 0 {
		return nil, fmt.Errorf("homing steps must seek negative and back off positive")
	}
	if opts.Events == nil {
		opts.Events = status.NewBroadcaster()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		hw:     hw,
		opts:   opts,
		events: opts.Events,
		now:    opts.Now,
		axes:   make(map[string]*axisState, len(axes)),
		timers: make(map[string]*delayedMove),
	}
	for _, a := range axes {
		if err := a.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.axes[a.Name]; dup {
			return nil, fmt.Errorf("duplicate axis %q", a.Name)
		}
		st := &axisState{cfg: a}
		if j, ok := jogs[a.Name]; ok {
			if err := j.validate(a.Name); err != nil {
				return nil, err
			}
			j := j
			st.jog = &j
		}
		c.axes[a.Name] = st
		c.order = append(c.order, a.Name)
	}
	for name := range jogs {
		if _, ok := c.axes[name]; !ok {
			return nil, fmt.Errorf("jog configuration for %w: %s", ErrUnknownAxis, name)
		}
	}
	c.mode.Store(int32(Working))
	return c, nil
}

func (c *Controller) axis(name string) (*axisState, error) {
	st, ok := c.axes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAxis, name)
	}
	return st, nil
}

// Axes returns the axis names in configuration order.
func (c *Controller) Axes() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Mode returns the current operation mode.
func (c *Controller) Mode() OperationMode {
	return OperationMode(c.mode.Load())
}

func (c *Controller) setMode(m OperationMode) {
	if OperationMode(c.mode.Swap(int32(m))) != m {
		debug.Verbose("Mode: %s", m)
		c.events.Publish(status.Event{Kind: status.KindMode, Mode: m.String()})
	}
}

// swapMode switches to m only while the controller is in from.
func (c *Controller) swapMode(from, m OperationMode) bool {
	if !c.mode.CompareAndSwap(int32(from), int32(m)) {
		return false
	}
	debug.Verbose("Mode: %s", m)
	c.events.Publish(status.Event{Kind: status.KindMode, Mode: m.String()})
	return true
}

// Subscribe returns a channel of state-change events and its cleanup.
func (c *Controller) Subscribe() (<-chan status.Event, func()) {
	return c.events.Subscribe()
}

// Status returns a snapshot of every axis. It never waits on a running move.
func (c *Controller) Status() Status {
	pending := c.PendingDelayed()
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	s := Status{Mode: c.Mode(), Axes: make([]AxisStatus, 0, len(c.order))}
	for _, name := range c.order {
		st := c.axes[name]
		s.Axes = append(s.Axes, AxisStatus{
			Name:           name,
			CurrentAngle:   st.current,
			TargetAngle:    st.target,
			StepsPerDegree: st.cfg.StepsPerDegree,
			MinAngle:       st.cfg.MinAngle,
			MaxAngle:       st.cfg.MaxAngle,
			Holding:        st.holding,
			JogMultiplier:  st.multiplier,
			PendingDelayed: pending[name],
		})
	}
	return s
}

// Validate checks that every axis exists and every angle is within limits.
func (c *Controller) Validate(coords map[string]float64) error {
	for axis, angle := range coords {
		st, err := c.axis(axis)
		if err != nil {
			return err
		}
		if math.IsNaN(angle) || !st.contains(angle) {
			return fmt.Errorf("%w: %s=%v not in [%v, %v]",
				ErrAngleOutOfRange, axis, angle, st.cfg.MinAngle, st.cfg.MaxAngle)
		}
	}
	return nil
}

// AngleToSteps converts angle to steps with the axis's current scale.
func (c *Controller) AngleToSteps(axis string, angle float64) (int, error) {
	st, err := c.axis(axis)
	if err != nil {
		return 0, err
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return geometry.AngleToSteps(angle, st.cfg.StepsPerDegree), nil
}

// StepsToAngle converts steps to degrees with the axis's current scale.
func (c *Controller) StepsToAngle(axis string, steps int) (float64, error) {
	st, err := c.axis(axis)
	if err != nil {
		return 0, err
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return geometry.StepsToAngle(steps, st.cfg.StepsPerDegree), nil
}

// Move drives the axes in coords to their target angles along an
// interpolated trajectory. Pending delayed moves on those axes are dropped.
func (c *Controller) Move(ctx context.Context, coords map[string]float64) error {
	if err := c.Validate(coords); err != nil {
		return err
	}
	c.cancelDelayed(keys(coords)...)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(ctx, coords)
}

// MoveToCoordinates is Move without a context, reporting success.
func (c *Controller) MoveToCoordinates(coords map[string]float64) bool {
	if err := c.Move(context.Background(), coords); err != nil {
		debug.Error(fmt.Errorf("move to %v: %w", coords, err))
		c.events.Publish(status.Event{Kind: status.KindError, Msg: err.Error()})
		return false
	}
	return true
}

// moveLocked plans and executes a trajectory. Callers hold c.mu.
func (c *Controller) moveLocked(ctx context.Context, coords map[string]float64) error {
	if err := c.Validate(coords); err != nil {
		return err
	}
	if len(coords) == 0 {
		return nil
	}
	gen := c.stops.Load()

	c.stateMu.Lock()
	start := make(map[string]float64, len(coords))
	for axis, angle := range coords {
		st := c.axes[axis]
		start[axis] = st.current
		st.target = angle
	}
	c.stateMu.Unlock()

	tr := geometry.Plan(start, coords, c.opts.TrajectoryPoints)
	axes := tr.Axes()
	debug.Trace("Trajectory %v -> %v (%d points)", start, coords, tr.Len())

	prev := start
	for i := 0; ; i++ {
		p, ok := tr.Next()
		if !ok {
			break
		}
		if err := c.checkStop(ctx, gen); err != nil {
			return err
		}
		if i > 0 {
			if err := sleepCtx(ctx, c.pause(prev, p)); err != nil {
				return err
			}
		}
		for _, axis := range axes {
			if err := c.stepTo(axis, p[axis]); err != nil {
				return err
			}
		}
		prev = p
	}

	for _, axis := range axes {
		st := c.axes[axis]
		if st.cfg.HoldingTorque {
			if err := c.SetHoldingTorque(axis, true); err != nil {
				return err
			}
		}
		c.events.Publish(status.Event{Kind: status.KindMoved, Axis: axis, Angle: coords[axis]})
	}
	debug.Verbose("Move complete: %v", coords)
	return nil
}

// stepTo commands the step delta from the axis's current angle to angle and
// records angle as current.
func (c *Controller) stepTo(axis string, angle float64) error {
	st := c.axes[axis]
	c.stateMu.Lock()
	steps := geometry.StepDelta(st.current, angle, st.cfg.StepsPerDegree)
	c.stateMu.Unlock()

	if steps != 0 {
		if err := c.hw.MoveAxis(axis, steps); err != nil {
			return fmt.Errorf("move %s to %.3f: %w", axis, angle, err)
		}
	}
	c.stateMu.Lock()
	st.current = angle
	c.stateMu.Unlock()
	return nil
}

// pause returns the wait between two trajectory points: the point delay,
// stretched so that no axis exceeds its max speed.
func (c *Controller) pause(from, to geometry.Point) time.Duration {
	d := c.opts.PointDelay
	for axis, angle := range to {
		speed := c.axes[axis].cfg.MaxSpeed
		if speed <= 0 {
			continue
		}
		need := time.Duration(math.Abs(angle-from[axis]) / speed * float64(time.Second))
		if need > d {
			d = need
		}
	}
	return d
}

// checkStop reports ctx cancellation, and StopMovement calls since gen when
// CancelOnStop is set.
func (c *Controller) checkStop(ctx context.Context, gen uint64) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	if c.opts.CancelOnStop && c.stops.Load() != gen {
		return ErrStopped
	}
	return nil
}

// SetHoldingTorque energizes or releases the windings of axis.
func (c *Controller) SetHoldingTorque(axis string, enabled bool) error {
	st, err := c.axis(axis)
	if err != nil {
		return err
	}
	if err := c.hw.SetHoldingTorque(axis, enabled); err != nil {
		return fmt.Errorf("holding torque %s: %w", axis, err)
	}
	c.stateMu.Lock()
	st.holding = enabled
	c.stateMu.Unlock()
	debug.Verbose("Holding torque %s: %v", axis, enabled)
	return nil
}

// StopMovement commands an emergency stop, drops every pending delayed
// move and releases torque on all axes. It does not wait for the motion
// lock.
func (c *Controller) StopMovement() error {
	c.stops.Add(1)
	c.CancelDelayed()

	err := c.hw.EmergencyStop()
	if err != nil {
		err = fmt.Errorf("emergency stop: %w", err)
	}
	for _, axis := range c.order {
		err = multierr.Append(err, c.SetHoldingTorque(axis, false))
	}
	debug.Info("Movement stopped")
	c.events.Publish(status.Event{Kind: status.KindStopped})
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
