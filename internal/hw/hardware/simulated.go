package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/axisctl/internal/debug"
)

// SimAxis places one simulated axis relative to its endstop.
type SimAxis struct {
	Name       string
	EndstopPin int
	Offset     int // starting distance above the endstop, in steps
}

// Call is one recorded hardware invocation.
type Call struct {
	Op      string // "move", "torque", "endstop", "estop", "cleanup"
	Axis    string
	Steps   int
	Enabled bool
	Pin     int
}

type simAxis struct {
	position int
	holding  bool
	pin      int
}

// Simulated stands in for the rig. Each axis keeps a step position; the
// endstop bound to an axis is triggered while that position is <= 0.
type Simulated struct {
	stepDelay time.Duration

	mu           sync.Mutex
	axes         map[string]*simAxis
	endstops     map[int]string
	disconnected map[int]bool
	calls        []Call
	stops        int
	closed       bool
}

// NewSimulated builds a simulator. stepDelay is slept per step moved (0 for tests).
func NewSimulated(axes []SimAxis, stepDelay time.Duration) *Simulated {
	s := &Simulated{
		stepDelay:    stepDelay,
		axes:         make(map[string]*simAxis, len(axes)),
		endstops:     make(map[int]string, len(axes)),
		disconnected: make(map[int]bool),
	}
	for _, a := range axes {
		s.axes[a.Name] = &simAxis{position: a.Offset, pin: a.EndstopPin}
		s.endstops[a.EndstopPin] = a.Name
	}
	debug.Info("Simulated hardware initialized (%d axes)", len(axes))
	return s
}

func (s *Simulated) MoveAxis(axis string, steps int) error {
	s.mu.Lock()
	a, ok := s.axes[axis]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAxis, axis)
	}
	a.position += steps
	s.calls = append(s.calls, Call{Op: "move", Axis: axis, Steps: steps})
	s.mu.Unlock()

	debug.Move(axis, steps)
	if s.stepDelay > 0 && steps != 0 {
		if steps < 0 {
			steps = -steps
		}
		time.Sleep(time.Duration(steps) * s.stepDelay)
	}
	return nil
}

func (s *Simulated) SetHoldingTorque(axis string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.axes[axis]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAxis, axis)
	}
	a.holding = enabled
	s.calls = append(s.calls, Call{Op: "torque", Axis: axis, Enabled: enabled})
	debug.Verbose("Simulated holding torque %s: %v", axis, enabled)
	return nil
}

// ReadEndstop reports false for pins bound to no axis.
func (s *Simulated) ReadEndstop(pin int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "endstop", Pin: pin})
	if s.disconnected[pin] {
		return false, nil
	}
	name, ok := s.endstops[pin]
	if !ok {
		return false, nil
	}
	return s.axes[name].position <= 0, nil
}

func (s *Simulated) EmergencyStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	for _, a := range s.axes {
		a.holding = false
	}
	s.calls = append(s.calls, Call{Op: "estop"})
	debug.Info("EMERGENCY STOP (simulated): all motors released")
	return nil
}

func (s *Simulated) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.calls = append(s.calls, Call{Op: "cleanup"})
	debug.Trace("Simulated hardware released")
	return nil
}

// DisconnectEndstop makes pin read untriggered forever, like a broken wire.
func (s *Simulated) DisconnectEndstop(pin int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected[pin] = true
}

// Position returns the simulated step position of axis.
func (s *Simulated) Position(axis string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.axes[axis]; ok {
		return a.position
	}
	return 0
}

// Holding reports whether axis windings are energized.
func (s *Simulated) Holding(axis string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.axes[axis]; ok {
		return a.holding
	}
	return false
}

// Calls returns a copy of every recorded invocation.
func (s *Simulated) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// ResetCalls clears the call record.
func (s *Simulated) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// EmergencyStops returns how many times EmergencyStop was called.
func (s *Simulated) EmergencyStops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Closed reports whether Cleanup was called.
func (s *Simulated) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
