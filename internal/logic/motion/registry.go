package motion

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrUnknownAxis        = errors.New("unknown axis")
	ErrAngleOutOfRange    = errors.New("angle out of range")
	ErrMissingJogConfig   = errors.New("no jog configuration for axis")
	ErrInvalidDirection   = errors.New("jog direction must be +1 or -1")
	ErrHomingTimeout      = errors.New("homing did not reach the endstop in time")
	ErrStopped            = errors.New("motion stopped")
	ErrInvalidCalibration = errors.New("invalid calibration")
)

// OperationMode is the process-wide mode of the controller.
type OperationMode int32

const (
	Working OperationMode = iota
	Calibration
	Homing
)

func (m OperationMode) String() string {
	switch m {
	case Working:
		return "working"
	case Calibration:
		return "calibration"
	case Homing:
		return "homing"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// AxisConfig describes one rotary axis. StepsPerDegree is the only field
// that changes after construction, through CalibrateScale.
type AxisConfig struct {
	Name           string
	StepsPerDegree float64
	MinAngle       float64
	MaxAngle       float64
	HomingPin      int
	MaxSpeed       float64 // deg/s, 0 = unlimited
	HoldingTorque  bool    // re-energize windings after each move
}

func (a AxisConfig) validate() error {
	if a.Name == "" {
		return errors.New("axis name is required")
	}
	if !(a.StepsPerDegree > 0) || math.IsInf(a.StepsPerDegree, 0) {
		return fmt.Errorf("axis %q: steps per degree must be > 0, got %v", a.Name, a.StepsPerDegree)
	}
	if a.MinAngle > a.MaxAngle {
		return fmt.Errorf("axis %q: min angle %v > max angle %v", a.Name, a.MinAngle, a.MaxAngle)
	}
	if a.MaxSpeed < 0 {
		return fmt.Errorf("axis %q: max speed must be >= 0, got %v", a.Name, a.MaxSpeed)
	}
	return nil
}

// JogConfig tunes geometric jogging on one axis.
type JogConfig struct {
	DeltaInitial float64 // degrees
	Ratio        float64 // > 1
	DeltaMax     float64 // degrees
	ResetTimeout time.Duration
}

func (j JogConfig) validate(axis string) error {
	if j.DeltaInitial <= 0 {
		return fmt.Errorf("axis %q: jog delta initial must be > 0", axis)
	}
	if j.Ratio <= 1 {
		return fmt.Errorf("axis %q: jog ratio must be > 1", axis)
	}
	if j.DeltaMax < j.DeltaInitial {
		return fmt.Errorf("axis %q: jog delta max must be >= delta initial", axis)
	}
	return nil
}

// delta returns the unsigned jog size for multiplier m.
func (j JogConfig) delta(m int) float64 {
	return math.Min(j.DeltaInitial*math.Pow(j.Ratio, float64(m)), j.DeltaMax)
}

// axisState is the runtime state of one axis.
type axisState struct {
	cfg        AxisConfig
	jog        *JogConfig
	current    float64
	target     float64
	holding    bool
	multiplier int
	lastJog    time.Time
}

func (s *axisState) contains(angle float64) bool {
	return angle >= s.cfg.MinAngle && angle <= s.cfg.MaxAngle
}

func (s *axisState) clamp(angle float64) float64 {
	return math.Max(s.cfg.MinAngle, math.Min(angle, s.cfg.MaxAngle))
}

// AxisStatus is a point-in-time copy of one axis.
type AxisStatus struct {
	Name           string
	CurrentAngle   float64
	TargetAngle    float64
	StepsPerDegree float64
	MinAngle       float64
	MaxAngle       float64
	Holding        bool
	JogMultiplier  int
	PendingDelayed bool
}

// Status is a point-in-time copy of the whole controller.
type Status struct {
	Mode OperationMode
	Axes []AxisStatus
}

// Axis returns the status of the named axis.
func (s Status) Axis(name string) (AxisStatus, bool) {
	for _, a := range s.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return AxisStatus{}, false
}
