package motion

import (
	"github.com/cjeanneret/axisctl/internal/config"
	"github.com/cjeanneret/axisctl/internal/hw/hardware"
	"github.com/cjeanneret/axisctl/internal/logic/status"
)

// AxesFromConfig extracts the axis and jog settings of cfg.
func AxesFromConfig(cfg *config.Config) ([]AxisConfig, map[string]JogConfig) {
	axes := make([]AxisConfig, 0, len(cfg.Axes))
	jogs := make(map[string]JogConfig)
	for _, a := range cfg.Axes {
		axes = append(axes, AxisConfig{
			Name:           a.Name,
			StepsPerDegree: a.StepsPerDegree,
			MinAngle:       a.MinAngle,
			MaxAngle:       a.MaxAngle,
			HomingPin:      a.HomingPin,
			MaxSpeed:       a.MaxSpeed,
			HoldingTorque:  a.HoldsTorque(),
		})
		if a.Jog != nil {
			jogs[a.Name] = JogConfig{
				DeltaInitial: a.Jog.DeltaInitial,
				Ratio:        a.Jog.Ratio,
				DeltaMax:     a.Jog.DeltaMax,
				ResetTimeout: a.Jog.ResetTimeout(),
			}
		}
	}
	return axes, jogs
}

// OptionsFromConfig extracts the motion and homing settings of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TrajectoryPoints: cfg.Motion.TrajectoryPoints,
		PointDelay:       cfg.PointDelay(),
		CancelOnStop:     cfg.Motion.CancelOnStop,
		LinearitySettle:  cfg.LinearitySettle(),
		Homing: HomingOptions{
			CoarseStep:     cfg.Homing.CoarseStep,
			CoarseInterval: cfg.CoarseInterval(),
			BackoffSteps:   cfg.Homing.BackoffSteps,
			Settle:         cfg.Settle(),
			FineStep:       cfg.Homing.FineStep,
			FineInterval:   cfg.FineInterval(),
			Timeout:        cfg.HomingTimeout(),
			MaxIterations:  cfg.Homing.MaxIterations,
			HoldLock:       cfg.Homing.HoldLock,
		},
	}
}

// FromConfig builds a controller over hw from a loaded configuration.
// events may be nil.
func FromConfig(cfg *config.Config, hw hardware.Hardware, events *status.Broadcaster) (*Controller, error) {
	axes, jogs := AxesFromConfig(cfg)
	opts := OptionsFromConfig(cfg)
	opts.Events = events
	return New(hw, axes, jogs, opts)
}
