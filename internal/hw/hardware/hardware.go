// Package hardware defines the capability set the motion controller drives
// and its two providers: GPIO stepper drivers and a simulated rig.
package hardware

import "errors"

// ErrUnknownAxis is returned when a provider has no motor for the axis.
var ErrUnknownAxis = errors.New("hardware: unknown axis")

// Hardware is everything the motion controller needs from the rig.
// Implementations must be safe for concurrent use: homing polls run
// alongside trajectory execution.
type Hardware interface {
	// MoveAxis commands a relative move of steps (sign gives direction).
	MoveAxis(axis string, steps int) error
	// SetHoldingTorque energizes or releases the windings of axis.
	SetHoldingTorque(axis string, enabled bool) error
	// ReadEndstop reports whether the endstop on pin is triggered.
	ReadEndstop(pin int) (bool, error)
	// EmergencyStop interrupts motion on every axis and releases torque.
	EmergencyStop() error
	// Cleanup releases the underlying resources.
	Cleanup() error
}

// AxisPins wires one axis to its driver and endstop.
type AxisPins struct {
	Name       string
	StepPin    int
	DirPin     int
	EnablePin  int
	EndstopPin int
}
