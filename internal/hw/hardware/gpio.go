package hardware

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/axisctl/internal/debug"
	"github.com/cjeanneret/axisctl/internal/hw/gpio"
	"github.com/cjeanneret/axisctl/internal/hw/stepper"
)

type gpioAxis struct {
	motor   *stepper.Stepper
	holding bool
}

// GPIO drives one STEP/DIR/ENABLE stepper driver per axis and reads
// endstops as input pins (High = triggered).
type GPIO struct {
	drv gpio.Driver

	mu    sync.Mutex // guards holding flags
	axes  map[string]*gpioAxis
	order []string
}

// NewGPIO sets up every axis driver and endstop pin on drv.
func NewGPIO(drv gpio.Driver, axes []AxisPins, stepDelay time.Duration) (*GPIO, error) {
	g := &GPIO{
		drv:  drv,
		axes: make(map[string]*gpioAxis, len(axes)),
	}
	for _, a := range axes {
		if _, dup := g.axes[a.Name]; dup {
			return nil, fmt.Errorf("duplicate axis %q", a.Name)
		}
		if err := drv.SetupPin(a.EndstopPin, gpio.Input); err != nil {
			return nil, fmt.Errorf("setup endstop pin %d for axis %s: %w", a.EndstopPin, a.Name, err)
		}
		motor := stepper.NewStepper(drv, stepper.Config{
			Name:      a.Name,
			StepPin:   a.StepPin,
			DirPin:    a.DirPin,
			EnablePin: a.EnablePin,
			StepDelay: stepDelay,
		})
		g.axes[a.Name] = &gpioAxis{motor: motor}
		g.order = append(g.order, a.Name)
		debug.PrintStruct("Axis pins", a)
	}
	return g, nil
}

func (g *GPIO) axis(name string) (*gpioAxis, error) {
	a, ok := g.axes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAxis, name)
	}
	return a, nil
}

// MoveAxis enables the driver for the duration of the move; an axis without
// holding torque is released again afterwards.
func (g *GPIO) MoveAxis(axis string, steps int) error {
	a, err := g.axis(axis)
	if err != nil {
		return err
	}
	if steps == 0 {
		return nil
	}
	if err := a.motor.Enable(); err != nil {
		return fmt.Errorf("enable %s: %w", a.motor.Name(), err)
	}
	moveErr := a.motor.MoveSteps(steps)

	g.mu.Lock()
	holding := a.holding
	g.mu.Unlock()
	if !holding {
		if err := a.motor.Disable(); err != nil {
			moveErr = multierr.Append(moveErr, fmt.Errorf("disable %s: %w", a.motor.Name(), err))
		}
	}
	if moveErr != nil {
		return fmt.Errorf("move %s by %d steps: %w", a.motor.Name(), steps, moveErr)
	}
	return nil
}

func (g *GPIO) SetHoldingTorque(axis string, enabled bool) error {
	a, err := g.axis(axis)
	if err != nil {
		return err
	}
	g.mu.Lock()
	a.holding = enabled
	g.mu.Unlock()
	if enabled {
		err = a.motor.Enable()
	} else {
		err = a.motor.Disable()
	}
	if err != nil {
		return fmt.Errorf("holding torque %s: %w", a.motor.Name(), err)
	}
	return nil
}

func (g *GPIO) ReadEndstop(pin int) (bool, error) {
	level, err := g.drv.ReadPin(pin)
	if err != nil {
		return false, fmt.Errorf("read endstop pin %d: %w", pin, err)
	}
	return level == gpio.High, nil
}

// EmergencyStop halts every pulse train in flight and disables all drivers.
func (g *GPIO) EmergencyStop() error {
	debug.Info("EMERGENCY STOP: all drivers disabled")
	var err error
	for _, name := range g.order {
		a := g.axes[name]
		a.motor.Halt()
		g.mu.Lock()
		a.holding = false
		g.mu.Unlock()
		if derr := a.motor.Disable(); derr != nil {
			err = multierr.Append(err, fmt.Errorf("disable %s: %w", a.motor.Name(), derr))
		}
	}
	return err
}

// Cleanup disables every driver and closes the GPIO driver.
func (g *GPIO) Cleanup() error {
	debug.Trace("GPIO hardware cleanup")
	var err error
	for _, name := range g.order {
		err = multierr.Append(err, g.axes[name].motor.Disable())
	}
	return multierr.Append(err, g.drv.Close())
}
