package stepper

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/axisctl/internal/debug"
	"github.com/cjeanneret/axisctl/internal/hw/gpio"
)

// ErrHalted is returned by MoveSteps when Halt interrupted the pulse train.
var ErrHalted = errors.New("stepper halted")

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	Name      string
	StepPin   int
	DirPin    int
	EnablePin int           // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	StepDelay time.Duration // delay per half-cycle of STEP pulse. Total step = 2*StepDelay.
}

// Stepper drives one STEP/DIR/ENABLE motor driver.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	delay time.Duration // delay between STEP pulse half-cycles

	// halts is bumped by Halt; a pulse train stops as soon as it sees a new value.
	halts atomic.Uint64
}

// NewStepper creates a new stepper motor controller. The driver starts
// disabled (no holding torque) until Enable is called.
// cfg.StepDelay: if 0, defaults to 1ms.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 1 * time.Millisecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
	}

	// A4988 ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = g.WritePin(cfg.EnablePin, gpio.High)
	}

	return s
}

// Name returns the axis name the stepper was configured for.
func (s *Stepper) Name() string {
	return s.cfg.Name
}

// MoveSteps moves the motor by a number of steps (positive or negative).
// It returns ErrHalted if Halt is called before the last pulse.
func (s *Stepper) MoveSteps(steps int) error {
	if steps == 0 {
		return nil
	}
	gen := s.halts.Load()

	var dirLevel gpio.Level
	var direction string
	if steps > 0 {
		dirLevel = gpio.High
		direction = "forward"
	} else {
		dirLevel = gpio.Low
		direction = "backward"
		steps = -steps
	}

	debug.Trace("Stepper %s: moving %d steps (%s) on pin %d", s.cfg.Name, steps, direction, s.cfg.StepPin)

	if err := s.gpio.WritePin(s.cfg.DirPin, dirLevel); err != nil {
		return err
	}

	for i := 0; i < steps; i++ {
		if s.halts.Load() != gen {
			debug.Verbose("Stepper %s: halted after %d/%d steps", s.cfg.Name, i, steps)
			return ErrHalted
		}
		if err := s.stepPulse(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

// Halt interrupts any pulse train in progress. Later MoveSteps calls run normally.
func (s *Stepper) Halt() {
	s.halts.Add(1)
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). Motors freewheel, no holding torque.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
