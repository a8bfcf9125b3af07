package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/axisctl/internal/hw/gpio"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// Hardware providers.
const (
	ProviderSimulated = "simulated"
	ProviderGPIO      = "gpio"
)

// PinsConfig holds the driver pins of one axis (BCM numbering, or line offsets for gpiocdev).
type PinsConfig struct {
	StepPin   int `yaml:"step_pin"`
	DirPin    int `yaml:"dir_pin"`
	EnablePin int `yaml:"enable_pin"` // A4988 ENABLE pin. 0 = not used. Active LOW.
}

// JogConfig holds the adaptive jog parameters of one axis.
type JogConfig struct {
	DeltaInitial   float64 `yaml:"delta_initial"` // first nudge in degrees
	Ratio          float64 `yaml:"ratio"`         // growth per consecutive nudge (> 1)
	DeltaMax       float64 `yaml:"delta_max"`     // cap in degrees
	ResetTimeoutMs int     `yaml:"reset_timeout_ms"`
}

// AxisConfig describes one rotary axis.
type AxisConfig struct {
	Name           string     `yaml:"name"`
	StepsPerDegree float64    `yaml:"steps_per_degree"`
	MinAngle       float64    `yaml:"min_angle"`
	MaxAngle       float64    `yaml:"max_angle"`
	HomingPin      int        `yaml:"homing_pin"`               // endstop input
	MaxSpeed       float64    `yaml:"max_speed"`                // deg/s, 0 = unlimited
	HoldingTorque  *bool      `yaml:"holding_torque,omitempty"` // default true
	Pins           PinsConfig `yaml:"pins"`
	Jog            *JogConfig `yaml:"jog,omitempty"` // optional
}

// MotionConfig tunes trajectory execution.
type MotionConfig struct {
	TrajectoryPoints  int  `yaml:"trajectory_points"`
	PointDelayMs      int  `yaml:"point_delay_ms"`
	CancelOnStop      bool `yaml:"cancel_on_stop"`      // stop aborts running trajectories and homing loops
	LinearitySettleMs int  `yaml:"linearity_settle_ms"` // wait before sampling each linearity angle
}

// HomingConfig tunes the endstop search.
type HomingConfig struct {
	CoarseStep       int  `yaml:"coarse_step"`
	CoarseIntervalMs int  `yaml:"coarse_interval_ms"`
	BackoffSteps     int  `yaml:"backoff_steps"`
	SettleMs         int  `yaml:"settle_ms"`
	FineStep         int  `yaml:"fine_step"`
	FineIntervalMs   int  `yaml:"fine_interval_ms"`
	TimeoutMs        int  `yaml:"timeout_ms"`     // 0 = no deadline
	MaxIterations    int  `yaml:"max_iterations"` // per seek loop, 0 = unbounded
	HoldLock         bool `yaml:"hold_lock"`      // run the whole sequence under the state lock
}

// DispatcherConfig tunes the command queue.
type DispatcherConfig struct {
	QueueSize         int `yaml:"queue_size"`
	ShutdownTimeoutMs int `yaml:"shutdown_timeout_ms"`
}

// HardwareConfig selects and tunes the hardware provider.
type HardwareConfig struct {
	Provider              string `yaml:"provider"`     // "simulated" or "gpio"
	GPIOBackend           string `yaml:"gpio_backend"` // "rpio", "gpiocdev" or "mock"
	GPIOChip              string `yaml:"gpio_chip"`    // gpiocdev only
	StepDelayUs           int    `yaml:"step_delay_us"`
	SimEndstopOffsetSteps int    `yaml:"sim_endstop_offset_steps"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Axes       []AxisConfig     `yaml:"axes"`
	Motion     MotionConfig     `yaml:"motion"`
	Homing     HomingConfig     `yaml:"homing"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Hardware   HardwareConfig   `yaml:"hardware"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
}

// ValidateConfigPath accepts only .yaml files located directly in a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("config path %q escapes the working directory", path)
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in pan/tilt configuration on the simulated provider.
func Default() *Config {
	cfg := &Config{
		Axes: []AxisConfig{
			{
				Name:           "horizontal",
				StepsPerDegree: 100,
				MinAngle:       0,
				MaxAngle:       360,
				HomingPin:      5,
				MaxSpeed:       20,
				Pins:           PinsConfig{StepPin: 17, DirPin: 18, EnablePin: 27},
				Jog:            &JogConfig{DeltaInitial: 0.1, Ratio: 2.0, DeltaMax: 10, ResetTimeoutMs: 2000},
			},
			{
				Name:           "vertical",
				StepsPerDegree: 150,
				MinAngle:       0,
				MaxAngle:       90,
				HomingPin:      6,
				MaxSpeed:       10,
				Pins:           PinsConfig{StepPin: 23, DirPin: 24, EnablePin: 25},
				Jog:            &JogConfig{DeltaInitial: 0.05, Ratio: 1.8, DeltaMax: 5, ResetTimeoutMs: 1500},
			},
		},
		Hardware: HardwareConfig{Provider: ProviderSimulated},
		Defaults: DefaultsConfig{DebugLevel: 1},
	}
	if err := cfg.applyDefaults(); err != nil {
		panic(err) // built-in values are valid
	}
	return cfg
}

func (c *Config) applyDefaults() error {
	if len(c.Axes) == 0 {
		return fmt.Errorf("at least one axis is required")
	}
	seenNames := make(map[string]bool, len(c.Axes))
	seenPins := make(map[int]string, len(c.Axes))
	for i := range c.Axes {
		a := &c.Axes[i]
		if a.Name == "" {
			return fmt.Errorf("axes[%d].name is required", i)
		}
		if seenNames[a.Name] {
			return fmt.Errorf("duplicate axis name %q", a.Name)
		}
		seenNames[a.Name] = true
		if other, ok := seenPins[a.HomingPin]; ok {
			return fmt.Errorf("axis %q: homing_pin %d already used by axis %q", a.Name, a.HomingPin, other)
		}
		seenPins[a.HomingPin] = a.Name
		if a.StepsPerDegree <= 0 {
			return fmt.Errorf("axis %q: steps_per_degree must be > 0, got %.3f", a.Name, a.StepsPerDegree)
		}
		if a.MinAngle > a.MaxAngle {
			return fmt.Errorf("axis %q: min_angle %.2f > max_angle %.2f", a.Name, a.MinAngle, a.MaxAngle)
		}
		if a.MaxSpeed < 0 {
			return fmt.Errorf("axis %q: max_speed must be >= 0, got %.2f", a.Name, a.MaxSpeed)
		}
		if a.HoldingTorque == nil {
			holding := true
			a.HoldingTorque = &holding
		}
		if a.Jog != nil {
			if a.Jog.DeltaInitial <= 0 {
				return fmt.Errorf("axis %q: jog.delta_initial must be > 0", a.Name)
			}
			if a.Jog.Ratio <= 1 {
				return fmt.Errorf("axis %q: jog.ratio must be > 1, got %.3f", a.Name, a.Jog.Ratio)
			}
			if a.Jog.DeltaMax < a.Jog.DeltaInitial {
				return fmt.Errorf("axis %q: jog.delta_max must be >= delta_initial", a.Name)
			}
			if a.Jog.ResetTimeoutMs <= 0 {
				a.Jog.ResetTimeoutMs = 2000 // reasonable default
			}
		}
	}

	if c.Motion.TrajectoryPoints <= 0 {
		c.Motion.TrajectoryPoints = 50
	}
	if c.Motion.TrajectoryPoints < 2 {
		return fmt.Errorf("motion.trajectory_points must be >= 2, got %d", c.Motion.TrajectoryPoints)
	}
	if c.Motion.PointDelayMs <= 0 {
		c.Motion.PointDelayMs = 10
	}
	if c.Motion.LinearitySettleMs <= 0 {
		c.Motion.LinearitySettleMs = 1000
	}

	h := &c.Homing
	if h.CoarseStep == 0 {
		h.CoarseStep = -10
	}
	if h.CoarseIntervalMs <= 0 {
		h.CoarseIntervalMs = 100
	}
	if h.BackoffSteps == 0 {
		h.BackoffSteps = 50
	}
	if h.SettleMs <= 0 {
		h.SettleMs = 500
	}
	if h.FineStep == 0 {
		h.FineStep = -1
	}
	if h.FineIntervalMs <= 0 {
		h.FineIntervalMs = 50
	}
	if h.TimeoutMs < 0 || h.MaxIterations < 0 {
		return fmt.Errorf("homing.timeout_ms and homing.max_iterations must be >= 0")
	}
	if h.CoarseStep > 0 || h.FineStep > 0 || h.BackoffSteps < 0 {
		return fmt.Errorf("homing seeks toward negative steps: coarse_step and fine_step must be < 0, backoff_steps > 0")
	}

	if c.Dispatcher.QueueSize <= 0 {
		c.Dispatcher.QueueSize = 64
	}
	if c.Dispatcher.ShutdownTimeoutMs <= 0 {
		c.Dispatcher.ShutdownTimeoutMs = 1000
	}

	hw := &c.Hardware
	if hw.Provider == "" {
		hw.Provider = ProviderSimulated
	}
	switch hw.Provider {
	case ProviderSimulated, ProviderGPIO:
	default:
		return fmt.Errorf("unsupported hardware.provider: %s", hw.Provider)
	}
	if hw.GPIOBackend == "" {
		hw.GPIOBackend = gpio.BackendRPio
	}
	if !gpio.IsBackend(hw.GPIOBackend) {
		return fmt.Errorf("unsupported hardware.gpio_backend: %s", hw.GPIOBackend)
	}
	if hw.GPIOChip == "" {
		hw.GPIOChip = "gpiochip0"
	}
	if hw.StepDelayUs <= 0 {
		hw.StepDelayUs = 500
	}
	if hw.SimEndstopOffsetSteps <= 0 {
		hw.SimEndstopOffsetSteps = 300
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// Axis returns the configuration of the named axis.
func (c *Config) Axis(name string) (AxisConfig, bool) {
	for _, a := range c.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return AxisConfig{}, false
}

// HoldsTorque reports whether the axis keeps its windings energized after a move.
func (a AxisConfig) HoldsTorque() bool {
	return a.HoldingTorque == nil || *a.HoldingTorque
}

// ResetTimeout returns the jog multiplier reset timeout.
func (j JogConfig) ResetTimeout() time.Duration {
	return time.Duration(j.ResetTimeoutMs) * time.Millisecond
}

// PointDelay returns the pause between two trajectory points.
func (c *Config) PointDelay() time.Duration {
	return time.Duration(c.Motion.PointDelayMs) * time.Millisecond
}

// LinearitySettle returns the wait before sampling a linearity angle.
func (c *Config) LinearitySettle() time.Duration {
	return time.Duration(c.Motion.LinearitySettleMs) * time.Millisecond
}

// CoarseInterval returns the poll interval of the coarse endstop search.
func (c *Config) CoarseInterval() time.Duration {
	return time.Duration(c.Homing.CoarseIntervalMs) * time.Millisecond
}

// FineInterval returns the poll interval of the fine endstop search.
func (c *Config) FineInterval() time.Duration {
	return time.Duration(c.Homing.FineIntervalMs) * time.Millisecond
}

// Settle returns the wait after backing off the endstop.
func (c *Config) Settle() time.Duration {
	return time.Duration(c.Homing.SettleMs) * time.Millisecond
}

// HomingTimeout returns the homing deadline, 0 meaning none.
func (c *Config) HomingTimeout() time.Duration {
	return time.Duration(c.Homing.TimeoutMs) * time.Millisecond
}

// ShutdownTimeout returns the bounded wait for the dispatcher worker.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Dispatcher.ShutdownTimeoutMs) * time.Millisecond
}

// StepDelay returns the STEP pulse half-cycle used by the gpio provider.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Hardware.StepDelayUs) * time.Microsecond
}
