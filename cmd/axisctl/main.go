package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cjeanneret/axisctl/internal/config"
	"github.com/cjeanneret/axisctl/internal/debug"
	"github.com/cjeanneret/axisctl/internal/hw/gpio"
	"github.com/cjeanneret/axisctl/internal/hw/hardware"
	"github.com/cjeanneret/axisctl/internal/logic/command"
	"github.com/cjeanneret/axisctl/internal/logic/motion"
	"github.com/cjeanneret/axisctl/internal/logic/status"
)

func main() {
	// CLI flags
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	simulate := flag.Bool("simulate", false, "use the simulated rig whatever the config says")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	var home axesFlag
	flag.Var(&home, "home", "home axes at start-up: comma separated names, or \"all\"")
	var move coordsFlag
	flag.Var(&move, "move", "move at start-up, e.g. horizontal=90,vertical=30")
	delay := flag.Duration("delay", 0, "run the -move after this delay")
	var linearity linearityFlag
	flag.Var(&linearity, "linearity", "check linearity at start-up, e.g. horizontal=0,90,180")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if err := applyOverrides(cfg, *simulate, *debugLevel); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Provider", cfg.Hardware.Provider)

	debug.Step(1, "Initializing hardware")
	hw, err := newHardwareFromConfig(cfg)
	if err != nil {
		log.Fatalf("init hardware failed: %v", err)
	}

	debug.Step(2, "Initializing motion controller")
	events := status.NewBroadcaster()
	ctrl, err := motion.FromConfig(cfg, hw, events)
	if err != nil {
		_ = hw.Cleanup()
		log.Fatalf("init motion controller failed: %v", err)
	}
	for _, a := range cfg.Axes {
		debug.PrintStruct("Axis "+a.Name, a)
	}
	if debug.IsEnabled(debug.LevelTrace) {
		sub, unsubscribe := ctrl.Subscribe()
		defer unsubscribe()
		go logEvents(sub)
	}

	debug.Step(3, "Starting command dispatcher")
	dispatcher := command.NewDispatcher(ctrl, hw, cfg.Dispatcher.QueueSize)
	dispatcher.Start(ctx)

	if len(linearity.angles) > 0 {
		if err := runLinearity(ctx, ctrl, linearity); err != nil {
			debug.Error(err)
		}
	}

	cmds, err := startupCommands(ctrl.Axes(), home.axes, move.coords, *delay)
	if err != nil {
		debug.Error(err)
	}
	for _, cmd := range cmds {
		if err := dispatcher.Add(cmd); err != nil {
			debug.Error(fmt.Errorf("queue %s: %w", cmd, err))
		}
	}

	debug.Section("Running")
	debug.Info("Ready; interrupt to stop")
	<-ctx.Done()

	debug.Section("Shutdown")
	if err := dispatcher.Shutdown(cfg.ShutdownTimeout()); err != nil {
		log.Printf("shutdown: %v", err)
		os.Exit(1)
	}
}

// applyOverrides mutates cfg with the CLI overrides. A negative debug level
// means "use config".
func applyOverrides(cfg *config.Config, simulate bool, debugLevel int) error {
	if simulate {
		cfg.Hardware.Provider = config.ProviderSimulated
	}
	if debugLevel >= 0 {
		if debugLevel > 4 {
			return fmt.Errorf("debug must be between 0 and 4, got %d", debugLevel)
		}
		cfg.Defaults.DebugLevel = debugLevel
	}
	return nil
}

// newHardwareFromConfig selects a hardware provider based on configuration.
func newHardwareFromConfig(cfg *config.Config) (hardware.Hardware, error) {
	switch cfg.Hardware.Provider {
	case config.ProviderSimulated:
		axes := make([]hardware.SimAxis, 0, len(cfg.Axes))
		for _, a := range cfg.Axes {
			axes = append(axes, hardware.SimAxis{
				Name:       a.Name,
				EndstopPin: a.HomingPin,
				Offset:     cfg.Hardware.SimEndstopOffsetSteps,
			})
		}
		return hardware.NewSimulated(axes, cfg.StepDelay()), nil
	case config.ProviderGPIO:
		drv, err := gpio.NewDriver(cfg.Hardware.GPIOBackend, cfg.Hardware.GPIOChip)
		if err != nil {
			return nil, fmt.Errorf("init GPIO driver: %w", err)
		}
		pins := make([]hardware.AxisPins, 0, len(cfg.Axes))
		for _, a := range cfg.Axes {
			pins = append(pins, hardware.AxisPins{
				Name:       a.Name,
				StepPin:    a.Pins.StepPin,
				DirPin:     a.Pins.DirPin,
				EnablePin:  a.Pins.EnablePin,
				EndstopPin: a.HomingPin,
			})
		}
		hw, err := hardware.NewGPIO(drv, pins, cfg.StepDelay())
		if err != nil {
			return nil, errors.Join(err, drv.Close())
		}
		return hw, nil
	default:
		return nil, fmt.Errorf("unsupported hardware provider: %s", cfg.Hardware.Provider)
	}
}

// startupCommands builds the commands requested on the command line: homing
// first, then the move.
func startupCommands(known, home []string, coords map[string]float64, delay time.Duration) ([]command.Command, error) {
	var cmds []command.Command
	if len(home) == 1 && home[0] == "all" {
		home = known
	}
	if len(home) > 0 {
		cmds = append(cmds, command.Home{Axes: home})
	}
	if len(coords) > 0 {
		if delay < 0 {
			return cmds, fmt.Errorf("delay must be >= 0, got %v", delay)
		}
		if delay > 0 {
			cmds = append(cmds, command.DelayedMove{Coordinates: coords, Delay: delay})
		} else {
			cmds = append(cmds, command.Move{Coordinates: coords})
		}
	}
	return cmds, nil
}

func runLinearity(ctx context.Context, ctrl *motion.Controller, l linearityFlag) error {
	debug.Section("Linearity check")
	rep, err := ctrl.CheckLinearity(ctx, l.axis, l.angles)
	if err != nil {
		return fmt.Errorf("linearity %s: %w", l.axis, err)
	}
	debug.Summary("Linearity " + rep.Axis)
	for _, s := range rep.Samples {
		debug.Info("%8.3f° -> %8.3f° (error %+.4f°)", s.Angle, s.Measured, s.Error)
	}
	debug.Info("Mean error %+.4f°, max |error| %.4f°", rep.MeanError, rep.MaxAbsError)
	if rep.Fitted {
		debug.Info("Fit: measured = %.4f + %.6f × angle (R² %.6f)", rep.Intercept, rep.Slope, rep.RSquared)
	}
	return nil
}

func logEvents(events <-chan status.Event) {
	for evt := range events {
		debug.Trace("Event %s", evt)
	}
}

// coordsFlag implements flag.Value for -move: "axis=angle,axis=angle".
type coordsFlag struct {
	coords map[string]float64
}

func (f *coordsFlag) String() string {
	if f == nil || len(f.coords) == 0 {
		return ""
	}
	parts := make([]string, 0, len(f.coords))
	for axis, angle := range f.coords {
		parts = append(parts, axis+"="+strconv.FormatFloat(angle, 'g', -1, 64))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (f *coordsFlag) Set(s string) error {
	coords, err := parseCoords(s)
	if err != nil {
		return err
	}
	f.coords = coords
	return nil
}

func parseCoords(s string) (map[string]float64, error) {
	coords := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		axis, value, ok := strings.Cut(part, "=")
		axis = strings.TrimSpace(axis)
		if !ok || axis == "" {
			return nil, fmt.Errorf("expected axis=angle, got %q", part)
		}
		if _, dup := coords[axis]; dup {
			return nil, fmt.Errorf("axis %s given twice", axis)
		}
		angle, err := parseAngle(value)
		if err != nil {
			return nil, fmt.Errorf("axis %s: %w", axis, err)
		}
		coords[axis] = angle
	}
	if len(coords) == 0 {
		return nil, errors.New("no coordinates given")
	}
	return coords, nil
}

func parseAngle(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("angle must be finite, got %v", v)
	}
	return v, nil
}

// axesFlag implements flag.Value for -home: "horizontal,vertical" or "all".
type axesFlag struct {
	axes []string
}

func (f *axesFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(f.axes, ",")
}

func (f *axesFlag) Set(s string) error {
	var axes []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			axes = append(axes, a)
		}
	}
	if len(axes) == 0 {
		return errors.New("no axes given")
	}
	for _, a := range axes {
		if a == "all" && len(axes) > 1 {
			return errors.New("\"all\" cannot be combined with axis names")
		}
	}
	f.axes = axes
	return nil
}

// linearityFlag implements flag.Value for -linearity: "axis=a1,a2,...".
type linearityFlag struct {
	axis   string
	angles []float64
}

func (f *linearityFlag) String() string {
	if f == nil || f.axis == "" {
		return ""
	}
	parts := make([]string, len(f.angles))
	for i, a := range f.angles {
		parts[i] = strconv.FormatFloat(a, 'g', -1, 64)
	}
	return f.axis + "=" + strings.Join(parts, ",")
}

func (f *linearityFlag) Set(s string) error {
	axis, list, ok := strings.Cut(s, "=")
	axis = strings.TrimSpace(axis)
	if !ok || axis == "" {
		return fmt.Errorf("expected axis=angle,angle,..., got %q", s)
	}
	var angles []float64
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		a, err := parseAngle(part)
		if err != nil {
			return err
		}
		angles = append(angles, a)
	}
	if len(angles) == 0 {
		return errors.New("no angles given")
	}
	f.axis, f.angles = axis, angles
	return nil
}
