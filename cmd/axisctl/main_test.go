package main

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/cjeanneret/axisctl/internal/config"
	"github.com/cjeanneret/axisctl/internal/hw/gpio"
	"github.com/cjeanneret/axisctl/internal/hw/hardware"
	"github.com/cjeanneret/axisctl/internal/logic/command"
	"github.com/cjeanneret/axisctl/internal/logic/motion"
)

var _ command.Executor = (*motion.Controller)(nil)

// ---------- parseCoords ----------

func TestParseCoords_Valid(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want map[string]float64
	}{
		{"single", "horizontal=90", map[string]float64{"horizontal": 90}},
		{"two_axes", "horizontal=90,vertical=30.5", map[string]float64{"horizontal": 90, "vertical": 30.5}},
		{"spaces", " horizontal = 10 , vertical=0 ", map[string]float64{"horizontal": 10, "vertical": 0}},
		{"trailing_comma", "vertical=45,", map[string]float64{"vertical": 45}},
		{"negative", "roll=-12.5", map[string]float64{"roll": -12.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseCoords(tc.in)
			if err != nil {
				t.Fatalf("parseCoords(%q): %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("parseCoords(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseCoords_Invalid(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"missing_equals", "horizontal"},
		{"missing_axis", "=10"},
		{"not_a_number", "horizontal=abc"},
		{"nan", "horizontal=NaN"},
		{"inf", "horizontal=+Inf"},
		{"duplicate", "horizontal=1,horizontal=2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseCoords(tc.in); err == nil {
				t.Errorf("parseCoords(%q) = nil error, want error", tc.in)
			}
		})
	}
}

func TestCoordsFlag_RoundTrip(t *testing.T) {
	var f coordsFlag
	if f.String() != "" {
		t.Errorf("zero value String() = %q, want empty", f.String())
	}
	if err := f.Set("vertical=30,horizontal=90.5"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := f.String(); got != "horizontal=90.5,vertical=30" {
		t.Errorf("String() = %q", got)
	}
}

// ---------- axesFlag ----------

func TestAxesFlag(t *testing.T) {
	cases := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"horizontal", []string{"horizontal"}, false},
		{"horizontal, vertical", []string{"horizontal", "vertical"}, false},
		{"all", []string{"all"}, false},
		{"", nil, true},
		{" , ", nil, true},
		{"all,vertical", nil, true},
	}
	for _, tc := range cases {
		var f axesFlag
		err := f.Set(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Set(%q) = nil, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Set(%q): %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(f.axes, tc.want) {
			t.Errorf("Set(%q) axes = %v, want %v", tc.in, f.axes, tc.want)
		}
	}
}

// ---------- linearityFlag ----------

func TestLinearityFlag(t *testing.T) {
	var f linearityFlag
	if err := f.Set("horizontal=0, 90,180"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if f.axis != "horizontal" || !reflect.DeepEqual(f.angles, []float64{0, 90, 180}) {
		t.Errorf("flag = %+v", f)
	}
	if got := f.String(); got != "horizontal=0,90,180" {
		t.Errorf("String() = %q", got)
	}

	for _, bad := range []string{"horizontal", "=1,2", "horizontal=", "horizontal=1,x", "horizontal=NaN"} {
		var f linearityFlag
		if err := f.Set(bad); err == nil {
			t.Errorf("Set(%q) = nil, want error", bad)
		}
	}
}

func TestParseAngle(t *testing.T) {
	if v, err := parseAngle(" 12.5 "); err != nil || v != 12.5 {
		t.Errorf("parseAngle = %v, %v", v, err)
	}
	if _, err := parseAngle("-Inf"); err == nil {
		t.Error("infinite angle accepted")
	}
}

// ---------- applyOverrides ----------

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.Provider = config.ProviderGPIO

	if err := applyOverrides(cfg, false, -1); err != nil {
		t.Fatalf("applyOverrides: %v", err)
	}
	if cfg.Hardware.Provider != config.ProviderGPIO || cfg.Defaults.DebugLevel != 1 {
		t.Errorf("no-op overrides changed config: %+v %+v", cfg.Hardware, cfg.Defaults)
	}

	if err := applyOverrides(cfg, true, 3); err != nil {
		t.Fatalf("applyOverrides: %v", err)
	}
	if cfg.Hardware.Provider != config.ProviderSimulated {
		t.Errorf("provider = %q, want simulated", cfg.Hardware.Provider)
	}
	if cfg.Defaults.DebugLevel != 3 {
		t.Errorf("debug level = %d, want 3", cfg.Defaults.DebugLevel)
	}

	if err := applyOverrides(cfg, false, 5); err == nil {
		t.Error("debug level 5 accepted")
	}
}

// ---------- newHardwareFromConfig ----------

func TestNewHardwareFromConfig_Simulated(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.StepDelayUs = 0
	cfg.Hardware.SimEndstopOffsetSteps = 20

	hw, err := newHardwareFromConfig(cfg)
	if err != nil {
		t.Fatalf("newHardwareFromConfig: %v", err)
	}
	sim, ok := hw.(*hardware.Simulated)
	if !ok {
		t.Fatalf("hardware is %T, want *hardware.Simulated", hw)
	}
	if sim.Position("horizontal") != 20 || sim.Position("vertical") != 20 {
		t.Errorf("start positions = %d, %d; want 20", sim.Position("horizontal"), sim.Position("vertical"))
	}
	if triggered, _ := sim.ReadEndstop(cfg.Axes[0].HomingPin); triggered {
		t.Error("endstop triggered at start")
	}
}

func TestNewHardwareFromConfig_GPIOMock(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.Provider = config.ProviderGPIO
	cfg.Hardware.GPIOBackend = gpio.BackendMock

	hw, err := newHardwareFromConfig(cfg)
	if err != nil {
		t.Fatalf("newHardwareFromConfig: %v", err)
	}
	if _, ok := hw.(*hardware.GPIO); !ok {
		t.Fatalf("hardware is %T, want *hardware.GPIO", hw)
	}
	if err := hw.MoveAxis("horizontal", 3); err != nil {
		t.Errorf("MoveAxis: %v", err)
	}
	if err := hw.Cleanup(); err != nil {
		t.Errorf("Cleanup: %v", err)
	}
}

func TestNewHardwareFromConfig_Unsupported(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.Provider = "serial"
	if _, err := newHardwareFromConfig(cfg); err == nil {
		t.Error("expected error for unsupported provider")
	}

	cfg.Hardware.Provider = config.ProviderGPIO
	cfg.Hardware.GPIOBackend = "parport"
	if _, err := newHardwareFromConfig(cfg); err == nil {
		t.Error("expected error for unsupported GPIO backend")
	}
}

// ---------- startupCommands ----------

func TestStartupCommands(t *testing.T) {
	known := []string{"horizontal", "vertical"}
	coords := map[string]float64{"horizontal": 90}
	cases := []struct {
		name   string
		home   []string
		coords map[string]float64
		delay  time.Duration
		want   []command.Command
	}{
		{"nothing", nil, nil, 0, nil},
		{"home_all", []string{"all"}, nil, 0, []command.Command{command.Home{Axes: known}}},
		{"home_one_then_move", []string{"vertical"}, coords, 0, []command.Command{
			command.Home{Axes: []string{"vertical"}},
			command.Move{Coordinates: coords},
		}},
		{"delayed_move", nil, coords, time.Second, []command.Command{
			command.DelayedMove{Coordinates: coords, Delay: time.Second},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := startupCommands(known, tc.home, tc.coords, tc.delay)
			if err != nil {
				t.Fatalf("startupCommands: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("commands = %v, want %v", got, tc.want)
			}
		})
	}

	if _, err := startupCommands(known, nil, coords, -time.Second); err == nil {
		t.Error("negative delay accepted")
	}
}

func TestStartupCommands_MoveRunsOnController(t *testing.T) {
	cfg := config.Default()
	cfg.Hardware.StepDelayUs = 0
	cfg.Hardware.SimEndstopOffsetSteps = 0
	cfg.Motion.PointDelayMs = 1
	for i := range cfg.Axes {
		cfg.Axes[i].MaxSpeed = 0
	}
	hw, err := newHardwareFromConfig(cfg)
	if err != nil {
		t.Fatalf("newHardwareFromConfig: %v", err)
	}
	ctrl, err := motion.FromConfig(cfg, hw, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	cmds, _ := startupCommands(ctrl.Axes(), nil, map[string]float64{"vertical": 12}, 0)
	mv := cmds[0].(command.Move)
	if !ctrl.MoveToCoordinates(mv.Coordinates) {
		t.Fatal("move failed")
	}
	if a, _ := ctrl.Status().Axis("vertical"); math.Abs(a.CurrentAngle-12) > 1e-9 {
		t.Errorf("vertical = %v, want 12", a.CurrentAngle)
	}
}
