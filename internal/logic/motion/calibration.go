package motion

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/cjeanneret/axisctl/internal/debug"
	"github.com/cjeanneret/axisctl/internal/logic/status"
)

// CalibrateScale sets the steps-per-degree of axis from a reference move:
// measuredSteps is what it took to turn the axis by knownAngle degrees.
func (c *Controller) CalibrateScale(axis string, knownAngle float64, measuredSteps int) error {
	st, err := c.axis(axis)
	if err != nil {
		return err
	}
	if knownAngle == 0 || math.IsNaN(knownAngle) || math.IsInf(knownAngle, 0) {
		return fmt.Errorf("%w: known angle must be a non-zero finite value, got %v", ErrInvalidCalibration, knownAngle)
	}
	spd := float64(measuredSteps) / knownAngle
	if spd <= 0 {
		return fmt.Errorf("%w: %d steps over %v° gives %v steps/degree", ErrInvalidCalibration, measuredSteps, knownAngle, spd)
	}

	if c.swapMode(Working, Calibration) {
		defer c.swapMode(Calibration, Working)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateMu.Lock()
	st.cfg.StepsPerDegree = spd
	c.stateMu.Unlock()

	debug.Info("Axis %s calibrated: %.3f steps/degree", axis, spd)
	c.events.Publish(status.Event{Kind: status.KindCalibrated, Axis: axis, Msg: fmt.Sprintf("%.6f steps/degree", spd)})
	return nil
}

// LinearitySample is one sampled angle.
type LinearitySample struct {
	Angle    float64 // commanded
	Measured float64 // recorded after the move settled
	Error    float64 // Measured - Angle
}

// LinearityReport summarizes CheckLinearity. The regression of measured on
// commanded angles (Measured = Intercept + Slope*Angle) is only filled when
// at least two distinct angles were sampled.
type LinearityReport struct {
	Axis        string
	Samples     []LinearitySample
	Fitted      bool
	Slope       float64
	Intercept   float64
	RSquared    float64
	MeanError   float64
	MaxAbsError float64
}

// CheckLinearity moves axis to each angle in turn and records how far the
// settled position is from the commanded one.
func (c *Controller) CheckLinearity(ctx context.Context, axis string, angles []float64) (LinearityReport, error) {
	st, err := c.axis(axis)
	if err != nil {
		return LinearityReport{}, err
	}
	for _, a := range angles {
		if err := c.Validate(map[string]float64{axis: a}); err != nil {
			return LinearityReport{}, err
		}
	}

	if c.swapMode(Working, Calibration) {
		defer c.swapMode(Calibration, Working)
	}

	rep := LinearityReport{Axis: axis, Samples: make([]LinearitySample, 0, len(angles))}
	for _, a := range angles {
		if err := c.Move(ctx, map[string]float64{axis: a}); err != nil {
			return rep, fmt.Errorf("linearity %s at %v°: %w", axis, a, err)
		}
		if err := sleepCtx(ctx, c.opts.LinearitySettle); err != nil {
			return rep, fmt.Errorf("linearity %s at %v°: %w", axis, a, err)
		}
		c.stateMu.Lock()
		measured := st.current
		c.stateMu.Unlock()

		s := LinearitySample{Angle: a, Measured: measured, Error: measured - a}
		rep.Samples = append(rep.Samples, s)
		debug.Info("Linearity %s: angle %v°, error %.3f°", axis, a, s.Error)
	}
	rep.summarize()
	return rep, nil
}

func (r *LinearityReport) summarize() {
	n := len(r.Samples)
	if n == 0 {
		return
	}
	x := make([]float64, n)
	y := make([]float64, n)
	e := make([]float64, n)
	for i, s := range r.Samples {
		x[i], y[i], e[i] = s.Angle, s.Measured, s.Error
		r.MaxAbsError = math.Max(r.MaxAbsError, math.Abs(s.Error))
	}
	r.MeanError = stat.Mean(e, nil)

	if n < 2 || floats.Min(x) == floats.Max(x) {
		return
	}
	r.Intercept, r.Slope = stat.LinearRegression(x, y, nil, false)
	r.RSquared = stat.RSquared(x, y, nil, r.Intercept, r.Slope)
	r.Fitted = true
}
