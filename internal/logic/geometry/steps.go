package geometry

// AngleToSteps converts an angle in degrees to a motor step count.
// The fractional part is truncated toward zero.
func AngleToSteps(angleDegrees, stepsPerDegree float64) int {
	return int(angleDegrees * stepsPerDegree)
}

// StepsToAngle converts a step count back to degrees.
func StepsToAngle(steps int, stepsPerDegree float64) float64 {
	return float64(steps) / stepsPerDegree
}

// StepDelta returns the step count that takes an axis from one angle to
// another. Both ends are truncated before subtracting so that successive
// deltas along a path sum to the step count of its final angle.
func StepDelta(from, to, stepsPerDegree float64) int {
	return AngleToSteps(to, stepsPerDegree) - AngleToSteps(from, stepsPerDegree)
}

// Resolution is the angular size of one step, in degrees.
func Resolution(stepsPerDegree float64) float64 {
	return 1 / stepsPerDegree
}
