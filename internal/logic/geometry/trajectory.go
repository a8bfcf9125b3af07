package geometry

import "sort"

// Point is one interpolated angle set, keyed by axis name.
type Point map[string]float64

// Trajectory lazily yields evenly spaced points between a start and a target
// position. It is consumed once.
type Trajectory struct {
	start  map[string]float64
	target map[string]float64
	axes   []string
	n      int
	next   int
}

// Plan builds an n-point trajectory from start to target. Only axes present
// in target appear in the points; an axis missing from start is taken to be
// at 0. n below 2 is raised to 2.
func Plan(start, target map[string]float64, n int) *Trajectory {
	if n < 2 {
		n = 2
	}
	axes := make([]string, 0, len(target))
	s := make(map[string]float64, len(target))
	tg := make(map[string]float64, len(target))
	for axis, angle := range target {
		axes = append(axes, axis)
		s[axis] = start[axis]
		tg[axis] = angle
	}
	sort.Strings(axes)
	return &Trajectory{start: s, target: tg, axes: axes, n: n}
}

// Len returns the total number of points, consumed or not.
func (t *Trajectory) Len() int {
	return t.n
}

// Axes returns the axes moved by the trajectory, sorted by name.
func (t *Trajectory) Axes() []string {
	out := make([]string, len(t.axes))
	copy(out, t.axes)
	return out
}

// Next returns the next point, or false once every point has been yielded.
func (t *Trajectory) Next() (Point, bool) {
	if t.next >= t.n {
		return nil, false
	}
	i := t.next
	t.next++

	p := make(Point, len(t.axes))
	last := i == t.n-1
	ratio := float64(i) / float64(t.n-1)
	for _, axis := range t.axes {
		if last {
			p[axis] = t.target[axis]
			continue
		}
		from := t.start[axis]
		p[axis] = from + (t.target[axis]-from)*ratio
	}
	return p, true
}
