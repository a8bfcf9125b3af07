package geometry

import (
	"math"
	"testing"
)

func collect(tr *Trajectory) []Point {
	var pts []Point
	for {
		p, ok := tr.Next()
		if !ok {
			return pts
		}
		pts = append(pts, p)
	}
}

func TestPlan_PointCount(t *testing.T) {
	cases := []struct {
		name string
		n    int
		want int
	}{
		{"default_50", 50, 50},
		{"two", 2, 2},
		{"one_raised", 1, 2},
		{"zero_raised", 0, 2},
		{"odd", 7, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := Plan(map[string]float64{"h": 0}, map[string]float64{"h": 10}, tc.n)
			if tr.Len() != tc.want {
				t.Errorf("Len() = %d, want %d", tr.Len(), tc.want)
			}
			if got := len(collect(tr)); got != tc.want {
				t.Errorf("yielded %d points, want %d", got, tc.want)
			}
		})
	}
}

func TestPlan_Endpoints(t *testing.T) {
	start := map[string]float64{"horizontal": 12.5, "vertical": 80}
	target := map[string]float64{"horizontal": 270.3, "vertical": 0.7}
	pts := collect(Plan(start, target, 50))

	for axis := range target {
		if math.Abs(pts[0][axis]-start[axis]) > 1e-9 {
			t.Errorf("%s: first point = %v, want %v", axis, pts[0][axis], start[axis])
		}
		if pts[len(pts)-1][axis] != target[axis] {
			t.Errorf("%s: last point = %v, want exactly %v", axis, pts[len(pts)-1][axis], target[axis])
		}
	}
}

func TestPlan_MonotonicBetweenEnds(t *testing.T) {
	start := map[string]float64{"up": 0, "down": 90}
	target := map[string]float64{"up": 45, "down": 10}
	pts := collect(Plan(start, target, 50))

	for i := 1; i < len(pts); i++ {
		if pts[i]["up"] < pts[i-1]["up"] {
			t.Errorf("up: point %d = %v decreased from %v", i, pts[i]["up"], pts[i-1]["up"])
		}
		if pts[i]["down"] > pts[i-1]["down"] {
			t.Errorf("down: point %d = %v increased from %v", i, pts[i]["down"], pts[i-1]["down"])
		}
		if pts[i]["up"] < 0 || pts[i]["up"] > 45 {
			t.Errorf("up: point %d = %v outside [0, 45]", i, pts[i]["up"])
		}
		if pts[i]["down"] < 10 || pts[i]["down"] > 90 {
			t.Errorf("down: point %d = %v outside [10, 90]", i, pts[i]["down"])
		}
	}
}

func TestPlan_OnlyTargetAxes(t *testing.T) {
	start := map[string]float64{"horizontal": 10, "vertical": 20}
	target := map[string]float64{"vertical": 30}
	for _, p := range collect(Plan(start, target, 5)) {
		if _, ok := p["horizontal"]; ok {
			t.Fatal("point contains an axis not in target")
		}
		if len(p) != 1 {
			t.Fatalf("point has %d axes, want 1", len(p))
		}
	}
}

func TestPlan_MissingStartIsZero(t *testing.T) {
	pts := collect(Plan(nil, map[string]float64{"h": 10}, 3))
	want := []float64{0, 5, 10}
	for i, p := range pts {
		if p["h"] != want[i] {
			t.Errorf("point %d = %v, want %v", i, p["h"], want[i])
		}
	}
}

func TestPlan_ConsumedOnce(t *testing.T) {
	tr := Plan(map[string]float64{"h": 0}, map[string]float64{"h": 1}, 3)
	collect(tr)
	if _, ok := tr.Next(); ok {
		t.Error("Next() after exhaustion returned a point")
	}
}

func TestPlan_InputsNotAliased(t *testing.T) {
	target := map[string]float64{"h": 10}
	tr := Plan(map[string]float64{"h": 0}, target, 2)
	target["h"] = 99
	pts := collect(tr)
	if pts[1]["h"] != 10 {
		t.Errorf("last point = %v, want 10 (plan must copy its inputs)", pts[1]["h"])
	}
}
