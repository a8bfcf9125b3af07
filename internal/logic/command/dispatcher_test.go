package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingExecutor records every call in order.
type recordingExecutor struct {
	mu      sync.Mutex
	calls   []string
	failOn  string
	block   chan struct{} // when set, Move waits on it or ctx
	entered chan struct{}
	ran     chan string
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{ran: make(chan string, 100)}
}

func (e *recordingExecutor) record(call string) error {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	fail := e.failOn == call
	e.mu.Unlock()
	e.ran <- call
	if fail {
		return fmt.Errorf("%s failed", call)
	}
	return nil
}

func (e *recordingExecutor) Move(ctx context.Context, coords map[string]float64) error {
	if e.block != nil {
		if e.entered != nil {
			close(e.entered)
			e.entered = nil
		}
		select {
		case <-e.block:
		case <-ctx.Done():
			_ = e.record("move cancelled")
			return ctx.Err()
		}
	}
	return e.record("move " + formatCoords(coords))
}

func (e *recordingExecutor) SetHoldingTorque(axis string, enabled bool) error {
	return e.record(fmt.Sprintf("torque %s %v", axis, enabled))
}

func (e *recordingExecutor) ScheduleMove(coords map[string]float64, delay time.Duration) error {
	return e.record(fmt.Sprintf("schedule %s %v", formatCoords(coords), delay))
}

func (e *recordingExecutor) StopMovement() error {
	return e.record("stop")
}

func (e *recordingExecutor) Home(ctx context.Context, axis string) error {
	return e.record("home " + axis)
}

func (e *recordingExecutor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

type recordingCleaner struct {
	mu     sync.Mutex
	called int
	err    error
	before func()
}

func (c *recordingCleaner) Cleanup() error {
	if c.before != nil {
		c.before()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.called++
	return c.err
}

func waitRan(t *testing.T, e *recordingExecutor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-e.ran:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for call %d of %d (got %v)", i+1, n, e.Calls())
		}
	}
}

func TestDispatcher_DispatchesEveryCommand(t *testing.T) {
	exec := newRecordingExecutor()
	d := NewDispatcher(exec, nil, 8)
	d.Start(context.Background())
	defer d.Shutdown(time.Second)

	cmds := []Command{
		Move{Coordinates: map[string]float64{"horizontal": 45, "vertical": 10}},
		Hold{Axes: []string{"horizontal", "vertical"}},
		DelayedMove{Coordinates: map[string]float64{"vertical": 5}, Delay: 2 * time.Second},
		Home{Axes: []string{"vertical", "horizontal"}},
		Stop{},
	}
	for _, cmd := range cmds {
		if err := d.Add(cmd); err != nil {
			t.Fatalf("Add(%s): %v", cmd, err)
		}
	}

	want := []string{
		"move horizontal=45,vertical=10",
		"torque horizontal true",
		"torque vertical true",
		"schedule vertical=5 2s",
		"home vertical",
		"home horizontal",
		"stop",
	}
	waitRan(t, exec, len(want))
	got := exec.Calls()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatcher_FIFO(t *testing.T) {
	exec := newRecordingExecutor()
	d := NewDispatcher(exec, nil, 32)
	for i := 0; i < 20; i++ {
		if err := d.Add(Move{Coordinates: map[string]float64{"h": float64(i)}}); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if d.Len() != 20 {
		t.Errorf("Len() = %d, want 20", d.Len())
	}
	d.Start(context.Background())
	defer d.Shutdown(time.Second)

	waitRan(t, exec, 20)
	for i, call := range exec.Calls()[:20] {
		if want := fmt.Sprintf("move h=%d", i); call != want {
			t.Errorf("call %d = %q, want %q", i, call, want)
		}
	}
}

func TestDispatcher_QueueFullRejects(t *testing.T) {
	exec := newRecordingExecutor()
	d := NewDispatcher(exec, nil, 2)

	if err := d.Add(Stop{}); err != nil {
		t.Fatalf("Add 1: %v", err)
	}
	if err := d.Add(Stop{}); err != nil {
		t.Fatalf("Add 2: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Add(Stop{}) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("Add on full queue = %v, want ErrQueueFull", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Add blocked on a full queue")
	}
}

func TestDispatcher_DefaultQueueSize(t *testing.T) {
	d := NewDispatcher(newRecordingExecutor(), nil, 0)
	if cap(d.queue) != DefaultQueueSize {
		t.Errorf("queue capacity = %d, want %d", cap(d.queue), DefaultQueueSize)
	}
}

func TestDispatcher_FailureDoesNotStopWorker(t *testing.T) {
	exec := newRecordingExecutor()
	exec.failOn = "home vertical"
	d := NewDispatcher(exec, nil, 8)
	d.Start(context.Background())
	defer d.Shutdown(time.Second)

	_ = d.Add(Home{Axes: []string{"vertical", "horizontal"}})
	_ = d.Add(Stop{})

	waitRan(t, exec, 2)
	got := exec.Calls()
	if got[0] != "home vertical" || got[1] != "stop" {
		t.Errorf("calls = %v, want home vertical then stop (failed home skips later axes)", got)
	}
}

func TestDispatcher_HomeContinuesPastFailingAxis(t *testing.T) {
	exec := newRecordingExecutor()
	exec.failOn = "home roll"
	d := NewDispatcher(exec, nil, 8)

	err := d.dispatch(context.Background(), Home{Axes: []string{"roll", "horizontal", "vertical"}})
	if err == nil || !strings.Contains(err.Error(), "home roll failed") {
		t.Errorf("dispatch error = %v, want the roll failure", err)
	}
	want := []string{"home roll", "home horizontal", "home vertical"}
	if got := exec.Calls(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestDispatcher_HomeStopsOnCancelledContext(t *testing.T) {
	exec := newRecordingExecutor()
	d := NewDispatcher(exec, nil, 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.dispatch(ctx, Home{Axes: []string{"horizontal", "vertical"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("dispatch error = %v, want context.Canceled", err)
	}
	if calls := exec.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none after cancellation", calls)
	}
}

func TestDispatcher_AddNil(t *testing.T) {
	d := NewDispatcher(newRecordingExecutor(), nil, 1)
	if err := d.Add(nil); err == nil {
		t.Error("Add(nil) = nil, want error")
	}
}

func TestDispatcher_ShutdownOrder(t *testing.T) {
	exec := newRecordingExecutor()
	var stoppedBeforeCleanup bool
	hw := &recordingCleaner{}
	hw.before = func() {
		for _, c := range exec.Calls() {
			if c == "stop" {
				stoppedBeforeCleanup = true
			}
		}
	}
	d := NewDispatcher(exec, hw, 4)
	d.Start(context.Background())

	if err := d.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !stoppedBeforeCleanup {
		t.Error("hardware cleaned up before StopMovement")
	}
	if hw.called != 1 {
		t.Errorf("cleanup calls = %d, want 1", hw.called)
	}
	if err := d.Add(Stop{}); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Add after shutdown = %v, want ErrDispatcherClosed", err)
	}
	if err := d.Shutdown(time.Second); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
	if hw.called != 1 {
		t.Errorf("cleanup calls after second shutdown = %d, want 1", hw.called)
	}
}

func TestDispatcher_ShutdownCancelsRunningCommand(t *testing.T) {
	exec := newRecordingExecutor()
	exec.block = make(chan struct{})
	exec.entered = make(chan struct{})
	entered := exec.entered
	d := NewDispatcher(exec, nil, 4)
	d.Start(context.Background())

	_ = d.Add(Move{Coordinates: map[string]float64{"h": 1}})
	_ = d.Add(Move{Coordinates: map[string]float64{"h": 2}})
	<-entered

	if err := d.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	calls := exec.Calls()
	for _, c := range calls {
		if c == "move h=2" {
			t.Error("queued command ran after shutdown")
		}
	}
	var sawCancel, sawStop bool
	for _, c := range calls {
		sawCancel = sawCancel || c == "move cancelled"
		sawStop = sawStop || c == "stop"
	}
	if !sawCancel || !sawStop {
		t.Errorf("calls = %v, want the running move cancelled and a stop", calls)
	}
}

func TestDispatcher_ShutdownAggregatesErrors(t *testing.T) {
	exec := newRecordingExecutor()
	exec.failOn = "stop"
	hw := &recordingCleaner{err: errors.New("gpio close failed")}
	d := NewDispatcher(exec, hw, 1)

	err := d.Shutdown(time.Second)
	if err == nil {
		t.Fatal("Shutdown = nil, want aggregated error")
	}
	if !errors.Is(err, hw.err) {
		t.Errorf("Shutdown error %v does not carry the cleanup error", err)
	}
	if got := err.Error(); !strings.Contains(got, "stop failed") {
		t.Errorf("Shutdown error %q does not carry the stop error", got)
	}
}

func TestDispatcher_ShutdownTimeout(t *testing.T) {
	exec := newRecordingExecutor()
	d := NewDispatcher(exec, nil, 1)
	// A worker that never exits: mark started without running it.
	d.started = true
	d.cancel = func() {}

	err := d.Shutdown(10 * time.Millisecond)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Shutdown = %v, want ErrShutdownTimeout", err)
	}
}

func TestCommand_String(t *testing.T) {
	cases := []struct {
		cmd  Command
		want string
	}{
		{Move{Coordinates: map[string]float64{"vertical": 10, "horizontal": 45.5}}, "move horizontal=45.5,vertical=10"},
		{Hold{Axes: []string{"horizontal"}}, "hold horizontal"},
		{DelayedMove{Coordinates: map[string]float64{"vertical": 1}, Delay: time.Second}, "delayed move vertical=1 in 1s"},
		{Stop{}, "stop"},
		{Home{Axes: []string{"horizontal", "vertical"}}, "home horizontal,vertical"},
	}
	for _, tc := range cases {
		if got := tc.cmd.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
