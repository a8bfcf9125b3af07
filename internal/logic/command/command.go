// Package command queues motion commands for a single background worker.
package command

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Command is one queued request. The set of commands is closed: Move, Hold,
// DelayedMove, Stop and Home.
type Command interface {
	fmt.Stringer
	command()
}

// Move drives axes to absolute angles.
type Move struct {
	Coordinates map[string]float64
}

// Hold energizes the windings of each axis.
type Hold struct {
	Axes []string
}

// DelayedMove arms a move that runs after Delay.
type DelayedMove struct {
	Coordinates map[string]float64
	Delay       time.Duration
}

// Stop halts every axis.
type Stop struct{}

// Home runs the endstop search on each axis in turn.
type Home struct {
	Axes []string
}

func (Move) command()        {}
func (Hold) command()        {}
func (DelayedMove) command() {}
func (Stop) command()        {}
func (Home) command()        {}

func (c Move) String() string { return "move " + formatCoords(c.Coordinates) }
func (c Hold) String() string { return "hold " + strings.Join(c.Axes, ",") }
func (c DelayedMove) String() string {
	return fmt.Sprintf("delayed move %s in %v", formatCoords(c.Coordinates), c.Delay)
}
func (Stop) String() string   { return "stop" }
func (c Home) String() string { return "home " + strings.Join(c.Axes, ",") }

func formatCoords(coords map[string]float64) string {
	parts := make([]string, 0, len(coords))
	for axis, angle := range coords {
		parts = append(parts, fmt.Sprintf("%s=%g", axis, angle))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
