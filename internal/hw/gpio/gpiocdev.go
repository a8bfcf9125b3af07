package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"

	"github.com/cjeanneret/axisctl/internal/debug"
)

const cdevConsumer = "axisctl"

// cdevLine is the part of *gpiocdev.Line the driver uses.
type cdevLine interface {
	Value() (int, error)
	SetValue(value int) error
	Reconfigure(options ...gpiocdev.LineConfigOption) error
	Close() error
}

// CdevDriver drives GPIO lines through the Linux GPIO character device.
// Unlike go-rpio it works on any board exposing /dev/gpiochipN (Pi 5 included);
// pin numbers are line offsets on the configured chip.
type CdevDriver struct {
	chip  string
	mu    sync.Mutex
	lines map[int]cdevLine
	modes map[int]PinMode
}

// NewCdevDriver creates a driver on the named chip (e.g. "gpiochip0").
func NewCdevDriver(chip string) (*CdevDriver, error) {
	debug.Info("Initializing GPIO character device driver (%s)", chip)
	if chip == "" {
		return nil, fmt.Errorf("gpiocdev: chip name is required")
	}
	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]cdevLine),
		modes: make(map[int]PinMode),
	}, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.line(pin, mode)
	return err
}

// line returns the requested line for pin, requesting or reconfiguring it when
// its direction differs from mode. Caller holds c.mu.
func (c *CdevDriver) line(pin int, mode PinMode) (cdevLine, error) {
	l, ok := c.lines[pin]
	if ok && c.modes[pin] == mode {
		return l, nil
	}
	debug.GPIO("SetupPin", pin, mode)

	var err error
	switch {
	case ok && mode == Input:
		err = l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown)
	case ok && mode == Output:
		err = l.Reconfigure(gpiocdev.AsOutput(0))
	case mode == Input:
		l, err = c.request(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
	case mode == Output:
		l, err = c.request(pin, gpiocdev.AsOutput(0))
	default:
		return nil, fmt.Errorf("unknown pin mode: %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("gpiocdev: configure %s line %d: %w", c.chip, pin, err)
	}
	c.lines[pin] = l
	c.modes[pin] = mode
	return l, nil
}

func (c *CdevDriver) request(pin int, options ...gpiocdev.LineReqOption) (cdevLine, error) {
	l, err := gpiocdev.RequestLine(c.chip, pin, append(options, gpiocdev.WithConsumer(cdevConsumer))...)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.line(pin, Output)
	if err != nil {
		return err
	}
	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.line(pin, Input)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("gpiocdev: read line %d: %w", pin, err)
	}
	return Level(v != 0), nil
}

// Close releases every requested line; the kernel returns them to inputs.
func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (gpiocdev)")

	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for pin, l := range c.lines {
		if cerr := l.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("gpiocdev: close line %d: %w", pin, cerr))
		}
		delete(c.lines, pin)
		delete(c.modes, pin)
	}
	return err
}
