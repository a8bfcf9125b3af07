package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/axisctl/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// Backend names accepted by NewDriver.
const (
	BackendRPio     = "rpio"
	BackendGPIOCdev = "gpiocdev"
	BackendMock     = "mock"
)

// IsBackend reports whether NewDriver accepts name.
func IsBackend(name string) bool {
	switch name {
	case BackendRPio, BackendGPIOCdev, BackendMock:
		return true
	}
	return false
}

// NewDriver creates a GPIO driver for the chosen backend.
// chip is only used by the gpiocdev backend.
func NewDriver(backend, chip string) (Driver, error) {
	switch backend {
	case BackendMock:
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case BackendRPio:
		return NewRPiRealDriver()
	case BackendGPIOCdev:
		return NewCdevDriver(chip)
	default:
		return nil, fmt.Errorf("unsupported GPIO backend: %s", backend)
	}
}

// MockDriver is a test implementation that logs actions and remembers levels.
// Input pins read back whatever SetInput last stored (Low by default).
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
}

// NewMockDriver returns a MockDriver with every pin Low.
func NewMockDriver() *MockDriver {
	return &MockDriver{levels: make(map[int]Level)}
}

// SetInput forces the level returned by ReadPin for pin.
func (m *MockDriver) SetInput(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	level := m.levels[pin]
	m.mu.Unlock()
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
