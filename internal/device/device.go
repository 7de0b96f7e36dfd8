// Package device abstracts the audio hardware behind blocking frame reads
// and writes. Concrete backends live in subpackages and register
// themselves by name; the binary links the ones it wants with a blank import.
package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrDeviceUnavailable means no usable device or no permission to use it.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrClosed is returned by reads and writes on a closed handle.
var ErrClosed = errors.New("device handle closed")

// DeviceError records the backend operation that failed.
type DeviceError struct {
	Backend string
	Op      string
	Err     error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() []error { return []error{ErrDeviceUnavailable, e.Err} }

// Unavailable wraps err as a DeviceError for backend.
func Unavailable(backend, op string, err error) error {
	return &DeviceError{Backend: backend, Op: op, Err: err}
}

// Capture is an open input stream.
type Capture interface {
	// ReadFrame blocks until exactly one frame is available and returns
	// frameSize*channels little-endian 16-bit samples.
	ReadFrame() ([]byte, error)
	// Close stops the stream. It is safe before any read and idempotent.
	Close() error
}

// Sink is an open output stream.
type Sink interface {
	// Write blocks until the device accepted pcm.
	Write(pcm []byte) error
	Close() error
}

// Info describes one device as reported by a backend.
type Info struct {
	Name           string
	InputChannels  int
	OutputChannels int
	SampleRate     float64
	Default        bool
}

// Opener opens streams on one backend.
type Opener interface {
	Name() string
	OpenCapture(sampleRate, channels, frameSize int) (Capture, error)
	OpenPlayback(sampleRate, channels, frameSize int) (Sink, error)
	Devices() ([]Info, error)
}

// DefaultBackend is used when no backend is configured.
const DefaultBackend = "portaudio"

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Opener{}
)

// Register makes a backend available to New. It panics on duplicate names,
// which can only happen through a programming error at init time.
func Register(name string, factory func() Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic("device: backend registered twice: " + name)
	}
	registry[name] = factory
}

// New returns the backend called name. An empty name selects
// DefaultBackend, falling back to any registered backend.
func New(name string) (Opener, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		if f, ok := registry[DefaultBackend]; ok {
			return f(), nil
		}
		for _, n := range sortedNames() {
			return registry[n](), nil
		}
		return nil, Unavailable("none", "select backend", errors.New("no audio backend compiled in"))
	}

	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown audio backend %q (available: %s)", name, strings.Join(sortedNames(), ", "))
	}
	return f(), nil
}

// Backends lists the registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedNames()
}

func sortedNames() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
