// Package codectest provides an in-memory codec.Engine for tests.
package codectest

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/audiolibrelab/quickrecorder/internal/codec"
)

// Engine is a fake encoder. Every Encode call emits a marker "[n]" where n
// is the number of samples it consumed, so tests can recover exactly what
// reached the encoder from the bytes on disk.
type Engine struct {
	mu sync.Mutex

	// OpenErr, when set, is returned by Open.
	OpenErr error
	// FailEncodes lists 1-based Encode call numbers that return an error.
	FailEncodes map[int]bool
	// Overflow makes every Encode report more bytes than it was given.
	Overflow bool
	// Tail is emitted by the first Flush of each stream.
	Tail []byte

	opens   int
	encodes int
	flushes int
	closes  int
	params  []codec.Params
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Open(p codec.Params) (codec.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.OpenErr != nil {
		return nil, e.OpenErr
	}
	e.opens++
	e.params = append(e.params, p)
	return &stream{engine: e}, nil
}

// Opens returns how many streams were opened.
func (e *Engine) Opens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens
}

// Encodes returns how many Encode calls were made.
func (e *Engine) Encodes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodes
}

// Flushes returns how many Flush calls were made.
func (e *Engine) Flushes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushes
}

// Closes returns how many streams were closed.
func (e *Engine) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// Params returns the parameters of every Open call.
func (e *Engine) Params() []codec.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]codec.Params(nil), e.params...)
}

type stream struct {
	engine  *Engine
	closed  bool
	flushed bool
}

func (s *stream) Encode(samples []int16, out []byte) (int, error) {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.closed {
		return 0, errors.New("encode on closed fake stream")
	}
	e.encodes++
	if e.FailEncodes[e.encodes] {
		return -1, nil
	}
	if e.Overflow {
		return len(out) + 1, nil
	}
	return copy(out, fmt.Sprintf("[%d]", len(samples))), nil
}

func (s *stream) Flush(out []byte) (int, error) {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.flushed {
		return 0, nil
	}
	s.flushed = true
	e.flushes++
	return copy(out, e.Tail), nil
}

func (s *stream) Close() error {
	e := s.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if s.closed {
		return errors.New("fake stream closed twice")
	}
	s.closed = true
	e.closes++
	return nil
}

var markerRE = regexp.MustCompile(`\[(\d+)\]`)

// DecodedSamples sums the sample counts of every marker in data.
func DecodedSamples(data []byte) int {
	total := 0
	for _, m := range markerRE.FindAllSubmatch(data, -1) {
		n, _ := strconv.Atoi(string(m[1]))
		total += n
	}
	return total
}

// Markers counts the encode markers in data.
func Markers(data []byte) int {
	return len(markerRE.FindAll(data, -1))
}
