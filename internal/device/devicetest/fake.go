// Package devicetest provides scripted device handles for tests.
package devicetest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/quickrecorder/internal/device"
	"github.com/audiolibrelab/quickrecorder/internal/pcm"
)

// ErrScriptEnded is returned by Capture once its frames are used up and it
// has been released.
var ErrScriptEnded = errors.New("devicetest: script ended")

// Capture delivers a fixed number of frames, then blocks until Release or
// Close and returns EndErr (ErrScriptEnded when nil). Every sample of frame
// i holds the value i+1.
type Capture struct {
	FrameSize int
	Channels  int
	// Frames is the number of frames delivered before blocking.
	Frames int
	// Delay is slept before each frame.
	Delay time.Duration
	// OnRead runs after frame i (0-based) is produced, before it is returned.
	OnRead func(i int)
	// EndErr is returned after release.
	EndErr error

	reads       atomic.Int64
	closes      atomic.Int64
	releaseOnce sync.Once
	release     chan struct{}
	initOnce    sync.Once
}

func (c *Capture) init() {
	c.initOnce.Do(func() { c.release = make(chan struct{}) })
}

func (c *Capture) ReadFrame() ([]byte, error) {
	c.init()
	if c.closes.Load() > 0 {
		return nil, device.ErrClosed
	}

	i := int(c.reads.Load())
	if i >= c.Frames {
		<-c.release
		if c.EndErr != nil {
			return nil, c.EndErr
		}
		return nil, ErrScriptEnded
	}

	if c.Delay > 0 {
		time.Sleep(c.Delay)
	}
	channels := c.Channels
	if channels == 0 {
		channels = 1
	}
	samples := make([]int16, c.FrameSize*channels)
	for j := range samples {
		samples[j] = int16(i + 1)
	}
	c.reads.Add(1)
	if c.OnRead != nil {
		c.OnRead(i)
	}
	return pcm.Int16ToBytes(samples), nil
}

// Release unblocks a read waiting after the last scripted frame.
func (c *Capture) Release() {
	c.init()
	c.releaseOnce.Do(func() { close(c.release) })
}

func (c *Capture) Close() error {
	c.closes.Add(1)
	c.Release()
	return nil
}

// Reads returns how many frames were delivered.
func (c *Capture) Reads() int { return int(c.reads.Load()) }

// Closes returns how many times Close was called.
func (c *Capture) Closes() int { return int(c.closes.Load()) }

// Sink records everything written to it.
type Sink struct {
	// WriteErr, when set, is returned by every Write.
	WriteErr error

	mu     sync.Mutex
	data   []byte
	writes int
	closed bool
}

func (s *Sink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return device.ErrClosed
	}
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.writes++
	s.data = append(s.data, p...)
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Data returns a copy of all bytes written.
func (s *Sink) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// Writes returns the number of successful Write calls.
func (s *Sink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Opener hands out the configured handles.
type Opener struct {
	Capture *Capture
	Sink    *Sink
	// OpenErr, when set, fails every open with ErrDeviceUnavailable.
	OpenErr error
	Infos   []device.Info

	mu         sync.Mutex
	opens      int
	sampleRate int
	frameSize  int
}

func (o *Opener) Name() string { return "fake" }

func (o *Opener) OpenCapture(sampleRate, channels, frameSize int) (device.Capture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.OpenErr != nil {
		return nil, device.Unavailable("fake", "open capture", o.OpenErr)
	}
	o.opens++
	o.sampleRate, o.frameSize = sampleRate, frameSize
	if o.Capture == nil {
		o.Capture = &Capture{FrameSize: frameSize, Channels: channels}
	}
	return o.Capture, nil
}

func (o *Opener) OpenPlayback(sampleRate, channels, frameSize int) (device.Sink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.OpenErr != nil {
		return nil, device.Unavailable("fake", "open playback", o.OpenErr)
	}
	o.opens++
	o.sampleRate, o.frameSize = sampleRate, frameSize
	if o.Sink == nil {
		o.Sink = &Sink{}
	}
	return o.Sink, nil
}

func (o *Opener) Devices() ([]device.Info, error) { return o.Infos, nil }

// Opens returns how many handles were opened.
func (o *Opener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// LastFormat returns the sample rate and frame size of the last open.
func (o *Opener) LastFormat() (sampleRate, frameSize int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sampleRate, o.frameSize
}
