// Package portaudio is the PortAudio device backend.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/audiolibrelab/quickrecorder/internal/device"
	"github.com/audiolibrelab/quickrecorder/internal/pcm"
)

const backendName = "portaudio"

func init() {
	device.Register(backendName, func() device.Opener { return Opener{} })
}

// Opener opens default-device streams. Every stream holds its own
// Initialize/Terminate pair; PortAudio reference-counts them.
type Opener struct{}

func (Opener) Name() string { return backendName }

func (Opener) OpenCapture(sampleRate, channels, frameSize int) (device.Capture, error) {
	if err := pa.Initialize(); err != nil {
		return nil, device.Unavailable(backendName, "initialize", err)
	}
	buf := make([]int16, frameSize*channels)
	stream, err := pa.OpenDefaultStream(channels, 0, float64(sampleRate), frameSize, buf)
	if err != nil {
		pa.Terminate()
		return nil, device.Unavailable(backendName, "open input stream", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return nil, device.Unavailable(backendName, "start input stream", err)
	}
	slog.Debug("Capture stream started", "backend", backendName, "sample_rate", sampleRate, "frame_size", frameSize)
	return &capture{stream: stream, buf: buf}, nil
}

func (Opener) OpenPlayback(sampleRate, channels, frameSize int) (device.Sink, error) {
	if err := pa.Initialize(); err != nil {
		return nil, device.Unavailable(backendName, "initialize", err)
	}
	buf := make([]int16, frameSize*channels)
	stream, err := pa.OpenDefaultStream(0, channels, float64(sampleRate), frameSize, buf)
	if err != nil {
		pa.Terminate()
		return nil, device.Unavailable(backendName, "open output stream", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return nil, device.Unavailable(backendName, "start output stream", err)
	}
	return &sink{stream: stream, buf: buf}, nil
}

func (Opener) Devices() ([]device.Info, error) {
	if err := pa.Initialize(); err != nil {
		return nil, device.Unavailable(backendName, "initialize", err)
	}
	defer pa.Terminate()

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defaultName string
	if in, err := pa.DefaultInputDevice(); err == nil {
		defaultName = in.Name
	}

	infos := make([]device.Info, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, device.Info{
			Name:           d.Name,
			InputChannels:  d.MaxInputChannels,
			OutputChannels: d.MaxOutputChannels,
			SampleRate:     d.DefaultSampleRate,
			Default:        d.Name == defaultName,
		})
	}
	return infos, nil
}

type capture struct {
	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	closed bool
}

func (c *capture) ReadFrame() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, device.ErrClosed
	}
	if err := c.stream.Read(); err != nil {
		// An overrun loses samples inside PortAudio but the buffer we got
		// back is still a valid frame.
		if !errors.Is(err, pa.InputOverflowed) {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		slog.Debug("Input overflowed", "backend", backendName)
	}
	return pcm.Int16ToBytes(c.buf), nil
}

func (c *capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return closeStream(c.stream)
}

type sink struct {
	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	closed bool
}

func (s *sink) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return device.ErrClosed
	}
	samples := pcm.BytesToInt16(data)
	for len(samples) > 0 {
		n := copy(s.buf, samples)
		// Zero the tail of a short final chunk instead of replaying stale audio.
		clear(s.buf[n:])
		samples = samples[n:]
		if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("write frame: %w", err)
		}
	}
	return nil
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return closeStream(s.stream)
}

func closeStream(stream *pa.Stream) error {
	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("terminate: %w", err))
	}
	return errors.Join(errs...)
}
