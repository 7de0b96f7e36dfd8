// Package miniaudio is the device backend built on miniaudio through malgo.
//
// miniaudio is callback driven; the handles here adapt its data callback to
// the blocking Capture and Sink interfaces with a byte queue and a condition
// variable, so the callback itself never waits on the caller.
package miniaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/audiolibrelab/quickrecorder/internal/device"
	"github.com/audiolibrelab/quickrecorder/internal/pcm"
)

const backendName = "miniaudio"

// drainTimeout bounds how long Sink.Close waits for queued audio to play.
const drainTimeout = 5 * time.Second

func init() {
	device.Register(backendName, func() device.Opener { return Opener{} })
}

// Opener opens streams on the default miniaudio device.
type Opener struct{}

func (Opener) Name() string { return backendName }

func (Opener) OpenCapture(sampleRate, channels, frameSize int) (device.Capture, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}

	c := &capture{
		ctx:        ctx,
		frameBytes: frameSize * channels * pcm.SampleWidth,
	}
	c.cond = sync.NewCond(&c.mu)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(frameSize)

	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: c.onData})
	if err != nil {
		freeContext(ctx)
		return nil, device.Unavailable(backendName, "init capture device", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(ctx)
		return nil, device.Unavailable(backendName, "start capture device", err)
	}
	c.dev = dev
	slog.Debug("Capture stream started", "backend", backendName, "sample_rate", sampleRate, "frame_size", frameSize)
	return c, nil
}

func (Opener) OpenPlayback(sampleRate, channels, frameSize int) (device.Sink, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}

	s := &sink{
		ctx:      ctx,
		maxQueue: 4 * frameSize * channels * pcm.SampleWidth,
	}
	s.cond = sync.NewCond(&s.mu)

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(frameSize)

	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		freeContext(ctx)
		return nil, device.Unavailable(backendName, "init playback device", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(ctx)
		return nil, device.Unavailable(backendName, "start playback device", err)
	}
	s.dev = dev
	return s, nil
}

func (Opener) Devices() ([]device.Info, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	var infos []device.Info
	for _, kind := range []malgo.DeviceType{malgo.Capture, malgo.Playback} {
		list, err := ctx.Devices(kind)
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		for i := range list {
			info := device.Info{Name: list[i].Name(), Default: list[i].IsDefault != 0}
			if kind == malgo.Capture {
				info.InputChannels = 1
			} else {
				info.OutputChannels = 1
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, device.Unavailable(backendName, "init context", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	if err := ctx.Uninit(); err != nil {
		slog.Warn("Failed to uninit miniaudio context", "error", err)
	}
	ctx.Free()
}

type capture struct {
	ctx        *malgo.AllocatedContext
	dev        *malgo.Device
	frameBytes int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	closed  bool
}

func (c *capture) onData(_, input []byte, _ uint32) {
	c.mu.Lock()
	if !c.closed {
		c.pending = append(c.pending, input...)
		c.cond.Signal()
	}
	c.mu.Unlock()
}

func (c *capture) ReadFrame() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.pending) < c.frameBytes && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		return nil, device.ErrClosed
	}
	frame := make([]byte, c.frameBytes)
	copy(frame, c.pending)
	c.pending = append(c.pending[:0], c.pending[c.frameBytes:]...)
	return frame, nil
}

func (c *capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	err := c.dev.Stop()
	c.dev.Uninit()
	freeContext(c.ctx)
	if err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}

type sink struct {
	ctx      *malgo.AllocatedContext
	dev      *malgo.Device
	maxQueue int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []byte
	closed bool
}

func (s *sink) onData(output, _ []byte, _ uint32) {
	s.mu.Lock()
	n := copy(output, s.queue)
	s.queue = s.queue[n:]
	s.cond.Broadcast()
	s.mu.Unlock()

	// Underrun plays silence.
	clear(output[n:])
}

func (s *sink) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) >= s.maxQueue && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return device.ErrClosed
	}
	s.queue = append(s.queue, data...)
	return nil
}

func (s *sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	deadline := time.Now().Add(drainTimeout)
	for len(s.queue) > 0 && time.Now().Before(deadline) {
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		s.mu.Lock()
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	var errs []error
	if err := s.dev.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playback device: %w", err))
	}
	s.dev.Uninit()
	freeContext(s.ctx)
	return errors.Join(errs...)
}
