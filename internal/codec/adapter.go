// Package codec wraps a streaming MP3 encoder behind a narrow interface.
//
// The Adapter owns no buffering policy: callers hand it whole PCM chunks and
// get back whatever complete frames the encoder produced for them. Each
// recording owns exactly one Context, opened once and closed once.
package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/quickrecorder/internal/pcm"
)

// FlushReserve is the fixed output overhead LAME documents for a single
// encode call, and the capacity used when draining encoder look-ahead.
const FlushReserve = 7200

// Params binds a context to one audio format.
type Params struct {
	Channels   int
	SampleRate int
	Bitrate    int // kbps
}

// Engine creates encoder streams. Implementations are selected by name
// through NewEngine.
type Engine interface {
	Name() string
	Open(p Params) (Stream, error)
}

// Stream is a single live encoder instance. Encode and Flush write into out
// and return the number of bytes the encoder produced; a count larger than
// len(out) means the encoder overran its buffer. Flush is repeated until it
// returns 0.
type Stream interface {
	Encode(samples []int16, out []byte) (int, error)
	Flush(out []byte) (int, error)
	Close() error
}

// Context is the per-recording encoder state. It is only used through an
// Adapter and is not safe for concurrent use.
type Context struct {
	stream Stream
	mu     sync.Mutex
	closed bool
}

// Closed reports whether the context has been released.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Adapter converts PCM chunks into compressed chunks using an Engine.
type Adapter struct {
	engine Engine
	logger *slog.Logger
}

// NewAdapter returns an adapter over engine.
func NewAdapter(engine Engine) *Adapter {
	return &Adapter{engine: engine, logger: slog.Default().With("component", "codec", "engine", engine.Name())}
}

// Engine returns the name of the underlying engine.
func (a *Adapter) Engine() string { return a.engine.Name() }

// Open validates the parameters and allocates a new encoder context.
func (a *Adapter) Open(channels, sampleRate, bitrate int) (*Context, error) {
	p := Params{Channels: channels, SampleRate: sampleRate, Bitrate: bitrate}
	if err := ValidateParams(p); err != nil {
		return nil, &CodecInitError{Engine: a.engine.Name(), Params: p, Err: err}
	}

	stream, err := a.engine.Open(p)
	if err != nil {
		var initErr *CodecInitError
		if errors.As(err, &initErr) {
			return nil, err
		}
		return nil, &CodecInitError{Engine: a.engine.Name(), Params: p, Err: err}
	}

	a.logger.Debug("Encoder context opened", "channels", channels, "sample_rate", sampleRate, "bitrate", bitrate)
	return &Context{stream: stream}, nil
}

// Encode compresses pcm, which must hold whole 16-bit samples. On ErrEncode
// or ErrEncodeOverflow the context is closed and must be discarded.
func (a *Adapter) Encode(ctx *Context, data []byte) ([]byte, error) {
	if len(data)%pcm.SampleWidth != 0 {
		return nil, fmt.Errorf("%w: odd PCM length %d", ErrInvalidInput, len(data))
	}
	if ctx.Closed() {
		return nil, ErrContextClosed
	}
	if len(data) == 0 {
		return nil, nil
	}

	samples := pcm.BytesToInt16(data)
	out := make([]byte, EncodeCapacity(len(samples)))
	n, err := ctx.stream.Encode(samples, out)
	return a.result(ctx, "encode", out, n, err)
}

// maxFlushCalls bounds Finish against a stream that never runs dry.
const maxFlushCalls = 256

// Finish drains samples still held by the encoder's look-ahead. It is called
// once, right before Close.
func (a *Adapter) Finish(ctx *Context) ([]byte, error) {
	if ctx.Closed() {
		return nil, ErrContextClosed
	}
	var tail []byte
	for i := 0; i < maxFlushCalls; i++ {
		out := make([]byte, FlushReserve)
		n, err := ctx.stream.Flush(out)
		chunk, err := a.result(ctx, "flush", out, n, err)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return tail, nil
		}
		tail = append(tail, chunk...)
	}
	a.invalidate(ctx)
	return nil, fmt.Errorf("%w: flush still producing output after %d calls", ErrEncode, maxFlushCalls)
}

func (a *Adapter) result(ctx *Context, op string, out []byte, n int, err error) ([]byte, error) {
	switch {
	case err != nil && errors.Is(err, ErrEncodeOverflow):
		a.invalidate(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	case err != nil:
		a.invalidate(ctx)
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, op, err)
	case n < 0:
		a.invalidate(ctx)
		return nil, fmt.Errorf("%w: %s returned %d", ErrEncode, op, n)
	case n > len(out):
		a.invalidate(ctx)
		return nil, fmt.Errorf("%w: %s wrote %d bytes into %d", ErrEncodeOverflow, op, n, len(out))
	}
	return out[:n], nil
}

func (a *Adapter) invalidate(ctx *Context) {
	if err := a.Close(ctx); err != nil && !errors.Is(err, ErrContextClosed) {
		a.logger.Warn("Failed to release invalid encoder context", "error", err)
	}
}

// Close releases the encoder. Closing twice returns ErrContextClosed.
func (a *Adapter) Close(ctx *Context) error {
	if ctx == nil {
		return ErrContextClosed
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.closed {
		return ErrContextClosed
	}
	ctx.closed = true
	if err := ctx.stream.Close(); err != nil {
		return fmt.Errorf("close %s encoder: %w", a.engine.Name(), err)
	}
	return nil
}

// EncodeCapacity is the worst-case output size for a chunk of samples:
// 1.25 * samples + FlushReserve, rounded up.
func EncodeCapacity(samples int) int {
	return (5*samples+3)/4 + FlushReserve
}

var (
	validSampleRates = map[int]bool{
		8000: true, 11025: true, 12000: true,
		16000: true, 22050: true, 24000: true,
		32000: true, 44100: true, 48000: true,
	}
	validBitrates = map[int]bool{
		8: true, 16: true, 24: true, 32: true, 40: true, 48: true, 56: true, 64: true,
		80: true, 96: true, 112: true, 128: true, 160: true, 192: true, 224: true, 256: true, 320: true,
	}
)

// ValidateParams rejects formats the recorder does not encode: anything but
// mono, non-MPEG sample rates, and non-standard CBR bitrates.
func ValidateParams(p Params) error {
	if p.Channels != 1 {
		return fmt.Errorf("unsupported channel count %d, only mono is recorded", p.Channels)
	}
	if !validSampleRates[p.SampleRate] {
		return fmt.Errorf("unsupported sample rate %d", p.SampleRate)
	}
	if !validBitrates[p.Bitrate] {
		return fmt.Errorf("unsupported bitrate %dk", p.Bitrate)
	}
	return nil
}
