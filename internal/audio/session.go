package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/quickrecorder/internal/codec"
	"github.com/audiolibrelab/quickrecorder/internal/device"
	"github.com/audiolibrelab/quickrecorder/internal/pcm"
	"github.com/audiolibrelab/quickrecorder/internal/records"
)

const channels = 1

// Options configures a Session.
type Options struct {
	Directory     string
	Extension     string
	SampleRate    int
	FrameSize     int
	Bitrate       int
	FlushInterval time.Duration

	Opener  device.Opener
	Adapter *codec.Adapter

	// Now defaults to time.Now.
	Now      func() time.Time
	Observer Observer
	Logger   *slog.Logger
}

// Session records one microphone take into one MP3 file.
//
// A capture goroutine reads device frames into a shared PCM buffer and,
// every FlushInterval, drains it, encodes the chunk and appends it to the
// record. Stop joins the goroutine and performs a final flush, so once Stop
// returns every captured sample is on disk.
type Session struct {
	opts   Options
	logger *slog.Logger
	buf    *pcm.Buffer

	stop    atomic.Bool
	frames  atomic.Int64
	flushes atomic.Int64
	written atomic.Int64

	mu       sync.Mutex
	state    Status
	path     string
	started  time.Time
	complete bool
	lastErr  error
	capture  device.Capture
	group    *errgroup.Group
	// stopped is closed when Stop has finished; stopErr holds its result.
	stopped chan struct{}
	stopErr error

	// Flush state. Owned by the capture goroutine while recording and by
	// Stop after the goroutine has exited; flushMu makes that handoff
	// explicit.
	flushMu   sync.Mutex
	enc       *codec.Context
	file      *os.File
	offset    int64
	pending   []byte
	lastFlush time.Time
}

// NewSession returns an idle session.
func NewSession(opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Extension == "" {
		opts.Extension = "mp3"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:   opts,
		logger: logger.With("component", "recorder"),
		buf:    pcm.NewBuffer(channels),
		state:  StatusIdle,
	}
}

// Start opens the device and begins capturing into a new record.
func (s *Session) Start() error {
	if err := s.start(); err != nil {
		return err
	}
	path := s.Path()
	s.logger.Info("Recording started", "path", path, "sample_rate", s.opts.SampleRate, "bitrate", s.opts.Bitrate)
	s.emit(Event{Type: EventStarted, Path: path})
	return nil
}

func (s *Session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatusIdle {
		return ErrAlreadyRecording
	}
	if s.complete {
		return ErrSessionComplete
	}

	if err := os.MkdirAll(s.opts.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}
	now := s.opts.Now()

	capture, err := s.opts.Opener.OpenCapture(s.opts.SampleRate, channels, s.opts.FrameSize)
	if err != nil {
		if !errors.Is(err, device.ErrDeviceUnavailable) {
			err = device.Unavailable(s.opts.Opener.Name(), "open capture", err)
		}
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	// The record name is claimed now so a take started in the same second
	// gets the next suffix instead of appending to this file.
	file, err := records.Create(s.opts.Directory, s.opts.Extension, now)
	if err != nil {
		if cerr := capture.Close(); cerr != nil {
			s.logger.Warn("Failed to close capture device", "error", cerr)
		}
		return fmt.Errorf("failed to create record: %w", err)
	}

	s.buf.Reset()
	s.stop.Store(false)
	s.frames.Store(0)
	s.flushes.Store(0)
	s.written.Store(0)
	s.enc = nil
	s.file = file
	s.offset = 0
	s.pending = nil
	s.lastFlush = now
	s.path = file.Name()
	s.started = now
	s.lastErr = nil
	s.capture = capture
	s.stopped = make(chan struct{})
	s.stopErr = nil
	s.state = StatusRecording

	s.group = &errgroup.Group{}
	s.group.Go(func() error { return s.captureLoop(capture) })
	return nil
}

func (s *Session) captureLoop(capture device.Capture) error {
	for !s.stop.Load() {
		frame, err := capture.ReadFrame()
		if err != nil {
			if s.stop.Load() {
				return nil
			}
			s.logger.Error("Capture read failed", "error", err)
			if ferr := s.flush(); ferr != nil {
				s.recordError(ferr)
			}
			err = fmt.Errorf("capture stopped: %w", err)
			s.recordError(err)
			return err
		}

		if err := s.buf.Append(frame); err != nil {
			s.recordError(fmt.Errorf("dropped frame: %w", err))
			continue
		}
		s.frames.Add(1)

		if s.dueForFlush() {
			if err := s.flush(); err != nil {
				s.recordError(err)
			}
		}
	}
	return nil
}

func (s *Session) dueForFlush() bool {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.opts.Now().Sub(s.lastFlush) >= s.opts.FlushInterval
}

// flush drains the buffer, encodes it and appends the result to the record.
// An empty buffer with nothing pending is a no-op.
func (s *Session) flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.lastFlush = s.opts.Now()
	data := s.buf.Drain()
	if len(data) == 0 && len(s.pending) == 0 {
		return nil
	}

	var out []byte
	if len(data) > 0 {
		var err error
		if out, err = s.encode(data); err != nil {
			return err
		}
	}
	if err := s.write(out); err != nil {
		return err
	}
	if len(data) > 0 {
		s.flushes.Add(1)
		s.logger.Debug("Flushed audio", "samples", len(data)/pcm.SampleWidth, "bytes", len(out))
		s.emit(Event{Type: EventFlushed, Path: s.path, Bytes: s.written.Load()})
	}
	return nil
}

// encode turns one drained chunk into MP3 bytes. The encoder context is
// opened on first use. A failed encode closes the context; the chunk is
// retried once on a fresh one and dropped if that fails too.
func (s *Session) encode(data []byte) ([]byte, error) {
	if err := s.openEncoder(); err != nil {
		// Nothing was consumed; keep the audio for the next flush.
		if rerr := s.buf.Requeue(data); rerr != nil {
			return nil, errors.Join(err, fmt.Errorf("dropped %d samples: %w", len(data)/pcm.SampleWidth, rerr))
		}
		return nil, err
	}

	out, err := s.opts.Adapter.Encode(s.enc, data)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, codec.ErrEncode) && !errors.Is(err, codec.ErrEncodeOverflow) {
		return nil, fmt.Errorf("encode: %w", err)
	}

	s.logger.Warn("Encoder failed, retrying chunk on a new context", "error", err)
	s.enc = nil
	if oerr := s.openEncoder(); oerr != nil {
		if rerr := s.buf.Requeue(data); rerr != nil {
			oerr = errors.Join(oerr, fmt.Errorf("dropped %d samples: %w", len(data)/pcm.SampleWidth, rerr))
		}
		return nil, errors.Join(err, oerr)
	}
	out, err = s.opts.Adapter.Encode(s.enc, data)
	if err != nil {
		if s.enc.Closed() {
			s.enc = nil
		}
		return nil, fmt.Errorf("dropped %d samples: %w", len(data)/pcm.SampleWidth, err)
	}
	return out, nil
}

func (s *Session) openEncoder() error {
	if s.enc != nil {
		return nil
	}
	enc, err := s.opts.Adapter.Open(channels, s.opts.SampleRate, s.opts.Bitrate)
	if err != nil {
		return fmt.Errorf("open encoder: %w", err)
	}
	s.enc = enc
	return nil
}

// write appends pending bytes plus out to the record in one write and syncs
// it. If the write fails the file is truncated back to its previous size and
// the bytes are kept for the next attempt, so the file always ends on a
// complete flush.
func (s *Session) write(out []byte) error {
	payload := append(s.pending, out...)
	if len(payload) == 0 {
		return nil
	}
	if s.file == nil {
		s.pending = payload
		return fmt.Errorf("record %s is closed", s.path)
	}

	n, err := s.file.Write(payload)
	if err == nil {
		err = s.file.Sync()
	}
	if err != nil {
		if terr := s.file.Truncate(s.offset); terr != nil {
			s.logger.Error("Failed to roll back partial write", "path", s.path, "error", terr)
		}
		s.pending = payload
		return fmt.Errorf("write %s: %w", s.path, err)
	}

	s.offset += int64(n)
	s.written.Add(int64(n))
	s.pending = nil
	return nil
}

// Stop ends the recording. It reports true when the record holds audio.
// Errors from the capture goroutine and from teardown are joined.
func (s *Session) Stop() (bool, error) {
	s.mu.Lock()
	if s.state != StatusRecording {
		s.mu.Unlock()
		return false, ErrNotRecording
	}
	s.state = StatusStopping
	capture, group := s.capture, s.group
	s.mu.Unlock()

	s.logger.Debug("Stopping recording...")
	s.stop.Store(true)

	var errs []error
	if err := group.Wait(); err != nil {
		errs = append(errs, err)
	}
	if err := capture.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close capture device: %w", err))
	}
	if err := s.flush(); err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	}
	errs = append(errs, s.finish()...)

	saved := s.written.Load() > 0
	path := s.Path()
	if !saved {
		// An empty take leaves no file behind.
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove empty record: %w", rerr))
		}
	}
	err := errors.Join(errs...)

	s.mu.Lock()
	s.state = StatusIdle
	s.complete = true
	s.capture = nil
	if err != nil {
		s.lastErr = err
	}
	s.stopErr = err
	stopped := s.stopped
	s.mu.Unlock()
	defer close(stopped)

	if saved {
		s.logger.Info("Recording saved", "path", path, "bytes", s.written.Load(), "frames", s.frames.Load())
	} else {
		s.logger.Info("Recording stopped without audio", "frames", s.frames.Load())
	}
	ev := Event{Type: EventStopped, Path: path, Bytes: s.written.Load(), Saved: saved}
	if err != nil {
		ev.Error = err.Error()
	}
	s.emit(ev)
	return saved, err
}

// finish drains the encoder, releases it and closes the record.
func (s *Session) finish() []error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var errs []error
	if s.enc != nil {
		tail, err := s.opts.Adapter.Finish(s.enc)
		if err != nil {
			errs = append(errs, fmt.Errorf("finish encoder: %w", err))
		} else if err := s.write(tail); err != nil {
			errs = append(errs, fmt.Errorf("write encoder tail: %w", err))
		}
		if err := s.opts.Adapter.Close(s.enc); err != nil && !errors.Is(err, codec.ErrContextClosed) {
			errs = append(errs, fmt.Errorf("close encoder: %w", err))
		}
		s.enc = nil
	}

	if len(s.pending) > 0 {
		if err := s.write(nil); err != nil {
			errs = append(errs, fmt.Errorf("lost %d encoded bytes: %w", len(s.pending), err))
			s.pending = nil
		}
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close record: %w", err))
		}
		s.file = nil
	}
	return errs
}

// Shutdown stops an active recording, or waits for a stop already in
// progress, returning early with an error when ctx ends first. The stop keeps
// running in the background in that case.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	state, stopped := s.state, s.stopped
	s.mu.Unlock()

	switch state {
	case StatusIdle:
		return nil
	case StatusRecording:
		// The result is read from stopErr once stopped is closed.
		go s.Stop()
	}

	select {
	case <-stopped:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stopErr
	case <-ctx.Done():
		return fmt.Errorf("recording did not stop in time: %w", ctx.Err())
	}
}

// Status returns the current state and a snapshot of the session.
func (s *Session) Status() (Status, SessionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		Path:           s.path,
		StartTime:      s.started,
		FramesCaptured: s.frames.Load(),
		Flushes:        s.flushes.Load(),
		BytesWritten:   s.written.Load(),
		Complete:       s.complete,
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return s.state, info
}

// Path returns the record path chosen at Start.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Buffered returns the number of captured bytes waiting for the next flush.
func (s *Session) Buffered() int { return s.buf.Len() }

func (s *Session) recordError(err error) {
	s.logger.Error("Recording error", "error", err)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.emit(Event{Type: EventError, Path: s.Path(), Error: err.Error()})
}

func (s *Session) emit(ev Event) {
	if s.opts.Observer == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = s.opts.Now()
	}
	s.opts.Observer(ev)
}
