package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/quickrecorder/internal/codec"
	"github.com/audiolibrelab/quickrecorder/internal/codec/codectest"
	"github.com/audiolibrelab/quickrecorder/internal/device"
	"github.com/audiolibrelab/quickrecorder/internal/device/devicetest"
)

const (
	testRate      = 8000
	testFrameSize = 800 // 100ms per frame at testRate
	frameDuration = 100 * time.Millisecond
	waitFor       = 2 * time.Second
	tick          = 5 * time.Millisecond
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	dir     string
	clock   *fakeClock
	capture *devicetest.Capture
	opener  *devicetest.Opener
	engine  *codectest.Engine
	session *Session

	mu     sync.Mutex
	events []Event
}

// newHarness builds a session whose device delivers frames scripted frames,
// advancing the fake clock by one frame duration per read.
func newHarness(t *testing.T, frames int, interval time.Duration) *harness {
	t.Helper()
	return newHarnessIn(t, filepath.Join(t.TempDir(), "records"), newFakeClock(), frames, interval)
}

// newHarnessIn is newHarness with the records directory and clock shared by
// the caller.
func newHarnessIn(t *testing.T, dir string, clock *fakeClock, frames int, interval time.Duration) *harness {
	t.Helper()
	h := &harness{
		dir:    dir,
		clock:  clock,
		engine: &codectest.Engine{},
	}
	h.capture = &devicetest.Capture{
		FrameSize: testFrameSize,
		Frames:    frames,
		OnRead:    func(int) { h.clock.Advance(frameDuration) },
	}
	h.opener = &devicetest.Opener{Capture: h.capture}
	h.session = NewSession(Options{
		Directory:     h.dir,
		SampleRate:    testRate,
		FrameSize:     testFrameSize,
		Bitrate:       32,
		FlushInterval: interval,
		Opener:        h.opener,
		Adapter:       codec.NewAdapter(h.engine),
		Now:           h.clock.Now,
		Observer: func(ev Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
		},
	})
	t.Cleanup(h.capture.Release)
	return h
}

func (h *harness) waitFrames(t *testing.T, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, info := h.session.Status()
		return info.FramesCaptured == n
	}, waitFor, tick)
}

// stop runs Stop while the capture goroutine is parked after its script,
// releasing the device once the session reports STOPPING.
func (h *harness) stop(t *testing.T) (bool, error) {
	t.Helper()
	type result struct {
		saved bool
		err   error
	}
	done := make(chan result, 1)
	go func() {
		saved, err := h.session.Stop()
		done <- result{saved, err}
	}()

	require.Eventually(t, func() bool {
		state, _ := h.session.Status()
		return state != StatusRecording
	}, waitFor, tick)
	h.capture.Release()

	select {
	case r := <-done:
		return r.saved, r.err
	case <-time.After(waitFor):
		t.Fatal("Stop did not return")
		return false, nil
	}
}

func (h *harness) eventTypes() []EventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]EventType, 0, len(h.events))
	for _, ev := range h.events {
		types = append(types, ev.Type)
	}
	return types
}

func TestPeriodicFlushes(t *testing.T) {
	// 25s of audio at a 10s interval: two periodic flushes plus the final one.
	h := newHarness(t, 250, 10*time.Second)

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 250)

	saved, err := h.stop(t)
	require.NoError(t, err)
	assert.True(t, saved)

	state, info := h.session.Status()
	assert.Equal(t, StatusIdle, state)
	assert.True(t, info.Complete)
	assert.EqualValues(t, 3, info.Flushes)
	assert.EqualValues(t, 250, info.FramesCaptured)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.EqualValues(t, len(data), info.BytesWritten)
	assert.Equal(t, 3, codectest.Markers(data))
	assert.Equal(t, 250*testFrameSize, codectest.DecodedSamples(data), "every captured sample reaches the encoder")

	assert.Equal(t, 1, h.engine.Opens(), "one encoder context per session")
	assert.Equal(t, 1, h.engine.Closes())
	assert.Equal(t, 1, h.engine.Flushes())
	assert.Equal(t, 1, h.capture.Closes())
}

func TestRecordPathConvention(t *testing.T) {
	h := newHarness(t, 1, time.Hour)

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 1)
	_, err := h.stop(t)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(h.dir, "20240501_093000_audio.mp3"), h.session.Path())
}

func TestFileIsDecodablePrefixAfterEachFlush(t *testing.T) {
	h := newHarness(t, 30, time.Second)

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 30)

	// Three periodic flushes have completed before stop.
	require.Eventually(t, func() bool {
		_, info := h.session.Status()
		return info.Flushes == 3
	}, waitFor, tick)
	data, err := os.ReadFile(h.session.Path())
	require.NoError(t, err)
	assert.Equal(t, 30*testFrameSize, codectest.DecodedSamples(data))

	_, err = h.stop(t)
	require.NoError(t, err)
}

func TestBufferHoldsFramesUntilFlush(t *testing.T) {
	h := newHarness(t, 5, time.Hour)

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 5)
	assert.Equal(t, 5*testFrameSize*2, h.session.Buffered())
	info, err := os.Stat(h.session.Path())
	require.NoError(t, err, "the record is created at start")
	assert.Zero(t, info.Size(), "nothing is written before the first flush")

	saved, err := h.stop(t)
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, 0, h.session.Buffered())
}

func TestSameSecondSessionsGetDistinctRecords(t *testing.T) {
	first := newHarness(t, 2, time.Hour)
	second := newHarnessIn(t, first.dir, first.clock, 3, time.Hour)

	require.NoError(t, first.session.Start())
	require.NoError(t, second.session.Start())
	assert.Equal(t, filepath.Join(first.dir, "20240501_093000_audio.mp3"), first.session.Path())
	assert.Equal(t, filepath.Join(first.dir, "20240501_093000_audio_1.mp3"), second.session.Path())

	first.waitFrames(t, 2)
	second.waitFrames(t, 3)
	for _, h := range []*harness{first, second} {
		saved, err := h.stop(t)
		require.NoError(t, err)
		assert.True(t, saved)
	}

	data, err := os.ReadFile(first.session.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, codectest.Markers(data))
	assert.Equal(t, 2*testFrameSize, codectest.DecodedSamples(data))

	data, err = os.ReadFile(second.session.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, codectest.Markers(data))
	assert.Equal(t, 3*testFrameSize, codectest.DecodedSamples(data))
}

func TestStartWhileRecording(t *testing.T) {
	h := newHarness(t, 3, time.Hour)

	require.NoError(t, h.session.Start())
	path := h.session.Path()

	assert.ErrorIs(t, h.session.Start(), ErrAlreadyRecording)
	assert.Equal(t, 1, h.opener.Opens(), "device is not reopened")
	assert.Equal(t, path, h.session.Path())

	h.waitFrames(t, 3)
	state, _ := h.session.Status()
	assert.Equal(t, StatusRecording, state)

	saved, err := h.stop(t)
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestStopTwice(t *testing.T) {
	h := newHarness(t, 2, time.Hour)

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 2)
	_, err := h.stop(t)
	require.NoError(t, err)

	_, info := h.session.Status()
	saved, err := h.session.Stop()
	assert.False(t, saved)
	assert.ErrorIs(t, err, ErrNotRecording)

	_, after := h.session.Status()
	assert.Equal(t, info, after, "second stop performs no work")
	assert.Equal(t, 1, h.capture.Closes())
}

func TestStopWithoutStart(t *testing.T) {
	h := newHarness(t, 0, time.Second)

	saved, err := h.session.Stop()
	assert.False(t, saved)
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.Equal(t, 0, h.opener.Opens())
}

func TestZeroFrameSession(t *testing.T) {
	h := newHarness(t, 0, time.Second)

	require.NoError(t, h.session.Start())
	saved, err := h.stop(t)
	require.NoError(t, err)
	assert.False(t, saved)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no file is created for an empty record")
	assert.Equal(t, 0, h.engine.Opens())
}

func TestSessionIsSingleUse(t *testing.T) {
	h := newHarness(t, 1, time.Hour)

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 1)
	_, err := h.stop(t)
	require.NoError(t, err)

	assert.ErrorIs(t, h.session.Start(), ErrSessionComplete)
}

func TestDeviceUnavailable(t *testing.T) {
	h := newHarness(t, 0, time.Second)
	h.opener.OpenErr = errors.New("no input device")

	err := h.session.Start()
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)

	state, info := h.session.Status()
	assert.Equal(t, StatusIdle, state)
	assert.False(t, info.Complete)
	assert.Empty(t, h.eventTypes())
}

func TestEncodeErrorRetriesOnFreshContext(t *testing.T) {
	h := newHarness(t, 3, time.Hour)
	h.engine.FailEncodes = map[int]bool{1: true}

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 3)
	saved, err := h.stop(t)
	require.NoError(t, err)
	assert.True(t, saved)

	data, err := os.ReadFile(h.session.Path())
	require.NoError(t, err)
	assert.Equal(t, 3*testFrameSize, codectest.DecodedSamples(data))
	assert.Equal(t, 2, h.engine.Opens())
	assert.Equal(t, 2, h.engine.Closes())
}

func TestEncodeErrorTwiceDropsChunk(t *testing.T) {
	h := newHarness(t, 3, time.Hour)
	h.engine.FailEncodes = map[int]bool{1: true, 2: true}

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 3)
	saved, err := h.stop(t)
	assert.ErrorIs(t, err, codec.ErrEncode)
	assert.False(t, saved)

	_, info := h.session.Status()
	assert.NotEmpty(t, info.LastError)
	assert.Equal(t, h.engine.Opens(), h.engine.Closes(), "every context is released")
}

func TestEncoderInitFailureKeepsAudio(t *testing.T) {
	h := newHarness(t, 2, time.Hour)
	h.engine.OpenErr = errors.New("encoder missing")

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 2)
	saved, err := h.stop(t)
	assert.ErrorIs(t, err, codec.ErrCodecInit)
	assert.False(t, saved)
	assert.Equal(t, 2*testFrameSize*2, h.session.Buffered(), "audio stays buffered when no encoder is available")
}

func TestEncoderTailIsAppended(t *testing.T) {
	h := newHarness(t, 2, time.Hour)
	h.engine.Tail = []byte("TAIL")

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 2)
	_, err := h.stop(t)
	require.NoError(t, err)

	data, err := os.ReadFile(h.session.Path())
	require.NoError(t, err)
	assert.Equal(t, "TAIL", string(data[len(data)-4:]))
}

func TestCaptureErrorFlushesCapturedAudio(t *testing.T) {
	h := newHarness(t, 4, time.Hour)
	unplugged := errors.New("device unplugged")
	h.capture.EndErr = unplugged
	h.capture.Release()

	require.NoError(t, h.session.Start())
	require.Eventually(t, func() bool {
		_, info := h.session.Status()
		return info.LastError != ""
	}, waitFor, tick)

	data, err := os.ReadFile(h.session.Path())
	require.NoError(t, err)
	assert.Equal(t, 4*testFrameSize, codectest.DecodedSamples(data))

	saved, err := h.session.Stop()
	assert.True(t, saved)
	assert.ErrorIs(t, err, unplugged)
}

func TestShutdownDeadline(t *testing.T) {
	h := newHarness(t, 0, time.Second)
	require.NoError(t, h.session.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// The device read never returns, so the stop cannot finish in time.
	err := h.session.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	h.capture.Release()
	require.Eventually(t, func() bool {
		state, _ := h.session.Status()
		return state == StatusIdle
	}, waitFor, tick)
}

func TestShutdownWaitsForStopInProgress(t *testing.T) {
	h := newHarness(t, 0, time.Second)
	require.NoError(t, h.session.Start())

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		h.session.Stop()
	}()
	require.Eventually(t, func() bool {
		state, _ := h.session.Status()
		return state == StatusStopping
	}, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.session.Shutdown(ctx), context.DeadlineExceeded, "shutdown is bounded while the device read is stuck")

	done := make(chan error, 1)
	go func() { done <- h.session.Shutdown(context.Background()) }()
	select {
	case err := <-done:
		t.Fatalf("Shutdown returned %v before the stop finished", err)
	case <-time.After(50 * time.Millisecond):
	}

	h.capture.Release()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Shutdown did not return after the stop finished")
	}
	<-stopped
	state, info := h.session.Status()
	assert.Equal(t, StatusIdle, state)
	assert.True(t, info.Complete)
}

func TestShutdownStopsRecording(t *testing.T) {
	h := newHarness(t, 3, time.Hour)
	require.NoError(t, h.session.Start())
	h.waitFrames(t, 3)

	go func() {
		assert.Eventually(t, func() bool {
			state, _ := h.session.Status()
			return state == StatusStopping
		}, waitFor, tick)
		h.capture.Release()
	}()

	require.NoError(t, h.session.Shutdown(context.Background()))
	_, info := h.session.Status()
	assert.True(t, info.Complete)
	assert.Positive(t, info.BytesWritten)
}

func TestShutdownWhenIdle(t *testing.T) {
	h := newHarness(t, 0, time.Second)
	assert.NoError(t, h.session.Shutdown(context.Background()))
}

func TestObserverEvents(t *testing.T) {
	h := newHarness(t, 20, time.Second)

	require.NoError(t, h.session.Start())
	h.waitFrames(t, 20)
	_, err := h.stop(t)
	require.NoError(t, err)

	types := h.eventTypes()
	require.NotEmpty(t, types)
	assert.Equal(t, EventStarted, types[0])
	assert.Equal(t, EventStopped, types[len(types)-1])
	assert.Contains(t, types, EventFlushed)
}
