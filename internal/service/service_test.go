package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/quickrecorder/internal/audio"
	"github.com/audiolibrelab/quickrecorder/internal/codec"
	"github.com/audiolibrelab/quickrecorder/internal/codec/codectest"
	"github.com/audiolibrelab/quickrecorder/internal/config"
	"github.com/audiolibrelab/quickrecorder/internal/device/devicetest"
	"github.com/audiolibrelab/quickrecorder/internal/play"
)

// fakeRecorder writes a file on Stop when data is set.
type fakeRecorder struct {
	path     string
	data     []byte
	startErr error

	mu    sync.Mutex
	state audio.Status
	info  audio.SessionInfo
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	if r.state != audio.StatusIdle && r.state != "" {
		return audio.ErrAlreadyRecording
	}
	r.state = audio.StatusRecording
	r.info = audio.SessionInfo{Path: r.path, StartTime: time.Now()}
	return nil
}

func (r *fakeRecorder) Stop() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != audio.StatusRecording {
		return false, audio.ErrNotRecording
	}
	r.state = audio.StatusIdle
	r.info.Complete = true
	if len(r.data) == 0 {
		return false, nil
	}
	if err := os.WriteFile(r.path, r.data, 0644); err != nil {
		return false, err
	}
	r.info.BytesWritten = int64(len(r.data))
	return true, nil
}

func (r *fakeRecorder) Shutdown(ctx context.Context) error {
	if state, _ := r.Status(); state != audio.StatusRecording {
		return nil
	}
	_, err := r.Stop()
	return err
}

func (r *fakeRecorder) Status() (audio.Status, audio.SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.state
	if state == "" {
		state = audio.StatusIdle
	}
	return state, r.info
}

// fakePlayer hands out playbacks that end immediately.
type fakePlayer struct {
	err error

	mu     sync.Mutex
	played []string
}

func (p *fakePlayer) Play(path string) (*play.Playback, error) {
	p.mu.Lock()
	p.played = append(p.played, path)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return play.NewPlayer(play.Options{Mode: play.ModeNative, Commander: instantCommander{}}).Play(path)
}

func (p *fakePlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

type instantCommander struct{}

func (instantCommander) Open(path, alias string) error                { return nil }
func (instantCommander) Play(alias string) error                      { return nil }
func (instantCommander) Wait(ctx context.Context, alias string) error { return nil }
func (instantCommander) Stop(alias string) error                      { return nil }
func (instantCommander) Close(alias string) error                     { return nil }

type fixture struct {
	svc       Service
	dir       string
	player    *fakePlayer
	recorders []*fakeRecorder

	// data is what the next recorder saves on Stop.
	data []byte

	mu     sync.Mutex
	events []audio.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:    t.TempDir(),
		player: &fakePlayer{},
		data:   []byte("ID3 encoded audio"),
	}
	cfg := config.Default()
	cfg.Output.Directory = f.dir

	n := 0
	factory := func(cfg *config.Config, observer audio.Observer) (audio.Recorder, error) {
		n++
		rec := &fakeRecorder{
			path: filepath.Join(f.dir, fmt.Sprintf("take%d_audio.mp3", n)),
			data: f.data,
		}
		f.recorders = append(f.recorders, rec)
		return rec, nil
	}
	f.svc = New(cfg, "", WithRecorderFactory(factory), WithPlayer(f.player), WithObserver(func(ev audio.Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	}))
	return f
}

func TestStartRecording(t *testing.T) {
	f := newFixture(t)

	o := f.svc.StartRecording()
	assert.Equal(t, KindStarted, o.Kind)
	assert.Equal(t, "Recording", o.Message)
	assert.True(t, o.OK())
	assert.NotEmpty(t, o.Path)

	o = f.svc.StartRecording()
	assert.Equal(t, KindAlreadyRecording, o.Kind)
	assert.Equal(t, "Already recording", o.Message)
	assert.Len(t, f.recorders, 1, "no second recorder while recording")
}

func TestStopWithoutRecording(t *testing.T) {
	f := newFixture(t)

	o := f.svc.StopRecording()
	assert.Equal(t, KindNotRecording, o.Kind)
	assert.Equal(t, "No recording in progress", o.Message)
	assert.False(t, o.OK())
}

func TestStopSaved(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.svc.StartRecording().OK())

	o := f.svc.StopRecording()
	assert.Equal(t, KindStoppedAndSaved, o.Kind)
	assert.Equal(t, "Recording stopped", o.Message)
	assert.FileExists(t, o.Path)

	o = f.svc.StopRecording()
	assert.Equal(t, KindNotRecording, o.Kind, "second stop finds nothing to stop")

	last, ok := f.svc.LastRecord()
	assert.True(t, ok)
	assert.Equal(t, f.recorders[0].path, last)
}

func TestStopNoData(t *testing.T) {
	f := newFixture(t)
	f.data = nil
	require.True(t, f.svc.StartRecording().OK())

	o := f.svc.StopRecording()
	assert.Equal(t, KindStoppedNoData, o.Kind)
	assert.Equal(t, "Recording stopped; no record saved.", o.Message)
	assert.Empty(t, o.Path)

	_, ok := f.svc.LastRecord()
	assert.False(t, ok)
}

func TestStartFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("microphone unplugged")
	f.svc.(*QuickRecorderService).newRecorder = func(*config.Config, audio.Observer) (audio.Recorder, error) {
		return &fakeRecorder{startErr: boom}, nil
	}

	o := f.svc.StartRecording()
	assert.Equal(t, KindFailed, o.Kind)
	assert.ErrorIs(t, o.Err, boom)
	assert.Contains(t, o.Message, "microphone unplugged")
	assert.Contains(t, f.svc.GetLastError(), "microphone unplugged")

	assert.Equal(t, KindNotRecording, f.svc.StopRecording().Kind)
}

func TestPlayNoLastRecord(t *testing.T) {
	f := newFixture(t)

	o := f.svc.PlayLastRecord()
	assert.Equal(t, KindNoLastRecord, o.Kind)
	assert.Equal(t, "No last record", o.Message)
	assert.Empty(t, f.player.Played())
}

func TestPlayWhileRecording(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.svc.StartRecording().OK())

	o := f.svc.PlayLastRecord()
	assert.Equal(t, KindNotYetAvailable, o.Kind)
	assert.Equal(t, "Recording not yet available", o.Message)
	assert.Empty(t, f.player.Played())
}

func TestPlayMissingFile(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.svc.StartRecording().OK())
	require.True(t, f.svc.StopRecording().OK())
	require.NoError(t, os.Remove(f.recorders[0].path))

	o := f.svc.PlayLastRecord()
	assert.Equal(t, KindFileMissing, o.Kind)
	assert.Equal(t, "Record file not found", o.Message)
	assert.Empty(t, f.player.Played())
}

func TestPlayLastRecord(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.svc.StartRecording().OK())
	require.True(t, f.svc.StopRecording().OK())

	o := f.svc.PlayLastRecord()
	require.Equal(t, KindPlaying, o.Kind)
	require.NotNil(t, o.Playback)
	assert.NoError(t, o.Playback.Wait())
	assert.Equal(t, []string{f.recorders[0].path}, f.player.Played())

	assert.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, ev := range f.events {
			if ev.Type == EventPlaybackFinished {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestPlayFailure(t *testing.T) {
	f := newFixture(t)
	f.player.err = &play.PlaybackError{Op: "open", Err: errors.New("no output")}
	require.True(t, f.svc.StartRecording().OK())
	require.True(t, f.svc.StopRecording().OK())

	o := f.svc.PlayLastRecord()
	assert.Equal(t, KindFailed, o.Kind)
	assert.ErrorIs(t, o.Err, play.ErrPlayback)
	assert.NotEmpty(t, f.svc.GetLastError())
}

func TestLastRecordSurvivesFailedStart(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.svc.StartRecording().OK())
	require.True(t, f.svc.StopRecording().OK())

	f.svc.(*QuickRecorderService).newRecorder = func(*config.Config, audio.Observer) (audio.Recorder, error) {
		return nil, errors.New("no backend")
	}
	require.Equal(t, KindFailed, f.svc.StartRecording().Kind)

	last, ok := f.svc.LastRecord()
	assert.True(t, ok)
	assert.Equal(t, f.recorders[0].path, last)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	st := f.svc.Status()
	assert.Equal(t, audio.StatusIdle, st.State)
	assert.Nil(t, st.Session)

	require.True(t, f.svc.StartRecording().OK())
	st = f.svc.Status()
	assert.Equal(t, audio.StatusRecording, st.State)
	require.NotNil(t, st.Session)
	assert.Equal(t, f.recorders[0].path, st.Session.Path)
}

func TestRunPipeline(t *testing.T) {
	f := newFixture(t)
	waits := 0

	err := f.svc.RunPipeline("rp", func() error {
		waits++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, waits)
	assert.Equal(t, []string{f.recorders[0].path}, f.player.Played())
}

func TestRunPipelineErrors(t *testing.T) {
	f := newFixture(t)

	err := f.svc.RunPipeline("x", func() error { return nil })
	assert.ErrorContains(t, err, "unknown pipeline step")

	err = f.svc.RunPipeline("p", func() error { return nil })
	assert.ErrorContains(t, err, "No last record")

	interrupted := errors.New("interrupted")
	err = f.svc.RunPipeline("r", func() error { return interrupted })
	assert.ErrorIs(t, err, interrupted)
	assert.Equal(t, audio.StatusIdle, f.svc.Status().State, "take is stopped on interrupt")
}

func TestListRecords(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "notes.txt"), []byte("x"), 0644))
	older := filepath.Join(f.dir, "20200101_000000_audio.mp3")
	require.NoError(t, os.WriteFile(older, make([]byte, 2048), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	require.True(t, f.svc.StartRecording().OK())
	require.True(t, f.svc.StopRecording().OK())

	list, err := f.svc.ListRecords()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, f.recorders[0].path, list[0].Path)
	assert.True(t, list[0].IsLast)
	assert.Equal(t, "2.0 KB", list[1].SizeHuman)
	assert.False(t, list[1].IsLast)
}

func TestListRecordsMissingDirectory(t *testing.T) {
	f := newFixture(t)
	f.svc.GetConfig().Output.Directory = filepath.Join(f.dir, "nope")

	list, err := f.svc.ListRecords()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestShutdownStopsRecording(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.svc.StartRecording().OK())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.svc.Shutdown(ctx))
	assert.Equal(t, audio.StatusIdle, f.svc.Status().State)
	assert.FileExists(t, f.recorders[0].path)
}

func TestStopInProgressDoesNotBlockOtherCommands(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Directory = t.TempDir()

	// No frames: the device read blocks until released, so Stop hangs.
	capture := &devicetest.Capture{FrameSize: 80}
	t.Cleanup(capture.Release)
	factory := func(cfg *config.Config, observer audio.Observer) (audio.Recorder, error) {
		opener := &devicetest.Opener{Capture: capture}
		return audio.NewSession(audio.OptionsFromConfig(cfg, opener, codec.NewAdapter(&codectest.Engine{}), observer)), nil
	}
	svc := New(cfg, "", WithRecorderFactory(factory), WithPlayer(&fakePlayer{}))
	require.Equal(t, KindStarted, svc.StartRecording().Kind)

	stopped := make(chan Outcome, 1)
	go func() { stopped <- svc.StopRecording() }()
	require.Eventually(t, func() bool {
		return svc.Status().State == audio.StatusStopping
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, KindAlreadyRecording, svc.StartRecording().Kind)
	assert.Equal(t, KindNotRecording, svc.StopRecording().Kind)
	assert.Equal(t, KindNotYetAvailable, svc.PlayLastRecord().Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	begin := time.Now()
	assert.ErrorIs(t, svc.Shutdown(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), time.Second, "shutdown honours its deadline")

	capture.Release()
	select {
	case o := <-stopped:
		assert.Equal(t, KindStoppedNoData, o.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("StopRecording did not return after the device was released")
	}
	assert.Equal(t, audio.StatusIdle, svc.Status().State)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestRealSessionRoundTrip drives a device-backed session end to end with
// scripted devices.
func TestRealSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Output.Directory = dir
	cfg.Audio.SampleRate = 8000
	cfg.Audio.FrameSize = 80
	cfg.Encoder.Bitrate = 32

	capture := &devicetest.Capture{FrameSize: 80, Frames: 1 << 30, Delay: time.Millisecond}
	engine := &codectest.Engine{}
	factory := func(cfg *config.Config, observer audio.Observer) (audio.Recorder, error) {
		opener := &devicetest.Opener{Capture: capture}
		return audio.NewSession(audio.OptionsFromConfig(cfg, opener, codec.NewAdapter(engine), observer)), nil
	}
	svc := New(cfg, "", WithRecorderFactory(factory), WithPlayer(&fakePlayer{}))

	require.Equal(t, KindStarted, svc.StartRecording().Kind)
	require.Eventually(t, func() bool {
		st := svc.Status()
		return st.Session != nil && st.Session.FramesCaptured >= 3
	}, 2*time.Second, 5*time.Millisecond)

	o := svc.StopRecording()
	require.Equal(t, KindStoppedAndSaved, o.Kind, o.Message)

	data, err := os.ReadFile(o.Path)
	require.NoError(t, err)
	st := svc.Status()
	assert.Equal(t, st.Session.FramesCaptured*80, int64(codectest.DecodedSamples(data)))

	assert.Equal(t, KindPlaying, svc.PlayLastRecord().Kind)
}
