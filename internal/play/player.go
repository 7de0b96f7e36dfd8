package play

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/audiolibrelab/quickrecorder/internal/config"
	"github.com/audiolibrelab/quickrecorder/internal/device"
)

const (
	ModeAuto   = "auto"
	ModeStream = "stream"
	ModeNative = "native"
)

// aliasPrefix starts every native playback alias.
const aliasPrefix = "quickrec_"

// Options configures a Player.
type Options struct {
	Mode      string
	FrameSize int
	// Opener provides the output device in stream mode.
	Opener device.Opener
	// Commander drives native playback. Defaults to the platform commander.
	Commander MediaCommander
	Logger    *slog.Logger
}

// Player plays records on a dedicated goroutine per playback.
type Player struct {
	mode      string
	frameSize int
	opener    device.Opener
	commander MediaCommander
	logger    *slog.Logger
}

// New builds a player from configuration. opener may be nil when only
// native playback is wanted.
func New(cfg *config.Config, opener device.Opener) *Player {
	return NewPlayer(Options{
		Mode:      cfg.Playback.Mode,
		FrameSize: cfg.Audio.FrameSize,
		Opener:    opener,
		Commander: NewNativeCommander(cfg.Playback.Player),
	})
}

func NewPlayer(opts Options) *Player {
	mode := strings.ToLower(opts.Mode)
	if mode == "" || mode == ModeAuto {
		mode = defaultMode(opts.Opener)
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = 1024
	}
	if opts.Commander == nil {
		opts.Commander = NewNativeCommander("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		mode:      mode,
		frameSize: opts.FrameSize,
		opener:    opts.Opener,
		commander: opts.Commander,
		logger:    logger.With("component", "player"),
	}
}

// defaultMode hands playback to the OS media layer on Windows and streams
// through the audio backend elsewhere.
func defaultMode(opener device.Opener) string {
	if runtime.GOOS == "windows" || opener == nil {
		return ModeNative
	}
	return ModeStream
}

// Mode returns the resolved playback mode.
func (p *Player) Mode() string { return p.mode }

// Play starts playing path. A missing file is reported synchronously; every
// later failure is reported through the returned handle.
func (p *Player) Play(path string) (*Playback, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, &PlaybackError{Op: "stat", Err: err}
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}

	var run func(ctx context.Context) error
	switch p.mode {
	case ModeStream:
		if p.opener == nil {
			return nil, &PlaybackError{Op: "open", Err: errors.New("stream mode needs an audio backend")}
		}
		run = func(ctx context.Context) error { return p.stream(ctx, path) }
	case ModeNative:
		alias := NewAlias()
		run = func(ctx context.Context) error { return runNative(ctx, p.commander, path, alias) }
	default:
		return nil, fmt.Errorf("unknown playback mode %q", p.mode)
	}

	p.logger.Info("Playing record", "path", path, "mode", p.mode)
	return start(path, p.logger, run), nil
}

// stream decodes the whole file and pushes it to the output device one
// frame at a time, checking for cancellation between frames.
func (p *Player) stream(ctx context.Context, path string) error {
	audio, err := Decode(path)
	if err != nil {
		return &PlaybackError{Op: "decode", Err: err}
	}

	sink, err := p.opener.OpenPlayback(audio.SampleRate, audio.Channels, p.frameSize)
	if err != nil {
		return &PlaybackError{Op: "open output", Err: err}
	}

	chunk := p.frameSize * audio.Channels * 2
	for off := 0; off < len(audio.PCM); off += chunk {
		if err := ctx.Err(); err != nil {
			sink.Close()
			return err
		}
		end := min(off+chunk, len(audio.PCM))
		if err := sink.Write(audio.PCM[off:end]); err != nil {
			sink.Close()
			return &PlaybackError{Op: "write", Err: err}
		}
	}

	if err := sink.Close(); err != nil {
		return &PlaybackError{Op: "close output", Err: err}
	}
	return nil
}

// NewAlias returns a media alias unique to one playback.
func NewAlias() string {
	return aliasPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
