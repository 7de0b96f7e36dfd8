package audio

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/quickrecorder/internal/codec"
	"github.com/audiolibrelab/quickrecorder/internal/config"
	"github.com/audiolibrelab/quickrecorder/internal/device"
)

// NewRecorder creates a session using the device backend and encoder
// engine named in the configuration.
func NewRecorder(cfg *config.Config, observer Observer) (*Session, error) {
	opener, err := device.New(cfg.Audio.Backend)
	if err != nil {
		return nil, fmt.Errorf("audio backend: %w", err)
	}
	engine, err := codec.NewEngine(cfg.Encoder.Engine, codec.EngineOptions{FFmpegPath: cfg.Encoder.FFmpegPath})
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	return NewSession(OptionsFromConfig(cfg, opener, codec.NewAdapter(engine), observer)), nil
}

// OptionsFromConfig maps configuration onto session options.
func OptionsFromConfig(cfg *config.Config, opener device.Opener, adapter *codec.Adapter, observer Observer) Options {
	return Options{
		Directory:     cfg.Output.Directory,
		Extension:     cfg.Output.Format,
		SampleRate:    cfg.Audio.SampleRate,
		FrameSize:     cfg.Audio.FrameSize,
		Bitrate:       cfg.Encoder.Bitrate,
		FlushInterval: cfg.Output.FlushInterval,
		Opener:        opener,
		Adapter:       adapter,
		Observer:      observer,
		Logger:        slog.Default(),
	}
}
