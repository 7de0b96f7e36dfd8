package codec

import (
	"fmt"
	"strings"
)

// EngineType names an encoder implementation.
type EngineType string

const (
	EngineAuto   EngineType = "auto"
	EngineLame   EngineType = "lame"
	EngineFFmpeg EngineType = "ffmpeg"
)

// EngineOptions carries engine-specific settings from the configuration.
type EngineOptions struct {
	FFmpegPath string
}

// NewEngine returns the engine named by engineType. "auto" prefers the
// linked libmp3lame and falls back to an ffmpeg process.
func NewEngine(engineType string, opts EngineOptions) (Engine, error) {
	switch EngineType(strings.ToLower(engineType)) {
	case EngineLame:
		return newLameEngine(), nil
	case EngineFFmpeg:
		return newFFmpegEngine(opts.FFmpegPath), nil
	case EngineAuto, "":
		if LameLinked {
			return newLameEngine(), nil
		}
		return newFFmpegEngine(opts.FFmpegPath), nil
	default:
		return nil, fmt.Errorf("unknown encoder engine %q (valid: auto, lame, ffmpeg)", engineType)
	}
}

// AvailableEngines lists the engines compiled into this binary.
func AvailableEngines() []EngineType {
	engines := []EngineType{EngineFFmpeg}
	if LameLinked {
		engines = append([]EngineType{EngineLame}, engines...)
	}
	return engines
}
