package codec

import (
	"errors"
	"fmt"

	"github.com/audiolibrelab/quickrecorder/internal/pcm"
)

var (
	ErrCodecInit      = errors.New("codec: encoder initialization failed")
	ErrEncode         = errors.New("codec: encode failed")
	ErrEncodeOverflow = errors.New("codec: encoder output exceeded buffer capacity")
	ErrContextClosed  = errors.New("codec: context already closed")

	// ErrInvalidInput is shared with the pcm package so callers can match
	// either layer with one sentinel.
	ErrInvalidInput = pcm.ErrInvalidInput
)

// CodecInitError reports the parameters an engine refused.
type CodecInitError struct {
	Engine string
	Params Params
	Err    error
}

func (e *CodecInitError) Error() string {
	return fmt.Sprintf("%s encoder init (channels=%d rate=%d bitrate=%dk): %v",
		e.Engine, e.Params.Channels, e.Params.SampleRate, e.Params.Bitrate, e.Err)
}

func (e *CodecInitError) Unwrap() []error { return []error{ErrCodecInit, e.Err} }
