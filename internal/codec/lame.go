//go:build cgo && lame

package codec

/*
#cgo LDFLAGS: -lmp3lame
#include <lame/lame.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// LameLinked reports whether this binary was built against libmp3lame.
const LameLinked = true

type lameEngine struct{}

func newLameEngine() Engine { return lameEngine{} }

func (lameEngine) Name() string { return string(EngineLame) }

func (lameEngine) Open(p Params) (Stream, error) {
	gfp := C.lame_init()
	if gfp == nil {
		return nil, fmt.Errorf("lame_init returned NULL")
	}

	setters := []struct {
		name string
		ret  C.int
	}{
		{"num_channels", C.lame_set_num_channels(gfp, C.int(p.Channels))},
		{"in_samplerate", C.lame_set_in_samplerate(gfp, C.int(p.SampleRate))},
		{"out_samplerate", C.lame_set_out_samplerate(gfp, C.int(p.SampleRate))},
		{"brate", C.lame_set_brate(gfp, C.int(p.Bitrate))},
		{"mode", C.lame_set_mode(gfp, C.MONO)},
		{"VBR", C.lame_set_VBR(gfp, C.vbr_off)},
		{"bWriteVbrTag", C.lame_set_bWriteVbrTag(gfp, 0)},
		{"quality", C.lame_set_quality(gfp, 5)},
	}
	for _, s := range setters {
		if s.ret < 0 {
			C.lame_close(gfp)
			return nil, fmt.Errorf("lame_set_%s rejected value (code %d)", s.name, int(s.ret))
		}
	}

	if ret := C.lame_init_params(gfp); ret < 0 {
		C.lame_close(gfp)
		return nil, fmt.Errorf("lame_init_params failed (code %d)", int(ret))
	}
	return &lameStream{gfp: gfp}, nil
}

type lameStream struct {
	gfp     *C.lame_global_flags
	flushed bool
}

func (s *lameStream) Encode(samples []int16, out []byte) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	pcm := (*C.short)(unsafe.Pointer(&samples[0]))
	ret := C.lame_encode_buffer(s.gfp, pcm, pcm, C.int(len(samples)),
		(*C.uchar)(unsafe.Pointer(&out[0])), C.int(len(out)))
	// -1 is LAME's "mp3buf too small"; other negative codes are passed up
	// for the adapter to treat as encode failures.
	if ret == -1 {
		return 0, fmt.Errorf("%w: lame_encode_buffer needs more than %d bytes", ErrEncodeOverflow, len(out))
	}
	return int(ret), nil
}

func (s *lameStream) Flush(out []byte) (int, error) {
	if s.flushed {
		return 0, nil
	}
	s.flushed = true
	ret := C.lame_encode_flush(s.gfp, (*C.uchar)(unsafe.Pointer(&out[0])), C.int(len(out)))
	if ret == -1 {
		return 0, fmt.Errorf("%w: lame_encode_flush needs more than %d bytes", ErrEncodeOverflow, len(out))
	}
	return int(ret), nil
}

func (s *lameStream) Close() error {
	if s.gfp == nil {
		return nil
	}
	ret := C.lame_close(s.gfp)
	s.gfp = nil
	if ret < 0 {
		return fmt.Errorf("lame_close failed (code %d)", int(ret))
	}
	return nil
}
