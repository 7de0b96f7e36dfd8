//go:build !(cgo && lame)

package codec

import "errors"

// LameLinked reports whether this binary was built against libmp3lame.
const LameLinked = false

var errLameNotLinked = errors.New("built without libmp3lame, rebuild with -tags lame or use the ffmpeg engine")

type lameEngine struct{}

func newLameEngine() Engine { return lameEngine{} }

func (lameEngine) Name() string { return string(EngineLame) }

func (lameEngine) Open(p Params) (Stream, error) {
	return nil, &CodecInitError{Engine: string(EngineLame), Params: p, Err: errLameNotLinked}
}
