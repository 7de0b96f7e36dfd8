package play

import (
	"errors"
	"fmt"
)

var (
	ErrFileNotFound = errors.New("record file not found")
	ErrPlayback     = errors.New("playback failed")
)

// PlaybackError names the playback step that failed.
type PlaybackError struct {
	Op  string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s: %v", e.Op, e.Err)
}

func (e *PlaybackError) Unwrap() []error { return []error{ErrPlayback, e.Err} }
