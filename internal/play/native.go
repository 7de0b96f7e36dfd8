package play

import (
	"context"
	"errors"
)

// MediaCommander drives an OS-level media player through named aliases:
// open, play, wait, stop and close.
type MediaCommander interface {
	Open(path, alias string) error
	Play(alias string) error
	// Wait blocks until the media finishes or ctx ends.
	Wait(ctx context.Context, alias string) error
	Stop(alias string) error
	Close(alias string) error
}

// runNative plays path through c. Close is attempted whatever happened
// before it.
func runNative(ctx context.Context, c MediaCommander, path, alias string) (err error) {
	defer func() {
		if cerr := c.Close(alias); cerr != nil && err == nil {
			err = &PlaybackError{Op: "close", Err: cerr}
		}
	}()

	if err := c.Open(path, alias); err != nil {
		return &PlaybackError{Op: "open", Err: err}
	}
	if err := c.Play(alias); err != nil {
		return &PlaybackError{Op: "play", Err: err}
	}

	waitErr := c.Wait(ctx, alias)
	if err := c.Stop(alias); err != nil && waitErr == nil {
		return &PlaybackError{Op: "stop", Err: err}
	}
	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			return waitErr
		}
		return &PlaybackError{Op: "wait", Err: waitErr}
	}
	return nil
}
