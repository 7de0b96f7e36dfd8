package play

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Playback is the handle of one running playback.
type Playback struct {
	Path string

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func start(path string, logger *slog.Logger, run func(ctx context.Context) error) *Playback {
	ctx, cancel := context.WithCancel(context.Background())
	pb := &Playback{Path: path, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(pb.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				err := &PlaybackError{Op: "run", Err: fmt.Errorf("panic: %v", r)}
				logger.Error("Playback crashed", "path", path, "error", err)
				pb.setErr(err)
			}
		}()

		err := run(ctx)
		switch {
		case err == nil:
			logger.Debug("Playback completed", "path", path)
		case errors.Is(err, context.Canceled):
			logger.Debug("Playback stopped", "path", path)
			err = nil
		default:
			logger.Error("Playback failed", "path", path, "error", err)
		}
		pb.setErr(err)
	}()
	return pb
}

func (pb *Playback) setErr(err error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.err = err
}

// Done is closed when playback has ended.
func (pb *Playback) Done() <-chan struct{} { return pb.done }

// Err returns the playback failure, or nil. It is only meaningful after
// Done is closed.
func (pb *Playback) Err() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.err
}

// Wait blocks until playback ends.
func (pb *Playback) Wait() error {
	<-pb.done
	return pb.Err()
}

// Stop interrupts playback and waits for it to wind down.
func (pb *Playback) Stop() error {
	pb.cancel()
	return pb.Wait()
}
