package play

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// preferredPlayers lists the external players tried in order.
var preferredPlayers = []string{"vlc", "mpv", "ffplay", "aplay"}

// processCommander plays media by running an external player, one process
// per alias.
type processCommander struct {
	player string

	mu      sync.Mutex
	entries map[string]*processEntry
}

type processEntry struct {
	path string
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func newProcessCommander(player string) *processCommander {
	return &processCommander{player: player, entries: make(map[string]*processEntry)}
}

func (c *processCommander) Open(path, alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[alias]; exists {
		return fmt.Errorf("alias %s already open", alias)
	}
	c.entries[alias] = &processEntry{path: path}
	return nil
}

func (c *processCommander) Play(alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[alias]
	if !ok {
		return fmt.Errorf("alias %s not open", alias)
	}

	player := c.player
	if player == "" {
		found, err := findAudioPlayer()
		if err != nil {
			return err
		}
		player = found
	}
	args, err := playerArgs(player, e.path)
	if err != nil {
		return err
	}

	cmd := exec.Command(player, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", player, err)
	}
	e.cmd = cmd
	e.done = make(chan struct{})
	go func() {
		e.err = cmd.Wait()
		close(e.done)
	}()
	return nil
}

func (c *processCommander) Wait(ctx context.Context, alias string) error {
	e, err := c.entry(alias)
	if err != nil {
		return err
	}
	if e.done == nil {
		return fmt.Errorf("alias %s not playing", alias)
	}

	select {
	case <-e.done:
		if e.err != nil {
			return fmt.Errorf("player exited: %w", e.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *processCommander) Stop(alias string) error {
	e, err := c.entry(alias)
	if err != nil {
		return err
	}
	if e.done == nil {
		return nil
	}
	select {
	case <-e.done:
		return nil
	default:
	}
	if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill player: %w", err)
	}
	<-e.done
	return nil
}

func (c *processCommander) Close(alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[alias]; !ok {
		return fmt.Errorf("alias %s not open", alias)
	}
	delete(c.entries, alias)
	return nil
}

func (c *processCommander) entry(alias string) (*processEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[alias]
	if !ok {
		return nil, fmt.Errorf("alias %s not open", alias)
	}
	return e, nil
}

func findAudioPlayer() (string, error) {
	for _, player := range preferredPlayers {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(preferredPlayers, ", "))
}

// playerArgs returns the arguments that make player play path once and
// exit without opening a window.
func playerArgs(player, path string) ([]string, error) {
	switch filepath.Base(player) {
	case "vlc", "cvlc":
		return []string{"--intf", "dummy", "--play-and-exit", path}, nil
	case "mpv":
		return []string{"--no-video", "--really-quiet", path}, nil
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", path}, nil
	case "aplay":
		// aplay only understands WAV and raw PCM
		if !strings.EqualFold(filepath.Ext(path), ".wav") {
			return nil, fmt.Errorf("aplay cannot play %s files", filepath.Ext(path))
		}
		return []string{"-q", path}, nil
	default:
		return []string{path}, nil
	}
}
