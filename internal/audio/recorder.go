package audio

import (
	"context"
	"errors"
	"time"
)

// Status represents the current state of the recorder
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRecording Status = "RECORDING"
	StatusStopping  Status = "STOPPING"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	// ErrSessionComplete is returned when Start is called on a session that
	// already produced a record. Each record gets a fresh session.
	ErrSessionComplete = errors.New("session already completed")
)

// SessionInfo contains information about the current or last recording
type SessionInfo struct {
	Path           string    `json:"path,omitempty"`
	StartTime      time.Time `json:"start_time,omitempty"`
	FramesCaptured int64     `json:"frames_captured"`
	Flushes        int64     `json:"flushes"`
	BytesWritten   int64     `json:"bytes_written"`
	Complete       bool      `json:"complete"`
	LastError      string    `json:"last_error,omitempty"`
}

// Recorder defines the interface that all audio recorders must implement
type Recorder interface {
	Start() error
	// Stop ends the recording and reports whether anything was saved.
	Stop() (bool, error)
	// Shutdown stops an active recording, giving up when ctx ends.
	Shutdown(ctx context.Context) error

	// Status and information
	Status() (Status, SessionInfo)
}

type EventType string

const (
	EventStarted EventType = "started"
	EventFlushed EventType = "flushed"
	EventStopped EventType = "stopped"
	EventError   EventType = "error"
)

// Event is published to an Observer as the session progresses.
type Event struct {
	Type  EventType `json:"type"`
	Time  time.Time `json:"time"`
	Path  string    `json:"path,omitempty"`
	Bytes int64     `json:"bytes,omitempty"`
	Saved bool      `json:"saved,omitempty"`
	Error string    `json:"error,omitempty"`
}

// Observer receives session events. It is called synchronously from the
// control or capture goroutine and must not block or call back into the
// session.
type Observer func(Event)
