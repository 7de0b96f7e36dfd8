package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/quickrecorder/internal/audio"
	"github.com/audiolibrelab/quickrecorder/internal/config"
	"github.com/audiolibrelab/quickrecorder/internal/device"
	"github.com/audiolibrelab/quickrecorder/internal/play"
)

// Service represents the core QuickRecorder service interface
type Service interface {
	// Recording operations
	StartRecording() Outcome
	StopRecording() Outcome
	Status() StatusReport

	// Playback operations
	PlayLastRecord() Outcome
	StopPlayback() error
	LastRecord() (path string, ok bool)

	// Pipeline operations
	RunPipeline(steps string, untilStop func() error) error

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Information operations
	ListRecords() ([]RecordInfo, error)
	GetLastError() string

	Shutdown(ctx context.Context) error
}

// OutcomeKind classifies the result of a control command.
type OutcomeKind string

const (
	KindStarted          OutcomeKind = "started"
	KindAlreadyRecording OutcomeKind = "already-recording"
	KindStoppedAndSaved  OutcomeKind = "stopped-and-saved"
	KindStoppedNoData    OutcomeKind = "stopped-no-data"
	KindNotRecording     OutcomeKind = "no-recording-in-progress"
	KindNoLastRecord     OutcomeKind = "no-last-record"
	KindNotYetAvailable  OutcomeKind = "not-yet-available"
	KindFileMissing      OutcomeKind = "file-missing"
	KindPlaying          OutcomeKind = "playing"
	KindFailed           OutcomeKind = "failed"
)

// Outcome is what a control command reports back to the user.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Message string      `json:"message"`
	Path    string      `json:"path,omitempty"`

	Err      error          `json:"-"`
	Playback *play.Playback `json:"-"`
}

// OK reports whether the command did what was asked.
func (o Outcome) OK() bool {
	switch o.Kind {
	case KindStarted, KindStoppedAndSaved, KindStoppedNoData, KindPlaying:
		return true
	}
	return false
}

func outcome(kind OutcomeKind, path string, err error) Outcome {
	o := Outcome{Kind: kind, Message: messages[kind], Path: path, Err: err}
	if err != nil && kind == KindFailed {
		o.Message = fmt.Sprintf("%s: %v", o.Message, err)
	}
	return o
}

var messages = map[OutcomeKind]string{
	KindStarted:          "Recording",
	KindAlreadyRecording: "Already recording",
	KindStoppedAndSaved:  "Recording stopped",
	KindStoppedNoData:    "Recording stopped; no record saved.",
	KindNotRecording:     "No recording in progress",
	KindNoLastRecord:     "No last record",
	KindNotYetAvailable:  "Recording not yet available",
	KindFileMissing:      "Record file not found",
	KindPlaying:          "Playing last record",
	KindFailed:           "Operation failed",
}

// StatusReport is the externally visible state of the service.
type StatusReport struct {
	State     audio.Status       `json:"state"`
	Session   *audio.SessionInfo `json:"session,omitempty"`
	Playing   bool               `json:"playing"`
	Profile   string             `json:"profile,omitempty"`
	LastError string             `json:"last_error,omitempty"`
}

// RecordInfo describes one record file in the records directory
type RecordInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	IsLast       bool      `json:"is_last"`
}

// Playback event types published next to the recorder's own events.
const (
	EventPlaybackStarted  audio.EventType = "playback_started"
	EventPlaybackFinished audio.EventType = "playback_finished"
)

// RecorderFactory builds a fresh recorder for each take.
type RecorderFactory func(cfg *config.Config, observer audio.Observer) (audio.Recorder, error)

// Player starts playback of a file.
type Player interface {
	Play(path string) (*play.Playback, error)
}

type Option func(*QuickRecorderService)

// WithRecorderFactory replaces the device-backed recorder.
func WithRecorderFactory(f RecorderFactory) Option {
	return func(s *QuickRecorderService) { s.newRecorder = f }
}

// WithPlayer replaces the configured player.
func WithPlayer(p Player) Option {
	return func(s *QuickRecorderService) { s.player = p }
}

// WithObserver receives recorder and playback events.
func WithObserver(o audio.Observer) Option {
	return func(s *QuickRecorderService) { s.observer = o }
}

// QuickRecorderService is the main service implementation
type QuickRecorderService struct {
	cfg         *config.Config
	configFile  string
	newRecorder RecorderFactory
	player      Player
	observer    audio.Observer

	// mu serializes control commands. It is never held across a blocking
	// recorder Stop; stopping marks that window instead.
	mu       sync.Mutex
	recorder audio.Recorder
	playback *play.Playback
	stopping bool

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new QuickRecorder service instance
func New(cfg *config.Config, configFile string, opts ...Option) Service {
	s := &QuickRecorderService{
		cfg:         cfg,
		configFile:  configFile,
		newRecorder: defaultRecorderFactory,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.player == nil {
		s.player = defaultPlayer(cfg)
	}
	return s
}

func defaultRecorderFactory(cfg *config.Config, observer audio.Observer) (audio.Recorder, error) {
	return audio.NewRecorder(cfg, observer)
}

func defaultPlayer(cfg *config.Config) Player {
	opener, err := device.New(cfg.Audio.Backend)
	if err != nil {
		slog.Warn("No audio backend for playback, using native player", "error", err)
		opener = nil
	}
	return play.New(cfg, opener)
}

// StartRecording begins a new record unless one is already running.
func (s *QuickRecorderService) StartRecording() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.Debug("Service.StartRecording called")
	if s.stopping {
		return outcome(KindAlreadyRecording, "", audio.ErrAlreadyRecording)
	}
	if s.recorder != nil {
		if state, _ := s.recorder.Status(); state != audio.StatusIdle {
			return outcome(KindAlreadyRecording, "", audio.ErrAlreadyRecording)
		}
	}

	rec, err := s.newRecorder(s.cfg, s.observer)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return outcome(KindFailed, "", err)
	}
	if err := rec.Start(); err != nil {
		if errors.Is(err, audio.ErrAlreadyRecording) {
			return outcome(KindAlreadyRecording, "", err)
		}
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return outcome(KindFailed, "", err)
	}

	// The previous take stays the last record until this one starts.
	s.recorder = rec
	s.clearLastError()
	_, info := rec.Status()
	return outcome(KindStarted, info.Path, nil)
}

// StopRecording ends the current take and reports whether it was saved.
func (s *QuickRecorderService) StopRecording() Outcome {
	s.mu.Lock()
	rec := s.recorder
	if rec == nil || s.stopping {
		s.mu.Unlock()
		return outcome(KindNotRecording, "", audio.ErrNotRecording)
	}
	s.stopping = true
	s.mu.Unlock()

	saved, err := rec.Stop()
	_, info := rec.Status()

	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()

	switch {
	case errors.Is(err, audio.ErrNotRecording):
		return outcome(KindNotRecording, "", err)
	case err != nil:
		s.setLastError(fmt.Sprintf("Recording stopped with errors: %v", err))
	default:
		s.clearLastError()
	}

	if saved {
		return outcome(KindStoppedAndSaved, info.Path, err)
	}
	return outcome(KindStoppedNoData, "", err)
}

// PlayLastRecord plays the most recent completed take.
func (s *QuickRecorderService) PlayLastRecord() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recorder == nil {
		return outcome(KindNoLastRecord, "", nil)
	}
	state, info := s.recorder.Status()
	if s.stopping || state != audio.StatusIdle || !info.Complete {
		return outcome(KindNotYetAvailable, info.Path, nil)
	}
	if info.Path == "" {
		return outcome(KindFileMissing, "", play.ErrFileNotFound)
	}
	if _, err := os.Stat(info.Path); err != nil {
		return outcome(KindFileMissing, info.Path, play.ErrFileNotFound)
	}

	if s.playback != nil {
		if err := s.playback.Stop(); err != nil {
			slog.Warn("Previous playback ended with error", "error", err)
		}
	}

	pb, err := s.player.Play(info.Path)
	if err != nil {
		if errors.Is(err, play.ErrFileNotFound) {
			return outcome(KindFileMissing, info.Path, err)
		}
		s.setLastError(fmt.Sprintf("Failed to play record: %v", err))
		return outcome(KindFailed, info.Path, err)
	}
	s.playback = pb
	s.emit(audio.Event{Type: EventPlaybackStarted, Path: info.Path})
	go s.watchPlayback(pb)

	o := outcome(KindPlaying, info.Path, nil)
	o.Playback = pb
	return o
}

func (s *QuickRecorderService) watchPlayback(pb *play.Playback) {
	err := pb.Wait()
	ev := audio.Event{Type: EventPlaybackFinished, Path: pb.Path}
	if err != nil {
		s.setLastError(fmt.Sprintf("Playback failed: %v", err))
		ev.Error = err.Error()
	}
	s.emit(ev)
}

// StopPlayback interrupts the current playback, if any.
func (s *QuickRecorderService) StopPlayback() error {
	s.mu.Lock()
	pb := s.playback
	s.mu.Unlock()

	if pb == nil {
		return nil
	}
	return pb.Stop()
}

// LastRecord returns the path of the last completed take.
func (s *QuickRecorderService) LastRecord() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recorder == nil {
		return "", false
	}
	state, info := s.recorder.Status()
	if state != audio.StatusIdle || !info.Complete || info.BytesWritten == 0 {
		return "", false
	}
	return info.Path, true
}

// Status returns the recorder state and the current or last session.
func (s *QuickRecorderService) Status() StatusReport {
	s.mu.Lock()
	rec, pb := s.recorder, s.playback
	s.mu.Unlock()

	report := StatusReport{State: audio.StatusIdle, LastError: s.GetLastError()}
	if s.cfg.Inheritance != nil {
		report.Profile = s.cfg.Inheritance.Profile
	}
	if rec != nil {
		state, info := rec.Status()
		report.State = state
		report.Session = &info
	}
	if pb != nil {
		select {
		case <-pb.Done():
		default:
			report.Playing = true
		}
	}
	return report
}

// RunPipeline executes a sequence of operations (r=record, p=play).
// untilStop blocks for the duration of a take.
func (s *QuickRecorderService) RunPipeline(steps string, untilStop func() error) error {
	for _, step := range steps {
		switch step {
		case 'r':
			if o := s.StartRecording(); !o.OK() {
				return fmt.Errorf("pipeline record failed: %s", o.Message)
			}
			waitErr := untilStop()
			o := s.StopRecording()
			if waitErr != nil {
				return fmt.Errorf("pipeline record interrupted: %w", waitErr)
			}
			if !o.OK() {
				return fmt.Errorf("pipeline stop failed: %s", o.Message)
			}
			if o.Err != nil {
				slog.Warn("Recording stopped with errors", "error", o.Err)
			}
		case 'p':
			o := s.PlayLastRecord()
			if !o.OK() {
				return fmt.Errorf("pipeline play failed: %s", o.Message)
			}
			if err := o.Playback.Wait(); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}
	return nil
}

// LoadProfile loads a new configuration profile
func (s *QuickRecorderService) LoadProfile(profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return fmt.Errorf("cannot switch profile while recording")
	}
	if s.recorder != nil {
		if state, _ := s.recorder.Status(); state != audio.StatusIdle {
			return fmt.Errorf("cannot switch profile while recording")
		}
	}

	newCfg, err := config.Load(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}
	s.cfg = newCfg
	s.player = defaultPlayer(newCfg)
	return nil
}

func (s *QuickRecorderService) GetConfig() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ListRecords returns the records in the records directory, newest first.
func (s *QuickRecorderService) ListRecords() ([]RecordInfo, error) {
	cfg := s.GetConfig()
	dir := cfg.Output.Directory
	ext := "." + strings.TrimPrefix(cfg.Output.Format, ".")
	last, _ := s.LastRecord()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RecordInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read records directory: %w", err)
	}

	records := []RecordInfo{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		records = append(records, RecordInfo{
			Name:         entry.Name(),
			Path:         path,
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			IsLast:       path == last,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ModTime.After(records[j].ModTime)
	})
	return records, nil
}

// Shutdown stops playback and any running take, bounded by ctx. A stop
// already in progress is waited for under the same bound.
func (s *QuickRecorderService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	rec, pb := s.recorder, s.playback
	s.mu.Unlock()

	var errs []error
	if pb != nil {
		if err := pb.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if rec != nil {
		if err := rec.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *QuickRecorderService) emit(ev audio.Event) {
	if s.observer == nil {
		return
	}
	ev.Time = time.Now()
	s.observer(ev)
}

// GetLastError returns the last error message (thread-safe)
func (s *QuickRecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *QuickRecorderService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *QuickRecorderService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
