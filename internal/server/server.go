package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/quickrecorder/internal/audio"
	"github.com/audiolibrelab/quickrecorder/internal/config"
	"github.com/audiolibrelab/quickrecorder/internal/service"
)

// Server exposes the recorder controls over HTTP and streams events over
// a websocket.
type Server struct {
	service    service.Service
	hub        *Hub
	configFile string
	port       int

	httpServer *http.Server
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	service.StatusReport
	Message string `json:"message,omitempty"`
	Clients int    `json:"clients"`
}

// OutcomeResponse is returned by the control endpoints.
type OutcomeResponse struct {
	Success bool                `json:"success"`
	Kind    service.OutcomeKind `json:"kind"`
	Message string              `json:"message"`
	Path    string              `json:"path,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// RecordsResponse lists the files in the records directory.
type RecordsResponse struct {
	Records   []service.RecordInfo `json:"records"`
	Directory string               `json:"directory"`
	Count     int                  `json:"count"`
}

// New creates a new web server instance. hub must be the observer the
// service was built with for events to reach websocket clients.
func New(svc service.Service, hub *Hub, configFile string, port int) *Server {
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{
		service:    svc,
		hub:        hub,
		configFile: configFile,
		port:       port,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes served by the control server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/play", s.handlePlay)
	mux.HandleFunc("/api/play/stop", s.handleStopPlayback)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/records", s.handleRecords)
	mux.HandleFunc("/api/records/latest", s.handleLatestRecord)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/config/select", s.handleSelectProfile)
	mux.Handle("/ws", s.hub)
	return mux
}

// Start begins listening and serving HTTP requests on the configured port.
// It returns when the server stops; a graceful Shutdown yields nil.
func (s *Server) Start() error {
	localIP := getLocalIP()
	slog.Info("Starting QuickRecorder control server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%d", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%d", s.port))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, disconnects websocket clients and
// stops any running recording.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.hub.Close()
	if err := s.service.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>QuickRecorder</title>
</head>
<body>
    <h1>QuickRecorder</h1>
    <button onclick="fetch('/api/start', {method: 'POST'}).then(show)">Record</button>
    <button onclick="fetch('/api/stop', {method: 'POST'}).then(show)">Stop</button>
    <button onclick="fetch('/api/play', {method: 'POST'}).then(show)">Play last record</button>
    <p id="message" role="status"></p>
    <pre id="events"></pre>
    <script>
        function show(resp) { resp.json().then(function (o) { document.getElementById('message').textContent = o.message; }); }
        var ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
        ws.onmessage = function (m) { document.getElementById('events').textContent = m.data + '\n' + document.getElementById('events').textContent; };
    </script>
</body>
</html>`

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.sendOutcome(w, s.service.StartRecording())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.sendOutcome(w, s.service.StopRecording())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	s.sendOutcome(w, s.service.PlayLastRecord())
}

func (s *Server) handleStopPlayback(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.StopPlayback(); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Playback ended with error: %v", err),
			"operation", "stop_playback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Playback stopped",
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	report := s.service.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		StatusReport: report,
		Message:      generateStatusMessage(report),
		Clients:      s.hub.Clients(),
	})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	records, err := s.service.ListRecords()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list records: %v", err),
			"operation", "list_records")
		return
	}
	writeJSON(w, http.StatusOK, RecordsResponse{
		Records:   records,
		Directory: s.service.GetConfig().Output.Directory,
		Count:     len(records),
	})
}

// handleLatestRecord streams the last completed record of this process.
func (s *Server) handleLatestRecord(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	path, ok := s.service.LastRecord()
	if !ok {
		s.sendErrorResponse(w, http.StatusNotFound, "No last record")
		return
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.sendErrorResponse(w, http.StatusNotFound, "Record file not found", "path", path)
		} else {
			s.sendErrorResponse(w, http.StatusInternalServerError, "Error opening file", "path", path, "error", err)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Error accessing file", "path", path, "error", err)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))

	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), file)
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	active := ""
	if inh := s.service.GetConfig().Inheritance; inh != nil {
		active = inh.Profile
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": s.getAvailableProfiles(),
		"active":   active,
	})
}

func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	profile := r.FormValue("profile")
	slog.Debug("Profile selection request", "profile", profile)
	if profile == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Profile name required")
		return
	}

	if err := s.service.LoadProfile(profile); err != nil {
		s.sendErrorResponse(w, http.StatusConflict, err.Error(), "profile", profile, "operation", "profile_selection")
		return
	}
	if s.configFile != "" {
		if err := config.UpdateActiveConfig(s.configFile, profile); err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to save profile selection to config file: %v", err))
			return
		}
	}

	slog.Info("Profile changed", "profile", profile)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Profile changed to %s", profile),
		"profile": profile,
	})
}

func (s *Server) getAvailableProfiles() []string {
	profiles := []string{}
	if s.configFile == "" {
		return profiles
	}
	if _, err := os.Stat(s.configFile); err != nil {
		return profiles
	}

	// Create a new viper instance to avoid interfering with global config
	v := viper.New()
	v.SetConfigFile(s.configFile)
	if err := v.ReadInConfig(); err != nil {
		slog.Debug("Failed to read config file for profiles", "error", err)
		return profiles
	}
	var rootConfig config.RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		slog.Debug("Failed to unmarshal config for profiles", "error", err)
		return profiles
	}
	for name := range rootConfig.Configs {
		profiles = append(profiles, name)
	}
	sort.Strings(profiles)
	return profiles
}

// sendOutcome maps a command outcome onto an HTTP status.
func (s *Server) sendOutcome(w http.ResponseWriter, o service.Outcome) {
	resp := OutcomeResponse{
		Success: o.OK(),
		Kind:    o.Kind,
		Message: o.Message,
		Path:    o.Path,
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}

	status := http.StatusOK
	switch o.Kind {
	case service.KindAlreadyRecording, service.KindNotRecording, service.KindNotYetAvailable:
		status = http.StatusConflict
	case service.KindNoLastRecord, service.KindFileMissing:
		status = http.StatusNotFound
	case service.KindFailed:
		status = http.StatusInternalServerError
		slog.Error("Command failed", "kind", o.Kind, "error", o.Err)
	}
	writeJSON(w, status, resp)
}

// generateStatusMessage creates appropriate status messages based on current state
func generateStatusMessage(report service.StatusReport) string {
	switch {
	case report.Session != nil && report.State != audio.StatusIdle:
		return fmt.Sprintf("Recording in progress - %s", filepath.Base(report.Session.Path))
	case report.Playing:
		return "Playing last record"
	case report.LastError != "":
		return report.LastError
	default:
		return ""
	}
}

// requireMethod rejects other methods, and cross-origin browser requests on
// anything but GET.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
			"success": false,
			"error":   "Method not allowed",
		})
		return false
	}
	if method != http.MethodGet && !checkOrigin(r) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"success": false,
			"error":   "Cross-origin request rejected",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
