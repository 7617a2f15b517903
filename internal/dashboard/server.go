// Package dashboard serves the MoodVision web dashboard: the page, its
// assets, the annotated video feeds and the status/reset/recording API.
package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/moodvision/internal/logger"
	"github.com/dj-oyu/moodvision/internal/metrics"
	"github.com/dj-oyu/moodvision/internal/mood"
	"github.com/dj-oyu/moodvision/internal/pipeline"
	"github.com/dj-oyu/moodvision/internal/recorder"
	"github.com/dj-oyu/moodvision/internal/webrtc"
)

const maxOfferBytes = 1 << 20

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	GetClientCount() int
}

// Recorder controls H.264 recording.
type Recorder interface {
	Start() (recorder.RecordingStatus, error)
	Stop() (recorder.RecordingStatus, error)
	GetStatus() recorder.RecordingStatus
}

// Options configures the dashboard.
type Options struct {
	AssetsDir      string
	StatusInterval time.Duration
	JPEGQuality    int
	FrameWidth     int
	FrameHeight    int
}

// Deps are the components the dashboard reads from. Tally is required;
// the rest may be nil and their endpoints then report 503.
type Deps struct {
	Tally    *mood.Tally
	Stats    StatsProvider
	WebRTC   OfferHandler
	Recorder Recorder
	Metrics  *metrics.Metrics
}

// Server serves the dashboard endpoints.
type Server struct {
	opts    Options
	deps    Deps
	frames  *FrameBroadcaster
	status  *StatusBroadcaster
	blank   []byte
	assets  *assetHandler
	log     logger.Module
	now     func() time.Time
	started time.Time
}

// NewServer returns a dashboard with its broadcasters running.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Tally == nil {
		return nil, errors.New("dashboard: tally is required")
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 80
	}
	if opts.FrameWidth <= 0 || opts.FrameHeight <= 0 {
		opts.FrameWidth, opts.FrameHeight = 640, 480
	}

	blank, err := blankJPEG(opts.FrameWidth, opts.FrameHeight)
	if err != nil {
		return nil, fmt.Errorf("dashboard: render blank frame: %w", err)
	}

	s := &Server{
		opts:   opts,
		deps:   deps,
		frames: NewFrameBroadcaster(opts.JPEGQuality, deps.Metrics),
		blank:  blank,
		assets: newAssetHandler(opts.AssetsDir),
		log:    logger.For("Dashboard"),
		now:    time.Now,
	}
	s.started = s.now()
	s.status = NewStatusBroadcaster(s.currentStatus, opts.StatusInterval)

	s.frames.Start()
	s.status.Start()
	return s, nil
}

// FrameSink returns the sink that feeds the MJPEG stream.
func (s *Server) FrameSink() pipeline.Sink {
	return s.frames
}

// Close stops the broadcasters. Open streams end when their requests do.
func (s *Server) Close() {
	s.frames.Stop()
	s.status.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", s.assets))
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/chart.png", s.handleChart)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	mux.HandleFunc("/offer", s.handleWebRTCOffer)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

func (s *Server) currentStatus() Status {
	clients := ClientStats{MJPEG: s.frames.ClientCount()}
	if s.deps.WebRTC != nil {
		clients.WebRTC = s.deps.WebRTC.GetClientCount()
	}
	return buildStatus(s.deps.Tally.Snapshot(), s.deps.Stats, clients, s.now())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.blank)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.currentStatus())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	initial, err := serializeStatus(s.currentStatus())
	if err != nil {
		s.log.Warn("Initial status event: %v", err)
		initial = nil
	}
	streamStatusEventsFromChannel(w, r, eventCh, initial, useProtobuf)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.deps.Tally.Reset()
	s.status.Publish()
	s.log.Info("Tally reset")
	writeJSON(w, s.currentStatus())
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	data, err := renderChart(s.deps.Tally.Snapshot())
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	switch {
	case errors.Is(err, webrtc.ErrTooManyClients):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	case err != nil:
		s.log.Warn("Offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is disabled"}, http.StatusServiceUnavailable)
		return
	}

	status, err := s.deps.Recorder.Start()
	switch {
	case errors.Is(err, recorder.ErrAlreadyRecording):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
	case err != nil:
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
	default:
		writeJSON(w, status)
	}
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is disabled"}, http.StatusServiceUnavailable)
		return
	}

	status, err := s.deps.Recorder.Stop()
	switch {
	case errors.Is(err, recorder.ErrNotRecording):
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
	case err != nil:
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
	default:
		writeJSON(w, status)
	}
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is disabled"}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.deps.Recorder.GetStatus())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":         "ok",
		"uptime_seconds": s.now().Sub(s.started).Seconds(),
	}
	if s.deps.Stats != nil {
		payload["pipeline_running"] = s.deps.Stats.Stats().Running
	}
	writeJSON(w, payload)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
