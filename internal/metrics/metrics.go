package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame pipeline counters
	FramesCaptured  atomic.Uint64
	FramesAnalyzed  atomic.Uint64
	FramesAnnotated atomic.Uint64
	FramesSkipped   atomic.Uint64 // analyzer busy, frame not analyzed
	NoFaceFrames    atomic.Uint64

	// Error counters
	CaptureErrors  atomic.Uint64
	AnalyzerErrors atomic.Uint64
	EncoderErrors  atomic.Uint64
	WebRTCErrors   atomic.Uint64

	// Transport
	WebRTCFramesSent    atomic.Uint64
	WebRTCFramesDropped atomic.Uint64
	MJPEGClients        atomic.Int64
	ActiveClients       atomic.Uint64
	TotalClients        atomic.Uint64

	// Recording state
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes  atomic.Uint64
	RecordingFrames atomic.Uint64

	analysisLatency prometheus.Histogram
	emotions        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analysisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moodvision_analysis_latency_seconds",
			Help:    "Round trip time of one analyzer call",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
		}),
		emotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodvision_emotions_total",
			Help: "Tallied scans by dominant emotion",
		}, []string{"emotion"}),
	}

	m.registry.MustRegister(m.analysisLatency, m.emotions)
	m.registerGauges()

	return m
}

func (m *Metrics) registerGauges() {
	gauge := func(name, help string, load func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			load,
		))
	}
	u := func(v *atomic.Uint64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}

	// Frame pipeline
	gauge("moodvision_frames_captured_total", "Total frames read from the capture source", u(&m.FramesCaptured))
	gauge("moodvision_frames_analyzed_total", "Total frames analyzed successfully", u(&m.FramesAnalyzed))
	gauge("moodvision_frames_annotated_total", "Total frames with at least one face drawn", u(&m.FramesAnnotated))
	gauge("moodvision_frames_skipped_total", "Frames not analyzed because the analyzer was busy", u(&m.FramesSkipped))
	gauge("moodvision_no_face_frames_total", "Analyzed frames without a face", u(&m.NoFaceFrames))

	// Errors
	gauge("moodvision_capture_errors_total", "Total capture read errors", u(&m.CaptureErrors))
	gauge("moodvision_analyzer_errors_total", "Total analyzer call failures", u(&m.AnalyzerErrors))
	gauge("moodvision_encoder_errors_total", "Total H.264 encoder errors", u(&m.EncoderErrors))
	gauge("moodvision_webrtc_errors_total", "Total WebRTC errors", u(&m.WebRTCErrors))

	// Clients
	gauge("moodvision_webrtc_frames_sent_total", "Total frames sent to WebRTC clients", u(&m.WebRTCFramesSent))
	gauge("moodvision_webrtc_frames_dropped_total", "Total WebRTC frames dropped", u(&m.WebRTCFramesDropped))
	gauge("moodvision_active_clients", "Number of active WebRTC clients", u(&m.ActiveClients))
	gauge("moodvision_total_clients", "Total WebRTC clients connected", u(&m.TotalClients))
	gauge("moodvision_mjpeg_clients", "Number of MJPEG stream viewers", func() float64 {
		return float64(m.MJPEGClients.Load())
	})

	// Recording
	gauge("moodvision_recording_active", "Recording active (0=inactive, 1=active)", u(&m.RecordingActive))
	gauge("moodvision_recording_bytes", "Total bytes written to recording", u(&m.RecordingBytes))
	gauge("moodvision_recording_frames", "Total frames written to recording", u(&m.RecordingFrames))
}

// ObserveAnalysis records the latency of one analyzer call.
func (m *Metrics) ObserveAnalysis(d time.Duration) {
	if m == nil {
		return
	}
	m.analysisLatency.Observe(d.Seconds())
}

// CountEmotion increments the per-emotion scan counter.
func (m *Metrics) CountEmotion(emotion string) {
	if m == nil {
		return
	}
	m.emotions.WithLabelValues(emotion).Inc()
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until the listener fails.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
