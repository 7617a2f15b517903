package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.FramesCaptured.Add(3)
	m.MJPEGClients.Add(2)
	m.CountEmotion("happy")
	m.CountEmotion("happy")
	m.ObserveAnalysis(120 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"moodvision_frames_captured_total 3",
		"moodvision_mjpeg_clients 2",
		`moodvision_emotions_total{emotion="happy"} 2`,
		"moodvision_analysis_latency_seconds_count 1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.CountEmotion("sad")
	m.ObserveAnalysis(time.Second)
}
