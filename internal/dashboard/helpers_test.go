package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/moodvision/internal/metrics"
	"github.com/dj-oyu/moodvision/internal/mood"
	"github.com/dj-oyu/moodvision/internal/pipeline"
)

const defaultRequestTimeout = 2 * time.Second

type fixedStats pipeline.Stats

func (f fixedStats) Stats() pipeline.Stats { return pipeline.Stats(f) }

type testServer struct {
	*httptest.Server
	dash    *Server
	tally   *mood.Tally
	metrics *metrics.Metrics
	client  *http.Client
}

func newTestServer(t *testing.T, opts Options, deps Deps) *testServer {
	t.Helper()
	if deps.Tally == nil {
		deps.Tally = mood.NewTally()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if opts.StatusInterval == 0 {
		opts.StatusInterval = 50 * time.Millisecond
	}

	dash, err := NewServer(opts, deps)
	if err != nil {
		t.Fatalf("NewServer() = %v", err)
	}
	srv := httptest.NewServer(dash.Handler())
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		dash.Close()
	})

	return &testServer{
		Server:  srv,
		dash:    dash,
		tally:   deps.Tally,
		metrics: deps.Metrics,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.client.Get(s.URL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (s *testServer) post(t *testing.T, path string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.client.Post(s.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func readSSEEvent(url, accept string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return payload
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	counts := requireMap(t, payload["counts"], "counts")
	order := requireSlice(t, payload["order"], "order")
	if len(order) != len(mood.All()) {
		t.Fatalf("order has %d entries, want %d", len(order), len(mood.All()))
	}
	for i, raw := range order {
		name := requireString(t, raw, fmt.Sprintf("order[%d]", i))
		requireNumber(t, counts[name], "counts."+name)
	}
	requireNumber(t, payload["total_scans"], "total_scans")
	requireString(t, payload["dominant"], "dominant")
	requireString(t, payload["vibe"], "vibe")
	requireNumber(t, payload["timestamp"], "timestamp")

	clients := requireMap(t, payload["clients"], "clients")
	requireNumber(t, clients["mjpeg"], "clients.mjpeg")
	requireNumber(t, clients["webrtc"], "clients.webrtc")
}
