package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// DeepFace talks to the DeepFace REST service (POST /analyze).
type DeepFace struct {
	baseURL  string
	detector string
	client   *http.Client
	closed   atomic.Bool
}

type deepFaceRequest struct {
	Img              string   `json:"img"`
	Actions          []string `json:"actions"`
	EnforceDetection bool     `json:"enforce_detection"`
	DetectorBackend  string   `json:"detector_backend,omitempty"`
	Silent           bool     `json:"silent"`
}

// NewDeepFace returns a client for the service at baseURL.
func NewDeepFace(baseURL, detector string, timeout time.Duration) *DeepFace {
	return &DeepFace{
		baseURL:  strings.TrimRight(baseURL, "/"),
		detector: detector,
		client:   &http.Client{Timeout: timeout},
	}
}

// Analyze sends one JPEG frame for emotion analysis. Face detection is not
// enforced, so a frame without faces yields an empty result, not an error.
func (d *DeepFace) Analyze(ctx context.Context, jpeg []byte) ([]Face, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	payload, err := json.Marshal(deepFaceRequest{
		Img:              "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
		Actions:          []string{"emotion"},
		EnforceDetection: false,
		DetectorBackend:  d.detector,
		Silent:           true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read analyze response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analyzer returned %d: %s", resp.StatusCode, excerpt(body))
	}

	return decodeFaces(body)
}

// Close marks the client closed and drops idle connections.
func (d *DeepFace) Close() error {
	d.closed.Store(true)
	d.client.CloseIdleConnections()
	return nil
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
