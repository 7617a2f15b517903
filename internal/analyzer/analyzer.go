// Package analyzer forwards frames to an external face/emotion analysis
// service and decodes its answer. Detection and classification stay on the
// service side; this package only moves bytes and shapes results.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sort"
	"time"

	"github.com/dj-oyu/moodvision/internal/config"
)

// ErrClosed is returned by Analyze after Close.
var ErrClosed = errors.New("analyzer closed")

// Region is the face bounding box in frame pixels.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect converts the region to an image rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Face is one analyzed face.
type Face struct {
	Region          Region             `json:"region"`
	DominantEmotion string             `json:"dominant_emotion"`
	Scores          map[string]float64 `json:"emotion,omitempty"`
	FaceConfidence  float64            `json:"face_confidence"`
}

// Analyzer turns a JPEG frame into zero or more analyzed faces.
type Analyzer interface {
	Analyze(ctx context.Context, jpeg []byte) ([]Face, error)
	Close() error
}

// New builds the backend named in cfg.
func New(cfg config.AnalyzerConfig) (Analyzer, error) {
	switch cfg.Backend {
	case config.BackendDeepFace:
		return NewDeepFace(cfg.URL, cfg.DetectorBackend, cfg.Timeout), nil
	case config.BackendWebSocket:
		return NewWebSocket(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown analyzer backend %q", cfg.Backend)
	}
}

type analyzeResponse struct {
	Results []Face `json:"results"`
}

// decodeFaces accepts both the {"results": [...]} envelope and a bare
// array, which older analyzer builds return.
func decodeFaces(body []byte) ([]Face, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty analyzer response")
	}

	var faces []Face
	if body[0] == '[' {
		if err := json.Unmarshal(body, &faces); err != nil {
			return nil, fmt.Errorf("decode analyzer results: %w", err)
		}
	} else {
		var resp analyzeResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode analyzer response: %w", err)
		}
		faces = resp.Results
	}

	for i := range faces {
		if faces[i].DominantEmotion == "" {
			faces[i].DominantEmotion = topScore(faces[i].Scores)
		}
	}
	return faces, nil
}

// topScore picks the highest scoring emotion; ties go to the
// alphabetically first name so the result is stable.
func topScore(scores map[string]float64) string {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	best := ""
	for _, name := range names {
		if best == "" || scores[name] > scores[best] {
			best = name
		}
	}
	return best
}

func deadlineOr(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if fallback <= 0 {
		return time.Time{}
	}
	return time.Now().Add(fallback)
}
