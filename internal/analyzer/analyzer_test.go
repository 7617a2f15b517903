package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/moodvision/internal/config"
	"github.com/gorilla/websocket"
)

const sampleResults = `{"results": [
	{"region": {"x": 10, "y": 20, "w": 100, "h": 120},
	 "dominant_emotion": "happy",
	 "emotion": {"happy": 91.2, "neutral": 6.1, "sad": 2.7},
	 "face_confidence": 0.93},
	{"region": {"x": 300, "y": 40, "w": 80, "h": 90},
	 "emotion": {"angry": 10, "fear": 70, "sad": 20}}
]}`

func TestDecodeFaces(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantFaces int
		wantErr   bool
	}{
		{name: "envelope", body: sampleResults, wantFaces: 2},
		{name: "bare array", body: `[{"region": {"x": 1, "y": 2, "w": 3, "h": 4}, "dominant_emotion": "sad"}]`, wantFaces: 1},
		{name: "no faces", body: `{"results": []}`, wantFaces: 0},
		{name: "empty body", body: "  ", wantErr: true},
		{name: "garbage", body: "<html>", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			faces, err := decodeFaces([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeFaces() err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(faces) != tt.wantFaces {
				t.Fatalf("len(faces) = %d, want %d", len(faces), tt.wantFaces)
			}
		})
	}
}

func TestDecodeFacesFillsDominantFromScores(t *testing.T) {
	faces, err := decodeFaces([]byte(sampleResults))
	if err != nil {
		t.Fatal(err)
	}
	if faces[1].DominantEmotion != "fear" {
		t.Fatalf("dominant = %q, want fear", faces[1].DominantEmotion)
	}
	if got := faces[0].Region.Rect(); got.Min.X != 10 || got.Max.Y != 140 {
		t.Fatalf("Rect() = %v", got)
	}
}

func TestDeepFaceAnalyze(t *testing.T) {
	var got deepFaceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, sampleResults)
	}))
	defer srv.Close()

	df := NewDeepFace(srv.URL+"/", "retinaface", 2*time.Second)
	faces, err := df.Analyze(context.Background(), []byte{0xff, 0xd8, 0xff})
	if err != nil {
		t.Fatalf("Analyze() = %v", err)
	}
	if len(faces) != 2 || faces[0].DominantEmotion != "happy" {
		t.Fatalf("faces = %+v", faces)
	}

	if !strings.HasPrefix(got.Img, "data:image/jpeg;base64,") {
		t.Errorf("img = %q, want data URI", got.Img)
	}
	if got.EnforceDetection {
		t.Error("enforce_detection = true, want false")
	}
	if len(got.Actions) != 1 || got.Actions[0] != "emotion" {
		t.Errorf("actions = %v", got.Actions)
	}
	if got.DetectorBackend != "retinaface" {
		t.Errorf("detector_backend = %q", got.DetectorBackend)
	}
}

func TestDeepFaceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewDeepFace(srv.URL, "", time.Second).Analyze(context.Background(), []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("Analyze() err = %v, want 503", err)
	}
}

func TestDeepFaceClosed(t *testing.T) {
	df := NewDeepFace("http://127.0.0.1:1", "", time.Second)
	df.Close()
	if _, err := df.Analyze(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Analyze() after Close = %v, want ErrClosed", err)
	}
}

func TestWebSocketAnalyze(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan int, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.BinaryMessage {
				return
			}
			received <- len(msg)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(sampleResults)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewWebSocket(wsURL, 2*time.Second)
	defer client.Close()

	for i := range 2 {
		faces, err := client.Analyze(context.Background(), []byte("jpeg-bytes"))
		if err != nil {
			t.Fatalf("Analyze() #%d = %v", i, err)
		}
		if len(faces) != 2 {
			t.Fatalf("len(faces) = %d", len(faces))
		}
		if n := <-received; n != len("jpeg-bytes") {
			t.Fatalf("server got %d bytes", n)
		}
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	client := NewWebSocket("ws://127.0.0.1:1/ws", 200*time.Millisecond)
	if _, err := client.Analyze(context.Background(), []byte("x")); err == nil {
		t.Fatal("Analyze() = nil error for unreachable analyzer")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default().Analyzer
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.(*DeepFace); !ok {
		t.Fatalf("New(deepface) = %T", a)
	}

	cfg.Backend = config.BackendWebSocket
	a, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := a.(*WebSocket); !ok {
		t.Fatalf("New(websocket) = %T", a)
	}

	cfg.Backend = "rekognition"
	if _, err := New(cfg); err == nil {
		t.Fatal("New(unknown) = nil error")
	}
}
