package recorder

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/moodvision/internal/metrics"
	"github.com/dj-oyu/moodvision/pkg/types"
)

var (
	sps   = []byte{0, 0, 0, 1, 0x67, 0x42}
	pps   = []byte{0, 0, 0, 1, 0x68, 0xCE}
	idr   = []byte{0, 0, 0, 1, 0x65, 0x88}
	slice = []byte{0, 0, 0, 1, 0x41, 0x9A}
)

func waitFrames(t *testing.T, r *Recorder, n uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.GetStatus().FrameCount < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d frames, have %d", n, r.GetStatus().FrameCount)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecordingPrependsHeadersToFirstIDR(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	m := metrics.New()
	r := NewRecorder(dir, m)
	r.UpdateHeaders(sps, pps)

	status, err := r.Start()
	if err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if !status.Recording || !strings.HasPrefix(status.Filename, "recording_") || !strings.HasSuffix(status.Filename, ".h264") {
		t.Fatalf("status = %+v", status)
	}
	if m.RecordingActive.Load() != 1 {
		t.Fatal("recording gauge not set")
	}

	if r.SendFrame(&types.H264Frame{Data: slice}) != true {
		t.Fatal("SendFrame rejected while recording")
	}
	r.SendFrame(&types.H264Frame{Data: idr, IsIDR: true})
	r.SendFrame(&types.H264Frame{Data: slice})
	waitFrames(t, r, 2)

	final, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if final.FrameCount != 2 {
		t.Fatalf("frame count = %d, want 2 (leading slice skipped)", final.FrameCount)
	}

	got, err := os.ReadFile(filepath.Join(dir, final.Filename))
	if err != nil {
		t.Fatal(err)
	}
	want := bytes.Join([][]byte{sps, pps, idr, slice}, nil)
	if !bytes.Equal(got, want) {
		t.Fatalf("file = %x, want %x", got, want)
	}
	if m.RecordingActive.Load() != 0 || m.RecordingFrames.Load() != 2 {
		t.Fatalf("metrics active=%d frames=%d", m.RecordingActive.Load(), m.RecordingFrames.Load())
	}
}

func TestStartStopErrors(t *testing.T) {
	r := NewRecorder(t.TempDir(), nil)

	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop() before Start = %v", err)
	}
	if _, err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Start(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start() = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if r.IsRecording() {
		t.Fatal("still recording after Close")
	}
	if r.SendFrame(&types.H264Frame{Data: idr, IsIDR: true}) {
		t.Fatal("SendFrame accepted while stopped")
	}
}

func TestStartAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, nil)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	r.now = func() time.Time { return fixed }

	first, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	r.Stop()
	second, err := r.Start()
	if err != nil {
		t.Fatal(err)
	}
	r.Stop()

	if first.Filename == second.Filename {
		t.Fatalf("both recordings named %s", first.Filename)
	}
}

func TestStatusJSON(t *testing.T) {
	body, err := json.Marshal(RecordingStatus{Recording: true, Filename: "x.h264", Duration: 1500 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatal(err)
	}
	if m["duration_ms"] != float64(1500) || m["recording"] != true || m["filename"] != "x.h264" {
		t.Fatalf("json = %s", body)
	}
}
