package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Capture.Width = 0
	cfg.Capture.Source = "rtsp"
	cfg.Analyzer.Backend = "rekognition"
	cfg.LabelMode = "shout"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"frame size", "capture source", "analyzer backend", "label mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoadFileMissingIsIgnored(t *testing.T) {
	cfg := Default()
	if err := LoadFile(filepath.Join(t.TempDir(), "absent.json"), &cfg); err != nil {
		t.Fatalf("LoadFile() = %v", err)
	}
	if cfg.HTTPAddr != Default().HTTPAddr {
		t.Fatalf("config changed by missing file")
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moodvision.json")
	body := `{"http_addr": ":9000", "capture": {"fps": 15}, "analyzer": {"backend": "websocket", "url": "ws://analyzer:8765/ws"}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatalf("LoadFile() = %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.Capture.FPS != 15 || cfg.Analyzer.Backend != BackendWebSocket {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if cfg.Capture.Width != 640 {
		t.Fatalf("unset field lost default: width=%d", cfg.Capture.Width)
	}
}

func TestLoadFileBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	if err := LoadFile(path, &cfg); err == nil {
		t.Fatal("LoadFile() = nil, want parse error")
	}
}

func TestRegisterFlags(t *testing.T) {
	cfg := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs, &cfg)

	args := []string{
		"-http", ":7000",
		"-label", "caption",
		"-status-interval", "250ms",
		"-stun", "stun:a.example:3478",
		"-stun", "stun:b.example:3478",
		"-mirror=false",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() = %v", err)
	}

	if cfg.HTTPAddr != ":7000" || cfg.LabelMode != "caption" || cfg.Capture.Mirror {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.StatusInterval != 250*time.Millisecond {
		t.Fatalf("status interval = %v", cfg.StatusInterval)
	}
	if len(cfg.Stream.STUNServers) != 2 || cfg.Stream.STUNServers[0] != "stun:a.example:3478" {
		t.Fatalf("stun servers = %v", cfg.Stream.STUNServers)
	}
}
