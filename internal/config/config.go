package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dj-oyu/moodvision/internal/mood"
)

// Capture source kinds.
const (
	SourceWebcam = "webcam"
	SourceFFmpeg = "ffmpeg"
)

// Analyzer backends.
const (
	BackendDeepFace  = "deepface"
	BackendWebSocket = "websocket"
)

// CaptureConfig describes where frames come from.
type CaptureConfig struct {
	Source string `json:"source"`
	Device string `json:"device"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
	Mirror bool   `json:"mirror"`
}

// AnalyzerConfig selects and configures the external emotion analyzer.
type AnalyzerConfig struct {
	Backend         string        `json:"backend"`
	URL             string        `json:"url"`
	DetectorBackend string        `json:"detector_backend"`
	Timeout         time.Duration `json:"timeout"`
	ResultTTL       time.Duration `json:"result_ttl"`
	JPEGQuality     int           `json:"jpeg_quality"`
}

// StreamConfig covers the browser-facing video paths.
type StreamConfig struct {
	EnableWebRTC bool     `json:"enable_webrtc"`
	STUNServers  []string `json:"stun_servers"`
	MaxClients   int      `json:"max_clients"`
	FFmpegPath   string   `json:"ffmpeg_path"`
	Bitrate      string   `json:"bitrate"`
	RecordPath   string   `json:"record_path"`
}

// Config is the full runtime configuration of the server. Durations in
// the JSON file are nanoseconds, as encoding/json writes them.
type Config struct {
	HTTPAddr       string         `json:"http_addr"`
	MetricsAddr    string         `json:"metrics_addr"`
	PprofAddr      string         `json:"pprof_addr"`
	AssetsDir      string         `json:"assets_dir"`
	StatusInterval time.Duration  `json:"status_interval"`
	LabelMode      string         `json:"label_mode"`
	LogLevel       string         `json:"log_level"`
	LogColor       bool           `json:"log_color"`
	Capture        CaptureConfig  `json:"capture"`
	Analyzer       AnalyzerConfig `json:"analyzer"`
	Stream         StreamConfig   `json:"stream"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		MetricsAddr:    ":9090",
		PprofAddr:      "",
		AssetsDir:      "",
		StatusInterval: time.Second,
		LabelMode:      string(mood.LabelUpper),
		LogLevel:       "info",
		LogColor:       true,
		Capture: CaptureConfig{
			Source: SourceWebcam,
			Device: "0",
			Width:  640,
			Height: 480,
			FPS:    30,
			Mirror: true,
		},
		Analyzer: AnalyzerConfig{
			Backend:         BackendDeepFace,
			URL:             "http://localhost:5005",
			DetectorBackend: "opencv",
			Timeout:         5 * time.Second,
			ResultTTL:       time.Second,
			JPEGQuality:     85,
		},
		Stream: StreamConfig{
			EnableWebRTC: true,
			STUNServers:  []string{"stun:stun.l.google.com:19302"},
			MaxClients:   10,
			FFmpegPath:   "ffmpeg",
			Bitrate:      "1M",
			RecordPath:   "./recordings",
		},
	}
}

// LoadFile overlays a JSON config file onto cfg. A missing file is not an
// error so the default path can be probed unconditionally.
func LoadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// RegisterFlags binds command-line flags to cfg. Flag defaults are the
// values already in cfg, so call it after LoadFile.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "Dashboard HTTP address")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address (empty disables)")
	fs.StringVar(&cfg.PprofAddr, "pprof", cfg.PprofAddr, "pprof server address (empty disables)")
	fs.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Directory overriding embedded web assets")
	fs.DurationVar(&cfg.StatusInterval, "status-interval", cfg.StatusInterval, "Live sync interval for status events")
	fs.StringVar(&cfg.LabelMode, "label", cfg.LabelMode, "Overlay label mode (upper, caption)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")

	fs.StringVar(&cfg.Capture.Source, "source", cfg.Capture.Source, "Capture source (webcam, ffmpeg)")
	fs.StringVar(&cfg.Capture.Device, "device", cfg.Capture.Device, "Camera device id, device path or video file")
	fs.IntVar(&cfg.Capture.Width, "width", cfg.Capture.Width, "Frame width")
	fs.IntVar(&cfg.Capture.Height, "height", cfg.Capture.Height, "Frame height")
	fs.IntVar(&cfg.Capture.FPS, "fps", cfg.Capture.FPS, "Capture frame rate")
	fs.BoolVar(&cfg.Capture.Mirror, "mirror", cfg.Capture.Mirror, "Mirror frames horizontally")

	fs.StringVar(&cfg.Analyzer.Backend, "analyzer", cfg.Analyzer.Backend, "Analyzer backend (deepface, websocket)")
	fs.StringVar(&cfg.Analyzer.URL, "analyzer-url", cfg.Analyzer.URL, "Analyzer base URL")
	fs.StringVar(&cfg.Analyzer.DetectorBackend, "detector-backend", cfg.Analyzer.DetectorBackend, "DeepFace detector backend")
	fs.DurationVar(&cfg.Analyzer.Timeout, "analyzer-timeout", cfg.Analyzer.Timeout, "Per-frame analyzer timeout")
	fs.DurationVar(&cfg.Analyzer.ResultTTL, "result-ttl", cfg.Analyzer.ResultTTL, "How long an analysis result stays on screen")

	fs.BoolVar(&cfg.Stream.EnableWebRTC, "webrtc", cfg.Stream.EnableWebRTC, "Enable the WebRTC H.264 feed")
	fs.IntVar(&cfg.Stream.MaxClients, "max-clients", cfg.Stream.MaxClients, "Maximum WebRTC clients")
	fs.StringVar(&cfg.Stream.FFmpegPath, "ffmpeg", cfg.Stream.FFmpegPath, "ffmpeg binary")
	fs.StringVar(&cfg.Stream.RecordPath, "record-path", cfg.Stream.RecordPath, "Recording output path")
	stunSet := false
	fs.Func("stun", "STUN server URL (repeatable)", func(v string) error {
		if !stunSet {
			cfg.Stream.STUNServers = nil
			stunSet = true
		}
		cfg.Stream.STUNServers = append(cfg.Stream.STUNServers, v)
		return nil
	})
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %dx%d", c.Capture.Width, c.Capture.Height))
	}
	if c.Capture.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %d", c.Capture.FPS))
	}
	switch c.Capture.Source {
	case SourceWebcam, SourceFFmpeg:
	default:
		errs = append(errs, fmt.Errorf("unknown capture source %q", c.Capture.Source))
	}
	switch c.Analyzer.Backend {
	case BackendDeepFace, BackendWebSocket:
	default:
		errs = append(errs, fmt.Errorf("unknown analyzer backend %q", c.Analyzer.Backend))
	}
	if c.Analyzer.URL == "" {
		errs = append(errs, errors.New("analyzer url is required"))
	}
	if c.Analyzer.JPEGQuality < 1 || c.Analyzer.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be 1-100, got %d", c.Analyzer.JPEGQuality))
	}
	if _, ok := mood.ParseLabelMode(c.LabelMode); !ok {
		errs = append(errs, fmt.Errorf("unknown label mode %q", c.LabelMode))
	}
	if c.StatusInterval <= 0 {
		errs = append(errs, fmt.Errorf("status interval must be positive, got %v", c.StatusInterval))
	}
	if c.Stream.MaxClients <= 0 {
		errs = append(errs, fmt.Errorf("max clients must be positive, got %d", c.Stream.MaxClients))
	}

	return errors.Join(errs...)
}
