// Command analyze runs still images through the analyzer, writes the
// annotated copies and prints the resulting tally.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dj-oyu/moodvision/internal/analyzer"
	"github.com/dj-oyu/moodvision/internal/config"
	"github.com/dj-oyu/moodvision/internal/logger"
	"github.com/dj-oyu/moodvision/internal/mood"
	"github.com/dj-oyu/moodvision/internal/pipeline"
)

func main() {
	cfg := config.Default()

	outDir := flag.String("out", "", "Directory for annotated images (empty skips writing)")
	flag.StringVar(&cfg.Analyzer.Backend, "analyzer", cfg.Analyzer.Backend, "Analyzer backend (deepface, websocket)")
	flag.StringVar(&cfg.Analyzer.URL, "analyzer-url", cfg.Analyzer.URL, "Analyzer base URL")
	flag.StringVar(&cfg.Analyzer.DetectorBackend, "detector-backend", cfg.Analyzer.DetectorBackend, "DeepFace detector backend")
	flag.DurationVar(&cfg.Analyzer.Timeout, "analyzer-timeout", cfg.Analyzer.Timeout, "Per-image analyzer timeout")
	flag.StringVar(&cfg.LabelMode, "label", cfg.LabelMode, "Overlay label mode (upper, caption)")
	flag.StringVar(&cfg.LogLevel, "log-level", "warn", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.LogColor, "log-color", true, "Enable colored log output")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	labelMode, ok := mood.ParseLabelMode(cfg.LabelMode)
	if !ok {
		log.Fatalf("Unknown label mode %q", cfg.LabelMode)
	}

	a, err := analyzer.New(cfg.Analyzer)
	if err != nil {
		log.Fatalf("Failed to create analyzer: %v", err)
	}
	defer a.Close()

	tally := mood.NewTally()
	proc := pipeline.New(a, tally, nil, pipeline.Options{
		LabelMode:   labelMode,
		JPEGQuality: cfg.Analyzer.JPEGQuality,
	})

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	ctx := context.Background()
	for _, path := range flag.Args() {
		img, err := loadRGBA(path)
		if err != nil {
			logger.Error("Main", "%s: %v", path, err)
			continue
		}

		before := proc.Stats().AnalyzerErrors
		annotated := proc.HandleFrame(ctx, img)
		if proc.Stats().AnalyzerErrors > before {
			logger.Warn("Main", "%s: analysis failed", path)
		}

		if *outDir == "" {
			continue
		}
		dst := filepath.Join(*outDir, filepath.Base(path))
		if err := saveImage(dst, annotated); err != nil {
			logger.Error("Main", "%s: %v", dst, err)
		}
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(struct {
		Tally    mood.Snapshot  `json:"tally"`
		Pipeline pipeline.Stats `json:"pipeline"`
	}{tally.Snapshot(), proc.Stats()}); err != nil {
		log.Fatalf("Failed to write result: %v", err)
	}
}

func loadRGBA(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	b := src.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)
	return img, nil
}

func saveImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}
