package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/moodvision/internal/analyzer"
	"github.com/dj-oyu/moodvision/internal/capture"
	"github.com/dj-oyu/moodvision/internal/config"
	"github.com/dj-oyu/moodvision/internal/dashboard"
	"github.com/dj-oyu/moodvision/internal/encoder"
	"github.com/dj-oyu/moodvision/internal/logger"
	"github.com/dj-oyu/moodvision/internal/metrics"
	"github.com/dj-oyu/moodvision/internal/mood"
	"github.com/dj-oyu/moodvision/internal/pipeline"
	"github.com/dj-oyu/moodvision/internal/recorder"
	"github.com/dj-oyu/moodvision/internal/webrtc"
	"github.com/dj-oyu/moodvision/pkg/types"
)

// Server is the MoodVision process: capture, analysis, encoders and the
// dashboard.
type Server struct {
	cfg     config.Config
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *metrics.Metrics

	source    capture.Source
	analyzer  analyzer.Analyzer
	tally     *mood.Tally
	processor *pipeline.Processor
	encoder   *encoder.Encoder
	webrtc    *webrtc.Server
	recorder  *recorder.Recorder
	dashboard *dashboard.Server

	httpServer *http.Server
}

func main() {
	cfg := config.Default()

	// -config has to be applied before the other flags take their defaults.
	configPath := configFlag(os.Args[1:])
	if err := config.LoadFile(configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	flag.String("config", configPath, "JSON config file")
	config.RegisterFlags(flag.CommandLine, &cfg)
	flag.Parse()

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Info("Main", "MoodVision starting...")
	logger.Info("Main", "Log level: %s", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	<-srv.ctx.Done()
	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// configFlag finds -config ahead of flag.Parse.
func configFlag(args []string) string {
	for i, arg := range args {
		name := strings.TrimLeft(arg, "-")
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
	}
	return ""
}

// NewServer opens the camera and builds every component.
func NewServer(parent context.Context, cfg config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(parent)

	m := metrics.New()
	tally := mood.NewTally()

	a, err := analyzer.New(cfg.Analyzer)
	if err != nil {
		cancel()
		return nil, err
	}

	src, err := capture.Open(ctx, cfg.Capture, cfg.Stream.FFmpegPath)
	if err != nil {
		a.Close()
		cancel()
		return nil, fmt.Errorf("failed to open capture source: %w", err)
	}

	labelMode, _ := mood.ParseLabelMode(cfg.LabelMode)
	proc := pipeline.New(a, tally, m, pipeline.Options{
		Mirror:      cfg.Capture.Mirror,
		LabelMode:   labelMode,
		JPEGQuality: cfg.Analyzer.JPEGQuality,
		ResultTTL:   cfg.Analyzer.ResultTTL,
	})

	srv := &Server{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		metrics:   m,
		source:    src,
		analyzer:  a,
		tally:     tally,
		processor: proc,
	}

	deps := dashboard.Deps{
		Tally:   tally,
		Stats:   proc,
		Metrics: m,
	}

	if cfg.Stream.EnableWebRTC {
		srv.encoder = encoder.New(encoder.Config{
			FFmpegPath: cfg.Stream.FFmpegPath,
			Width:      cfg.Capture.Width,
			Height:     cfg.Capture.Height,
			FPS:        cfg.Capture.FPS,
			Bitrate:    cfg.Stream.Bitrate,
		}, m)
		srv.webrtc = webrtc.NewServer(cfg.Stream.STUNServers, cfg.Stream.MaxClients, cfg.Capture.FPS, srv.encoder.Processor(), m)
		srv.recorder = recorder.NewRecorder(cfg.Stream.RecordPath, m)

		headers := srv.encoder.Processor()
		srv.encoder.OnAccessUnit(func(frame *types.H264Frame) {
			if headers.HasHeaders() {
				srv.recorder.UpdateHeaders(headers.GetSPS(), headers.GetPPS())
			}
			srv.webrtc.SendFrame(frame)
			srv.recorder.SendFrame(frame)
		})
		proc.AddSink(srv.encoder)

		deps.WebRTC = srv.webrtc
		deps.Recorder = srv.recorder
	}

	dash, err := dashboard.NewServer(dashboard.Options{
		AssetsDir:      cfg.AssetsDir,
		StatusInterval: cfg.StatusInterval,
		JPEGQuality:    cfg.Analyzer.JPEGQuality,
		FrameWidth:     cfg.Capture.Width,
		FrameHeight:    cfg.Capture.Height,
	}, deps)
	if err != nil {
		src.Close()
		a.Close()
		cancel()
		return nil, err
	}
	proc.AddSink(dash.FrameSink())
	srv.dashboard = dash

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           dash.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with the server context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	return srv, nil
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting MoodVision server...")
	logger.Info("Main", "  Capture: %s %q %dx%d@%d", s.cfg.Capture.Source, s.cfg.Capture.Device, s.cfg.Capture.Width, s.cfg.Capture.Height, s.cfg.Capture.FPS)
	logger.Info("Main", "  Analyzer: %s %s", s.cfg.Analyzer.Backend, s.cfg.Analyzer.URL)
	logger.Info("Main", "  Dashboard: %s", s.cfg.HTTPAddr)
	logger.Info("Main", "  Metrics server: %s", s.cfg.MetricsAddr)
	logger.Info("Main", "  pprof server: %s", s.cfg.PprofAddr)
	logger.Info("Main", "  WebRTC: %v (recordings in %s)", s.cfg.Stream.EnableWebRTC, s.cfg.Stream.RecordPath)

	if s.cfg.PprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", s.cfg.PprofAddr)
			if err := http.ListenAndServe(s.cfg.PprofAddr, nil); err != nil {
				logger.Error("Main", "pprof server error: %v", err)
			}
		}()
	}

	if s.cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", s.cfg.MetricsAddr)
			if err := s.metrics.StartServer(s.cfg.MetricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	if s.encoder != nil {
		if err := s.encoder.Start(s.ctx); err != nil {
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.encoder.Wait(); err != nil && s.ctx.Err() == nil {
				logger.Error("Encoder", "%v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting dashboard on %s", s.cfg.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
			s.cancel()
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.processor.Run(s.ctx, s.source)
		if err != nil {
			logger.Error("Main", "Pipeline stopped: %v", err)
		} else if s.ctx.Err() == nil {
			logger.Info("Main", "Capture source ended")
		}
		s.cancel()
	}()

	logger.Info("Main", "Server started successfully")
	return nil
}

// Shutdown stops every component and waits for the workers.
func (s *Server) Shutdown() error {
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpErr := s.httpServer.Shutdown(shutdownCtx)

	s.wg.Wait()
	s.dashboard.Close()

	var errs []error
	if httpErr != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", httpErr))
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("recorder: %w", err))
		}
	}
	if s.webrtc != nil {
		if err := s.webrtc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("webrtc: %w", err))
		}
	}
	if err := s.source.Close(); err != nil && !errors.Is(err, capture.ErrClosed) {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if err := s.analyzer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("analyzer: %w", err))
	}
	return errors.Join(errs...)
}
