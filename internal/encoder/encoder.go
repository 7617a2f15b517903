// Package encoder turns annotated RGBA frames into an H.264 access unit
// stream by piping them through an ffmpeg subprocess.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/moodvision/internal/h264"
	"github.com/dj-oyu/moodvision/internal/logger"
	"github.com/dj-oyu/moodvision/internal/metrics"
	"github.com/dj-oyu/moodvision/pkg/types"
)

// Config describes the encoded stream.
type Config struct {
	FFmpegPath string
	Width      int
	Height     int
	FPS        int
	Bitrate    string
}

// Args returns the ffmpeg command line: raw RGBA on stdin, baseline
// H.264 Annex-B with access unit delimiters on stdout. One keyframe per
// second lets late WebRTC peers start quickly.
func (c Config) Args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-r", fmt.Sprint(c.FPS),
		"-i", "pipe:0",
		"-an",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-g", fmt.Sprint(c.FPS),
		"-b:v", c.Bitrate,
		"-bsf:v", "h264_metadata=aud=insert",
		"-f", "h264",
		"pipe:1",
	}
}

// Handler receives encoded access units. It must not block.
type Handler func(frame *types.H264Frame)

// Encoder feeds frames to ffmpeg and dispatches its output.
type Encoder struct {
	cfg     Config
	metrics *metrics.Metrics
	log     logger.Module

	input     chan *types.VideoFrame
	processor *h264.Processor

	mu       sync.RWMutex
	handlers []Handler

	cmd    *exec.Cmd
	stderr *bytes.Buffer
	wg     sync.WaitGroup

	frameNum atomic.Uint64
	dropped  atomic.Uint64
}

// New creates an encoder. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Encoder {
	return &Encoder{
		cfg:       cfg,
		metrics:   m,
		log:       logger.For("Encoder"),
		input:     make(chan *types.VideoFrame, 2),
		processor: h264.NewProcessor(),
	}
}

// OnAccessUnit registers a handler for encoded access units.
func (e *Encoder) OnAccessUnit(h Handler) {
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

// Processor exposes the SPS/PPS cache of the output stream.
func (e *Encoder) Processor() *h264.Processor {
	return e.processor
}

// WriteFrame queues an annotated frame. Frames are dropped while ffmpeg
// is behind.
func (e *Encoder) WriteFrame(frame *types.VideoFrame) {
	select {
	case e.input <- frame:
	default:
		e.dropped.Add(1)
	}
}

// Start launches ffmpeg. The encoder stops when ctx is cancelled.
func (e *Encoder) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.cfg.FFmpegPath, e.cfg.Args()...)
	e.stderr = &bytes.Buffer{}
	cmd.Stderr = e.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	e.cmd = cmd
	e.log.Info("ffmpeg encoder started (pid %d, %dx%d@%d, %s)", cmd.Process.Pid, e.cfg.Width, e.cfg.Height, e.cfg.FPS, e.cfg.Bitrate)

	e.run(ctx, stdin, stdout)
	return nil
}

// run starts the feed and drain goroutines on already open pipes.
func (e *Encoder) run(ctx context.Context, stdin io.WriteCloser, stdout io.Reader) {
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.feed(ctx, stdin)
	}()
	go func() {
		defer e.wg.Done()
		e.drain(stdout)
	}()
}

func (e *Encoder) feed(ctx context.Context, stdin io.WriteCloser) {
	defer stdin.Close()

	want := e.cfg.Width * e.cfg.Height * 4
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-e.input:
			img := frame.Image
			if img.Rect.Dx() != e.cfg.Width || img.Rect.Dy() != e.cfg.Height || len(img.Pix) < want {
				e.countError()
				e.log.Warn("Skipping %dx%d frame, encoder expects %dx%d", img.Rect.Dx(), img.Rect.Dy(), e.cfg.Width, e.cfg.Height)
				continue
			}
			if _, err := stdin.Write(img.Pix[:want]); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) && ctx.Err() == nil {
					e.countError()
					e.log.Error("Write to encoder failed: %v", err)
				}
				return
			}
		}
	}
}

func (e *Encoder) drain(stdout io.Reader) {
	splitter := h264.NewSplitter(stdout)
	for {
		au, err := splitter.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.countError()
				e.log.Error("Reading encoder output failed: %v", err)
			}
			return
		}

		frame := &types.H264Frame{
			Data:      au,
			Timestamp: time.Now(),
			FrameNum:  e.frameNum.Add(1),
			Width:     e.cfg.Width,
			Height:    e.cfg.Height,
		}
		e.processor.Process(frame)

		e.mu.RLock()
		handlers := e.handlers
		e.mu.RUnlock()
		for _, h := range handlers {
			h(frame)
		}
	}
}

func (e *Encoder) countError() {
	if e.metrics != nil {
		e.metrics.EncoderErrors.Add(1)
	}
}

// Dropped returns the number of frames dropped before encoding.
func (e *Encoder) Dropped() uint64 {
	return e.dropped.Load()
}

// Wait blocks until both pipe goroutines and ffmpeg have exited.
func (e *Encoder) Wait() error {
	e.wg.Wait()
	if e.cmd == nil {
		return nil
	}
	if err := e.cmd.Wait(); err != nil {
		msg := bytes.TrimSpace(e.stderr.Bytes())
		if len(msg) > 0 {
			return fmt.Errorf("encoder exited: %w (%s)", err, msg)
		}
		return fmt.Errorf("encoder exited: %w", err)
	}
	return nil
}
