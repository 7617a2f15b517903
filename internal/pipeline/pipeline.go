// Package pipeline runs the per-frame loop: capture, analysis, tally
// update, annotation and fan-out to the video sinks.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/moodvision/internal/analyzer"
	"github.com/dj-oyu/moodvision/internal/capture"
	"github.com/dj-oyu/moodvision/internal/logger"
	"github.com/dj-oyu/moodvision/internal/metrics"
	"github.com/dj-oyu/moodvision/internal/mood"
	"github.com/dj-oyu/moodvision/internal/overlay"
	"github.com/dj-oyu/moodvision/pkg/types"
)

// Sink receives annotated frames. WriteFrame must not block; a sink that
// cannot keep up drops frames.
type Sink interface {
	WriteFrame(frame *types.VideoFrame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame *types.VideoFrame)

func (f SinkFunc) WriteFrame(frame *types.VideoFrame) { f(frame) }

// Options tune the processor.
type Options struct {
	Mirror      bool
	LabelMode   mood.LabelMode
	JPEGQuality int
	ResultTTL   time.Duration
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	FramesCaptured  uint64  `json:"frames_captured"`
	FramesAnalyzed  uint64  `json:"frames_analyzed"`
	FramesAnnotated uint64  `json:"frames_annotated"`
	FramesSkipped   uint64  `json:"frames_skipped"`
	AnalyzerErrors  uint64  `json:"analyzer_errors"`
	LastLatencyMs   int64   `json:"last_latency_ms"`
	FPS             float64 `json:"fps"`
	Running         bool    `json:"running"`
}

type result struct {
	faces []analyzer.Face
	at    time.Time
}

// Processor owns the capture loop and the analysis worker.
type Processor struct {
	analyzer analyzer.Analyzer
	tally    *mood.Tally
	metrics  *metrics.Metrics
	opts     Options
	log      logger.Module

	mu    sync.RWMutex
	last  result
	sinks []Sink

	captured  atomic.Uint64
	analyzed  atomic.Uint64
	annotated atomic.Uint64
	skipped   atomic.Uint64
	errors    atomic.Uint64
	latencyMs atomic.Int64
	fpsMilli  atomic.Int64
	running   atomic.Bool

	now func() time.Time
}

// New creates a processor. m may be nil.
func New(a analyzer.Analyzer, tally *mood.Tally, m *metrics.Metrics, opts Options) *Processor {
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 85
	}
	if opts.LabelMode == "" {
		opts.LabelMode = mood.LabelUpper
	}
	return &Processor{
		analyzer: a,
		tally:    tally,
		metrics:  m,
		opts:     opts,
		log:      logger.For("Pipeline"),
		now:      time.Now,
	}
}

// AddSink registers a sink for annotated frames.
func (p *Processor) AddSink(s Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// HandleFrame analyzes img synchronously and draws the result onto it.
// With at least one face the first face's emotion is tallied and every
// face is annotated. On analyzer failure or an empty result the frame is
// returned untouched and the tally is not changed.
func (p *Processor) HandleFrame(ctx context.Context, img *image.RGBA) *image.RGBA {
	faces, ok := p.analyze(ctx, img)
	if !ok || len(faces) == 0 {
		return img
	}
	p.draw(img, faces)
	return img
}

// analyze runs one analyzer call, updates the tally and remembers the
// result for annotation of later frames.
func (p *Processor) analyze(ctx context.Context, img *image.RGBA) ([]analyzer.Face, bool) {
	payload, err := EncodeJPEG(img, p.opts.JPEGQuality)
	if err != nil {
		p.fail(fmt.Errorf("encode frame: %w", err))
		return nil, false
	}

	start := p.now()
	faces, err := p.analyzer.Analyze(ctx, payload)
	elapsed := p.now().Sub(start)
	p.latencyMs.Store(elapsed.Milliseconds())
	p.metrics.ObserveAnalysis(elapsed)
	if err != nil {
		p.fail(err)
		return nil, false
	}

	p.analyzed.Add(1)
	if p.metrics != nil {
		p.metrics.FramesAnalyzed.Add(1)
	}

	if len(faces) == 0 {
		if p.metrics != nil {
			p.metrics.NoFaceFrames.Add(1)
		}
	} else if p.tally.Record(faces[0].DominantEmotion) {
		if e, ok := mood.Parse(faces[0].DominantEmotion); ok {
			p.metrics.CountEmotion(e.String())
		}
	} else {
		p.log.Debug("Ignoring unknown emotion %q", faces[0].DominantEmotion)
	}

	p.mu.Lock()
	p.last = result{faces: faces, at: p.now()}
	p.mu.Unlock()

	return faces, true
}

// fail counts an analysis failure. Calls cut short by shutdown are not
// failures.
func (p *Processor) fail(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	p.errors.Add(1)
	if p.metrics != nil {
		p.metrics.AnalyzerErrors.Add(1)
	}
	p.log.Debug("Analysis failed: %v", err)
}

func (p *Processor) draw(img *image.RGBA, faces []analyzer.Face) {
	if err := overlay.Annotate(img, faces, p.opts.LabelMode); err != nil {
		p.log.Error("Annotate failed: %v", err)
		return
	}
	p.annotated.Add(1)
	if p.metrics != nil {
		p.metrics.FramesAnnotated.Add(1)
	}
}

// latest returns the most recent faces if they are still fresh.
func (p *Processor) latest() []analyzer.Face {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last.at.IsZero() {
		return nil
	}
	if p.opts.ResultTTL > 0 && p.now().Sub(p.last.at) > p.opts.ResultTTL {
		return nil
	}
	return p.last.faces
}

// Run reads frames from src until ctx is cancelled or the source ends.
// Analysis happens on a separate goroutine that always works on the
// newest frame; frames arriving while it is busy are shown with the
// previous result instead of queueing.
func (p *Processor) Run(ctx context.Context, src capture.Source) error {
	p.running.Store(true)
	defer p.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)

	work := make(chan *image.RGBA, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.analysisWorker(ctx, work)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	p.log.Info("Pipeline started (mirror=%v, label=%s, ttl=%v)", p.opts.Mirror, p.opts.LabelMode, p.opts.ResultTTL)

	var frameNum uint64
	fpsCount := 0
	fpsStart := p.now()

	for {
		img, err := src.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				p.log.Info("Pipeline stopped")
				return nil
			case errors.Is(err, io.EOF), errors.Is(err, capture.ErrClosed):
				p.log.Info("Capture source ended")
				return nil
			default:
				if p.metrics != nil {
					p.metrics.CaptureErrors.Add(1)
				}
				return fmt.Errorf("capture: %w", err)
			}
		}

		frame := capture.Clone(img)
		if p.opts.Mirror {
			overlay.Mirror(frame)
		}
		frameNum++
		p.captured.Add(1)
		if p.metrics != nil {
			p.metrics.FramesCaptured.Add(1)
		}

		select {
		case work <- capture.Clone(frame):
		default:
			p.skipped.Add(1)
			if p.metrics != nil {
				p.metrics.FramesSkipped.Add(1)
			}
		}

		faces := p.latest()
		if len(faces) > 0 {
			p.draw(frame, faces)
		}
		p.publish(&types.VideoFrame{
			Image:     frame,
			Timestamp: p.now(),
			FrameNum:  frameNum,
			Faces:     len(faces),
		})

		fpsCount++
		if elapsed := p.now().Sub(fpsStart); elapsed >= time.Second {
			p.fpsMilli.Store(int64(float64(fpsCount) / elapsed.Seconds() * 1000))
			fpsCount = 0
			fpsStart = p.now()
		}
	}
}

func (p *Processor) analysisWorker(ctx context.Context, work <-chan *image.RGBA) {
	for {
		select {
		case <-ctx.Done():
			return
		case img := <-work:
			p.analyze(ctx, img)
		}
	}
}

func (p *Processor) publish(frame *types.VideoFrame) {
	p.mu.RLock()
	sinks := p.sinks
	p.mu.RUnlock()
	for _, s := range sinks {
		s.WriteFrame(frame)
	}
}

// Stats returns the current counters.
func (p *Processor) Stats() Stats {
	return Stats{
		FramesCaptured:  p.captured.Load(),
		FramesAnalyzed:  p.analyzed.Load(),
		FramesAnnotated: p.annotated.Load(),
		FramesSkipped:   p.skipped.Load(),
		AnalyzerErrors:  p.errors.Load(),
		LastLatencyMs:   p.latencyMs.Load(),
		FPS:             float64(p.fpsMilli.Load()) / 1000,
		Running:         p.running.Load(),
	}
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
