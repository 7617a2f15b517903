package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dj-oyu/moodvision/internal/logger"
	"github.com/dj-oyu/moodvision/internal/metrics"
	"github.com/dj-oyu/moodvision/pkg/types"
	"github.com/google/uuid"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder writes the annotated H.264 stream to raw .h264 files.
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	id           string
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	startTime    time.Time
	frameChan    chan *types.H264Frame
	stopChan     chan struct{}
	wg           sync.WaitGroup

	spsCache        []byte
	ppsCache        []byte
	firstIDRWritten bool

	metrics *metrics.Metrics
	log     logger.Module
	now     func() time.Time
}

// NewRecorder creates a recorder writing under basePath. m may be nil.
func NewRecorder(basePath string, m *metrics.Metrics) *Recorder {
	return &Recorder{
		basePath:  basePath,
		frameChan: make(chan *types.H264Frame, 60),
		metrics:   m,
		log:       logger.For("Recorder"),
		now:       time.Now,
	}
}

// Start opens recording_<timestamp>.h264 and starts the writer.
func (r *Recorder) Start() (RecordingStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return r.statusLocked(), ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return RecordingStatus{}, fmt.Errorf("failed to create recording dir: %w", err)
	}

	start := r.now()
	filename := fmt.Sprintf("recording_%s.h264", start.Format("20060102_150405"))
	file, err := os.OpenFile(filepath.Join(r.basePath, filename), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		filename = fmt.Sprintf("recording_%s_%d.h264", start.Format("20060102_150405"), start.Nanosecond())
		file, err = os.Create(filepath.Join(r.basePath, filename))
	}
	if err != nil {
		return RecordingStatus{}, fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.id = uuid.NewString()
	r.filename = filename
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.startTime = start
	r.firstIDRWritten = false
	r.stopChan = make(chan struct{})
	if r.metrics != nil {
		r.metrics.RecordingActive.Store(1)
	}

	r.wg.Add(1)
	go r.writeFrames(r.stopChan)

	r.log.Info("Recording started: %s", filename)
	return r.statusLocked(), nil
}

// Stop flushes queued frames and closes the file.
func (r *Recorder) Stop() (RecordingStatus, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return RecordingStatus{}, ErrNotRecording
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordingActive.Store(0)
	}
	status := r.statusLocked()
	status.Duration = r.now().Sub(r.startTime)

	if r.file != nil {
		syncErr := r.file.Sync()
		closeErr := r.file.Close()
		r.file = nil
		if err := errors.Join(syncErr, closeErr); err != nil {
			return status, fmt.Errorf("failed to close recording: %w", err)
		}
	}

	r.log.Info("Recording stopped: %s (%d frames, %d bytes)", r.filename, r.frameCount, r.bytesWritten)
	return status, nil
}

// UpdateHeaders updates the cached SPS/PPS headers
func (r *Recorder) UpdateHeaders(sps, pps []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(sps) > 0 {
		r.spsCache = append(r.spsCache[:0], sps...)
	}
	if len(pps) > 0 {
		r.ppsCache = append(r.ppsCache[:0], pps...)
	}
}

// SendFrame queues an access unit without blocking. It reports whether
// the frame was accepted.
func (r *Recorder) SendFrame(frame *types.H264Frame) bool {
	r.mu.RLock()
	recording := r.recording
	r.mu.RUnlock()

	if !recording {
		return false
	}

	select {
	case r.frameChan <- frame:
		return true
	default:
		return false
	}
}

func (r *Recorder) writeFrames(stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case frame := <-r.frameChan:
			r.writeFrame(frame)
		case <-stop:
			for {
				select {
				case frame := <-r.frameChan:
					r.writeFrame(frame)
				default:
					return
				}
			}
		}
	}
}

// writeFrame appends one access unit. Frames before the first IDR are
// skipped since they cannot be decoded, and that IDR gets SPS/PPS in
// front when it does not carry its own.
func (r *Recorder) writeFrame(frame *types.H264Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}

	data := frame.Data
	if !r.firstIDRWritten {
		if !frame.IsIDR {
			return
		}
		if len(r.spsCache) > 0 && len(r.ppsCache) > 0 {
			data = make([]byte, 0, len(r.spsCache)+len(r.ppsCache)+len(frame.Data))
			data = append(data, r.spsCache...)
			data = append(data, r.ppsCache...)
			data = append(data, frame.Data...)
		}
		r.firstIDRWritten = true
	}

	n, err := r.file.Write(data)
	if err != nil {
		r.log.Error("Write failed: %v", err)
		return
	}

	r.bytesWritten += uint64(n)
	r.frameCount++
	if r.metrics != nil {
		r.metrics.RecordingBytes.Add(uint64(n))
		r.metrics.RecordingFrames.Add(1)
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusLocked()
}

func (r *Recorder) statusLocked() RecordingStatus {
	var duration time.Duration
	if r.recording {
		duration = r.now().Sub(r.startTime)
	}
	return RecordingStatus{
		Recording:    r.recording,
		ID:           r.id,
		Filename:     r.filename,
		Path:         r.pathLocked(),
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Duration:     duration,
		StartTime:    r.startTime,
	}
}

func (r *Recorder) pathLocked() string {
	if r.filename == "" {
		return ""
	}
	return filepath.Join(r.basePath, r.filename)
}

// Close stops an active recording.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		_, err := r.Stop()
		return err
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool          `json:"recording"`
	ID           string        `json:"id,omitempty"`
	Filename     string        `json:"filename"`
	Path         string        `json:"path,omitempty"`
	FrameCount   uint64        `json:"frame_count"`
	BytesWritten uint64        `json:"bytes_written"`
	Duration     time.Duration `json:"-"`
	StartTime    time.Time     `json:"start_time"`
}

// MarshalJSON reports the duration in milliseconds.
func (s RecordingStatus) MarshalJSON() ([]byte, error) {
	type plain RecordingStatus
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"duration_ms"`
	}{plain(s), s.Duration.Milliseconds()})
}
