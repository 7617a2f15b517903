package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/dj-oyu/moodvision/internal/logger"
)

// FFmpeg runs an ffmpeg subprocess that writes raw RGBA frames to stdout.
type FFmpeg struct {
	cmd    *exec.Cmd
	stderr *stderrTail
	frames chan *image.RGBA
	errc   chan error

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// ffmpegArgs builds the input side for device: a regular file is looped
// at its native rate, anything else is opened with the platform's camera
// demuxer.
func ffmpegArgs(goos, device string, width, height, fps int) []string {
	var input []string
	if fi, err := os.Stat(device); err == nil && fi.Mode().IsRegular() {
		input = []string{"-re", "-stream_loop", "-1", "-i", device}
	} else {
		switch goos {
		case "windows":
			input = []string{"-f", "dshow", "-i", "video=" + device}
		case "darwin":
			input = []string{"-f", "avfoundation", "-framerate", fmt.Sprint(fps), "-i", device}
		default:
			input = []string{"-f", "v4l2", "-framerate", fmt.Sprint(fps), "-i", device}
		}
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", fps, width, height),
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
}

// StartFFmpeg launches ffmpeg for device and starts reading frames.
func StartFFmpeg(ctx context.Context, ffmpegPath, device string, width, height, fps int) (*FFmpeg, error) {
	if device == "0" && runtime.GOOS == "linux" {
		device = "/dev/video0"
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, ffmpegArgs(runtime.GOOS, device, width, height, fps)...)
	stderr := &stderrTail{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	logger.Info("Capture", "ffmpeg capture started (pid %d, %s %dx%d@%d)", cmd.Process.Pid, device, width, height, fps)

	f := newFFmpeg(stdout, width, height)
	f.cmd = cmd
	f.stderr = stderr
	return f, nil
}

// stderrTailSize bounds how much ffmpeg diagnostic output is kept.
const stderrTailSize = 4096

// stderrTail keeps the last stderrTailSize bytes written by ffmpeg. os/exec
// copies into it from its own goroutine while Read formats errors.
type stderrTail struct {
	mu  sync.Mutex
	buf []byte
}

func (s *stderrTail) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	if over := len(s.buf) - stderrTailSize; over > 0 {
		s.buf = append(s.buf[:0], s.buf[over:]...)
	}
	return len(p), nil
}

// String returns the retained output with surrounding whitespace trimmed.
func (s *stderrTail) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(bytes.TrimSpace(s.buf))
}

func newFFmpeg(r io.Reader, width, height int) *FFmpeg {
	f := &FFmpeg{
		frames: make(chan *image.RGBA, 1),
		errc:   make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go f.readLoop(r, width, height)
	return f
}

// readLoop keeps only the newest frame buffered so a slow consumer sees
// live video instead of a growing backlog.
func (f *FFmpeg) readLoop(r io.Reader, width, height int) {
	defer close(f.done)

	frameSize := width * height * 4
	for {
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		if _, err := io.ReadFull(r, img.Pix[:frameSize]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = fmt.Errorf("truncated frame: %w", err)
			}
			f.errc <- err
			return
		}

		select {
		case f.frames <- img:
		case <-f.stop:
			return
		default:
			select {
			case <-f.frames:
			default:
			}
			f.frames <- img
		}
	}
}

// Read returns the next frame. io.EOF means the input ended.
func (f *FFmpeg) Read(ctx context.Context) (*image.RGBA, error) {
	select {
	case img := <-f.frames:
		return img, nil
	default:
	}

	select {
	case img := <-f.frames:
		return img, nil
	case err := <-f.errc:
		f.errc <- err
		if f.stderr != nil && !errors.Is(err, io.EOF) {
			if msg := f.stderr.String(); msg != "" {
				return nil, fmt.Errorf("ffmpeg: %w (%s)", err, msg)
			}
		}
		return nil, err
	case <-f.stop:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close kills the subprocess and waits for the reader to finish.
func (f *FFmpeg) Close() error {
	f.stopOnce.Do(func() {
		close(f.stop)
		if f.cmd != nil && f.cmd.Process != nil {
			f.cmd.Process.Kill()
			f.cmd.Wait()
		}
	})
	<-f.done
	return nil
}
