package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFFmpegArgsCamera(t *testing.T) {
	tests := []struct {
		goos   string
		device string
		want   []string
	}{
		{goos: "linux", device: "/dev/video9", want: []string{"-f", "v4l2", "-framerate", "15", "-i", "/dev/video9"}},
		{goos: "windows", device: "USB Camera", want: []string{"-f", "dshow", "-i", "video=USB Camera"}},
		{goos: "darwin", device: "0", want: []string{"-f", "avfoundation", "-framerate", "15", "-i", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			args := ffmpegArgs(tt.goos, tt.device, 320, 240, 15)
			if !containsRun(args, tt.want) {
				t.Fatalf("args %v missing %v", args, tt.want)
			}
			if !containsRun(args, []string{"-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1"}) {
				t.Fatalf("args %v do not write raw rgba to stdout", args)
			}
			if !slices.Contains(args, "fps=15,scale=320:240") {
				t.Fatalf("args %v missing scale filter", args)
			}
		})
	}
}

func TestFFmpegArgsFileLoops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really mp4"), 0644); err != nil {
		t.Fatal(err)
	}
	args := ffmpegArgs("linux", path, 640, 480, 30)
	if !containsRun(args, []string{"-re", "-stream_loop", "-1", "-i", path}) {
		t.Fatalf("args %v do not loop the file", args)
	}
}

func TestFFmpegReadsRawFrames(t *testing.T) {
	const w, h = 4, 2
	frame := w * h * 4
	raw := make([]byte, frame*2)
	for i := range raw[:frame] {
		raw[i] = 0x11
	}
	for i := range raw[frame:] {
		raw[frame+i] = 0x22
	}

	pr, pw := io.Pipe()
	src := newFFmpeg(pr, w, h)

	go func() {
		pw.Write(raw[:frame])
	}()
	img, err := src.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() #1 = %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, w, h) || img.Pix[0] != 0x11 {
		t.Fatalf("frame 1 = %v %x", img.Bounds(), img.Pix[0])
	}

	go func() {
		pw.Write(raw[frame:])
		pw.Close()
	}()
	img, err = src.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() #2 = %v", err)
	}
	if img.Pix[len(img.Pix)-1] != 0x22 {
		t.Fatalf("frame 2 tail = %x", img.Pix[len(img.Pix)-1])
	}

	if _, err := src.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Read() at end = %v, want EOF", err)
	}
	src.Close()
}

func TestFFmpegTruncatedFrame(t *testing.T) {
	src := newFFmpeg(bytes.NewReader(make([]byte, 10)), 4, 4)
	defer src.Close()

	_, err := src.Read(context.Background())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Read() = %v, want unexpected EOF", err)
	}
}

func TestFFmpegReadHonoursContext(t *testing.T) {
	pr, pw := io.Pipe()
	src := newFFmpeg(pr, 2, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := src.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Read() = %v, want deadline exceeded", err)
	}

	pw.Close()
	src.Close()
}

func TestFFmpegReadIncludesStderr(t *testing.T) {
	src := newFFmpeg(bytes.NewReader(make([]byte, 10)), 4, 4)
	defer src.Close()
	src.stderr = &stderrTail{}
	src.stderr.Write([]byte("  /dev/video9: No such file or directory\n"))

	_, err := src.Read(context.Background())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Read() = %v, want unexpected EOF", err)
	}
	if !strings.HasSuffix(err.Error(), "(/dev/video9: No such file or directory)") {
		t.Fatalf("Read() error %q lacks ffmpeg output", err)
	}
}

func TestStderrTailConcurrentWriteAndRead(t *testing.T) {
	tail := &stderrTail{}
	line := []byte("frame dropped\n")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 1000 {
			tail.Write(line)
		}
	}()
	for range 1000 {
		if got := tail.String(); len(got) > stderrTailSize {
			t.Fatalf("retained %d bytes, limit %d", len(got), stderrTailSize)
		}
	}
	wg.Wait()

	got := tail.String()
	if len(got) > stderrTailSize || !strings.HasSuffix(got, "frame dropped") {
		t.Fatalf("tail = %d bytes ending %q", len(got), got[max(0, len(got)-20):])
	}
}

func TestClone(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Pix[0] = 7
	c := Clone(img)
	c.Pix[0] = 9
	if img.Pix[0] != 7 || c.Bounds() != img.Bounds() {
		t.Fatal("Clone shares pixels")
	}
}

func containsRun(args, run []string) bool {
	for i := 0; i+len(run) <= len(args); i++ {
		if slices.Equal(args[i:i+len(run)], run) {
			return true
		}
	}
	return false
}
