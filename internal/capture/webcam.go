//go:build !nogocv

package capture

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"

	"github.com/dj-oyu/moodvision/internal/logger"
	"gocv.io/x/gocv"
)

// Webcam reads frames through OpenCV's VideoCapture.
type Webcam struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	raw    gocv.Mat
	rgba   gocv.Mat
	sized  gocv.Mat
	width  int
	height int
	frame  *image.RGBA
	closed bool
}

// OpenWebcam opens device, which is either a numeric camera index or a
// path/URL OpenCV understands.
func OpenWebcam(device string, width, height, fps int) (*Webcam, error) {
	var id interface{} = device
	if n, err := strconv.Atoi(device); err == nil {
		id = n
	}

	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %s: device not available", device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	vc.Set(gocv.VideoCaptureFPS, float64(fps))

	logger.Info("Capture", "Camera %s opened (requested %dx%d@%d, driver reports %.0fx%.0f)",
		device, width, height, fps,
		vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight))

	return &Webcam{
		cap:    vc,
		raw:    gocv.NewMat(),
		rgba:   gocv.NewMat(),
		sized:  gocv.NewMat(),
		width:  width,
		height: height,
		frame:  image.NewRGBA(image.Rect(0, 0, width, height)),
	}, nil
}

// Read grabs the next frame, converts BGR to RGBA and scales it to the
// configured size when the driver ignored the requested resolution.
func (w *Webcam) Read(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	if ok := w.cap.Read(&w.raw); !ok {
		return nil, fmt.Errorf("camera read failed")
	}
	if w.raw.Empty() {
		return nil, fmt.Errorf("camera returned empty frame")
	}

	gocv.CvtColor(w.raw, &w.rgba, gocv.ColorBGRToRGBA)

	src := w.rgba
	if src.Cols() != w.width || src.Rows() != w.height {
		gocv.Resize(src, &w.sized, image.Pt(w.width, w.height), 0, 0, gocv.InterpolationLinear)
		src = w.sized
	}

	copy(w.frame.Pix, src.ToBytes())
	return w.frame, nil
}

// Close releases the device and the conversion buffers.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.raw.Close()
	w.rgba.Close()
	w.sized.Close()
	return w.cap.Close()
}
