//go:build nogocv

package capture

import (
	"context"
	"errors"
	"image"
)

// Webcam is unavailable in builds without OpenCV; use -source ffmpeg.
type Webcam struct{}

func OpenWebcam(device string, width, height, fps int) (*Webcam, error) {
	return nil, errors.New("webcam source not compiled in (built with nogocv), use -source ffmpeg")
}

func (w *Webcam) Read(ctx context.Context) (*image.RGBA, error) { return nil, ErrClosed }
func (w *Webcam) Close() error                                     { return nil }
