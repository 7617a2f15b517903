// Package capture reads camera frames as RGBA images.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/dj-oyu/moodvision/internal/config"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("capture source closed")

// Source produces frames. Read blocks until the next frame is available
// and may return the same buffer on the next call, so callers that keep a
// frame must copy it.
type Source interface {
	Read(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// Open starts the source named in cfg.
func Open(ctx context.Context, cfg config.CaptureConfig, ffmpegPath string) (Source, error) {
	switch cfg.Source {
	case config.SourceWebcam:
		cam, err := OpenWebcam(cfg.Device, cfg.Width, cfg.Height, cfg.FPS)
		if err != nil {
			return nil, err
		}
		return cam, nil
	case config.SourceFFmpeg:
		src, err := StartFFmpeg(ctx, ffmpegPath, cfg.Device, cfg.Width, cfg.Height, cfg.FPS)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

// Clone returns a deep copy of img.
func Clone(img *image.RGBA) *image.RGBA {
	out := &image.RGBA{
		Pix:    make([]byte, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}
