// Package overlay draws analysis results onto RGBA frames.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/dj-oyu/moodvision/internal/analyzer"
	"github.com/dj-oyu/moodvision/internal/mood"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	// BoxThickness is the stroke width of face boxes.
	BoxThickness = 3
	// LabelGap is the distance between the box edge and the label baseline.
	LabelGap = 10
	// LabelSize is the label font size in points at 72 DPI.
	LabelSize = 22
)

var outline = color.RGBA{0, 0, 0, 255}

var (
	fontOnce  sync.Once
	fontErr   error
	labelFont *opentype.Font
)

// LabelFace returns a new bold Go font face for labels. The font is parsed
// once; a face caches glyph buffers and must not be shared between
// goroutines.
func LabelFace() (font.Face, error) {
	fontOnce.Do(func() {
		labelFont, fontErr = opentype.Parse(gobold.TTF)
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return opentype.NewFace(labelFont, &opentype.FaceOptions{
		Size:    LabelSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// DrawBox strokes rect with the given thickness, growing inwards. Pixels
// outside img are skipped.
func DrawBox(img *image.RGBA, rect image.Rectangle, c color.RGBA, thickness int) {
	rect = rect.Canon()
	if thickness < 1 {
		thickness = 1
	}
	src := image.NewUniform(c)
	fill := func(r image.Rectangle) {
		r = r.Intersect(img.Bounds())
		if !r.Empty() {
			draw.Draw(img, r, src, image.Point{}, draw.Src)
		}
	}

	t := thickness
	fill(image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+t))
	fill(image.Rect(rect.Min.X, rect.Max.Y-t, rect.Max.X, rect.Max.Y))
	fill(image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+t, rect.Max.Y))
	fill(image.Rect(rect.Max.X-t, rect.Min.Y, rect.Max.X, rect.Max.Y))
}

// LabelOrigin returns the baseline origin for a label attached to box.
// The label sits LabelGap pixels above the box; when its top would leave
// the image it moves below the box instead.
func LabelOrigin(box image.Rectangle, ascent int) image.Point {
	box = box.Canon()
	pt := image.Pt(box.Min.X, box.Min.Y-LabelGap)
	if pt.Y-ascent < 0 {
		pt.Y = box.Max.Y + LabelGap + ascent
	}
	if pt.X < 0 {
		pt.X = 0
	}
	return pt
}

// DrawLabel writes text with its baseline at origin: a black outline
// first, then the colour on top.
func DrawLabel(img *image.RGBA, origin image.Point, text string, c color.RGBA) error {
	fc, err := LabelFace()
	if err != nil {
		return err
	}
	defer fc.Close()
	drawLabel(img, fc, origin, text, c)
	return nil
}

func drawLabel(img *image.RGBA, fc font.Face, origin image.Point, text string, c color.RGBA) {
	d := &font.Drawer{Dst: img, Face: fc, Src: image.NewUniform(outline)}
	for _, off := range [...]image.Point{{-2, 0}, {2, 0}, {0, -2}, {0, 2}, {-1, -1}, {1, 1}, {-1, 1}, {1, -1}} {
		d.Dot = fixed.P(origin.X+off.X, origin.Y+off.Y)
		d.DrawString(text)
	}

	d.Src = image.NewUniform(c)
	d.Dot = fixed.P(origin.X, origin.Y)
	d.DrawString(text)
}

// Annotate draws a box and a label for every face.
func Annotate(img *image.RGBA, faces []analyzer.Face, mode mood.LabelMode) error {
	if len(faces) == 0 {
		return nil
	}
	fc, err := LabelFace()
	if err != nil {
		return err
	}
	defer fc.Close()
	ascent := fc.Metrics().Ascent.Ceil()

	for _, f := range faces {
		style := mood.StyleFor(f.DominantEmotion)
		box := f.Region.Rect()
		DrawBox(img, box, style.Color, BoxThickness)
		drawLabel(img, fc, LabelOrigin(box, ascent), mode.Label(f.DominantEmotion), style.Color)
	}
	return nil
}

// Mirror flips img horizontally in place.
func Mirror(img *image.RGBA) {
	b := img.Bounds()
	w := b.Dx()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Min.X, y)+w*4]
		for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
			lp, rp := row[l*4:l*4+4], row[r*4:r*4+4]
			for i := 0; i < 4; i++ {
				lp[i], rp[i] = rp[i], lp[i]
			}
		}
	}
}
