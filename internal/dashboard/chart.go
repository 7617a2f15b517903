package dashboard

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"sync"

	"github.com/dj-oyu/moodvision/internal/mood"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	chartWidth  = 640
	chartHeight = 360
	chartMargin = 40
	chartNoData = "No data yet. Start scanning!"
)

var (
	chartBackground = color.RGBA{R: 0x16, G: 0x1b, B: 0x22, A: 255}
	chartAxis       = color.RGBA{R: 0x8b, G: 0x94, B: 0x9e, A: 255}
	chartText       = color.RGBA{R: 0xe6, G: 0xed, B: 0xf3, A: 255}
)

var (
	chartFontOnce sync.Once
	chartFont     *opentype.Font
	chartFontErr  error
)

// newChartFace builds a face per render; faces are not safe for
// concurrent use, the parsed font is.
func newChartFace() (font.Face, error) {
	chartFontOnce.Do(func() {
		chartFont, chartFontErr = opentype.Parse(goregular.TTF)
	})
	if chartFontErr != nil {
		return nil, chartFontErr
	}
	return opentype.NewFace(chartFont, &opentype.FaceOptions{
		Size:    13,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// renderChart draws one bar per emotion, in the fixed order, coloured by
// its style. An empty tally renders a placeholder message.
func renderChart(snap mood.Snapshot) ([]byte, error) {
	face, err := newChartFace()
	if err != nil {
		return nil, err
	}
	defer face.Close()

	img := image.NewRGBA(image.Rect(0, 0, chartWidth, chartHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(chartBackground), image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(chartText)}
	centered := func(s string, cx, baseline int) {
		w := d.MeasureString(s).Ceil()
		d.Dot = fixed.P(cx-w/2, baseline)
		d.DrawString(s)
	}

	if snap.Total == 0 {
		centered(chartNoData, chartWidth/2, chartHeight/2)
		return encodePNG(img)
	}

	plot := image.Rect(chartMargin, chartMargin/2, chartWidth-chartMargin/2, chartHeight-chartMargin)
	draw.Draw(img, image.Rect(plot.Min.X, plot.Max.Y, plot.Max.X, plot.Max.Y+1), image.NewUniform(chartAxis), image.Point{}, draw.Src)

	var peak uint64
	for _, c := range snap.Counts {
		peak = max(peak, c.Count)
	}

	slot := plot.Dx() / max(len(snap.Counts), 1)
	barWidth := slot * 3 / 5
	for i, c := range snap.Counts {
		cx := plot.Min.X + i*slot + slot/2
		h := int(uint64(plot.Dy()-16) * c.Count / peak)
		bar := image.Rect(cx-barWidth/2, plot.Max.Y-h, cx+barWidth/2, plot.Max.Y)
		draw.Draw(img, bar, image.NewUniform(mood.StyleFor(string(c.Emotion)).Color), image.Point{}, draw.Src)

		centered(strconv.FormatUint(c.Count, 10), cx, bar.Min.Y-4)
		centered(string(c.Emotion), cx, plot.Max.Y+18)
	}

	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
