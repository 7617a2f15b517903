// Package mood holds the fixed emotion vocabulary, its display palette and
// the shared emotion tally shown on the dashboard.
package mood

import (
	"image/color"
	"strings"
)

// Emotion is one of the seven classes reported by the analyzer.
type Emotion string

const (
	Happy    Emotion = "happy"
	Sad      Emotion = "sad"
	Angry    Emotion = "angry"
	Neutral  Emotion = "neutral"
	Surprise Emotion = "surprise"
	Fear     Emotion = "fear"
	Disgust  Emotion = "disgust"
)

// order is the canonical key order. Dominant-mood ties resolve to the
// earliest entry.
var order = [...]Emotion{Happy, Sad, Angry, Neutral, Surprise, Fear, Disgust}

// All returns the emotions in canonical order.
func All() []Emotion {
	out := make([]Emotion, len(order))
	copy(out, order[:])
	return out
}

// Parse maps an analyzer label to an Emotion, ignoring case and
// surrounding whitespace.
func Parse(s string) (Emotion, bool) {
	e := Emotion(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range order {
		if e == known {
			return e, true
		}
	}
	return "", false
}

func (e Emotion) String() string {
	return string(e)
}

func (e Emotion) index() int {
	for i, known := range order {
		if e == known {
			return i
		}
	}
	return -1
}

// Style is how an emotion is drawn and described.
type Style struct {
	Color   color.RGBA
	Caption string
	Vibe    string
}

var styles = map[Emotion]Style{
	Happy:    {Color: color.RGBA{R: 0, G: 255, B: 0, A: 255}, Caption: "Happy :)", Vibe: "Radiant"},
	Sad:      {Color: color.RGBA{R: 0, G: 0, B: 255, A: 255}, Caption: "Sad :(", Vibe: "Blue"},
	Angry:    {Color: color.RGBA{R: 255, G: 0, B: 0, A: 255}, Caption: "Angry >:@", Vibe: "Heated"},
	Neutral:  {Color: color.RGBA{R: 255, G: 255, B: 0, A: 255}, Caption: "Normal :|", Vibe: "Chill"},
	Surprise: {Color: color.RGBA{R: 0, G: 165, B: 255, A: 255}, Caption: "Wow :O", Vibe: "Shocked"},
	Fear:     {Color: color.RGBA{R: 128, G: 0, B: 128, A: 255}, Caption: "Scared o_O", Vibe: "Nervous"},
	Disgust:  {Color: color.RGBA{R: 0, G: 128, B: 0, A: 255}, Caption: "Yuck XP", Vibe: "Eww"},
}

// FallbackColor is used for labels outside the fixed vocabulary.
var FallbackColor = color.RGBA{R: 255, G: 0, B: 255, A: 255}

// StyleFor returns the palette entry for a raw analyzer label. Unknown
// labels get the fallback colour and the label itself as caption.
func StyleFor(label string) Style {
	if e, ok := Parse(label); ok {
		return styles[e]
	}
	return Style{Color: FallbackColor, Caption: label, Vibe: "Unknown"}
}

// LabelMode selects the text drawn above a face.
type LabelMode string

const (
	LabelUpper   LabelMode = "upper"
	LabelCaption LabelMode = "caption"
)

// ParseLabelMode validates a label mode name.
func ParseLabelMode(s string) (LabelMode, bool) {
	switch LabelMode(strings.ToLower(s)) {
	case LabelUpper:
		return LabelUpper, true
	case LabelCaption:
		return LabelCaption, true
	}
	return "", false
}

// Label renders the overlay text for an analyzer label.
func (m LabelMode) Label(label string) string {
	if m == LabelCaption {
		return StyleFor(label).Caption
	}
	return strings.ToUpper(label)
}
