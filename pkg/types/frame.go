package types

import (
	"image"
	"time"
)

// VideoFrame is one annotated RGBA frame leaving the pipeline. Consumers
// must treat Image as read-only; it is shared between sinks.
type VideoFrame struct {
	Image     *image.RGBA
	Timestamp time.Time // Capture time
	FrameNum  uint64    // Sequential frame number
	Faces     int       // Faces drawn on this frame
}

// H264Frame represents a complete H.264 access unit with metadata
type H264Frame struct {
	Data      []byte    // Annex-B NAL units
	Timestamp time.Time // Time the access unit left the encoder
	FrameNum  uint64    // Sequential frame number
	IsIDR     bool      // True if this frame contains an IDR
	Width     int       // Frame width
	Height    int       // Frame height
}

// NALUnit represents a single H.264 NAL unit
type NALUnit struct {
	Type uint8  // NAL unit type (lower 5 bits)
	Data []byte // Complete NAL unit including header
}

// NALUnitType constants
const (
	NALTypeSlice     uint8 = 1
	NALTypeIDR       uint8 = 5
	NALTypeSEI       uint8 = 6
	NALTypeSPS       uint8 = 7
	NALTypePPS       uint8 = 8
	NALTypeAUD       uint8 = 9
	NALTypeEndSeq    uint8 = 10
	NALTypeEndStream uint8 = 11
	NALTypeFiller    uint8 = 12
)
