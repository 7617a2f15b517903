// Package h264 handles Annex-B H.264 byte streams coming out of the
// encoder: NAL unit parsing, access unit splitting and SPS/PPS caching.
package h264

import (
	"bytes"
	"sync"

	"github.com/dj-oyu/moodvision/pkg/types"
)

// Processor caches parameter sets and flags IDR access units. The encoder
// drain loop writes the cache while peers and the recorder read it.
type Processor struct {
	mu         sync.RWMutex
	spsCache   []byte // Cached SPS NAL unit, start code included
	ppsCache   []byte // Cached PPS NAL unit, start code included
	hasHeaders bool
}

// NewProcessor creates a new H.264 processor
func NewProcessor() *Processor {
	return &Processor{}
}

// Process scans one access unit, refreshes the SPS/PPS cache and sets
// frame.IsIDR. Only parameter sets are copied; slice data is not.
func (p *Processor) Process(frame *types.H264Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ForEachNAL(frame.Data, func(nalType uint8, nal []byte) {
		switch nalType {
		case types.NALTypeSPS:
			p.spsCache = append(p.spsCache[:0], nal...)
		case types.NALTypePPS:
			p.ppsCache = append(p.ppsCache[:0], nal...)
			if len(p.spsCache) > 0 {
				p.hasHeaders = true
			}
		case types.NALTypeIDR:
			frame.IsIDR = true
		}
	})
	return nil
}

// PrependHeaders returns data with the cached SPS/PPS in front when data
// holds an IDR slice but no SPS of its own. Decoders joining mid-stream
// (a recording or a fresh peer) need them before the first keyframe.
func (p *Processor) PrependHeaders(data []byte) []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.hasHeaders {
		return data
	}

	hasIDR, hasSPS := false, false
	ForEachNAL(data, func(nalType uint8, _ []byte) {
		switch nalType {
		case types.NALTypeIDR:
			hasIDR = true
		case types.NALTypeSPS:
			hasSPS = true
		}
	})
	if !hasIDR || hasSPS {
		return data
	}

	out := make([]byte, 0, len(p.spsCache)+len(p.ppsCache)+len(data))
	out = append(out, p.spsCache...)
	out = append(out, p.ppsCache...)
	return append(out, data...)
}

// HasHeaders returns true if SPS/PPS headers are cached
func (p *Processor) HasHeaders() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hasHeaders
}

// GetSPS returns a copy of the cached SPS NAL unit
func (p *Processor) GetSPS() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return bytes.Clone(p.spsCache)
}

// GetPPS returns a copy of the cached PPS NAL unit
func (p *Processor) GetPPS() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return bytes.Clone(p.ppsCache)
}
