package h264

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/dj-oyu/moodvision/pkg/types"
)

// startCodeAt reports the length of the Annex-B start code at data[i:],
// or 0 when there is none.
func startCodeAt(data []byte, i int) int {
	if i+3 <= len(data) && data[i] == 0 && data[i+1] == 0 {
		if data[i+2] == 1 {
			return 3
		}
		if i+4 <= len(data) && data[i+2] == 0 && data[i+3] == 1 {
			return 4
		}
	}
	return 0
}

// findNextStartCode returns the offset of the next start code at or
// after offset, or -1.
func findNextStartCode(data []byte, offset int) int {
	for i := offset; i+3 <= len(data); i++ {
		if startCodeAt(data, i) > 0 {
			return i
		}
	}
	return -1
}

// ForEachNAL calls fn for every NAL unit in data. nal includes its start
// code and aliases data.
func ForEachNAL(data []byte, fn func(nalType uint8, nal []byte)) {
	start := findNextStartCode(data, 0)
	for start >= 0 {
		header := start + startCodeAt(data, start)
		if header >= len(data) {
			return
		}
		end := findNextStartCode(data, header+1)
		next := end
		if end < 0 {
			end = len(data)
		}
		fn(data[header]&0x1F, data[start:end])
		start = next
	}
}

// ParseNALUnits copies every NAL unit out of data.
func ParseNALUnits(data []byte) []types.NALUnit {
	var units []types.NALUnit
	ForEachNAL(data, func(nalType uint8, nal []byte) {
		units = append(units, types.NALUnit{Type: nalType, Data: bytes.Clone(nal)})
	})
	return units
}

// ExtractNALType returns the type of the first NAL unit in data.
func ExtractNALType(data []byte) uint8 {
	if n := startCodeAt(data, 0); n > 0 && len(data) > n {
		return data[n] & 0x1F
	}
	return 0
}

// IsIDRFrame reports whether data starts with an IDR slice.
func IsIDRFrame(data []byte) bool {
	return ExtractNALType(data) == types.NALTypeIDR
}

// Splitter cuts an Annex-B byte stream into access units. The encoder is
// run with access unit delimiters enabled, so every AUD NAL starts a new
// unit.
type Splitter struct {
	r   *bufio.Reader
	buf []byte
	eof bool
}

// NewSplitter reads Annex-B data from r.
func NewSplitter(r io.Reader) *Splitter {
	return &Splitter{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next complete access unit, without its AUD. It returns
// io.EOF after the last unit.
func (s *Splitter) Next() ([]byte, error) {
	chunk := make([]byte, 32*1024)
	for {
		if au, ok := s.cut(); ok {
			if len(au) == 0 {
				continue
			}
			return au, nil
		}
		if s.eof {
			if len(s.buf) == 0 {
				return nil, io.EOF
			}
			au := stripAUD(s.buf)
			s.buf = nil
			if len(au) == 0 {
				return nil, io.EOF
			}
			return au, nil
		}

		n, err := s.r.Read(chunk)
		s.buf = append(s.buf, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			s.eof = true
		} else if err != nil {
			return nil, err
		}
	}
}

// cut removes the leading access unit from buf when the next AUD has
// already arrived.
func (s *Splitter) cut() ([]byte, bool) {
	first := indexAUD(s.buf, 0)
	if first < 0 {
		return nil, false
	}
	second := indexAUD(s.buf, first+startCodeAt(s.buf, first)+1)
	if second < 0 {
		if first > 0 {
			s.buf = s.buf[first:]
		}
		return nil, false
	}
	au := stripAUD(bytes.Clone(s.buf[first:second]))
	s.buf = append(s.buf[:0], s.buf[second:]...)
	return au, true
}

// indexAUD returns the offset of the start code of the first AUD NAL at
// or after from, or -1.
func indexAUD(data []byte, from int) int {
	for i := from; i+4 <= len(data); i++ {
		n := startCodeAt(data, i)
		if n == 0 || i+n >= len(data) {
			continue
		}
		if data[i+n]&0x1F == types.NALTypeAUD {
			return i
		}
		i += n - 1
	}
	return -1
}

// stripAUD drops the leading AUD NAL.
func stripAUD(au []byte) []byte {
	var out []byte
	ForEachNAL(au, func(nalType uint8, nal []byte) {
		if nalType != types.NALTypeAUD {
			out = append(out, nal...)
		}
	})
	return out
}
