package mood

import (
	"strings"
	"sync"
)

const (
	// Waiting is reported as the dominant mood before the first scan.
	Waiting        = "WAITING..."
	waitingVibe    = "Loading..."
	unknownVibeTag = "Unknown"
)

// Count is one emotion with its number of scans.
type Count struct {
	Emotion Emotion `json:"emotion"`
	Count   uint64  `json:"count"`
}

// Snapshot is a consistent copy of the tally.
type Snapshot struct {
	Counts   []Count `json:"counts"`
	Total    uint64  `json:"total_scans"`
	Dominant string  `json:"dominant"`
	Vibe     string  `json:"vibe"`
}

// CountOf returns the count for e, or 0 for unknown emotions.
func (s Snapshot) CountOf(e Emotion) uint64 {
	for _, c := range s.Counts {
		if c.Emotion == e {
			return c.Count
		}
	}
	return 0
}

// Map returns the counts keyed by emotion name.
func (s Snapshot) Map() map[string]uint64 {
	m := make(map[string]uint64, len(s.Counts))
	for _, c := range s.Counts {
		m[string(c.Emotion)] = c.Count
	}
	return m
}

// Tally counts scans per emotion. It is shared between the analysis
// worker and the dashboard, so every access goes through mu.
type Tally struct {
	mu     sync.Mutex
	counts [len(order)]uint64
}

// NewTally returns a tally with every counter at zero.
func NewTally() *Tally {
	return &Tally{}
}

// Record increments the counter for label. Labels outside the fixed
// vocabulary are ignored and reported with false.
func (t *Tally) Record(label string) bool {
	e, ok := Parse(label)
	if !ok {
		return false
	}

	t.mu.Lock()
	t.counts[e.index()]++
	t.mu.Unlock()
	return true
}

// Reset zeroes every counter.
func (t *Tally) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.counts {
		t.counts[i] = 0
	}
}

// Snapshot copies the counters and derives total, dominant mood and vibe.
func (t *Tally) Snapshot() Snapshot {
	t.mu.Lock()
	counts := t.counts
	t.mu.Unlock()

	snap := Snapshot{Counts: make([]Count, len(order))}
	best := -1
	for i, e := range order {
		snap.Counts[i] = Count{Emotion: e, Count: counts[i]}
		snap.Total += counts[i]
		if best < 0 || counts[i] > counts[best] {
			best = i
		}
	}

	if snap.Total == 0 {
		snap.Dominant = Waiting
		snap.Vibe = waitingVibe
		return snap
	}

	dominant := order[best]
	snap.Dominant = strings.ToUpper(string(dominant))
	snap.Vibe = VibeFor(snap.Dominant)
	return snap
}

// VibeFor maps a dominant-mood string (any case) to its vibe.
func VibeFor(dominant string) string {
	if dominant == Waiting {
		return waitingVibe
	}
	if e, ok := Parse(dominant); ok {
		return styles[e].Vibe
	}
	return unknownVibeTag
}
