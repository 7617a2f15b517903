package dashboard

import (
	"time"

	"github.com/dj-oyu/moodvision/internal/mood"
	"github.com/dj-oyu/moodvision/internal/pipeline"
)

// StatsProvider reports pipeline counters.
type StatsProvider interface {
	Stats() pipeline.Stats
}

// Status is the payload of /api/status and every status SSE event.
type Status struct {
	Counts     map[string]uint64 `json:"counts"`
	Order      []string          `json:"order"`
	TotalScans uint64            `json:"total_scans"`
	Dominant   string            `json:"dominant"`
	Vibe       string            `json:"vibe"`
	Pipeline   *pipeline.Stats   `json:"pipeline,omitempty"`
	Clients    ClientStats       `json:"clients"`
	Timestamp  float64           `json:"timestamp"`
}

// ClientStats counts connected viewers.
type ClientStats struct {
	MJPEG  int `json:"mjpeg"`
	WebRTC int `json:"webrtc"`
}

var emotionOrder = func() []string {
	all := mood.All()
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.String()
	}
	return out
}()

// buildStatus combines a tally snapshot with pipeline and client stats.
func buildStatus(snap mood.Snapshot, stats StatsProvider, clients ClientStats, now time.Time) Status {
	st := Status{
		Counts:     snap.Map(),
		Order:      emotionOrder,
		TotalScans: snap.Total,
		Dominant:   snap.Dominant,
		Vibe:       snap.Vibe,
		Clients:    clients,
		Timestamp:  float64(now.UnixMilli()) / 1000,
	}
	if stats != nil {
		ps := stats.Stats()
		st.Pipeline = &ps
	}
	return st
}
