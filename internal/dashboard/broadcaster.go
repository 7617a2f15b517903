package dashboard

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/dj-oyu/moodvision/internal/logger"
	"github.com/dj-oyu/moodvision/internal/metrics"
	"github.com/dj-oyu/moodvision/internal/pipeline"
	"github.com/dj-oyu/moodvision/pkg/types"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// FrameBroadcaster encodes annotated frames to JPEG and fans them out to
// MJPEG viewers. It is a pipeline sink; encoding happens on its own
// goroutine and only while someone is watching.
type FrameBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	input     chan *types.VideoFrame
	quality   int
	metrics   *metrics.Metrics
	stop      chan struct{}
	stopped   bool
	skipCount int
}

// NewFrameBroadcaster creates a broadcaster encoding at the given JPEG
// quality. m may be nil.
func NewFrameBroadcaster(quality int, m *metrics.Metrics) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		input:   make(chan *types.VideoFrame, 1),
		quality: quality,
		metrics: m,
		stop:    make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.MJPEGClients.Add(1)
	}

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.MJPEGClients.Add(-1)
		}
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - JPEG encoding paused")
		}
	}
}

// ClientCount returns the number of MJPEG viewers.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// WriteFrame implements pipeline.Sink. Only the newest frame is kept.
func (fb *FrameBroadcaster) WriteFrame(frame *types.VideoFrame) {
	select {
	case fb.input <- frame:
		return
	default:
	}
	select {
	case <-fb.input:
	default:
	}
	select {
	case fb.input <- frame:
	default:
	}
}

var _ pipeline.Sink = (*FrameBroadcaster)(nil)

// Start begins the encode and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if !fb.stopped {
		close(fb.stop)
		fb.stopped = true
	}
	fb.mu.Unlock()
}

func (fb *FrameBroadcaster) run() {
	for {
		select {
		case <-fb.stop:
			return
		case frame := <-fb.input:
			if fb.ClientCount() == 0 {
				fb.skipCount++
				if fb.skipCount%300 == 0 {
					logger.Debug("FrameBroadcaster", "No clients connected, skipped %d frames", fb.skipCount)
				}
				continue
			}
			fb.skipCount = 0

			jpegData, err := pipeline.EncodeJPEG(frame.Image, fb.quality)
			if err != nil {
				logger.Error("FrameBroadcaster", "JPEG encode failed: %v", err)
				continue
			}
			fb.broadcast(jpegData)
		}
	}
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
type SerializedEvent struct {
	JSONData     []byte // JSON object
	ProtobufData []byte // base64 of a google.protobuf.Struct, for SSE
}

// StatusFunc produces the current dashboard status.
type StatusFunc func() Status

// StatusBroadcaster pushes status events to SSE clients every interval
// and on demand after a state change such as a reset.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent
	nextID   int
	status   StatusFunc
	trigger  chan struct{}
	stop     chan struct{}
	stopped  bool
	interval time.Duration
}

// NewStatusBroadcaster creates a broadcaster for status events.
func NewStatusBroadcaster(status StatusFunc, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		status:   status,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		interval: interval,
	}
}

// Subscribe adds a new client and returns a channel for receiving status events.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2)
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Publish schedules an immediate event outside the regular interval.
func (sb *StatusBroadcaster) Publish() {
	select {
	case sb.trigger <- struct{}{}:
	default:
	}
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	if !sb.stopped {
		close(sb.stop)
		sb.stopped = true
	}
	sb.mu.Unlock()
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
		case <-sb.trigger:
		}

		sb.mu.Lock()
		clientCount := len(sb.clients)
		sb.mu.Unlock()
		if clientCount == 0 {
			continue
		}

		event, err := serializeStatus(sb.status())
		if err != nil {
			logger.Error("StatusBroadcaster", "Serialize status: %v", err)
			continue
		}
		sb.broadcast(event)
	}
}

// serializeStatus renders st once as JSON and once as a base64 protobuf
// Struct. The Struct is built from the JSON so both carry the same fields.
func serializeStatus(st Status) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, err
	}
	pbStatus, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(pbStatus)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}
