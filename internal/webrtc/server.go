package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/moodvision/internal/h264"
	"github.com/dj-oyu/moodvision/internal/logger"
	"github.com/dj-oyu/moodvision/internal/metrics"
	"github.com/dj-oyu/moodvision/pkg/types"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	// H.264 clock rate (90kHz for video)
	h264ClockRate = 90000
)

// ErrTooManyClients is returned by HandleOffer when the client limit is hit.
var ErrTooManyClients = errors.New("maximum clients reached")

// Client represents a connected WebRTC client
type Client struct {
	id            string
	peerConn      *webrtc.PeerConnection
	videoTrack    *webrtc.TrackLocalStaticSample
	frameChan     chan *types.H264Frame
	closeOnce     sync.Once
	closeChan     chan struct{}
	gotKeyframe   bool
	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.peerConn.Close()
	})
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	frameDur   time.Duration
	api        *webrtc.API
	headers    *h264.Processor
	metrics    *metrics.Metrics
	log        logger.Module
}

// NewServer creates a WebRTC server. With no STUN servers only host
// candidates are offered. headers supplies SPS/PPS for peers that join
// between keyframes; m may be nil.
func NewServer(stunServers []string, maxClients, fps int, headers *h264.Processor, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		logger.Error("WebRTC", "Failed to register codecs: %v", err)
	}

	if fps <= 0 {
		fps = 30
	}
	if headers == nil {
		headers = h264.NewProcessor()
	}

	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: maxClients,
		frameDur:   time.Second / time.Duration(fps),
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(settingsEngine),
			webrtc.WithMediaEngine(mediaEngine),
		),
		headers: headers,
		metrics: m,
		log:     logger.For("WebRTC"),
	}
}

// HandleOffer takes a JSON SessionDescription offer and returns the JSON
// answer once ICE gathering has finished, so the browser needs no
// trickle ICE.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("failed to parse offer: expected type \"offer\" with sdp")
	}

	if n := s.GetClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeH264,
			ClockRate: h264ClockRate,
		},
		"video",
		"moodvision",
	)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	rtpSender, err := peerConn.AddTrack(videoTrack)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to add track: %w", err)
	}

	// Drain RTCP so the interceptors keep running.
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, err := rtpSender.Read(rtcpBuf); err != nil {
				return
			}
		}
	}()

	client := &Client{
		id:         uuid.NewString(),
		peerConn:   peerConn,
		videoTrack: videoTrack,
		frameChan:  make(chan *types.H264Frame, 30),
		closeChan:  make(chan struct{}),
	}

	peerConn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.log.Debug("Client %s ICE state: %s", client.id, state.String())
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			s.RemoveClient(client.id)
		}
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.log.Info("Client %s connection lost (%s)", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.ActiveClients.Add(1)
		s.metrics.TotalClients.Add(1)
	}

	go s.sendFrames(client)

	s.log.Info("Client %s connected", client.id)
	return answerJSON, nil
}

// SendFrame queues an access unit for every client without blocking.
func (s *Server) SendFrame(frame *types.H264Frame) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.frameChan <- frame:
		default:
			client.framesDropped.Add(1)
			if s.metrics != nil {
				s.metrics.WebRTCFramesDropped.Add(1)
			}
		}
	}
}

// sendFrames writes queued access units to one client's track. Nothing is
// sent before the first keyframe, and that keyframe carries SPS/PPS.
func (s *Server) sendFrames(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return

		case frame := <-client.frameChan:
			data := frame.Data
			if !client.gotKeyframe {
				if !frame.IsIDR {
					continue
				}
				data = s.headers.PrependHeaders(data)
				client.gotKeyframe = true
			}

			if err := client.videoTrack.WriteSample(media.Sample{
				Data:     data,
				Duration: s.frameDur,
			}); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					s.log.Warn("Error writing sample for client %s: %v", client.id, err)
					if s.metrics != nil {
						s.metrics.WebRTCErrors.Add(1)
					}
				}
				s.RemoveClient(client.id)
				return
			}

			client.framesSent.Add(1)
			if s.metrics != nil {
				s.metrics.WebRTCFramesSent.Add(1)
			}
			if frame.FrameNum%300 == 0 {
				s.log.Debug("Sent H.264 frame#%d to client %s", frame.FrameNum, client.id)
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	client.close()
	if s.metrics != nil {
		s.metrics.ActiveClients.Add(^uint64(0))
	}
	s.log.Info("Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.framesSent.Load(), client.framesDropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64, len(s.clients))
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"frames_sent":    client.framesSent.Load(),
			"frames_dropped": client.framesDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
