package webrtc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v3"
)

func browserOffer(t *testing.T) ([]byte, *webrtc.PeerConnection) {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	<-gathered

	body, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		t.Fatal(err)
	}
	return body, pc
}

func TestHandleOfferReturnsAnswer(t *testing.T) {
	s := NewServer(nil, 2, 30, nil, nil)
	defer s.Close()

	offer, pc := browserOffer(t)
	answerJSON, err := s.HandleOffer(offer)
	if err != nil {
		t.Fatalf("HandleOffer() = %v", err)
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(answerJSON, &answer); err != nil {
		t.Fatalf("answer is not JSON: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP == "" {
		t.Fatalf("answer = %+v", answer)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		t.Fatalf("browser rejected answer: %v", err)
	}
	if s.GetClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", s.GetClientCount())
	}

	s.Close()
	if s.GetClientCount() != 0 {
		t.Fatalf("client count after Close = %d", s.GetClientCount())
	}
}

func TestHandleOfferRejectsBadInput(t *testing.T) {
	s := NewServer([]string{"stun:stun.l.google.com:19302"}, 1, 30, nil, nil)

	for name, body := range map[string]string{
		"not json":   "{",
		"wrong type": `{"type": "answer", "sdp": "v=0"}`,
		"no sdp":     `{"type": "offer"}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := s.HandleOffer([]byte(body)); err == nil {
				t.Fatal("HandleOffer() = nil error")
			}
		})
	}
}

func TestHandleOfferEnforcesClientLimit(t *testing.T) {
	s := NewServer(nil, 0, 30, nil, nil)
	offer, _ := browserOffer(t)
	if _, err := s.HandleOffer(offer); !errors.Is(err, ErrTooManyClients) {
		t.Fatalf("HandleOffer() = %v, want ErrTooManyClients", err)
	}
}
