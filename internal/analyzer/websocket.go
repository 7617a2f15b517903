package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/moodvision/internal/logger"
	"github.com/gorilla/websocket"
)

// WebSocket keeps one connection to a remote analyzer. Each frame goes out
// as a binary JPEG message and exactly one JSON message comes back.
type WebSocket struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	log     logger.Module

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocket returns a lazily connecting client for url (ws:// or wss://).
func NewWebSocket(url string, timeout time.Duration) *WebSocket {
	return &WebSocket{
		url:     url,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		log:     logger.For("Analyzer"),
	}
}

// Analyze sends jpeg and waits for the matching reply. Calls are
// serialized; a transport error drops the connection and the next call
// redials.
func (w *WebSocket) Analyze(ctx context.Context, jpeg []byte) ([]Face, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}

	conn, err := w.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	deadline := deadlineOr(ctx, w.timeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, jpeg); err != nil {
		w.dropLocked()
		return nil, fmt.Errorf("send frame: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, message, err := conn.ReadMessage()
	if err != nil {
		w.dropLocked()
		return nil, fmt.Errorf("read analysis: %w", err)
	}

	return decodeFaces(message)
}

func (w *WebSocket) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}

	w.log.Info("Connecting to analyzer at %s", w.url)
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial analyzer: %w", err)
	}
	w.conn = conn
	w.log.Info("Connected to analyzer")
	return conn, nil
}

func (w *WebSocket) dropLocked() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.log.Warn("Analyzer connection lost, will redial on next frame")
	}
}

// Close sends a close frame and releases the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := w.conn.Close()
	w.conn = nil
	return err
}
