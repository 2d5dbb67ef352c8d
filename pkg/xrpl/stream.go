package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 10 * time.Second
	maxBackoff               = 320 * time.Second
	writeWait                = 10 * time.Second
)

// FrameHandler receives each raw message from the subscription stream.
type FrameHandler func(raw []byte)

// StreamConfig wires a StreamingMonitor.
type StreamConfig struct {
	URL                  string
	Accounts             []string
	Streams              []string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	// Heartbeat timings; zero values take the defaults.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// StreamingMonitor maintains a subscription over a ledger websocket and
// pushes every inbound frame to the handler. It reconnects with exponential
// backoff and gives up after MaxReconnectAttempts consecutive failures.
type StreamingMonitor struct {
	cfg     StreamConfig
	handler FrameHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	lastMsg   time.Time
}

func NewStreamingMonitor(cfg StreamConfig, handler FrameHandler) *StreamingMonitor {
	if len(cfg.Streams) == 0 {
		cfg.Streams = []string{"transactions"}
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	return &StreamingMonitor{cfg: cfg, handler: handler}
}

// Connected reports whether the subscription is currently live.
func (m *StreamingMonitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Run drives the connect/read/reconnect loop until the context is canceled or
// the reconnect budget is exhausted.
func (m *StreamingMonitor) Run(ctx context.Context) error {
	attempts := 0
	backoff := m.cfg.ReconnectDelay

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := m.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == errSubscribed {
			// Session was established and later dropped: the failure
			// counter starts over.
			attempts = 0
			backoff = m.cfg.ReconnectDelay
		}

		attempts++
		if attempts > m.cfg.MaxReconnectAttempts {
			log.Error().
				Int("attempts", attempts-1).
				Msg("❌ stream reconnect budget exhausted")
			return fmt.Errorf("stream failed after %d reconnect attempts", attempts-1)
		}

		log.Warn().
			Err(errOrNil(err)).
			Int("attempt", attempts).
			Dur("backoff", backoff).
			Msg("🔄 stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// errSubscribed marks a session that subscribed successfully before dying, as
// opposed to one that never got off the ground.
var errSubscribed = fmt.Errorf("session dropped after subscribe")

func errOrNil(err error) error {
	if err == errSubscribed {
		return nil
	}
	return err
}

func (m *StreamingMonitor) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}

	if err := m.subscribe(conn); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.lastMsg = time.Now()
	m.mu.Unlock()

	log.Info().
		Str("url", m.cfg.URL).
		Int("accounts", len(m.cfg.Accounts)).
		Msg("📡 ledger stream subscribed")

	defer func() {
		m.mu.Lock()
		m.connected = false
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
	}()

	readErr := make(chan error, 1)
	go m.readLoop(conn, readErr)

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case err := <-readErr:
			log.Debug().Err(err).Msg("stream read error")
			return errSubscribed
		case <-ticker.C:
			// The connection counts as dead once no message of any kind
			// has arrived for a full heartbeat interval plus the response
			// timeout.
			if time.Since(m.last()) > m.cfg.HeartbeatInterval+m.cfg.HeartbeatTimeout {
				log.Warn().Msg("💔 heartbeat timeout, dropping connection")
				return errSubscribed
			}
			// An application-level ping; the server's {type:"response"}
			// arrives through the read loop and refreshes lastMsg.
			conn.SetWriteDeadline(time.Now().Add(m.cfg.HeartbeatTimeout))
			if err := conn.WriteJSON(map[string]interface{}{"command": "ping"}); err != nil {
				return errSubscribed
			}
		}
	}
}

func (m *StreamingMonitor) readLoop(conn *websocket.Conn, out chan<- error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			out <- err
			return
		}
		m.touch()
		if m.handler != nil {
			m.handler(raw)
		}
	}
}

func (m *StreamingMonitor) subscribe(conn *websocket.Conn) error {
	req := map[string]interface{}{
		"id":      1,
		"command": "subscribe",
		"streams": m.cfg.Streams,
	}
	if len(m.cfg.Accounts) > 0 {
		req["accounts"] = m.cfg.Accounts
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(req); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(writeWait))
	defer conn.SetReadDeadline(time.Time{})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("subscribe response: %w", err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("subscribe rejected: %s", resp.Error)
	}
	return nil
}

func (m *StreamingMonitor) touch() {
	m.mu.Lock()
	m.lastMsg = time.Now()
	m.mu.Unlock()
}

func (m *StreamingMonitor) last() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMsg
}
