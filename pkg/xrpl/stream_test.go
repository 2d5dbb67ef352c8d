package xrpl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedgerServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     []*websocket.Conn
	pings     int
	mutePings bool
}

func newFakeLedgerServer(t *testing.T) (*fakeLedgerServer, string, func()) {
	f := &fakeLedgerServer{t: t}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return f, url, srv.Close
}

func (f *fakeLedgerServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	// Answer the subscribe request, then serve ping commands until the
	// connection drops.
	var req map[string]interface{}
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	conn.WriteJSON(map[string]interface{}{"id": req["id"], "status": "success", "type": "response"})
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if cmd, _ := msg["command"].(string); cmd == "ping" {
			f.mu.Lock()
			f.pings++
			mute := f.mutePings
			f.mu.Unlock()
			if !mute {
				conn.WriteJSON(map[string]interface{}{"type": "response"})
			}
		}
	}
}

func (f *fakeLedgerServer) send(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.WriteMessage(websocket.TextMessage, []byte(raw))
	}
}

func (f *fakeLedgerServer) connCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeLedgerServer) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func TestStreamDeliversFrames(t *testing.T) {
	srv, url, done := newFakeLedgerServer(t)
	defer done()

	frames := make(chan []byte, 10)
	mon := NewStreamingMonitor(StreamConfig{
		URL:                  url,
		Accounts:             []string{"rTarget"},
		MaxReconnectAttempts: 3,
		ReconnectDelay:       10 * time.Millisecond,
	}, func(raw []byte) { frames <- raw })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- mon.Run(ctx) }()

	require.Eventually(t, mon.Connected, 2*time.Second, 10*time.Millisecond)

	srv.send(`{"type":"transaction","validated":true}`)
	select {
	case raw := <-frames:
		assert.Contains(t, string(raw), "transaction")
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.False(t, mon.Connected())
}

func TestStreamHeartbeatKeepsConnectionAlive(t *testing.T) {
	srv, url, done := newFakeLedgerServer(t)
	defer done()

	mon := NewStreamingMonitor(StreamConfig{
		URL:                  url,
		MaxReconnectAttempts: 2,
		ReconnectDelay:       10 * time.Millisecond,
		HeartbeatInterval:    30 * time.Millisecond,
		HeartbeatTimeout:     20 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- mon.Run(ctx) }()

	require.Eventually(t, mon.Connected, 2*time.Second, 10*time.Millisecond)

	// Answered pings carry the session through several silent intervals on
	// the one original connection.
	require.Eventually(t, func() bool { return srv.pingCount() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.connCount())
	assert.True(t, mon.Connected())

	cancel()
	<-errCh
}

func TestStreamHeartbeatTimeoutReconnects(t *testing.T) {
	srv, url, done := newFakeLedgerServer(t)
	defer done()
	srv.mu.Lock()
	srv.mutePings = true
	srv.mu.Unlock()

	mon := NewStreamingMonitor(StreamConfig{
		URL:                  url,
		MaxReconnectAttempts: 2,
		ReconnectDelay:       10 * time.Millisecond,
		HeartbeatInterval:    30 * time.Millisecond,
		HeartbeatTimeout:     20 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- mon.Run(ctx) }()

	// Each silent session times out and is redialed; the budget never
	// exhausts because an established subscription resets the counter.
	require.Eventually(t, func() bool { return srv.connCount() >= 3 }, 5*time.Second, 10*time.Millisecond)

	select {
	case err := <-errCh:
		t.Fatalf("monitor gave up: %v", err)
	default:
	}

	cancel()
	<-errCh
}

func TestStreamGivesUpAfterMaxAttempts(t *testing.T) {
	// Nothing listens on this address.
	mon := NewStreamingMonitor(StreamConfig{
		URL:                  "ws://127.0.0.1:1",
		MaxReconnectAttempts: 2,
		ReconnectDelay:       time.Millisecond,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := mon.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect attempts")
}

func TestStreamRejectedSubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var req map[string]interface{}
		conn.ReadJSON(&req)
		conn.WriteJSON(map[string]interface{}{"id": req["id"], "status": "error", "error": "noPermission"})
		conn.Close()
	}))
	defer srv.Close()

	mon := NewStreamingMonitor(StreamConfig{
		URL:                  "ws" + strings.TrimPrefix(srv.URL, "http"),
		MaxReconnectAttempts: 1,
		ReconnectDelay:       time.Millisecond,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := mon.Run(ctx)
	require.Error(t, err)
}
