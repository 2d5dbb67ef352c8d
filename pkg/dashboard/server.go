package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/xrpl-tracker/pkg/db"
	"github.com/xrpl-tracker/pkg/tracker"
	"github.com/xrpl-tracker/pkg/xrpl"
)

const broadcastInterval = 5 * time.Second

// Server exposes the tracker state over HTTP: JSON endpoints, a live
// websocket feed, and the embedded frontend.
type Server struct {
	store   db.Store
	tracker *tracker.Tracker
	port    int

	// ConnectedFn reports the stream state for /api/stats.
	ConnectedFn func() bool
	// StatusFn supplies the controller status document, when one is wired.
	StatusFn func() interface{}

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func New(store db.Store, trk *tracker.Tracker, port int) *Server {
	return &Server{
		store:   store,
		tracker: trk,
		port:    port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// Run serves until the context ends.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/stats", cors(s.handleStats))
	mux.HandleFunc("/api/tokens", cors(s.handleTokens))
	mux.HandleFunc("/api/hot", cors(s.handleHot))
	mux.HandleFunc("/api/alpha", cors(s.handleAlpha))
	mux.HandleFunc("/api/prices", cors(s.handlePrices))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/", s.serveFrontend)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go s.broadcastLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", srv.Addr).Msg("🌐 dashboard started")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

func cors(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) statsPayload() map[string]interface{} {
	stats, err := s.store.Stats()
	if err != nil {
		stats = &db.Stats{}
	}
	connected := false
	if s.ConnectedFn != nil {
		connected = s.ConnectedFn()
	}
	payload := map[string]interface{}{
		"db":        stats,
		"live":      s.tracker.Status(),
		"connected": connected,
		"timestamp": time.Now().UTC(),
	}
	if s.StatusFn != nil {
		payload["controller"] = s.StatusFn()
	}
	return payload
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statsPayload())
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().Add(-24 * time.Hour)
	tokens, _ := s.store.GetActiveTokens(cutoff)

	type tokenView struct {
		db.TokenState
		Hot bool `json:"hot"`
	}
	result := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		result = append(result, tokenView{TokenState: t, Hot: s.tracker.IsHot(t.Token)})
	}
	writeJSON(w, result)
}

func (s *Server) handleHot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.tracker.HotTokens())
}

func (s *Server) handleAlpha(w http.ResponseWriter, r *http.Request) {
	minScore := 7.0
	if v := r.URL.Query().Get("min_score"); v != "" {
		minScore, _ = strconv.ParseFloat(v, 64)
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	wallets, _ := s.store.GetTopAlphaWallets(minScore, limit)
	writeJSON(w, wallets)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	issuer := r.URL.Query().Get("issuer")
	if currency == "" || issuer == "" {
		http.Error(w, "currency and issuer required", 400)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	samples, _ := s.store.GetPriceHistory(xrpl.TokenID{Currency: currency, Issuer: issuer}, limit)
	writeJSON(w, samples)
}

// ---- Websocket feed ----

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("ws upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	// Drain reads so close frames are processed; drop on error.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(s.statsPayload())
		}
	}
}

func (s *Server) broadcast(payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
			s.dropClient(c)
		}
	}
}
