package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/internal/logging"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 10 * time.Second
)

// WebSocketHub fans memory change events out to subscribers. Each event is
// encoded once; a subscriber that cannot keep up is disconnected rather than
// slowing the others down.
type WebSocketHub struct {
	events     chan engine.Event
	register   chan *subscriber
	unregister chan *subscriber

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	originPatterns []string
	logger         *slog.Logger
	ctx            context.Context
	cancel         context.CancelFunc
}

// subscriber receives encoded events. conn is nil for in-process subscribers.
type subscriber struct {
	agentID string // empty receives every agent's events
	send    chan []byte
	conn    *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	once    sync.Once
}

// wants reports whether evt is for this subscriber. Deletions carry no
// memory and so reach everyone.
func (s *subscriber) wants(evt engine.Event) bool {
	return s.agentID == "" || evt.Memory == nil || evt.Memory.AgentID == s.agentID
}

// NewWebSocketHub creates a hub. originPatterns are host patterns (as in
// path.Match) accepted in the Origin header; when empty only same-host
// origins are accepted.
func NewWebSocketHub(originPatterns []string, logger *slog.Logger) *WebSocketHub {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		events:         make(chan engine.Event, 256),
		register:       make(chan *subscriber),
		unregister:     make(chan *subscriber),
		subs:           make(map[*subscriber]struct{}),
		originPatterns: originPatterns,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run processes registrations and events until Stop is called.
func (h *WebSocketHub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			if h.ctx.Err() != nil {
				// Stop already swept the map
				close(s.send)
				h.mu.Unlock()
				return
			}
			h.subs[s] = struct{}{}
			count := len(h.subs)
			h.mu.Unlock()
			h.logger.Debug("websocket subscriber added", "agent_id", s.agentID, "total", count)

		case s := <-h.unregister:
			h.mu.Lock()
			h.drop(s)
			count := len(h.subs)
			h.mu.Unlock()
			h.logger.Debug("websocket subscriber removed", "total", count)

		case evt := <-h.events:
			h.deliver(evt)

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *WebSocketHub) deliver(evt engine.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to encode change event", "type", evt.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.wants(evt) {
			continue
		}
		select {
		case s.send <- data:
		default:
			h.logger.Warn("websocket subscriber too slow, disconnecting", "agent_id", s.agentID)
			h.drop(s)
		}
	}
}

// drop removes s and closes its channel. Callers hold h.mu.
func (h *WebSocketHub) drop(s *subscriber) {
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
}

// Stop disconnects every subscriber and ends Run.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for s := range h.subs {
		h.drop(s)
		if s.conn != nil {
			_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		}
	}
	h.mu.Unlock()
}

// Publish queues a change event for delivery. It matches the signature of
// engine.MemoryEngine.SetOnChange and never blocks the caller; events are
// dropped when the hub is backed up. Embeddings are stripped to keep frames
// small.
func (h *WebSocketHub) Publish(evt engine.Event) {
	if evt.Memory != nil {
		m := *evt.Memory
		m.Embedding = nil
		evt.Memory = &m
	}
	select {
	case h.events <- evt:
	default:
		h.logger.Warn("change event queue full, dropping event", "type", evt.Type, "memory_id", evt.MemoryID)
	}
}

// Subscribe registers an in-process subscriber for agentID's events (all
// agents when empty). The returned channel is closed when the subscriber is
// dropped; cancel unsubscribes.
func (h *WebSocketHub) Subscribe(agentID string) (<-chan []byte, func()) {
	s := &subscriber{agentID: agentID, send: make(chan []byte, subscriberBuffer)}
	h.add(s)
	return s.send, func() { h.remove(s) }
}

// SubscriberCount returns the number of connected subscribers.
func (h *WebSocketHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// add registers s. Once the hub has stopped s is closed instead, so its
// readers see the end of the feed.
func (h *WebSocketHub) add(s *subscriber) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
		close(s.send)
	}
}

func (h *WebSocketHub) remove(s *subscriber) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// ServeHTTP upgrades GET /ws. The optional agent_id query parameter limits
// the feed to one agent's memories.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.originAllowed(r) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &subscriber{
		agentID: r.URL.Query().Get("agent_id"),
		send:    make(chan []byte, subscriberBuffer),
		conn:    conn,
	}
	h.add(s)

	go h.writeLoop(s)
	go h.readLoop(s)
}

func (h *WebSocketHub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if len(h.originPatterns) == 0 {
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, pattern := range h.originPatterns {
		if ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(u.Host)); ok {
			return true
		}
	}
	return false
}

// writeLoop copies queued frames to the connection until the channel closes
// or a write fails.
func (h *WebSocketHub) writeLoop(s *subscriber) {
	defer h.disconnect(s)

	for data := range s.send {
		ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
		err := s.conn.Write(ctx, websocket.MessageText, data) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()
		if err != nil {
			h.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

// readLoop discards client frames; its only job is noticing disconnects.
func (h *WebSocketHub) readLoop(s *subscriber) {
	defer h.disconnect(s)

	for {
		if _, _, err := s.conn.Read(h.ctx); err != nil { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			return
		}
	}
}

func (h *WebSocketHub) disconnect(s *subscriber) {
	s.once.Do(func() {
		h.remove(s)
		_ = s.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	})
}
