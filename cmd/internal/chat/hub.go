package chat

import (
	"log/slog"
	"sync"

	"lumora/cmd/internal/metrics"
	v1 "lumora/shared/contracts/chat/v1"
)

// Hub is the live registry of connected clients for the single shared
// conversation stream.
//
// Concurrency guarantees:
// - Register/Unregister are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
//
// Hub is an explicit service with its own lifecycle, injected into its
// consumers rather than reached as ambient state.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	closed  bool
	clients map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[string]*Client),
	}
}

// Register adds a client to the live broadcast set.
func (h *Hub) Register(client *Client) {
	if h == nil || client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.Close()
		return
	}
	h.clients[client.SessionID] = client
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(n))
	h.log.Info("hub.client.register", "session_id", client.SessionID, "clients", n)
}

// Unregister removes a client from the broadcast set and signals shutdown
// for that client. Idempotent.
func (h *Hub) Unregister(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	h.mu.Lock()
	cl, ok := h.clients[sessionID]
	delete(h.clients, sessionID)
	n := len(h.clients)
	h.mu.Unlock()

	// Signal client shutdown after removing from membership.
	// This ordering avoids race windows where a broadcaster still holds a
	// pointer while the client goroutines are being torn down.
	if cl != nil {
		cl.Close()
	}

	if ok {
		metrics.ConnectionsActive.Set(float64(n))
		h.log.Info("hub.client.unregister", "session_id", sessionID, "clients", n)
	}
}

// Broadcast fanouts an envelope to all registered clients.
// Non-blocking: if a client queue is full or the client is shutting down,
// the event is dropped for that client so the rest still receive it.
func (h *Hub) Broadcast(env v1.Envelope) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c == nil {
			continue
		}

		select {
		case <-c.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case c.Send <- env:
		default:
			// Drop rather than block delivery to everyone else.
			metrics.BroadcastDropped.Inc()
			h.log.Warn("hub.broadcast.drop", "session_id", c.SessionID, "type", env.Type)
		}
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close signals every registered client to shut down and rejects further
// registrations. Used on server shutdown.
func (h *Hub) Close() {
	if h == nil {
		return
	}

	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	metrics.ConnectionsActive.Set(0)
	h.log.Info("hub.closed", "clients", len(clients))
}
