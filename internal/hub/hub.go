package hub

import (
	"sync"

	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/metrics"
)

// Sender is the write half of a connected client. The websocket handler
// passes the live connection; tests pass an in-memory implementation.
type Sender interface {
	WriteJSON(v any) error
}

// BroadcastHub fans telemetry messages out to connected websocket
// clients, scoped by tenant key.
type BroadcastHub struct {
	conns map[Sender]string // connection -> tenant key
	mu    sync.RWMutex
	log   logger.Logger
}

// NewBroadcastHub creates an empty hub.
func NewBroadcastHub(log logger.Logger) *BroadcastHub {
	return &BroadcastHub{
		conns: make(map[Sender]string),
		log:   log,
	}
}

// Connect registers a client under the given tenant key.
func (h *BroadcastHub) Connect(conn Sender, tenantKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.conns[conn]; exists {
		return
	}
	h.conns[conn] = tenantKey
	metrics.WSConnectionsActive.Inc()

	h.log.Debug("Websocket client connected",
		logger.String("tenant_key", tenantKey),
		logger.Int("total", len(h.conns)))
}

// Disconnect removes a client. Safe to call for a connection that was
// never registered or was already removed.
func (h *BroadcastHub) Disconnect(conn Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tenantKey, exists := h.conns[conn]
	if !exists {
		return
	}
	delete(h.conns, conn)
	metrics.WSConnectionsActive.Dec()

	h.log.Debug("Websocket client disconnected",
		logger.String("tenant_key", tenantKey),
		logger.Int("total", len(h.conns)))
}

// Broadcast sends a message to every client registered under tenantKey.
// An empty tenantKey addresses all clients. Send failures are logged
// and the failed connection is dropped; a broken client never blocks
// delivery to the others.
func (h *BroadcastHub) Broadcast(tenantKey string, message any) int {
	h.mu.RLock()
	targets := make([]Sender, 0, len(h.conns))
	for conn, key := range h.conns {
		if tenantKey == "" || key == tenantKey {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	scope := "tenant"
	if tenantKey == "" {
		scope = "all"
	}
	metrics.BroadcastsTotal.WithLabelValues(scope).Inc()

	sent := 0
	var failed []Sender
	for _, conn := range targets {
		if err := conn.WriteJSON(message); err != nil {
			h.log.Debug("Websocket send failed, dropping client",
				logger.String("tenant_key", tenantKey),
				logger.Error(err))
			failed = append(failed, conn)
			continue
		}
		sent++
	}

	for _, conn := range failed {
		h.Disconnect(conn)
	}

	return sent
}

// Count returns the number of connected clients, optionally filtered by
// tenant key.
func (h *BroadcastHub) Count(tenantKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if tenantKey == "" {
		return len(h.conns)
	}
	count := 0
	for _, key := range h.conns {
		if key == tenantKey {
			count++
		}
	}
	return count
}

// Close drops all registered clients.
func (h *BroadcastHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		delete(h.conns, conn)
		metrics.WSConnectionsActive.Dec()
	}

	h.log.Info("Broadcast hub closed")
}
