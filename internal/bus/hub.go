// Package bus fans server push events out to connected players over
// websockets. One hub serves the whole fleet; each player holds one
// connection keyed by its device id.
package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/metrics"
)

// Push event types understood by the player's run loop.
const (
	EventContentUpdated        = "content_updated"
	EventScheduleUpdated       = "schedule_updated"
	EventConfigUpdated         = "config_updated"
	EventDefaultDisplayUpdated = "default_display_updated"
	EventHeartbeat             = "heartbeat"
	EventHeartbeatAck          = "heartbeat_ack"
	EventSyncComplete          = "sync_complete"
)

// Message is one websocket frame, both directions.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// HeartbeatData is what a player reports with each heartbeat.
type HeartbeatData struct {
	ScreenWidth  *int `json:"screen_width,omitempty"`
	ScreenHeight *int `json:"screen_height,omitempty"`
}

// SyncReportData is a player's report of one cache sync pass.
type SyncReportData struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Presence receives device connectivity changes and player reports. The API
// server backs this with the store so last_seen, is_online and sync_logs
// track the event stream.
type Presence interface {
	DeviceConnected(ctx context.Context, deviceID int64, ip string)
	DeviceDisconnected(ctx context.Context, deviceID int64)
	DeviceHeartbeat(ctx context.Context, deviceID int64, ip string, hb HeartbeatData)
	DeviceSyncReport(ctx context.Context, deviceID int64, report SyncReportData)
}

// Hub tracks connected players and broadcasts push events.
type Hub struct {
	presence Presence
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a hub. presence may be nil in tests.
func NewHub(presence Presence) *Hub {
	return &Hub{
		presence: presence,
		logger:   log.WithComponent("bus"),
		clients:  make(map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.EventStreamConnections.WithLabelValues("connect").Inc()
	metrics.DevicesOnline.Set(float64(total))
	if h.presence != nil {
		h.presence.DeviceConnected(context.Background(), c.deviceID, c.remoteIP)
	}
	h.logger.Info().
		Str("event", "bus.connect").
		Int64("device_id", c.deviceID).
		Int("total_clients", total).
		Msg("player connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	total := len(h.clients)
	h.mu.Unlock()

	metrics.EventStreamConnections.WithLabelValues("disconnect").Inc()
	metrics.DevicesOnline.Set(float64(total))
	if h.presence != nil {
		h.presence.DeviceDisconnected(context.Background(), c.deviceID)
	}
	h.logger.Info().
		Str("event", "bus.disconnect").
		Int64("device_id", c.deviceID).
		Int("total_clients", total).
		Msg("player disconnected")
}

// Broadcast queues an event for every connected player. Slow consumers whose
// send buffer is full are dropped rather than allowed to stall the fleet.
func (h *Hub) Broadcast(eventType string, data any) {
	msg := Message{Type: eventType, Data: data}
	metrics.EventsPublished.WithLabelValues(eventType).Inc()

	h.mu.Lock()
	var stalled []*Client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			stalled = append(stalled, c)
		}
	}
	for _, c := range stalled {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	for _, c := range stalled {
		_ = c.conn.Close()
		h.logger.Warn().
			Str("event", "bus.drop_stalled").
			Int64("device_id", c.deviceID).
			Msg("dropped stalled player connection")
		if h.presence != nil {
			h.presence.DeviceDisconnected(context.Background(), c.deviceID)
		}
	}
	if len(stalled) > 0 {
		metrics.DevicesOnline.Set(float64(total))
	}

	h.logger.Debug().
		Str("event", "bus.broadcast").
		Str("type", eventType).
		Int("clients", total).
		Msg("event published")
}

// trySend queues msg for c if it is still registered. Membership is checked
// under the hub lock, and every close(c.send) happens under that same lock,
// so a concurrent drop cannot turn this into a send on a closed channel.
func (h *Hub) trySend(c *Client, msg Message) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected players.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every player, used during server shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
	metrics.DevicesOnline.Set(0)
	h.logger.Info().
		Str("event", "bus.close").
		Int("clients_closed", len(clients)).
		Msg("event bus stopped")
}
