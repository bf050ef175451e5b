package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
)

// Client is one player's websocket connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	deviceID int64
	remoteIP string
	send     chan Message
}

// NewClient wraps an upgraded connection for the given device.
func NewClient(hub *Hub, conn *websocket.Conn, deviceID int64, remoteIP string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		deviceID: deviceID,
		remoteIP: remoteIP,
		send:     make(chan Message, 64),
	}
}

// Start registers the client and launches its pumps.
func (c *Client) Start() {
	c.hub.register(c)
	go c.writePump()
	go c.readPump()
}

// readPump consumes frames from the player: heartbeats and nothing else.
// Read deadlines ride on the protocol-level pong handler so a dead TCP peer
// is detected within pongWait.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().
					Str("event", "bus.read_error").
					Int64("device_id", c.deviceID).
					Err(err).
					Msg("event stream read failed")
			}
			return
		}

		switch msg.Type {
		case EventSyncComplete:
			var report SyncReportData
			if raw, err := json.Marshal(msg.Data); err == nil {
				_ = json.Unmarshal(raw, &report)
			}
			if c.hub.presence != nil {
				c.hub.presence.DeviceSyncReport(context.Background(), c.deviceID, report)
			}
		case EventHeartbeat:
			var hb HeartbeatData
			if raw, err := json.Marshal(msg.Data); err == nil {
				_ = json.Unmarshal(raw, &hb)
			}
			if c.hub.presence != nil {
				c.hub.presence.DeviceHeartbeat(context.Background(), c.deviceID, c.remoteIP, hb)
			}
			c.hub.trySend(c, Message{Type: EventHeartbeatAck})
		}
	}
}

// writePump serializes queued events onto the connection and keeps the
// protocol-level ping/pong alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
