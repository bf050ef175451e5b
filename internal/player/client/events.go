package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kioskworks/signage/internal/bus"
)

const (
	streamWriteWait = 10 * time.Second
	// The server pings well inside this window; a silent minute means the
	// connection is dead.
	streamReadWait = 90 * time.Second
)

// EventStream is one live websocket connection to the control server. Events
// delivers server pushes; the run loop reconnects by opening a new stream
// when Events closes.
type EventStream struct {
	conn   *websocket.Conn
	events chan bus.Message
	send   chan bus.Message
	done   chan struct{}
}

// OpenEventStream connects the device's websocket endpoint.
func (c *Client) OpenEventStream(ctx context.Context, accessCode string) (*EventStream, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws/" + url.PathEscape(accessCode)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("event stream: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("event stream: %w", err)
	}

	s := &EventStream{
		conn:   conn,
		events: make(chan bus.Message, 16),
		send:   make(chan bus.Message, 16),
		done:   make(chan struct{}),
	}
	go s.readPump()
	go s.writePump()
	c.logger.Info().Str("event", "stream.connected").Str("url", wsURL).Msg("event stream open")
	return s, nil
}

// Events delivers server pushes. Closed when the connection drops.
func (s *EventStream) Events() <-chan bus.Message { return s.events }

// SendHeartbeat reports liveness and, optionally, the screen dimensions.
func (s *EventStream) SendHeartbeat(width, height *int) {
	s.enqueue(bus.Message{
		Type: bus.EventHeartbeat,
		Data: bus.HeartbeatData{ScreenWidth: width, ScreenHeight: height},
	})
}

// ReportSyncComplete tells the server how the last cache sync went; the
// server records it in the device's sync log.
func (s *EventStream) ReportSyncComplete(status, message string) {
	s.enqueue(bus.Message{
		Type: bus.EventSyncComplete,
		Data: bus.SyncReportData{Status: status, Message: message},
	})
}

// Close tears the connection down. Safe to call more than once.
func (s *EventStream) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	_ = s.conn.Close()
}

func (s *EventStream) enqueue(msg bus.Message) {
	select {
	case s.send <- msg:
	case <-s.done:
	default:
	}
}

func (s *EventStream) readPump() {
	defer close(s.events)
	defer s.Close()

	_ = s.conn.SetReadDeadline(time.Now().Add(streamReadWait))
	s.conn.SetPingHandler(func(appData string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(streamReadWait))
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(streamWriteWait))
	})

	for {
		var msg bus.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(streamReadWait))
		if msg.Type == bus.EventHeartbeatAck {
			continue
		}
		select {
		case s.events <- msg:
		default:
			// The run loop coalesces pushes into a refetch anyway; dropping a
			// burst is harmless.
		}
	}
}

func (s *EventStream) writePump() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.Close()
				return
			}
		}
	}
}

// ReconnectLoop keeps an event stream open, handing each established stream
// to fn until ctx is cancelled. Backoff between attempts is linear and
// capped: a kiosk fleet reconnecting after a server restart should not
// thundering-herd, but should also not stay dark for minutes.
func (c *Client) ReconnectLoop(ctx context.Context, accessCode string, fn func(*EventStream)) {
	delay := time.Second
	const maxDelay = 30 * time.Second
	for {
		stream, err := c.OpenEventStream(ctx, accessCode)
		if err != nil {
			c.logger.Warn().Err(err).Str("event", "stream.connect_failed").Msg("event stream unavailable")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay += time.Second; delay > maxDelay {
				delay = maxDelay
			}
			continue
		}
		delay = time.Second
		fn(stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}
	}
}
