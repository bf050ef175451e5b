package bus

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

type recordingPresence struct {
	mu            sync.Mutex
	connected     []int64
	disconnected  []int64
	heartbeats    []int64
	lastHeartbeat HeartbeatData
	syncReports   []SyncReportData
}

func (p *recordingPresence) DeviceConnected(_ context.Context, id int64, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = append(p.connected, id)
}

func (p *recordingPresence) DeviceDisconnected(_ context.Context, id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, id)
}

func (p *recordingPresence) DeviceHeartbeat(_ context.Context, id int64, _ string, hb HeartbeatData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartbeats = append(p.heartbeats, id)
	p.lastHeartbeat = hb
}

func (p *recordingPresence) DeviceSyncReport(_ context.Context, id int64, report SyncReportData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncReports = append(p.syncReports, report)
}

func newBusServer(t *testing.T, hub *Hub, deviceID int64) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		NewClient(hub, conn, deviceID, r.RemoteAddr).Start()
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return srv, conn
}

func TestBroadcastReachesConnectedPlayer(t *testing.T) {
	presence := &recordingPresence{}
	hub := NewHub(presence)
	defer hub.Close()

	_, conn := newBusServer(t, hub, 7)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(EventContentUpdated, map[string]any{"group_id": 3})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventContentUpdated, msg.Type)

	presence.mu.Lock()
	defer presence.mu.Unlock()
	assert.Equal(t, []int64{7}, presence.connected)
}

func TestHeartbeatUpdatesPresenceAndAcks(t *testing.T) {
	presence := &recordingPresence{}
	hub := NewHub(presence)
	defer hub.Close()

	_, conn := newBusServer(t, hub, 42)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	w, h := 1920, 1080
	require.NoError(t, conn.WriteJSON(Message{
		Type: EventHeartbeat,
		Data: HeartbeatData{ScreenWidth: &w, ScreenHeight: &h},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack Message
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, EventHeartbeatAck, ack.Type)

	require.Eventually(t, func() bool {
		presence.mu.Lock()
		defer presence.mu.Unlock()
		return len(presence.heartbeats) == 1
	}, time.Second, 10*time.Millisecond)

	presence.mu.Lock()
	defer presence.mu.Unlock()
	require.NotNil(t, presence.lastHeartbeat.ScreenWidth)
	assert.Equal(t, 1920, *presence.lastHeartbeat.ScreenWidth)
}

func TestSendAfterStalledDropDoesNotPanic(t *testing.T) {
	presence := &recordingPresence{}
	hub := NewHub(presence)
	defer hub.Close()

	_, _ = newBusServer(t, hub, 11)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.mu.RLock()
	var c *Client
	for cl := range hub.clients {
		c = cl
	}
	hub.mu.RUnlock()
	require.NotNil(t, c)

	// Dropping the client closes its send channel under the hub lock, the
	// same path a stalled-broadcast drop takes. The ack a concurrent
	// readPump would queue must then refuse, not panic.
	require.True(t, hub.trySend(c, Message{Type: EventHeartbeatAck}))
	hub.unregister(c)
	assert.False(t, hub.trySend(c, Message{Type: EventHeartbeatAck}))
}

func TestClientDisconnectNotifiesPresence(t *testing.T) {
	presence := &recordingPresence{}
	hub := NewHub(presence)
	defer hub.Close()

	_, conn := newBusServer(t, hub, 9)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		presence.mu.Lock()
		defer presence.mu.Unlock()
		return len(presence.disconnected) == 1
	}, time.Second, 10*time.Millisecond)
}
