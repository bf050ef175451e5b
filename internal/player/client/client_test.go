package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioskworks/signage/internal/bus"
)

func TestRegisterErrorTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.PostFormValue("access_code") {
		case "123456":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true, "device_name": "lobby", "device_id": 7,
			})
		case "000000":
			w.WriteHeader(http.StatusNotFound)
		case "999999":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)

	res, err := c.Register(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, "lobby", res.DeviceName)
	assert.Equal(t, int64(7), res.DeviceID)

	_, err = c.Register(context.Background(), "000000")
	assert.ErrorIs(t, err, ErrUnknownCode)
	_, err = c.Register(context.Background(), "999999")
	assert.ErrorIs(t, err, ErrDeviceDisabled)
	_, err = c.Register(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestFetchPlaylistParsesContract(t *testing.T) {
	body := `{
		"playlist": [
			{"id": 1, "name": "promo", "filename": "a.jpg", "file_type": "image",
			 "file_size": 1234, "display_duration": 10, "url": "/uploads/content/a.jpg", "order": 0},
			{"id": 2, "name": "clip", "filename": "b.mp4", "file_type": "video",
			 "file_size": 9999, "display_duration": 10, "duration": 42.5,
			 "url": "/uploads/content/b.mp4", "order": 1}
		],
		"active_schedule": {"id": 3, "name": "weekday", "start": "08:00", "end": "18:00", "days": "01234", "priority": 5},
		"device": {"orientation": "portrait", "flip_horizontal": true, "flip_vertical": false},
		"transition": {"type": "dissolve", "duration": 0.5},
		"sync": {"start_time": 1756036800.25, "total_duration": 52.5},
		"debug": {"fallback_mode": false}
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/player/123456/playlist", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	pl, err := New(srv.URL).FetchPlaylist(context.Background(), "123456")
	require.NoError(t, err)

	require.Len(t, pl.Items, 2)
	assert.Equal(t, 10.0, pl.Items[0].EffectiveDuration())
	assert.Equal(t, 42.5, pl.Items[1].EffectiveDuration(), "video slot uses media duration")
	require.NotNil(t, pl.ActiveSchedule)
	assert.Equal(t, "weekday", pl.ActiveSchedule.Name)
	assert.Equal(t, "portrait", pl.Device.Orientation)
	assert.True(t, pl.Device.FlipHorizontal)
	assert.Equal(t, "dissolve", pl.Transition.Type)
	require.NotNil(t, pl.Sync)
	assert.Equal(t, 52.5, pl.Sync.TotalDuration)
}

func TestPlaylistForUnknownCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	_, err := New(srv.URL).FetchPlaylist(context.Background(), "123456")
	assert.ErrorIs(t, err, ErrUnknownCode)
}

func TestClockOffsetDetectsSkew(t *testing.T) {
	const skew = 5 * time.Second
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Add(skew)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"time": float64(now.UnixNano()) / float64(time.Second),
		})
	}))
	defer srv.Close()

	offset, err := New(srv.URL).ClockOffset(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, skew.Seconds(), offset.Seconds(), 1.0)
}

func TestEventStreamFiltersAcksAndDeliversPushes(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	gotHeartbeat := make(chan bus.Message, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer func() { _ = conn.Close() }()

		var msg bus.Message
		require.NoError(t, conn.ReadJSON(&msg))
		gotHeartbeat <- msg

		require.NoError(t, conn.WriteJSON(bus.Message{Type: bus.EventHeartbeatAck}))
		require.NoError(t, conn.WriteJSON(bus.Message{Type: bus.EventContentUpdated}))
		// Hold the connection until the client disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream, err := New(srv.URL).OpenEventStream(context.Background(), "123456")
	require.NoError(t, err)
	defer stream.Close()

	w, h := 1920, 1080
	stream.SendHeartbeat(&w, &h)

	select {
	case msg := <-gotHeartbeat:
		assert.Equal(t, bus.EventHeartbeat, msg.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the heartbeat")
	}

	select {
	case msg := <-stream.Events():
		assert.Equal(t, bus.EventContentUpdated, msg.Type, "heartbeat_ack must be filtered out")
	case <-time.After(3 * time.Second):
		t.Fatal("no push delivered")
	}
}
