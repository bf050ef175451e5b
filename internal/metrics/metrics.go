// Package metrics defines the Prometheus collectors for the control server.
// Collectors are package-level and registered via promauto, so importing the
// package is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DevicesOnline tracks the number of devices with a live event stream.
	DevicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signage_devices_online",
		Help: "Number of devices currently connected to the event stream",
	})

	// PlaylistRequests counts playlist resolutions by outcome.
	PlaylistRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_playlist_requests_total",
		Help: "Playlist resolutions by outcome",
	}, []string{"outcome"}) // active, fallback, empty, error

	// RegisterAttempts counts enrolment attempts by result.
	RegisterAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_register_attempts_total",
		Help: "Device enrolment attempts by result",
	}, []string{"result"}) // success, invalid_code, unknown_code, disabled, rate_limited

	// OriginReminted counts sync-origin re-mints caused by composition changes.
	OriginReminted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signage_sync_origin_reminted_total",
		Help: "Sync origin re-mints triggered by playlist composition changes",
	})

	// Uploads counts content uploads by file type.
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_uploads_total",
		Help: "Content uploads by file type",
	}, []string{"file_type"})

	// UploadBytes totals the size of accepted uploads.
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signage_upload_bytes_total",
		Help: "Total bytes of accepted content uploads",
	})

	// EventStreamConnections counts websocket connects and disconnects.
	EventStreamConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_event_stream_connections_total",
		Help: "Event stream connects and disconnects",
	}, []string{"event"}) // connect, disconnect

	// EventsPublished counts fan-out pushes by event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signage_events_published_total",
		Help: "Server push events published to connected devices",
	}, []string{"type"})
)

// IncPlaylistRequest records one playlist resolution outcome.
func IncPlaylistRequest(outcome string) {
	PlaylistRequests.WithLabelValues(outcome).Inc()
}

// IncRegisterAttempt records one enrolment attempt result.
func IncRegisterAttempt(result string) {
	RegisterAttempts.WithLabelValues(result).Inc()
}
