// Package client talks to the control server: registration, config and
// playlist fetches, the time endpoint, and the websocket event stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kioskworks/signage/internal/log"
)

// Registration error taxonomy, mirrored from the server's status codes.
var (
	ErrInvalidCode    = errors.New("access code must be six decimal digits")
	ErrUnknownCode    = errors.New("access code not recognized")
	ErrDeviceDisabled = errors.New("device is disabled")
	ErrRateLimited    = errors.New("too many registration attempts")
)

// Client is the player's HTTP client for the control server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// New builds a client for serverURL, e.g. http://10.0.0.5:8000.
func New(serverURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  log.WithComponent("player.client"),
	}
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// AbsoluteURL resolves a server-relative path like /uploads/content/x.jpg.
func (c *Client) AbsoluteURL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return c.baseURL + path
}

// RegisterResult is the server's reply to a successful registration.
type RegisterResult struct {
	Success    bool   `json:"success"`
	DeviceName string `json:"device_name"`
	DeviceID   int64  `json:"device_id"`
}

// Register consumes an access code. Safe to retry: the server treats an
// already-consumed code from the same device as success.
func (c *Client) Register(ctx context.Context, accessCode string) (*RegisterResult, error) {
	form := url.Values{"access_code": {accessCode}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/player/register", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return nil, ErrInvalidCode
	case http.StatusNotFound:
		return nil, ErrUnknownCode
	case http.StatusForbidden:
		return nil, ErrDeviceDisabled
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("register: unexpected status %d", resp.StatusCode)
	}

	var res RegisterResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("register: decode reply: %w", err)
	}
	return &res, nil
}

// DeviceView is the subset of device state the player renders with.
type DeviceView struct {
	Orientation    string `json:"orientation"`
	FlipHorizontal bool   `json:"flip_horizontal"`
	FlipVertical   bool   `json:"flip_vertical"`
}

// PlaylistItem is one entry of the resolved playlist.
type PlaylistItem struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Filename        string   `json:"filename"`
	FileType        string   `json:"file_type"`
	FileSize        int64    `json:"file_size"`
	DisplayDuration float64  `json:"display_duration"`
	Duration        *float64 `json:"duration,omitempty"`
	URL             string   `json:"url"`
	Order           int      `json:"order"`
}

// EffectiveDuration is the item's slot length on the shared timeline: media
// duration for videos when known, display_duration otherwise.
func (it PlaylistItem) EffectiveDuration() float64 {
	if it.FileType == "video" && it.Duration != nil && *it.Duration > 0 {
		return *it.Duration
	}
	return it.DisplayDuration
}

// ActiveSchedule identifies which schedule won resolution.
type ActiveSchedule struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Days     string `json:"days"`
	Priority int    `json:"priority"`
}

// Transition is the group's item-boundary transition.
type Transition struct {
	Type     string  `json:"type"`
	Duration float64 `json:"duration"`
}

// Sync carries the server-minted shared timeline anchor.
type Sync struct {
	StartTime     float64 `json:"start_time"`
	TotalDuration float64 `json:"total_duration"`
}

// Playlist is the full playlist response.
type Playlist struct {
	Items          []PlaylistItem  `json:"playlist"`
	ActiveSchedule *ActiveSchedule `json:"active_schedule"`
	Device         DeviceView      `json:"device"`
	Transition     Transition      `json:"transition"`
	Sync           *Sync           `json:"sync"`
	Debug          json.RawMessage `json:"debug"`
}

// FetchPlaylist gets the device's resolved playlist.
func (c *Client) FetchPlaylist(ctx context.Context, accessCode string) (*Playlist, error) {
	var pl Playlist
	if err := c.getJSON(ctx, "/api/player/"+url.PathEscape(accessCode)+"/playlist", &pl); err != nil {
		return nil, err
	}
	return &pl, nil
}

// ConfigResponse is the device config + default display payload. The default
// display block is passed through to the rendering surface untouched.
type ConfigResponse struct {
	Device         json.RawMessage `json:"device"`
	DefaultDisplay json.RawMessage `json:"default_display"`
	ServerTime     float64         `json:"server_time"`
}

// FetchConfig gets the device's server-side config.
func (c *Client) FetchConfig(ctx context.Context, accessCode string) (*ConfigResponse, error) {
	var cfg ConfigResponse
	if err := c.getJSON(ctx, "/api/player/"+url.PathEscape(accessCode)+"/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ServerTime returns the server clock as Unix seconds.
func (c *Client) ServerTime(ctx context.Context) (float64, error) {
	var body struct {
		Time float64 `json:"time"`
	}
	if err := c.getJSON(ctx, "/api/time", &body); err != nil {
		return 0, err
	}
	return body.Time, nil
}

// ClockOffset estimates server−local clock skew with a single symmetric
// probe: offset = t_server − (t_send + t_recv)/2. Diagnostic only; the player
// never steps its clock, it just logs when the skew is large enough to show
// as visible desync.
func (c *Client) ClockOffset(ctx context.Context) (time.Duration, error) {
	tSend := time.Now()
	serverSec, err := c.ServerTime(ctx)
	if err != nil {
		return 0, err
	}
	tRecv := time.Now()

	mid := tSend.Add(tRecv.Sub(tSend) / 2)
	server := time.Unix(0, int64(serverSec*float64(time.Second)))
	offset := server.Sub(mid)

	if offset > time.Second || offset < -time.Second {
		c.logger.Warn().
			Str("event", "clock.skew").
			Dur("offset", offset).
			Msg("local clock differs from server by more than a second")
	}
	return offset, nil
}

// Discovery is a control server's answer to a discovery probe.
type Discovery struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
}

// Discover probes candidate for a control server. Used by the setup screen
// to suggest servers on the local network.
func Discover(ctx context.Context, candidate string) (*Discovery, error) {
	c := New(candidate)
	c.http.Timeout = 2 * time.Second
	var d Discovery
	if err := c.getJSON(ctx, "/api/discover", &d); err != nil {
		return nil, err
	}
	if d.Name != "signaged" {
		return nil, fmt.Errorf("%s is not a signage server", candidate)
	}
	return &d, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrUnknownCode
	case http.StatusForbidden:
		return ErrDeviceDisabled
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return nil
}
