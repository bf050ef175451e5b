// Package renderer drives the player's two-layer display surface. The
// surface itself (a browser bridge on real kiosks, a fake in tests) only
// knows how to load, show, hide and seek media on a numbered layer; the
// controller owns which layer is active and how transitions run.
package renderer

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kioskworks/signage/internal/log"
	"github.com/kioskworks/signage/internal/model"
)

// Media is one asset placed on a layer.
type Media struct {
	URL      string
	FileType string
	// Duration is the item's slot length in seconds.
	Duration float64
}

// Transition describes how an item boundary is rendered.
type Transition struct {
	Type     string
	Duration float64
}

// Event is a notification from the surface, e.g. a video reaching its end.
type Event struct {
	Type  string
	Layer int
}

// Surface event types.
const (
	EventMediaEnded = "media_ended"
	EventMediaError = "media_error"
)

// Surface is the minimal display contract the controller needs.
type Surface interface {
	// Load stages media on a layer without showing it.
	Load(layer int, media Media) error
	// Show raises a layer. For a dissolve the surface fades the layer in
	// over the given duration; the controller lowers the old layer itself.
	Show(layer int, transition Transition) error
	// Hide lowers a layer and pauses any video on it.
	Hide(layer int) error
	// Seek positions a video layer at offset seconds and starts playback.
	Seek(layer int, offset float64) error
	// Pause stops playback on a layer without hiding it.
	Pause(layer int) error
	// VideoPosition reports the current playback position of a video layer.
	VideoPosition(layer int) (float64, error)
	// SetTransform applies orientation and mirroring to the whole surface.
	SetTransform(orientation string, flipH, flipV bool) error
	// ShowSplash covers both layers with the splash screen.
	ShowSplash(url string) error
	// Events delivers surface notifications.
	Events() <-chan Event
}

// After a dissolve completes, the old layer is held briefly before it drops
// so the fade never reveals a blank frame underneath.
const dissolveHold = 50 * time.Millisecond

// Controller owns the active/back layer pair. Exactly one layer is visible
// except during a dissolve, when both are until the fade ends.
type Controller struct {
	surface Surface
	logger  zerolog.Logger

	mu         sync.Mutex
	items      []Media
	transition Transition
	active     int // visible layer, 0 or 1
	current    int // item index on the active layer, -1 when blank
	preloaded  int // item index staged on the back layer, -1 when none
	// pendingPreload holds a preload requested while the back layer was
	// still fading out; it is staged once the fade drops the layer.
	pendingPreload int
	fadeTimer      *time.Timer
	splash         bool
}

// NewController wraps a surface. The controller starts blank.
func NewController(surface Surface) *Controller {
	return &Controller{
		surface:        surface,
		logger:         log.WithComponent("player.renderer"),
		current:        -1,
		preloaded:      -1,
		pendingPreload: -1,
	}
}

// SetPlaylist swaps the item list and transition. The current frame stays up
// until the next ShowIndex; stale preloads are discarded.
func (c *Controller) SetPlaylist(items []Media, tr Transition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	c.transition = tr
	c.preloaded = -1
	c.pendingPreload = -1
	if len(items) == 0 {
		c.current = -1
	}
}

// CurrentIndex reports which item the visible layer holds, -1 when blank.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ActiveLayer reports the visible layer.
func (c *Controller) ActiveLayer() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Preload stages item idx on the back layer so the next ShowIndex is
// seamless. Safe to call repeatedly with the same index.
func (c *Controller) Preload(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.items) {
		return fmt.Errorf("preload index %d out of range", idx)
	}
	if c.preloaded == idx {
		return nil
	}
	if c.fadeTimer != nil {
		// The back layer is still visible, fading out; loading over it now
		// would flash the next item. Stage it when the fade drops.
		c.pendingPreload = idx
		return nil
	}
	back := 1 - c.active
	if err := c.surface.Load(back, c.items[idx]); err != nil {
		return err
	}
	c.preloaded = idx
	return nil
}

// ShowIndex makes item idx visible, seeking videos to offset seconds. The
// item is loaded on the back layer if not already preloaded, then the layers
// swap with the configured transition.
func (c *Controller) ShowIndex(idx int, offset float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.items) {
		return fmt.Errorf("show index %d out of range", idx)
	}
	if idx == c.current && !c.splash {
		// Same item; only adjust playback position for videos.
		if c.items[idx].FileType == "video" && offset >= 0 {
			return c.surface.Seek(c.active, offset)
		}
		return nil
	}

	back := 1 - c.active
	if c.preloaded != idx {
		if err := c.surface.Load(back, c.items[idx]); err != nil {
			return err
		}
	}
	if c.items[idx].FileType == "video" {
		if err := c.surface.Seek(back, offset); err != nil {
			return err
		}
	}

	tr := c.transition
	if c.current == -1 || c.splash {
		// Nothing meaningful to fade from.
		tr = Transition{Type: string(model.TransitionCut)}
	}
	if err := c.surface.Show(back, tr); err != nil {
		return err
	}

	old := c.active
	if c.fadeTimer != nil {
		c.fadeTimer.Stop()
		c.fadeTimer = nil
	}
	if tr.Type == string(model.TransitionDissolve) && tr.Duration > 0 {
		hold := time.Duration(tr.Duration*float64(time.Second)) + dissolveHold
		c.fadeTimer = time.AfterFunc(hold, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.active == old {
				return
			}
			_ = c.surface.Hide(old)
			c.fadeTimer = nil
			if p := c.pendingPreload; p >= 0 && p < len(c.items) && p != c.current {
				if err := c.surface.Load(old, c.items[p]); err == nil {
					c.preloaded = p
				}
			}
			c.pendingPreload = -1
		})
	} else {
		_ = c.surface.Hide(old)
	}

	c.active = back
	c.current = idx
	c.preloaded = -1
	c.pendingPreload = -1
	c.splash = false
	return nil
}

// VideoPosition reports playback position on the visible layer.
func (c *Controller) VideoPosition() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface.VideoPosition(c.active)
}

// Seek adjusts the visible layer's playback position.
func (c *Controller) Seek(offset float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface.Seek(c.active, offset)
}

// ApplyTransform sets orientation and mirroring.
func (c *Controller) ApplyTransform(orientation string, flipH, flipV bool) error {
	return c.surface.SetTransform(orientation, flipH, flipV)
}

// ShowSplash covers the playlist with the splash screen; the next ShowIndex
// cuts back regardless of the configured transition.
func (c *Controller) ShowSplash(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.surface.ShowSplash(url); err != nil {
		return err
	}
	c.splash = true
	return nil
}

// Stop cancels any pending fade and pauses both layers. Called on teardown
// and when the engine loses its playlist.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fadeTimer != nil {
		c.fadeTimer.Stop()
		c.fadeTimer = nil
	}
	_ = c.surface.Pause(0)
	_ = c.surface.Pause(1)
	c.current = -1
	c.preloaded = -1
	c.pendingPreload = -1
}
