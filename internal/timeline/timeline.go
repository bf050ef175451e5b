// Package timeline implements the cross-device playback cycle: a shared
// wall-clock origin plus per-item durations determine, for any instant, which
// item is on screen and at what offset. The server mints origins, the player
// evaluates positions; both sides use this package so the math cannot drift.
package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
)

// DeadlineSlack is the half-frame tolerance applied when a computed
// transition deadline has effectively already passed.
const DeadlineSlack = 0.008 // seconds

// ItemDuration is the input to timeline construction: one playlist entry's
// identity and effective duration.
type ItemDuration struct {
	ID       int64
	Duration float64 // seconds, > 0 for a playable item
}

// Item is one entry's half-open window [Start, End) within the cycle.
type Item struct {
	ID       int64
	Start    float64
	End      float64
	Duration float64
}

// Timeline is a materialized cycle: origin, total duration, and per-item
// offsets. The zero value is an empty timeline.
type Timeline struct {
	Origin float64 // seconds since epoch at which cycle position zero is defined
	Cycle  float64 // seconds; sum of item durations
	Items  []Item
}

// Position locates an instant within the cycle.
type Position struct {
	Index     int     // index into Items
	CyclePos  float64 // seconds into the cycle
	InItem    float64 // seconds into the current item
	Remaining float64 // seconds until the current item ends
}

// New precomputes item offsets from the ordered durations. Items with a
// non-positive duration are rejected so that every cycle position maps to
// exactly one item.
func New(origin float64, items []ItemDuration) (Timeline, error) {
	t := Timeline{Origin: origin}
	var off float64
	for _, it := range items {
		if it.Duration <= 0 {
			return Timeline{}, fmt.Errorf("item %d has non-positive duration %v", it.ID, it.Duration)
		}
		t.Items = append(t.Items, Item{
			ID:       it.ID,
			Start:    off,
			End:      off + it.Duration,
			Duration: it.Duration,
		})
		off += it.Duration
	}
	t.Cycle = off
	return t, nil
}

// Empty reports whether the timeline has no playable items.
func (t Timeline) Empty() bool {
	return len(t.Items) == 0 || t.Cycle <= 0
}

// CyclePosition maps a wall-clock instant to a position within [0, Cycle).
// Floored modulo keeps small negative elapsed values (clock skew just after
// an origin re-mint) inside the valid range.
func (t Timeline) CyclePosition(now float64) float64 {
	elapsed := now - t.Origin
	return math.Mod(math.Mod(elapsed, t.Cycle)+t.Cycle, t.Cycle)
}

// PositionAt returns the item on screen at the given wall-clock instant.
// The second return is false for an empty timeline.
func (t Timeline) PositionAt(now float64) (Position, bool) {
	if t.Empty() {
		return Position{}, false
	}
	pos := t.CyclePosition(now)
	for i, it := range t.Items {
		if pos >= it.Start && pos < it.End {
			return Position{
				Index:     i,
				CyclePos:  pos,
				InItem:    pos - it.Start,
				Remaining: it.End - pos,
			}, true
		}
	}
	// pos can equal Cycle only through float rounding at the upper edge;
	// attribute it to the final item's last instant.
	last := len(t.Items) - 1
	return Position{
		Index:     last,
		CyclePos:  pos,
		InItem:    pos - t.Items[last].Start,
		Remaining: 0,
	}, true
}

// NextDeadline computes the absolute wall-clock time at which the item on
// screen at now ends. A deadline already in the past (within DeadlineSlack)
// advances by one full cycle.
func (t Timeline) NextDeadline(now float64) (float64, bool) {
	p, ok := t.PositionAt(now)
	if !ok {
		return 0, false
	}
	elapsed := now - t.Origin
	cycleNumber := math.Floor(elapsed / t.Cycle)
	deadline := t.Origin + cycleNumber*t.Cycle + t.Items[p.Index].End
	if deadline-now <= DeadlineSlack {
		deadline += t.Cycle
	}
	return deadline, true
}

// CompositionHash digests the ordered (id, effective duration) sequence of a
// group's active items. Any change to membership, order, or durations yields
// a different hash, which is the trigger for re-minting the sync origin.
func CompositionHash(items []ItemDuration) string {
	h := sha256.New()
	for _, it := range items {
		h.Write([]byte(strconv.FormatInt(it.ID, 10)))
		h.Write([]byte{':'})
		h.Write([]byte(strconv.FormatFloat(it.Duration, 'g', -1, 64)))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
