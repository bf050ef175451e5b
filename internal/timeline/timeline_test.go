package timeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Group with items A (image, 10s), B (image, 5s), C (video, 20s).
func basicItems() []ItemDuration {
	return []ItemDuration{
		{ID: 1, Duration: 10},
		{ID: 2, Duration: 5},
		{ID: 3, Duration: 20},
	}
}

func TestBasicRotation(t *testing.T) {
	const origin = 1700000000.0
	tl, err := New(origin, basicItems())
	require.NoError(t, err)
	require.Equal(t, 35.0, tl.Cycle)

	// At now = origin + 12, cycle_pos = 12; item is B (window [10,15)),
	// in_item = 2, remaining = 3.
	p, ok := tl.PositionAt(origin + 12)
	require.True(t, ok)
	assert.Equal(t, 1, p.Index)
	assert.InDelta(t, 12.0, p.CyclePos, 1e-9)
	assert.InDelta(t, 2.0, p.InItem, 1e-9)
	assert.InDelta(t, 3.0, p.Remaining, 1e-9)
}

func TestCycleCoverage(t *testing.T) {
	tl, err := New(0, basicItems())
	require.NoError(t, err)

	// For every cycle position exactly one item window contains it.
	for pos := 0.0; pos < tl.Cycle; pos += 0.25 {
		matches := 0
		for _, it := range tl.Items {
			if it.Start <= pos && pos < it.End {
				matches++
			}
		}
		require.Equalf(t, 1, matches, "cycle_pos %v", pos)
	}
}

func TestPositionWrapsAcrossCycles(t *testing.T) {
	const origin = 1000.0
	tl, err := New(origin, basicItems())
	require.NoError(t, err)

	p1, ok := tl.PositionAt(origin + 12)
	require.True(t, ok)
	p2, ok := tl.PositionAt(origin + 12 + 7*tl.Cycle)
	require.True(t, ok)
	assert.Equal(t, p1.Index, p2.Index)
	assert.InDelta(t, p1.InItem, p2.InItem, 1e-6)
}

func TestNegativeElapsed(t *testing.T) {
	// A player whose clock sits slightly behind a freshly minted origin must
	// still compute a valid position.
	const origin = 5000.0
	tl, err := New(origin, basicItems())
	require.NoError(t, err)

	p, ok := tl.PositionAt(origin - 2)
	require.True(t, ok)
	assert.GreaterOrEqual(t, p.CyclePos, 0.0)
	assert.Less(t, p.CyclePos, tl.Cycle)
	// -2 mod 35 = 33 → item C (window [15,35)).
	assert.Equal(t, 2, p.Index)
	assert.InDelta(t, 33.0, p.CyclePos, 1e-9)
}

func TestCrossDeviceAgreement(t *testing.T) {
	// Two players constructing the timeline from the same origin at different
	// fetch times agree on the current item for any common instant.
	const origin = 1700000123.0
	a, err := New(origin, basicItems())
	require.NoError(t, err)
	b, err := New(origin, basicItems())
	require.NoError(t, err)

	for _, now := range []float64{origin + 1, origin + 14.9, origin + 15.0, origin + 400.5, origin + 12345.678} {
		pa, ok := a.PositionAt(now)
		require.True(t, ok)
		pb, ok := b.PositionAt(now)
		require.True(t, ok)
		assert.Equal(t, pa.Index, pb.Index)
		assert.InDelta(t, pa.InItem, pb.InItem, 1e-6)
	}
}

func TestNextDeadline(t *testing.T) {
	const origin = 2000.0
	tl, err := New(origin, basicItems())
	require.NoError(t, err)

	// In item A at +3: next boundary is origin+10.
	d, ok := tl.NextDeadline(origin + 3)
	require.True(t, ok)
	assert.InDelta(t, origin+10, d, 1e-9)

	// In item B during a later cycle.
	d, ok = tl.NextDeadline(origin + 2*tl.Cycle + 12)
	require.True(t, ok)
	assert.InDelta(t, origin+2*tl.Cycle+15, d, 1e-9)

	// Exactly on a boundary the deadline is the *next* one, not the instant
	// itself (slack treats it as already fired).
	d, ok = tl.NextDeadline(origin + 10)
	require.True(t, ok)
	assert.InDelta(t, origin+15, d, 1e-9)
}

func TestDeadlineIsAlwaysInTheFuture(t *testing.T) {
	tl, err := New(12345, basicItems())
	require.NoError(t, err)
	for _, now := range []float64{12345.0, 12345.004, 12400.0, 12344.0, 99999.99} {
		d, ok := tl.NextDeadline(now)
		require.True(t, ok)
		assert.Greater(t, d-now, DeadlineSlack)
	}
}

func TestEmptyTimeline(t *testing.T) {
	tl, err := New(0, nil)
	require.NoError(t, err)
	require.True(t, tl.Empty())

	_, ok := tl.PositionAt(100)
	assert.False(t, ok)
	_, ok = tl.NextDeadline(100)
	assert.False(t, ok)
}

func TestNewRejectsNonPositiveDurations(t *testing.T) {
	_, err := New(0, []ItemDuration{{ID: 1, Duration: 0}})
	assert.Error(t, err)
	_, err = New(0, []ItemDuration{{ID: 1, Duration: -3}})
	assert.Error(t, err)
}

func TestUpperEdgeRounding(t *testing.T) {
	tl, err := New(0, []ItemDuration{{ID: 1, Duration: 0.1}, {ID: 2, Duration: 0.2}})
	require.NoError(t, err)

	// Walk positions that stress float rounding near the cycle edge.
	for i := 0; i < 1000; i++ {
		now := float64(i) * 0.03
		p, ok := tl.PositionAt(now)
		require.True(t, ok)
		require.GreaterOrEqual(t, p.Index, 0)
		require.Less(t, p.Index, len(tl.Items))
		require.False(t, math.IsNaN(p.InItem))
	}
}

func TestCompositionHash(t *testing.T) {
	base := basicItems()
	h := CompositionHash(base)
	assert.Equal(t, h, CompositionHash(basicItems()), "hash is deterministic")

	// Deactivating B (dropping it) changes the hash.
	dropped := []ItemDuration{{ID: 1, Duration: 10}, {ID: 3, Duration: 20}}
	assert.NotEqual(t, h, CompositionHash(dropped))

	// Reordering changes the hash.
	reordered := []ItemDuration{{ID: 2, Duration: 5}, {ID: 1, Duration: 10}, {ID: 3, Duration: 20}}
	assert.NotEqual(t, h, CompositionHash(reordered))

	// Changing a duration changes the hash.
	longer := []ItemDuration{{ID: 1, Duration: 10}, {ID: 2, Duration: 5.5}, {ID: 3, Duration: 20}}
	assert.NotEqual(t, h, CompositionHash(longer))

	// The hash is over (id, duration) pairs, not concatenated text: moving a
	// digit across the separator must not collide.
	a := CompositionHash([]ItemDuration{{ID: 11, Duration: 1}})
	b := CompositionHash([]ItemDuration{{ID: 1, Duration: 11}})
	assert.NotEqual(t, a, b)
}
