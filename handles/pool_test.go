package handles_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/fathom/handles"
)

func TestPoolInsertGetRemoveRoundTrip(t *testing.T) {
	pool := handles.NewPool[int](16)

	a, err := pool.Insert(100)
	require.NoError(t, err)

	value := pool.Get(a)
	require.NotNil(t, value)
	require.Equal(t, 100, *value)
	require.True(t, pool.Contains(a))
	require.Equal(t, 1, pool.Count())

	removed, ok := pool.Remove(a)
	require.True(t, ok)
	require.Equal(t, 100, removed)
	require.Nil(t, pool.Get(a))
	require.False(t, pool.Contains(a))
	require.Equal(t, 0, pool.Count())

	// The vacated slot is reused, but under a different generation
	b, err := pool.Insert(300)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	value = pool.Get(b)
	require.NotNil(t, value)
	require.Equal(t, 300, *value)
}

func TestPoolStaleHandleNeverResolves(t *testing.T) {
	pool := handles.NewPool[string](4)

	stale, err := pool.Insert("first")
	require.NoError(t, err)

	_, ok := pool.Remove(stale)
	require.True(t, ok)

	// Reoccupy the same slot
	replacement, err := pool.Insert("second")
	require.NoError(t, err)
	require.NotEqual(t, stale.Packed(), replacement.Packed())

	require.Nil(t, pool.Get(stale))

	_, ok = pool.Remove(stale)
	require.False(t, ok)
	require.Equal(t, "second", *pool.Get(replacement))
}

func TestPoolHandleUniqueness(t *testing.T) {
	pool := handles.NewPool[int](8)

	live := map[uint32]handles.Handle[int]{}
	var retiredHandles []handles.Handle[int]

	// Interleave inserts and removes and check that no two simultaneously
	// live handles collide, and that no dead handle's value is ever reissued
	for round := 0; round < 50; round++ {
		h, err := pool.Insert(round)
		require.NoError(t, err)

		_, clash := live[h.Packed()]
		require.False(t, clash, "round %d: reissued a live handle", round)
		for _, dead := range retiredHandles {
			require.NotEqual(t, dead.Packed(), h.Packed(), "round %d: reissued a dead handle", round)
		}
		live[h.Packed()] = h

		if round%3 == 0 {
			for packed, victim := range live {
				_, ok := pool.Remove(victim)
				require.True(t, ok)
				retiredHandles = append(retiredHandles, victim)
				delete(live, packed)
				break
			}
		}
	}

	require.Equal(t, len(live), pool.Count())
}

func TestPoolCapacityError(t *testing.T) {
	pool := handles.NewPool[int](4)

	var handleList []handles.Handle[int]
	for i := 0; i < 4; i++ {
		h, err := pool.Insert(i)
		require.NoError(t, err)
		handleList = append(handleList, h)
	}
	require.Equal(t, 0, pool.RemainingCapacity())

	_, err := pool.Insert(99)
	require.ErrorIs(t, err, handles.TooManyObjectsError)

	// Freeing a slot makes insertion possible again
	_, ok := pool.Remove(handleList[2])
	require.True(t, ok)

	_, err = pool.Insert(99)
	require.NoError(t, err)
}

func TestPoolMinSlotsBelowTwo(t *testing.T) {
	pool := handles.NewPool[int](1)

	// Even a degenerate request keeps at least one index bit
	a, err := pool.Insert(1)
	require.NoError(t, err)
	b, err := pool.Insert(2)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	_, err = pool.Insert(3)
	require.ErrorIs(t, err, handles.TooManyObjectsError)
}

func TestPoolSlotRetirement(t *testing.T) {
	// 31 index bits leaves a single generation bit, so a slot retires after
	// its second occupancy
	pool := handles.NewPool[int](math.MaxUint32 / 2)

	h, err := pool.Insert(1)
	require.NoError(t, err)
	_, ok := pool.Remove(h)
	require.True(t, ok)

	h, err = pool.Insert(2)
	require.NoError(t, err)
	_, ok = pool.Remove(h)
	require.True(t, ok)
	require.Equal(t, 1, pool.Retired())

	// The next insert lands on a fresh slot, not the retired one
	fresh, err := pool.Insert(3)
	require.NoError(t, err)
	require.NotNil(t, pool.Get(fresh))
	require.Equal(t, 1, pool.Retired())
	require.Equal(t, 1, pool.Count())
}

func TestPoolPreallocate(t *testing.T) {
	pool := handles.PreallocatePool[int](32)
	stats := pool.Statistics()
	require.Equal(t, 32, stats.Capacity)
	require.Equal(t, 0, stats.TotalSlots)

	h, err := pool.Insert(7)
	require.NoError(t, err)
	require.Equal(t, 7, *pool.Get(h))
}

type releaseCounter struct {
	released *int
}

func TestPoolDrainReleasesEachLiveValueOnce(t *testing.T) {
	pool := handles.NewPool[releaseCounter](16)

	released := 0

	// The "remove some, insert padding, remove more" pattern: leave holes in
	// the slab so Drain has to distinguish occupied slots from free ones
	var kept []handles.Handle[releaseCounter]
	for i := 0; i < 10; i++ {
		h, err := pool.Insert(releaseCounter{released: &released})
		require.NoError(t, err)
		kept = append(kept, h)
	}
	for _, i := range []int{1, 3, 7} {
		_, ok := pool.Remove(kept[i])
		require.True(t, ok)
	}
	for i := 0; i < 2; i++ {
		_, err := pool.Insert(releaseCounter{released: &released})
		require.NoError(t, err)
	}
	_, ok := pool.Remove(kept[5])
	require.True(t, ok)

	liveBefore := pool.Count()
	require.Equal(t, 8, liveBefore)

	pool.Drain(func(value releaseCounter) {
		*value.released++
	})

	require.Equal(t, liveBefore, released)
	require.Equal(t, 0, pool.Count())
}

func TestPoolErrorsCarryDiagnosticCounts(t *testing.T) {
	pool := handles.NewPool[int](2)
	_, err := pool.Insert(1)
	require.NoError(t, err)
	_, err = pool.Insert(2)
	require.NoError(t, err)

	_, err = pool.Insert(3)
	require.Error(t, err)
	require.True(t, errors.Is(err, handles.TooManyObjectsError))
	require.Contains(t, err.Error(), "capacity 2")
}
