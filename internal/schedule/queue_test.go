package schedule

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(10000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func target(name string) watch.Target {
	return watch.Target{URL: "https://shop.example/p/" + name, Group: "alpha"}
}

func rotationOf(names ...string) []watch.Target {
	targets := make([]watch.Target, len(names))
	for i, name := range names {
		targets[i] = target(name)
	}
	return targets
}

func TestInterleave_RoundRobinAcrossGroups(t *testing.T) {
	t.Parallel()

	p1a := watch.Target{URL: "p1a", Group: "P1"}
	p1b := watch.Target{URL: "p1b", Group: "P1"}
	p2a := watch.Target{URL: "p2a", Group: "P2"}

	rotation := Interleave([]Group{
		{Key: "P1", Targets: []watch.Target{p1a, p1b}},
		{Key: "P2", Targets: []watch.Target{p2a}},
	})
	require.Equal(t, []watch.Target{p1a, p2a, p1b}, rotation)
}

func TestInterleave_RemainderFlushedInOrder(t *testing.T) {
	t.Parallel()

	a1 := watch.Target{URL: "a1", Group: "A"}
	a2 := watch.Target{URL: "a2", Group: "A"}
	a3 := watch.Target{URL: "a3", Group: "A"}
	b1 := watch.Target{URL: "b1", Group: "B"}

	rotation := Interleave([]Group{
		{Key: "A", Targets: []watch.Target{a1, a2, a3}},
		{Key: "B", Targets: []watch.Target{b1}},
	})
	require.Equal(t, []watch.Target{a1, b1, a2, a3}, rotation)
}

func TestNext_BaseRotationWrapsAndCountsCycles(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := New(rotationOf("A", "B"), Config{}, clock)

	for _, want := range []string{"A", "B", "A", "B", "A"} {
		got, ok := q.Next()
		require.True(t, ok)
		require.Equal(t, target(want), got)
	}

	status := q.Status()
	require.Equal(t, 2, status.Targets)
	require.Equal(t, 2, status.Position)
	require.Equal(t, 3, status.Cycle)
}

func TestNext_PriorityHitDoesNotAdvanceBaseCursor(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := New(rotationOf("A", "B", "C", "D"), Config{Throttle: 30 * time.Second, BaseLimit: 5}, clock)

	q.SetPriority(target("C"), watch.Tier1, "purchasable and listed")

	got, ok := q.Next()
	require.True(t, ok)
	require.Equal(t, target("C"), got)

	// The priority pull was extra work: the base cursor still points at A.
	got, ok = q.Next()
	require.True(t, ok)
	require.Equal(t, target("A"), got)

	got, ok = q.Next()
	require.True(t, ok)
	require.Equal(t, target("B"), got)
}

func TestNextPriority_Tier1WinsOverLowerTiers(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := New(rotationOf("A", "B", "C", "D", "E"), Config{Throttle: 30 * time.Second, BaseLimit: 5}, clock)

	q.SetPriority(target("B"), watch.Tier3, "listed only")
	clock.Advance(time.Second)
	q.SetPriority(target("C"), watch.Tier2, "purchasable only")
	clock.Advance(time.Second)
	q.SetPriority(target("D"), watch.Tier1, "purchasable and listed")

	// D was promoted last, but tier ordering beats promotion recency.
	got, ok := q.Next()
	require.True(t, ok)
	require.Equal(t, target("D"), got)
}

func TestNextPriority_PromotionTimeBreaksTies(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := New(rotationOf("A", "B", "C", "D"), Config{Throttle: 30 * time.Second, BaseLimit: 5}, clock)

	q.SetPriority(target("C"), watch.Tier1, "older promotion")
	clock.Advance(time.Minute)
	q.SetPriority(target("B"), watch.Tier1, "newer promotion")

	got, ok := q.Next()
	require.True(t, ok)
	require.Equal(t, target("C"), got)
}

func TestNextPriority_CutDistanceBound(t *testing.T) {
	t.Parallel()

	names := make([]string, 16)
	for i := range names {
		names[i] = fmt.Sprintf("T%02d", i)
	}
	clock := newFakeClock()
	q := New(rotationOf(names...), Config{Throttle: 30 * time.Second, BaseLimit: 5}, clock)

	// Cursor sits at index 0. A tier-1 record 11 steps ahead exceeds the
	// 2×baseLimit cut distance and must never be returned by the overlay.
	q.SetPriority(target("T11"), watch.Tier1, "too far ahead")
	got, ok := q.Next()
	require.True(t, ok)
	require.Equal(t, target("T00"), got)

	// Exactly 10 steps ahead of the cursor (now at index 1: T11 is 10 away)
	// is within the bound and is claimed.
	got, ok = q.Next()
	require.True(t, ok)
	require.Equal(t, target("T11"), got)
}

func TestNextPriority_TierCutLimitsScaleDown(t *testing.T) {
	t.Parallel()

	names := make([]string, 16)
	for i := range names {
		names[i] = fmt.Sprintf("T%02d", i)
	}
	clock := newFakeClock()
	q := New(rotationOf(names...), Config{Throttle: 30 * time.Second, BaseLimit: 5}, clock)

	// Tier 2 may cut up to 5 steps; tier 3 up to 2.
	q.SetPriority(target("T06"), watch.Tier2, "beyond tier-2 reach")
	q.SetPriority(target("T03"), watch.Tier3, "beyond tier-3 reach")

	got, ok := q.Next()
	require.True(t, ok)
	require.Equal(t, target("T00"), got)

	// Cursor now at index 1: T06 is 5 steps ahead, claimable for tier 2.
	got, ok = q.Next()
	require.True(t, ok)
	require.Equal(t, target("T06"), got)

	// T03 is 2 steps ahead, claimable for tier 3.
	got, ok = q.Next()
	require.True(t, ok)
	require.Equal(t, target("T03"), got)
}

func TestNextPriority_ThrottleBlocksRecheck(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := New(rotationOf("A", "B", "C"), Config{Throttle: 30 * time.Second, BaseLimit: 5}, clock)

	q.SetPriority(target("B"), watch.Tier1, "hot")

	got, _ := q.Next()
	require.Equal(t, target("B"), got)

	// Claimed; within the throttle window the overlay stays silent.
	got, _ = q.Next()
	require.Equal(t, target("A"), got)

	clock.Advance(30 * time.Second)
	got, _ = q.Next()
	require.Equal(t, target("B"), got)
}

func TestSetPriority_SameTierRefreshKeepsThrottle(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := New(rotationOf("A", "B", "C"), Config{Throttle: 30 * time.Second, BaseLimit: 5}, clock)

	q.SetPriority(target("B"), watch.Tier1, "hot")
	got, _ := q.Next()
	require.Equal(t, target("B"), got)

	// Re-promoting at the same tier refreshes promotion time only; the
	// throttle stamp from the claim above still applies.
	clock.Advance(time.Second)
	q.SetPriority(target("B"), watch.Tier1, "still hot")
	got, _ = q.Next()
	require.Equal(t, target("A"), got)
}

func TestSetPriority_ChangedTierReplacesRecord(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := New(rotationOf("A", "B", "C"), Config{Throttle: 30 * time.Second, BaseLimit: 5}, clock)

	q.SetPriority(target("B"), watch.Tier2, "purchasable only")
	got, _ := q.Next()
	require.Equal(t, target("B"), got)

	// A tier change replaces the record, so the target is eligible again
	// without waiting out the old throttle window.
	q.SetPriority(target("B"), watch.Tier1, "now purchasable and listed")
	got, _ = q.Next()
	require.Equal(t, target("B"), got)
}

func TestSetPriority_TierNoneClears(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := New(rotationOf("A", "B", "C"), Config{Throttle: 30 * time.Second, BaseLimit: 5}, clock)

	q.SetPriority(target("C"), watch.Tier1, "hot")
	q.SetPriority(target("C"), watch.TierNone, "went dark")

	got, _ := q.Next()
	require.Equal(t, target("A"), got)
	require.Empty(t, q.Status().Tiers)
}

func TestNext_ConcurrentPullsNeverShareABaseSlot(t *testing.T) {
	t.Parallel()

	names := make([]string, 32)
	for i := range names {
		names[i] = fmt.Sprintf("T%02d", i)
	}
	clock := newFakeClock()
	q := New(rotationOf(names...), Config{}, clock)

	const workers = 8
	const pullsPerWorker = 4 // exactly one full cycle across all workers

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range pullsPerWorker {
				got, ok := q.Next()
				require.True(t, ok)
				mu.Lock()
				seen[got.Key()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 32)
	for key, count := range seen {
		require.Equal(t, 1, count, "slot %s pulled more than once in a single cycle", key)
	}
}

func TestStatus_ReportsTierCounts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := New(rotationOf("A", "B", "C", "D"), Config{}, clock)

	q.SetPriority(target("B"), watch.Tier1, "hot")
	q.SetPriority(target("C"), watch.Tier3, "warm")

	status := q.Status()
	require.Equal(t, 4, status.Targets)
	require.Equal(t, 1, status.Tiers[watch.Tier1])
	require.Equal(t, 1, status.Tiers[watch.Tier3])
}

func TestNext_EmptyRotation(t *testing.T) {
	t.Parallel()

	q := New(nil, Config{}, newFakeClock())
	_, ok := q.Next()
	require.False(t, ok)
}
