package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceconsole/internal/queue"
	"faceconsole/internal/upstream"
)

type fakeSource struct {
	mu      sync.Mutex
	stats   upstream.DashboardStats
	release chan struct{} // when non-nil, each GetStats waits for one token
	calls   atomic.Int32
}

func (f *fakeSource) GetStats(ctx context.Context) (upstream.DashboardStats, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return upstream.DashboardStats{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeSource) setStats(s upstream.DashboardStats) {
	f.mu.Lock()
	f.stats = s
	f.mu.Unlock()
}

func evt(id int64) upstream.AttendanceEvent {
	return upstream.AttendanceEvent{ID: id, Status: upstream.ScanSuccess}
}

func feedIDs(snap Snapshot) []int64 {
	ids := make([]int64, 0, len(snap.Feed))
	for _, e := range snap.Feed {
		ids = append(ids, e.ID)
	}
	return ids
}

// blockedSource returns a source whose polls never complete, so feed-only
// behaviour can be observed without a refresh reseeding it.
func blockedSource(t *testing.T) (*fakeSource, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &fakeSource{release: make(chan struct{})}, ctx
}

func TestOnEvent_CapacityAndArrivalOrder(t *testing.T) {
	src, ctx := blockedSource(t)
	r := New(src, nil)

	for i := int64(1); i <= 12; i++ {
		r.OnEvent(ctx, evt(i))
	}

	snap := r.Snapshot()
	require.Len(t, snap.Feed, FeedCapacity)
	assert.Equal(t, int64(12), snap.Feed[0].ID)
	assert.Equal(t, int64(3), snap.Feed[9].ID)
}

func TestOnEvent_OrderIsArrivalNotTimestamp(t *testing.T) {
	src, ctx := blockedSource(t)
	r := New(src, nil)

	older := evt(1)
	older.Timestamp = upstream.Timestamp{Time: time.Now().Add(-time.Hour)}
	newer := evt(2)
	newer.Timestamp = upstream.Timestamp{Time: time.Now()}

	// Network delivery out of order: the newer-stamped event arrives first.
	r.OnEvent(ctx, newer)
	r.OnEvent(ctx, older)

	snap := r.Snapshot()
	assert.Equal(t, []int64{1, 2}, feedIDs(snap))
}

func TestRefresh_SeedsFeedWhenQuiet(t *testing.T) {
	src := &fakeSource{}
	src.setStats(upstream.DashboardStats{
		TotalToday:  2,
		RecentScans: []upstream.AttendanceEvent{evt(20), evt(19)},
	})
	r := New(src, nil)

	r.TriggerRefresh(context.Background())
	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		return snap.Stats.TotalToday == 2 && len(snap.Feed) == 2 && snap.Feed[0].ID == 20
	}, time.Second, 10*time.Millisecond)
}

func TestRefresh_StaleSeedNeverDropsNewerPush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{release: make(chan struct{}, 1)}
	// The poll response was computed before the push: no id 1 in it.
	src.setStats(upstream.DashboardStats{
		TotalToday:  9,
		RecentScans: []upstream.AttendanceEvent{evt(99)},
	})
	r := New(src, nil)

	// Refresh issued first; it stalls in flight.
	r.TriggerRefresh(ctx)
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Push arrives while the poll is pending.
	r.OnEvent(ctx, evt(1))

	// Poll completes late. Its stats apply; its seed must not.
	src.release <- struct{}{}
	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		return snap.Stats.TotalToday == 9
	}, time.Second, 5*time.Millisecond)

	snap := r.Snapshot()
	assert.Contains(t, feedIDs(snap), int64(1), "event pushed after the poll request must survive")
}

func TestTriggerRefresh_CollapsesConcurrentTriggers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{release: make(chan struct{}, 16)}
	r := New(src, nil)

	r.TriggerRefresh(ctx)
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Many triggers while one is in flight collapse into a single rerun.
	for i := 0; i < 5; i++ {
		r.TriggerRefresh(ctx)
	}
	src.release <- struct{}{}
	src.release <- struct{}{}

	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestOpen_SeedsBeforeConsuming(t *testing.T) {
	src := &fakeSource{}
	src.setStats(upstream.DashboardStats{
		TotalUsers:  5,
		RecentScans: []upstream.AttendanceEvent{evt(7)},
	})
	r := New(src, nil)

	q := queue.NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	require.NoError(t, r.Open(ctx, msgs))
	defer r.Close()

	// Seeded synchronously, before any push could arrive.
	snap := r.Snapshot()
	assert.True(t, r.Ready())
	assert.Equal(t, []int64{7}, feedIDs(snap))

	// Pushed messages flow through the queue into the feed. The poll the
	// push triggers sees the authoritative seed including the new event.
	src.setStats(upstream.DashboardStats{
		TotalUsers:  5,
		RecentScans: []upstream.AttendanceEvent{evt(8), evt(7)},
	})
	body, _ := json.Marshal(evt(8))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "attendance", Body: body}))
	require.Eventually(t, func() bool {
		return len(r.Snapshot().Feed) >= 2 && r.Snapshot().Feed[0].ID == 8
	}, time.Second, 10*time.Millisecond)
}

func TestOnUpdate_PublishesSnapshots(t *testing.T) {
	src, ctx := blockedSource(t)
	r := New(src, nil)

	var mu sync.Mutex
	var seen []int
	r.OnUpdate = func(snap Snapshot) {
		mu.Lock()
		seen = append(seen, len(snap.Feed))
		mu.Unlock()
	}

	r.OnEvent(ctx, evt(1))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1 && seen[0] == 1
	}, time.Second, 10*time.Millisecond)
}

type memCache struct {
	mu   sync.Mutex
	snap *Snapshot
}

func (c *memCache) SaveSnapshot(_ context.Context, snap Snapshot) error {
	c.mu.Lock()
	c.snap = &snap
	c.mu.Unlock()
	return nil
}

func (c *memCache) LoadSnapshot(context.Context) (Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return Snapshot{}, false, nil
	}
	return *c.snap, true, nil
}

func TestOpen_WarmStartFromCache(t *testing.T) {
	cache := &memCache{}
	require.NoError(t, cache.SaveSnapshot(context.Background(), Snapshot{
		Stats: upstream.DashboardStats{TotalUsers: 3},
		Feed:  []upstream.AttendanceEvent{evt(5)},
	}))

	// The poll is unreachable; the cached snapshot still serves.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failing := &failingSource{}
	r := New(failing, cache)
	q := queue.NewInMemory(1)
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, msgs))
	defer r.Close()

	assert.True(t, r.Ready())
	assert.Equal(t, 3, r.Snapshot().Stats.TotalUsers)
	assert.Equal(t, []int64{5}, feedIDs(r.Snapshot()))
}

type failingSource struct{}

func (failingSource) GetStats(context.Context) (upstream.DashboardStats, error) {
	return upstream.DashboardStats{}, fmt.Errorf("backend unreachable")
}
