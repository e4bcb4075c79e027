// Package reconcile merges the two dashboard sources into one coherent view:
// pushed attendance events (fresh, individual) and polled aggregate stats
// (authoritative, batched). Pushed events drive the live feed only; counters
// and the checked-in partition come exclusively from the poll, so a push can
// never double-count or drift the aggregates.
package reconcile

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"faceconsole/internal/metrics"
	"faceconsole/internal/queue"
	"faceconsole/internal/upstream"
)

// FeedCapacity bounds the live feed view model.
const FeedCapacity = 10

// StatsSource is the authoritative aggregate poll.
type StatsSource interface {
	GetStats(ctx context.Context) (upstream.DashboardStats, error)
}

// Cache warm-starts the dashboard across console restarts. Optional.
type Cache interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context) (Snapshot, bool, error)
}

// Snapshot is the published view model. Feed is newest-first by arrival
// order, never longer than FeedCapacity.
type Snapshot struct {
	Stats     upstream.DashboardStats    `json:"stats"`
	Feed      []upstream.AttendanceEvent `json:"feed"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Reconciler owns the view model. All mutation happens under one mutex;
// network calls never hold it.
type Reconciler struct {
	source StatsSource
	cache  Cache

	// OnUpdate is invoked with a copy of the snapshot after every change.
	// Set before Open.
	OnUpdate func(Snapshot)

	mu        sync.Mutex
	stats     upstream.DashboardStats
	feed      []upstream.AttendanceEvent
	haveStats bool

	// eventSeq tags arrival order. A poll records the sequence at request
	// time; its recent-scans seed is applied only if no event arrived in
	// between, so a slow response can never erase a fresher push.
	eventSeq uint64

	refreshing bool
	rerun      bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reconciler polling source. cache may be nil.
func New(source StatsSource, cache Cache) *Reconciler {
	return &Reconciler{source: source, cache: cache}
}

// Open seeds the view and starts consuming msgs. The initial poll completes
// (or fails) before any pushed event is processed, so an operator never sees
// an empty feed while history exists. Close releases everything Open
// acquired.
func (r *Reconciler) Open(ctx context.Context, msgs <-chan queue.Message) error {
	if r.cache != nil {
		if snap, ok, err := r.cache.LoadSnapshot(ctx); err == nil && ok {
			r.mu.Lock()
			r.stats = snap.Stats
			r.feed = snap.Feed
			r.haveStats = true
			r.mu.Unlock()
		}
	}

	// Seed from the authoritative poll before subscribing.
	if err := r.refresh(ctx); err != nil {
		log.Printf("reconcile: initial stats load failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(runCtx, msgs)
	return nil
}

// Close stops the consume loop and waits for it to exit.
func (r *Reconciler) Close() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Reconciler) run(ctx context.Context, msgs <-chan queue.Message) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Type != "attendance" {
				continue
			}
			var evt upstream.AttendanceEvent
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				log.Printf("reconcile: malformed event dropped: %v", err)
				continue
			}
			r.OnEvent(ctx, evt)
		}
	}
}

// OnEvent prepends a pushed event to the feed and triggers an asynchronous
// stats refresh. The event itself never touches the aggregates.
func (r *Reconciler) OnEvent(ctx context.Context, evt upstream.AttendanceEvent) {
	r.mu.Lock()
	r.feed = append([]upstream.AttendanceEvent{evt}, r.feed...)
	if len(r.feed) > FeedCapacity {
		r.feed = r.feed[:FeedCapacity]
	}
	r.eventSeq++
	snap := r.snapshotLocked()
	r.mu.Unlock()

	metrics.FeedEventsTotal.WithLabelValues(evt.Status).Inc()
	r.publish(ctx, snap)
	r.TriggerRefresh(ctx)
}

// TriggerRefresh starts a background poll, collapsing concurrent triggers
// into at most one in flight plus one queued rerun.
func (r *Reconciler) TriggerRefresh(ctx context.Context) {
	r.mu.Lock()
	if r.refreshing {
		r.rerun = true
		r.mu.Unlock()
		return
	}
	r.refreshing = true
	r.mu.Unlock()

	go func() {
		for {
			if err := r.refresh(ctx); err != nil && ctx.Err() == nil {
				log.Printf("reconcile: stats refresh failed: %v", err)
			}
			r.mu.Lock()
			if !r.rerun {
				r.refreshing = false
				r.mu.Unlock()
				return
			}
			r.rerun = false
			r.mu.Unlock()
		}
	}()
}

// refresh performs one poll and merges the response under the ordering
// discipline: stats replace wholesale; the recent-scans seed applies only
// when no push arrived after the request was issued.
func (r *Reconciler) refresh(ctx context.Context) error {
	r.mu.Lock()
	seqAtRequest := r.eventSeq
	r.mu.Unlock()

	stats, err := r.source.GetStats(ctx)
	if err != nil {
		metrics.StatsRefreshesTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.StatsRefreshesTotal.WithLabelValues("ok").Inc()

	r.mu.Lock()
	r.stats = stats
	r.haveStats = true
	if r.eventSeq == seqAtRequest {
		feed := stats.RecentScans
		if len(feed) > FeedCapacity {
			feed = feed[:FeedCapacity]
		}
		r.feed = append([]upstream.AttendanceEvent(nil), feed...)
	} else {
		metrics.StaleSeedsDiscarded.Inc()
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(ctx, snap)
	return nil
}

// Snapshot returns a copy of the current view model.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Ready reports whether at least one poll has succeeded (or a cached
// snapshot was restored).
func (r *Reconciler) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.haveStats
}

func (r *Reconciler) snapshotLocked() Snapshot {
	return Snapshot{
		Stats:     r.stats,
		Feed:      append([]upstream.AttendanceEvent(nil), r.feed...),
		UpdatedAt: time.Now(),
	}
}

func (r *Reconciler) publish(ctx context.Context, snap Snapshot) {
	if r.cache != nil {
		if err := r.cache.SaveSnapshot(ctx, snap); err != nil && ctx.Err() == nil {
			log.Printf("reconcile: snapshot cache write failed: %v", err)
		}
	}
	if r.OnUpdate != nil {
		r.OnUpdate(snap)
	}
}
