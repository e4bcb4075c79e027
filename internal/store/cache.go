package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"faceconsole/internal/reconcile"
)

const (
	snapshotKey = "console:snapshot"
	snapshotTTL = 24 * time.Hour
)

// SnapshotCache keeps the last reconciled snapshot in redis so a restarted
// console serves a warm dashboard before its first poll completes.
type SnapshotCache struct {
	r *Redis
}

func NewSnapshotCache(r *Redis) *SnapshotCache {
	return &SnapshotCache{r: r}
}

// SaveSnapshot stores the snapshot with a TTL. Stale data older than a day
// is worse than an empty dashboard.
func (c *SnapshotCache) SaveSnapshot(ctx context.Context, snap reconcile.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.r.Client.Set(ctx, snapshotKey, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the cached snapshot, reporting false when none is
// stored.
func (c *SnapshotCache) LoadSnapshot(ctx context.Context) (reconcile.Snapshot, bool, error) {
	data, err := c.r.Client.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return reconcile.Snapshot{}, false, nil
	}
	if err != nil {
		return reconcile.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap reconcile.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return reconcile.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}
