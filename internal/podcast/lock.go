package podcast

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type lockCache interface {
	SetNXMany(ctx context.Context, entries map[string]string, ttl time.Duration) (map[string]bool, error)
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// ImportLock keeps a catalog entry from being imported twice while an
// import is in flight. The lock value is the podcast id assigned by the
// holder so that callers losing the race can find it.
//
// A caller that loses the race and reads before the holder's write is
// visible sees no holder. Such ids are reported unresolved and may be
// retried by the caller.
type ImportLock struct {
	cache lockCache
	ttl   time.Duration
}

func NewImportLock(c lockCache) *ImportLock {
	return &ImportLock{cache: c, ttl: ImportLockTTL}
}

// TryAcquire attempts every lock in one round trip. owners maps source id to
// the podcast id the caller would assign; the result reports which locks
// this call now holds.
func (l *ImportLock) TryAcquire(ctx context.Context, owners map[int64]string) (map[int64]bool, error) {
	entries := make(map[string]string, len(owners))
	for sourceID, podcastID := range owners {
		entries[importLockKey(sourceID)] = podcastID
	}
	created, err := l.cache.SetNXMany(ctx, entries, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire import locks: %w", err)
	}

	acquired := make(map[int64]bool, len(owners))
	for sourceID := range owners {
		acquired[sourceID] = created[importLockKey(sourceID)]
	}
	return acquired, nil
}

func (l *ImportLock) TryAcquireOne(ctx context.Context, sourceID int64, podcastID string) (bool, error) {
	acquired, err := l.TryAcquire(ctx, map[int64]string{sourceID: podcastID})
	if err != nil {
		return false, err
	}
	return acquired[sourceID], nil
}

// Resolve returns the podcast id of the current holder of each lock. Ids
// without a holder are absent from the result.
func (l *ImportLock) Resolve(ctx context.Context, sourceIDs []int64) (map[int64]string, error) {
	keys := make([]string, len(sourceIDs))
	for i, id := range sourceIDs {
		keys[i] = importLockKey(id)
	}
	vals, err := l.cache.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("resolve import locks: %w", err)
	}

	out := make(map[int64]string, len(vals))
	for key, podcastID := range vals {
		id, err := strconv.ParseInt(strings.TrimPrefix(key, "IMPORT-"), 10, 64)
		if err != nil {
			continue
		}
		out[id] = podcastID
	}
	return out, nil
}

// Release frees a lock still held by podcastID, letting the import be
// retried before the lock expires.
func (l *ImportLock) Release(ctx context.Context, sourceID int64, podcastID string) error {
	if _, err := l.cache.CompareAndDelete(ctx, importLockKey(sourceID), podcastID); err != nil {
		return fmt.Errorf("release import lock: %w", err)
	}
	return nil
}
