package store

import (
	"context"
	"time"
)

// RunExpirer wakes every interval and reaps all keys whose TTL has
// lapsed across every DB in storage, bounding memory growth independent
// of read traffic. It returns when ctx is canceled. onReap, if non-nil,
// is called with the number of keys reaped on each tick (used to drive
// the keys_expired_total metric).
func RunExpirer(ctx context.Context, storage *Storage, interval time.Duration, onReap func(int)) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reaped := storage.ReapExpired(now)
			if reaped > 0 && onReap != nil {
				onReap(reaped)
			}
		}
	}
}
