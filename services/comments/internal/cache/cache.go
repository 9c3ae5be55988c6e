// Package cache provides a read-through cache for rendered threads. Entries
// are JSON blobs keyed per target and invalidated on any write to the thread.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/example/tutorhub/services/comments/internal/store"
)

// DefaultTTL bounds staleness when an invalidation is lost.
const DefaultTTL = 5 * time.Minute

// ThreadKey is the cache key for a target's thread.
func ThreadKey(t store.Target) string {
	return fmt.Sprintf("threads:%s:%s", t.Kind, t.ID)
}

// ThreadCache stores rendered thread payloads. A miss is (nil, nil): cache
// errors are degraded to misses by implementations so reads never fail on a
// cache outage.
type ThreadCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}

// Noop is the cache used when Redis is not configured.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error) { return nil, nil }

func (Noop) Set(context.Context, string, []byte, time.Duration) {}

func (Noop) Invalidate(context.Context, string) {}
