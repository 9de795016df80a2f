package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CropCache provides fast crop profile lookups in front of the CropStore.
type CropCache interface {
	Set(ctx context.Context, crop CropProfile) error
	Get(ctx context.Context, id uuid.UUID) (CropProfile, error)
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// LockManager provides distributed locking. The matcher holds a per-pool-key
// lock for the duration of its read-then-write sequence so concurrent
// invocations for the same key serialize.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out for live events (WebSocket hub).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
