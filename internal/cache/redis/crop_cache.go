package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agrimandi/dealpool/internal/domain"
)

// defaultCropTTL bounds staleness of cached crop profiles. Threshold
// overrides change rarely, so a short TTL is plenty.
const defaultCropTTL = 5 * time.Minute

// CropCache implements domain.CropCache using JSON-serialized crop profiles
// under crop:{id} keys. It sits in front of the CropStore so the threshold
// policy does not hit PostgreSQL on every pooling attempt.
type CropCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCropCache creates a CropCache backed by the given Client. ttl <= 0
// selects the default.
func NewCropCache(c *Client, ttl time.Duration) *CropCache {
	if ttl <= 0 {
		ttl = defaultCropTTL
	}
	return &CropCache{rdb: c.Underlying(), ttl: ttl}
}

func cropKey(id uuid.UUID) string { return "crop:" + id.String() }

// Set stores a crop profile with the cache TTL.
func (cc *CropCache) Set(ctx context.Context, crop domain.CropProfile) error {
	data, err := json.Marshal(crop)
	if err != nil {
		return fmt.Errorf("redis: marshal crop %s: %w", crop.ID, err)
	}
	if err := cc.rdb.Set(ctx, cropKey(crop.ID), data, cc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set crop %s: %w", crop.ID, err)
	}
	return nil
}

// Get retrieves a crop profile by id. It returns domain.ErrNotFound when the
// key does not exist.
func (cc *CropCache) Get(ctx context.Context, id uuid.UUID) (domain.CropProfile, error) {
	data, err := cc.rdb.Get(ctx, cropKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CropProfile{}, domain.ErrNotFound
		}
		return domain.CropProfile{}, fmt.Errorf("redis: get crop %s: %w", id, err)
	}

	var crop domain.CropProfile
	if err := json.Unmarshal(data, &crop); err != nil {
		return domain.CropProfile{}, fmt.Errorf("redis: unmarshal crop %s: %w", id, err)
	}
	return crop, nil
}

// Invalidate drops a cached crop profile.
func (cc *CropCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := cc.rdb.Del(ctx, cropKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate crop %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CropCache = (*CropCache)(nil)
