// Package pool implements the deal-pooling engine: it aggregates independent
// farmer supply listings into collective deal groups once enough matching
// supply accumulates for one crop+grade key.
package pool

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// ThresholdPolicy resolves the minimum pool quantity (kg) required before a
// group for a crop is considered formed. Crop profiles may override the
// system default; any lookup failure falls back to the default, since a
// missing threshold must never block pooling.
type ThresholdPolicy struct {
	crops     domain.CropStore
	cache     domain.CropCache // optional; nil disables caching
	defaultKg int64
	logger    *slog.Logger
}

// NewThresholdPolicy creates a ThresholdPolicy. defaultKg <= 0 selects the
// built-in system default.
func NewThresholdPolicy(crops domain.CropStore, cache domain.CropCache, defaultKg int64, logger *slog.Logger) *ThresholdPolicy {
	if defaultKg <= 0 {
		defaultKg = domain.DefaultMinGroupKg
	}
	return &ThresholdPolicy{
		crops:     crops,
		cache:     cache,
		defaultKg: defaultKg,
		logger:    logger.With(slog.String("component", "threshold_policy")),
	}
}

// ThresholdFor returns the minimum pool quantity for the crop. The result is
// always positive.
func (p *ThresholdPolicy) ThresholdFor(ctx context.Context, cropID uuid.UUID) int64 {
	crop, err := p.profile(ctx, cropID)
	if err != nil {
		p.logger.WarnContext(ctx, "crop lookup failed, using default threshold",
			slog.String("crop_id", cropID.String()),
			slog.Int64("default_kg", p.defaultKg),
			slog.String("error", err.Error()),
		)
		return p.defaultKg
	}
	if crop.MinGroupKg <= 0 {
		return p.defaultKg
	}
	return crop.MinGroupKg
}

// profile fetches a crop profile through the cache when one is configured,
// backfilling it on a miss.
func (p *ThresholdPolicy) profile(ctx context.Context, cropID uuid.UUID) (domain.CropProfile, error) {
	if p.cache != nil {
		if crop, err := p.cache.Get(ctx, cropID); err == nil {
			return crop, nil
		}
	}

	crop, err := p.crops.GetByID(ctx, cropID)
	if err != nil {
		return domain.CropProfile{}, err
	}

	if p.cache != nil {
		if cacheErr := p.cache.Set(ctx, crop); cacheErr != nil {
			p.logger.WarnContext(ctx, "crop cache set failed",
				slog.String("crop_id", cropID.String()),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return crop, nil
}
