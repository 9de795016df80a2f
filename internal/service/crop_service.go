package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// CropService manages crop reference data. Writes invalidate the crop cache
// so the threshold policy picks up new overrides promptly.
type CropService struct {
	crops  domain.CropStore
	cache  domain.CropCache
	logger *slog.Logger
}

// NewCropService creates a CropService. cache may be nil.
func NewCropService(crops domain.CropStore, cache domain.CropCache, logger *slog.Logger) *CropService {
	return &CropService{
		crops:  crops,
		cache:  cache,
		logger: logger,
	}
}

// UpsertCrop creates or updates a crop profile keyed by name and invalidates
// its cache entry.
func (s *CropService) UpsertCrop(ctx context.Context, crop domain.CropProfile) (domain.CropProfile, error) {
	if crop.Name == "" {
		return domain.CropProfile{}, fmt.Errorf("crop_service: crop name is required")
	}
	if crop.MinGroupKg < 0 {
		return domain.CropProfile{}, fmt.Errorf("crop_service: min group kg must not be negative, got %d", crop.MinGroupKg)
	}
	if crop.ID == uuid.Nil {
		crop.ID = uuid.New()
		crop.CreatedAt = time.Now()
	}
	crop.UpdatedAt = time.Now()

	if err := s.crops.Upsert(ctx, crop); err != nil {
		return domain.CropProfile{}, fmt.Errorf("crop_service: upsert %q: %w", crop.Name, err)
	}

	// Invalidate rather than set: the store may have kept the existing row's
	// ID on a name conflict, so the authoritative row is re-read on demand.
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, crop.ID); err != nil {
			s.logger.WarnContext(ctx, "crop cache invalidate failed",
				slog.String("crop_id", crop.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "crop upserted",
		slog.String("crop_id", crop.ID.String()),
		slog.String("name", crop.Name),
		slog.Int64("min_group_kg", crop.MinGroupKg),
	)
	return crop, nil
}

// GetCrop returns one crop profile by ID.
func (s *CropService) GetCrop(ctx context.Context, id uuid.UUID) (domain.CropProfile, error) {
	crop, err := s.crops.GetByID(ctx, id)
	if err != nil {
		return domain.CropProfile{}, fmt.Errorf("crop_service: get %s: %w", id, err)
	}
	return crop, nil
}

// ListCrops returns all crop profiles.
func (s *CropService) ListCrops(ctx context.Context) ([]domain.CropProfile, error) {
	crops, err := s.crops.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("crop_service: list: %w", err)
	}
	return crops, nil
}
