package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
	"github.com/agrimandi/dealpool/internal/pool"
)

// GroupService answers group queries, creates administrative open groups, and
// runs the totals repair pass.
type GroupService struct {
	groups   domain.GroupStore
	listings domain.ListingStore
	crops    domain.CropStore
	logger   *slog.Logger
}

// NewGroupService creates a GroupService.
func NewGroupService(
	groups domain.GroupStore,
	listings domain.ListingStore,
	crops domain.CropStore,
	logger *slog.Logger,
) *GroupService {
	return &GroupService{
		groups:   groups,
		listings: listings,
		crops:    crops,
		logger:   logger,
	}
}

// GetGroup returns one group and its member listings.
func (s *GroupService) GetGroup(ctx context.Context, id uuid.UUID) (domain.DealGroup, []domain.Listing, error) {
	g, err := s.groups.GetByID(ctx, id)
	if err != nil {
		return domain.DealGroup{}, nil, fmt.Errorf("group_service: get %s: %w", id, err)
	}
	members, err := s.listings.ListByGroup(ctx, id)
	if err != nil {
		return domain.DealGroup{}, nil, fmt.Errorf("group_service: members of %s: %w", id, err)
	}
	return g, members, nil
}

// GetGroupByCode returns one group by its human-readable code.
func (s *GroupService) GetGroupByCode(ctx context.Context, code string) (domain.DealGroup, error) {
	g, err := s.groups.GetByCode(ctx, code)
	if err != nil {
		return domain.DealGroup{}, fmt.Errorf("group_service: get by code %q: %w", code, err)
	}
	return g, nil
}

// ListGroups returns recent groups, newest first.
func (s *GroupService) ListGroups(ctx context.Context, opts domain.ListOpts) ([]domain.DealGroup, error) {
	out, err := s.groups.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("group_service: list recent: %w", err)
	}
	return out, nil
}

// CreateOpenGroup creates an empty accumulating group for a crop+grade key.
// This is a back-office operation: the matcher will attach eligible listings
// to it and promote it once the threshold is met. At most one open group may
// exist per key; the store rejects a duplicate.
func (s *GroupService) CreateOpenGroup(ctx context.Context, cropID uuid.UUID, grade domain.Grade) (domain.DealGroup, error) {
	if !grade.Concrete() {
		return domain.DealGroup{}, fmt.Errorf("group_service: grade %q is not a concrete quality tier", grade)
	}
	crop, err := s.crops.GetByID(ctx, cropID)
	if err != nil {
		return domain.DealGroup{}, fmt.Errorf("group_service: crop %s: %w", cropID, err)
	}

	now := time.Now()
	g := domain.DealGroup{
		ID:        uuid.New(),
		Code:      pool.GroupCode(crop.Name, grade, now),
		CropID:    cropID,
		Grade:     grade,
		Status:    domain.GroupOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.groups.CreateOpen(ctx, g); err != nil {
		return domain.DealGroup{}, fmt.Errorf("group_service: create open group %s: %w", g.Code, err)
	}

	s.logger.InfoContext(ctx, "open group created",
		slog.String("group_id", g.ID.String()),
		slog.String("group_code", g.Code),
		slog.String("crop_id", cropID.String()),
		slog.String("grade", string(grade)),
	)
	return g, nil
}

// RepairTotals rewrites every group's denormalized aggregate from its
// membership rows and returns the IDs of groups whose total had drifted.
// Run from the repair mode after incidents or manual data surgery.
func (s *GroupService) RepairTotals(ctx context.Context) ([]uuid.UUID, error) {
	drifted, err := s.groups.RecountTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("group_service: recount totals: %w", err)
	}

	if len(drifted) == 0 {
		s.logger.InfoContext(ctx, "group totals verified, no drift")
		return nil, nil
	}

	for _, id := range drifted {
		s.logger.WarnContext(ctx, "group total repaired",
			slog.String("group_id", id.String()),
		)
	}
	return drifted, nil
}
