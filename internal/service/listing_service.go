// Package service wires the HTTP surface to the domain stores and the pooling
// engine. Services own validation and orchestration; the matcher owns the
// pooling semantics.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// PoolTrigger is the slice of the matcher the listing service invokes.
type PoolTrigger interface {
	OnListingEligible(ctx context.Context, listingID uuid.UUID) (*domain.DealGroup, error)
}

// lockRetries bounds how often a pooling invocation is retried when another
// worker holds the key's lock. Contention windows are one matcher pass long,
// so a couple of short retries almost always succeed.
const lockRetries = 3

// lockRetryDelay is the pause between lock-contention retries.
const lockRetryDelay = 150 * time.Millisecond

// archiveTimeout bounds the background snapshot upload for a formed group.
const archiveTimeout = 30 * time.Second

// CreateListingInput carries the fields a farmer submits for a new listing.
// Grade is optional: listings may arrive pre-graded (Grade set, grading
// counted as complete) or ungraded (Grade empty, grading pending).
type CreateListingInput struct {
	FarmerID        uuid.UUID
	CropID          uuid.UUID
	QuantityKg      int64
	Grade           domain.Grade
	GradeConfidence *float64
	Region          string
}

// ListingService handles listing intake and grading completion, firing the
// pooling trigger after every write that can change eligibility.
type ListingService struct {
	listings domain.ListingStore
	crops    domain.CropStore
	trigger  PoolTrigger
	archiver domain.GroupArchiver
	logger   *slog.Logger
}

// NewListingService creates a ListingService. archiver may be nil, in which
// case formed groups are not snapshotted.
func NewListingService(
	listings domain.ListingStore,
	crops domain.CropStore,
	trigger PoolTrigger,
	archiver domain.GroupArchiver,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		listings: listings,
		crops:    crops,
		trigger:  trigger,
		archiver: archiver,
		logger:   logger,
	}
}

// CreateListing validates and persists a new supply listing, then fires the
// pooling trigger. An ungraded listing is stored with grading pending and
// simply waits for CompleteGrading; pooling is a no-op for it.
func (s *ListingService) CreateListing(ctx context.Context, in CreateListingInput) (domain.Listing, error) {
	if in.FarmerID == uuid.Nil {
		return domain.Listing{}, fmt.Errorf("listing_service: farmer id is required")
	}
	if in.QuantityKg <= 0 {
		return domain.Listing{}, fmt.Errorf("listing_service: quantity must be positive, got %d", in.QuantityKg)
	}
	if _, err := s.crops.GetByID(ctx, in.CropID); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: crop %s: %w", in.CropID, err)
	}

	now := time.Now()
	l := domain.Listing{
		ID:         uuid.New(),
		FarmerID:   in.FarmerID,
		CropID:     in.CropID,
		QuantityKg: in.QuantityKg,
		Status:     domain.ListingAvailable,
		Region:     in.Region,
		CreatedAt:  now,
	}

	if in.Grade.Concrete() {
		l.Grade = in.Grade
		l.GradingStatus = domain.GradingCompleted
		l.GradeConfidence = in.GradeConfidence
		l.GradedAt = &now
	} else {
		l.Grade = domain.GradePending
		l.GradingStatus = domain.GradingPending
	}

	if err := s.listings.Create(ctx, l); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "listing created",
		slog.String("listing_id", l.ID.String()),
		slog.String("farmer_id", l.FarmerID.String()),
		slog.String("crop_id", l.CropID.String()),
		slog.Int64("quantity_kg", l.QuantityKg),
		slog.String("grade", string(l.Grade)),
	)

	s.firePooling(ctx, l.ID)
	return l, nil
}

// CompleteGrading records a grading result for a listing and fires the
// pooling trigger, since completion can make the listing eligible.
func (s *ListingService) CompleteGrading(ctx context.Context, id uuid.UUID, grade domain.Grade, confidence *float64) (domain.Listing, error) {
	if !grade.Concrete() {
		return domain.Listing{}, fmt.Errorf("listing_service: grade %q is not a concrete quality tier", grade)
	}

	if err := s.listings.CompleteGrading(ctx, id, grade, confidence); err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: complete grading %s: %w", id, err)
	}

	s.logger.InfoContext(ctx, "grading completed",
		slog.String("listing_id", id.String()),
		slog.String("grade", string(grade)),
	)

	s.firePooling(ctx, id)

	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: reload %s: %w", id, err)
	}
	return l, nil
}

// GetListing returns one listing by ID.
func (s *ListingService) GetListing(ctx context.Context, id uuid.UUID) (domain.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("listing_service: get %s: %w", id, err)
	}
	return l, nil
}

// ListByFarmer returns a farmer's listings, newest first.
func (s *ListingService) ListByFarmer(ctx context.Context, farmerID uuid.UUID, opts domain.ListOpts) ([]domain.Listing, error) {
	out, err := s.listings.ListByFarmer(ctx, farmerID, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list by farmer %s: %w", farmerID, err)
	}
	return out, nil
}

// firePooling invokes the matcher for the listing, retrying briefly on lock
// contention. Pooling failures are logged, never surfaced to the write that
// triggered them: the listing is durably stored and a later trigger or repair
// pass will pick it up.
func (s *ListingService) firePooling(ctx context.Context, listingID uuid.UUID) {
	var group *domain.DealGroup
	var err error

	for attempt := 0; attempt <= lockRetries; attempt++ {
		group, err = s.trigger.OnListingEligible(ctx, listingID)
		if err == nil || !errors.Is(err, domain.ErrLockHeld) {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(lockRetryDelay):
			continue
		}
		break
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "pooling trigger failed",
			slog.String("listing_id", listingID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if group != nil && group.Status == domain.GroupFormed {
		s.archiveAsync(*group)
	}
}

// archiveAsync snapshots a freshly formed group in the background, off the
// request path. Uses its own context so an HTTP request finishing does not
// cancel the upload.
func (s *ListingService) archiveAsync(group domain.DealGroup) {
	if s.archiver == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()

		members, err := s.listings.ListByGroup(ctx, group.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "archive member load failed",
				slog.String("group_id", group.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		if err := s.archiver.ArchiveGroup(ctx, group, members); err != nil {
			s.logger.ErrorContext(ctx, "group archive failed",
				slog.String("group_id", group.ID.String()),
				slog.String("group_code", group.Code),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.InfoContext(ctx, "group archived",
			slog.String("group_id", group.ID.String()),
			slog.String("group_code", group.Code),
		)
	}()
}
