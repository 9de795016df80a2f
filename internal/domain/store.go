package domain

import (
	"context"

	"github.com/google/uuid"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// CropStore persists crop reference data. The pooling engine treats it as
// read-only; Upsert exists for seeding and back-office edits.
type CropStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (CropProfile, error)
	GetByName(ctx context.Context, name string) (CropProfile, error)
	Upsert(ctx context.Context, crop CropProfile) error
	List(ctx context.Context) ([]CropProfile, error)
}

// ListingStore persists supply listings.
type ListingStore interface {
	Create(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id uuid.UUID) (Listing, error)
	// CompleteGrading records the grading pipeline's result for a listing.
	CompleteGrading(ctx context.Context, id uuid.UUID, grade Grade, confidence *float64) error
	// ListEligible returns AVAILABLE, fully graded listings for the key that
	// are not yet members of any open group, ordered by creation time so
	// pooling is first-submitted, first-pooled.
	ListEligible(ctx context.Context, key PoolKey) ([]Listing, error)
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]Listing, error)
	ListByFarmer(ctx context.Context, farmerID uuid.UUID, opts ListOpts) ([]Listing, error)
}

// AttachRequest describes one atomic membership change on an open group:
// attach the given listings, write the recomputed total, and optionally
// promote the group to FORMED while flipping every member to GROUPED. The
// store must apply the whole request in a single transaction.
type AttachRequest struct {
	GroupID         uuid.UUID
	NewMemberIDs    []uuid.UUID
	TotalQuantityKg int64
	Promote         bool
}

// GroupStore persists deal groups and the group-owned membership relation.
type GroupStore interface {
	// OpenByKey returns the single open group for a key. It returns
	// ErrNotFound when none exists and ErrIntegrity when more than one open
	// group is found, since that violates the engine's core invariant.
	OpenByKey(ctx context.Context, key PoolKey) (DealGroup, error)
	// MemberIDs returns the IDs of the group's current member listings.
	MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	// Attach applies an AttachRequest atomically.
	Attach(ctx context.Context, req AttachRequest) error
	// CreateFormed atomically creates a directly-FORMED group, attaches all
	// members, and marks them GROUPED.
	CreateFormed(ctx context.Context, g DealGroup, memberIDs []uuid.UUID) error
	// CreateOpen creates an empty open accumulating group.
	CreateOpen(ctx context.Context, g DealGroup) error
	// MarkNotified flips notified_at if and only if it is still unset, and
	// reports whether this caller won the flip. It is the exactly-once guard
	// for formation notifications.
	MarkNotified(ctx context.Context, groupID uuid.UUID) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (DealGroup, error)
	GetByCode(ctx context.Context, code string) (DealGroup, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]DealGroup, error)
	// RecountTotals rewrites every group's denormalized total from its
	// membership rows and returns the IDs of groups whose total had drifted.
	RecountTotals(ctx context.Context) ([]uuid.UUID, error)
}

// NotificationStore persists in-app notifications for farmers.
type NotificationStore interface {
	Create(ctx context.Context, n Notification) error
	ListByFarmer(ctx context.Context, farmerID uuid.UUID, opts ListOpts) ([]Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}
