package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrimandi/dealpool/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// listingColumns assumes the listings table is aliased as l so joined queries
// stay unambiguous.
const listingColumns = `l.id, l.farmer_id, l.crop_id, l.grade, l.quantity_kg, l.status,
	l.grading_status, l.grade_confidence, l.region, l.created_at, l.graded_at`

func scanListing(row pgx.Row) (domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(
		&l.ID, &l.FarmerID, &l.CropID, &l.Grade, &l.QuantityKg, &l.Status,
		&l.GradingStatus, &l.GradeConfidence, &l.Region, &l.CreatedAt, &l.GradedAt,
	)
	return l, err
}

// Create inserts a new listing.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (id, farmer_id, crop_id, grade, quantity_kg, status,
			grading_status, grade_confidence, region, created_at, graded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		l.ID, l.FarmerID, l.CropID, l.Grade, l.QuantityKg, l.Status,
		l.GradingStatus, l.GradeConfidence, l.Region, l.CreatedAt, l.GradedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create listing %s: %w", l.ID, err)
	}
	return nil
}

// GetByID returns a listing by id.
func (s *ListingStore) GetByID(ctx context.Context, id uuid.UUID) (domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings l WHERE l.id = $1`
	l, err := scanListing(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// CompleteGrading records the grading pipeline's result for a listing.
func (s *ListingStore) CompleteGrading(ctx context.Context, id uuid.UUID, grade domain.Grade, confidence *float64) error {
	const query = `
		UPDATE listings
		SET grade = $2, grade_confidence = $3, grading_status = $4, graded_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, grade, confidence, domain.GradingCompleted)
	if err != nil {
		return fmt.Errorf("postgres: complete grading for listing %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListEligible returns the unattached eligible pool for a key: AVAILABLE,
// fully graded listings with a concrete grade that are not members of any
// open group, ordered by creation time (first-submitted, first-pooled).
func (s *ListingStore) ListEligible(ctx context.Context, key domain.PoolKey) ([]domain.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings l
		WHERE l.crop_id = $1
		  AND l.grade = $2
		  AND l.status = $3
		  AND l.grading_status = $4
		  AND NOT EXISTS (
			SELECT 1
			FROM deal_group_members m
			JOIN deal_groups g ON g.id = m.group_id
			WHERE m.listing_id = l.id AND g.status = $5
		  )
		ORDER BY l.created_at`
	rows, err := s.pool.Query(ctx, query,
		key.CropID, key.Grade, domain.ListingAvailable, domain.GradingCompleted, domain.GroupOpen,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list eligible for key %s: %w", key, err)
	}
	defer rows.Close()
	return collectListings(rows)
}

// ListByGroup returns the current member listings of a group.
func (s *ListingStore) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings l
		JOIN deal_group_members m ON m.listing_id = l.id
		WHERE m.group_id = $1
		ORDER BY l.created_at`
	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings for group %s: %w", groupID, err)
	}
	defer rows.Close()
	return collectListings(rows)
}

// ListByFarmer returns a farmer's listings, newest first.
func (s *ListingStore) ListByFarmer(ctx context.Context, farmerID uuid.UUID, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings l
		WHERE l.farmer_id = $1
		ORDER BY l.created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, farmerID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings for farmer %s: %w", farmerID, err)
	}
	defer rows.Close()
	return collectListings(rows)
}

func collectListings(rows pgx.Rows) ([]domain.Listing, error) {
	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
