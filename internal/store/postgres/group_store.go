package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrimandi/dealpool/internal/domain"
)

// PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// GroupStore implements domain.GroupStore using PostgreSQL. Membership
// changes and status transitions always run inside a single transaction so a
// partially applied attach-and-promote is never observable.
type GroupStore struct {
	pool *pgxpool.Pool
}

// NewGroupStore creates a new GroupStore.
func NewGroupStore(pool *pgxpool.Pool) *GroupStore {
	return &GroupStore{pool: pool}
}

const groupColumns = `id, code, crop_id, grade, total_quantity_kg, status,
	notified_at, created_at, updated_at`

func scanGroup(row pgx.Row) (domain.DealGroup, error) {
	var g domain.DealGroup
	err := row.Scan(
		&g.ID, &g.Code, &g.CropID, &g.Grade, &g.TotalQuantityKg, &g.Status,
		&g.NotifiedAt, &g.CreatedAt, &g.UpdatedAt,
	)
	return g, err
}

// OpenByKey returns the single open group for a key. More than one open
// group violates the engine's uniqueness invariant and is reported as
// domain.ErrIntegrity instead of silently picking one.
func (s *GroupStore) OpenByKey(ctx context.Context, key domain.PoolKey) (domain.DealGroup, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM deal_groups
		WHERE crop_id = $1 AND grade = $2 AND status = $3
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, key.CropID, key.Grade, domain.GroupOpen)
	if err != nil {
		return domain.DealGroup{}, fmt.Errorf("postgres: open group for key %s: %w", key, err)
	}
	defer rows.Close()

	var found []domain.DealGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return domain.DealGroup{}, err
		}
		found = append(found, g)
	}
	if err := rows.Err(); err != nil {
		return domain.DealGroup{}, fmt.Errorf("postgres: open group for key %s: %w", key, err)
	}

	switch len(found) {
	case 0:
		return domain.DealGroup{}, domain.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return domain.DealGroup{}, fmt.Errorf("postgres: %d open groups for key %s: %w",
			len(found), key, domain.ErrIntegrity)
	}
}

// MemberIDs returns the IDs of the group's current member listings.
func (s *GroupStore) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	const query = `SELECT listing_id FROM deal_group_members WHERE group_id = $1`
	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("postgres: members of group %s: %w", groupID, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Attach applies an AttachRequest in one transaction: insert the new
// memberships, write the recomputed total, and, when promoting, flip the
// group to FORMED and every member listing to GROUPED.
func (s *GroupStore) Attach(ctx context.Context, req domain.AttachRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: attach begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, listingID := range req.NewMemberIDs {
		// ON CONFLICT keeps the attach idempotent under retries.
		if _, err := tx.Exec(ctx,
			`INSERT INTO deal_group_members (group_id, listing_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			req.GroupID, listingID,
		); err != nil {
			return fmt.Errorf("postgres: attach listing %s to group %s: %w", listingID, req.GroupID, err)
		}
	}

	if req.Promote {
		tag, err := tx.Exec(ctx,
			`UPDATE deal_groups
			 SET total_quantity_kg = $2, status = $3, updated_at = NOW()
			 WHERE id = $1 AND status = $4`,
			req.GroupID, req.TotalQuantityKg, domain.GroupFormed, domain.GroupOpen,
		)
		if err != nil {
			return fmt.Errorf("postgres: promote group %s: %w", req.GroupID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: promote group %s: not open: %w", req.GroupID, domain.ErrIntegrity)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE listings SET status = $2
			 WHERE id IN (SELECT listing_id FROM deal_group_members WHERE group_id = $1)`,
			req.GroupID, domain.ListingGrouped,
		); err != nil {
			return fmt.Errorf("postgres: mark members grouped for group %s: %w", req.GroupID, err)
		}
	} else {
		if _, err := tx.Exec(ctx,
			`UPDATE deal_groups SET total_quantity_kg = $2, updated_at = NOW() WHERE id = $1`,
			req.GroupID, req.TotalQuantityKg,
		); err != nil {
			return fmt.Errorf("postgres: update total for group %s: %w", req.GroupID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: attach commit: %w", err)
	}
	return nil
}

// CreateFormed creates a directly-FORMED group with its full membership and
// marks every member GROUPED, all in one transaction.
func (s *GroupStore) CreateFormed(ctx context.Context, g domain.DealGroup, memberIDs []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: create formed begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertGroup(ctx, tx, g); err != nil {
		return err
	}

	for _, listingID := range memberIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO deal_group_members (group_id, listing_id) VALUES ($1, $2)`,
			g.ID, listingID,
		); err != nil {
			return fmt.Errorf("postgres: attach listing %s to group %s: %w", listingID, g.ID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE listings SET status = $2 WHERE id = ANY($1)`,
		memberIDs, domain.ListingGrouped,
	); err != nil {
		return fmt.Errorf("postgres: mark members grouped for group %s: %w", g.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: create formed commit: %w", err)
	}
	return nil
}

// CreateOpen creates an empty open accumulating group. The partial unique
// index on (crop_id, grade) WHERE status = 'OPEN' rejects a second open
// group for the same key.
func (s *GroupStore) CreateOpen(ctx context.Context, g domain.DealGroup) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: create open begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertGroup(ctx, tx, g); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: create open commit: %w", err)
	}
	return nil
}

func insertGroup(ctx context.Context, tx pgx.Tx, g domain.DealGroup) error {
	const query = `
		INSERT INTO deal_groups (id, code, crop_id, grade, total_quantity_kg,
			status, notified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`
	if _, err := tx.Exec(ctx, query,
		g.ID, g.Code, g.CropID, g.Grade, g.TotalQuantityKg, g.Status, g.NotifiedAt,
	); err != nil {
		// The one-open-group-per-key partial unique index rejects a second
		// open group for the same crop+grade.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: insert group %s: %w", g.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert group %s: %w", g.ID, err)
	}
	return nil
}

// MarkNotified flips notified_at only if it is still unset and reports
// whether this caller won the flip. The conditional update is what makes the
// formation announcement exactly-once across workers and retries.
func (s *GroupStore) MarkNotified(ctx context.Context, groupID uuid.UUID) (bool, error) {
	const query = `
		UPDATE deal_groups SET notified_at = NOW()
		WHERE id = $1 AND notified_at IS NULL`
	tag, err := s.pool.Exec(ctx, query, groupID)
	if err != nil {
		return false, fmt.Errorf("postgres: mark notified for group %s: %w", groupID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID returns a group by id.
func (s *GroupStore) GetByID(ctx context.Context, id uuid.UUID) (domain.DealGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM deal_groups WHERE id = $1`
	g, err := scanGroup(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DealGroup{}, domain.ErrNotFound
		}
		return domain.DealGroup{}, fmt.Errorf("postgres: get group %s: %w", id, err)
	}
	return g, nil
}

// GetByCode returns a group by its human-readable code.
func (s *GroupStore) GetByCode(ctx context.Context, code string) (domain.DealGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM deal_groups WHERE code = $1`
	g, err := scanGroup(s.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DealGroup{}, domain.ErrNotFound
		}
		return domain.DealGroup{}, fmt.Errorf("postgres: get group by code %s: %w", code, err)
	}
	return g, nil
}

// ListRecent returns groups newest first.
func (s *GroupStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.DealGroup, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM deal_groups
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent groups: %w", err)
	}
	defer rows.Close()

	var out []domain.DealGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RecountTotals rewrites every group's denormalized total from its
// membership rows and returns the IDs of groups whose total had drifted.
func (s *GroupStore) RecountTotals(ctx context.Context) ([]uuid.UUID, error) {
	const query = `
		WITH sums AS (
			SELECT g.id, COALESCE(SUM(l.quantity_kg), 0) AS actual
			FROM deal_groups g
			LEFT JOIN deal_group_members m ON m.group_id = g.id
			LEFT JOIN listings l ON l.id = m.listing_id
			GROUP BY g.id
		)
		UPDATE deal_groups g
		SET total_quantity_kg = s.actual, updated_at = NOW()
		FROM sums s
		WHERE s.id = g.id AND g.total_quantity_kg <> s.actual
		RETURNING g.id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: recount group totals: %w", err)
	}
	defer rows.Close()

	var drifted []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		drifted = append(drifted, id)
	}
	return drifted, rows.Err()
}

// Compile-time interface check.
var _ domain.GroupStore = (*GroupStore)(nil)
