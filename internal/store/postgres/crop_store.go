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

// CropStore implements domain.CropStore using PostgreSQL.
type CropStore struct {
	pool *pgxpool.Pool
}

// NewCropStore creates a new CropStore.
func NewCropStore(pool *pgxpool.Pool) *CropStore {
	return &CropStore{pool: pool}
}

const cropColumns = `id, name, perishability_score, is_storable, has_msp,
	min_group_kg, created_at, updated_at`

func scanCrop(row pgx.Row) (domain.CropProfile, error) {
	var c domain.CropProfile
	err := row.Scan(
		&c.ID, &c.Name, &c.PerishabilityScore, &c.IsStorable, &c.HasMSP,
		&c.MinGroupKg, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// GetByID returns a crop profile by id.
func (s *CropStore) GetByID(ctx context.Context, id uuid.UUID) (domain.CropProfile, error) {
	query := `SELECT ` + cropColumns + ` FROM crop_profiles WHERE id = $1`
	c, err := scanCrop(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CropProfile{}, domain.ErrNotFound
		}
		return domain.CropProfile{}, fmt.Errorf("postgres: get crop %s: %w", id, err)
	}
	return c, nil
}

// GetByName returns a crop profile by its unique name.
func (s *CropStore) GetByName(ctx context.Context, name string) (domain.CropProfile, error) {
	query := `SELECT ` + cropColumns + ` FROM crop_profiles WHERE name = $1`
	c, err := scanCrop(s.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CropProfile{}, domain.ErrNotFound
		}
		return domain.CropProfile{}, fmt.Errorf("postgres: get crop by name %s: %w", name, err)
	}
	return c, nil
}

// Upsert inserts or updates a crop profile, keyed by name.
func (s *CropStore) Upsert(ctx context.Context, crop domain.CropProfile) error {
	const query = `
		INSERT INTO crop_profiles (id, name, perishability_score, is_storable,
			has_msp, min_group_kg, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			perishability_score = EXCLUDED.perishability_score,
			is_storable = EXCLUDED.is_storable,
			has_msp = EXCLUDED.has_msp,
			min_group_kg = EXCLUDED.min_group_kg,
			updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query,
		crop.ID, crop.Name, crop.PerishabilityScore, crop.IsStorable,
		crop.HasMSP, crop.MinGroupKg,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert crop %s: %w", crop.Name, err)
	}
	return nil
}

// List returns all crop profiles ordered by name.
func (s *CropStore) List(ctx context.Context) ([]domain.CropProfile, error) {
	query := `SELECT ` + cropColumns + ` FROM crop_profiles ORDER BY name`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list crops: %w", err)
	}
	defer rows.Close()

	var out []domain.CropProfile
	for rows.Next() {
		c, err := scanCrop(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.CropStore = (*CropStore)(nil)
