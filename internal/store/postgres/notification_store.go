package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrimandi/dealpool/internal/domain"
)

// NotificationStore implements domain.NotificationStore using PostgreSQL.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a new NotificationStore.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

// Create inserts an in-app notification.
func (s *NotificationStore) Create(ctx context.Context, n domain.Notification) error {
	const query = `
		INSERT INTO notifications (id, farmer_id, type, title, message, group_id,
			status, created_at, sent_at, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query,
		n.ID, n.FarmerID, n.Type, n.Title, n.Message, n.GroupID,
		n.Status, n.CreatedAt, n.SentAt, n.ReadAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create notification %s: %w", n.ID, err)
	}
	return nil
}

// ListByFarmer returns a farmer's notifications, newest first.
func (s *NotificationStore) ListByFarmer(ctx context.Context, farmerID uuid.UUID, opts domain.ListOpts) ([]domain.Notification, error) {
	const query = `
		SELECT id, farmer_id, type, title, message, group_id, status,
			created_at, sent_at, read_at
		FROM notifications
		WHERE farmer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, farmerID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications for farmer %s: %w", farmerID, err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID, &n.FarmerID, &n.Type, &n.Title, &n.Message, &n.GroupID,
			&n.Status, &n.CreatedAt, &n.SentAt, &n.ReadAt,
		); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead records that a farmer has seen the notification.
func (s *NotificationStore) MarkRead(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE notifications SET status = $2, read_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, domain.NotificationRead)
	if err != nil {
		return fmt.Errorf("postgres: mark notification %s read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.NotificationStore = (*NotificationStore)(nil)
