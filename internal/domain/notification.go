package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies in-app notifications.
type NotificationType string

const (
	NotificationGroupFormed NotificationType = "GROUP_FORMED"
)

// NotificationStatus tracks delivery of an in-app notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "PENDING"
	NotificationSent    NotificationStatus = "SENT"
	NotificationRead    NotificationStatus = "READ"
)

// Notification is one in-app message for one farmer.
type Notification struct {
	ID        uuid.UUID
	FarmerID  uuid.UUID
	Type      NotificationType
	Title     string
	Message   string
	GroupID   *uuid.UUID
	Status    NotificationStatus
	CreatedAt time.Time
	SentAt    *time.Time
	ReadAt    *time.Time
}

// GroupFormedNotifier is the gateway invoked exactly once per group
// promotion, after the pooling transaction commits. Membership is passed
// fully resolved so implementations need no further queries. Delivery is
// best-effort: a returned error is logged by the caller, never retried
// synchronously, and never unwinds pooling.
type GroupFormedNotifier interface {
	GroupFormed(ctx context.Context, group DealGroup, members []Listing) error
}
