// Package notify implements the group-formed notification gateway. A formed
// group fans out to per-farmer in-app notifications, any configured channel
// senders (Telegram, webhook), and the live event bus. Delivery is
// best-effort: pooling has already committed by the time this package runs,
// and nothing here may undo it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// GroupFormedChannel is the signal bus channel carrying formation events.
const GroupFormedChannel = "group_formed"

// Sender is the interface each external notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// groupFormedEvent is the JSON payload published on the signal bus.
type groupFormedEvent struct {
	GroupID         uuid.UUID `json:"group_id"`
	Code            string    `json:"code"`
	CropID          uuid.UUID `json:"crop_id"`
	Grade           string    `json:"grade"`
	TotalQuantityKg int64     `json:"total_quantity_kg"`
	Members         int       `json:"members"`
	FormedAt        time.Time `json:"formed_at"`
}

// Notifier implements domain.GroupFormedNotifier. The notifications store
// and the bus are optional; senders may be empty.
type Notifier struct {
	store   domain.NotificationStore
	bus     domain.SignalBus
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(store domain.NotificationStore, bus domain.SignalBus, senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:   store,
		bus:     bus,
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// GroupFormed announces a freshly promoted group. Membership arrives fully
// resolved, so no further queries are needed. Partial failures are collected
// into the returned error for the caller to log; successful channels are
// never rolled back.
func (n *Notifier) GroupFormed(ctx context.Context, group domain.DealGroup, members []domain.Listing) error {
	title := fmt.Sprintf("Group Formed: %s", group.Code)
	message := fmt.Sprintf("Your produce has been pooled into group %s with %d kg total across %d listings.",
		group.Code, group.TotalQuantityKg, len(members))

	var errs []string

	if n.store != nil {
		if err := n.createInApp(ctx, group, members, title, message); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if n.bus != nil {
		if err := n.publishEvent(ctx, group, len(members)); err != nil {
			n.logger.WarnContext(ctx, "group formed event publish failed",
				slog.String("group_id", group.ID.String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err.Error())
		}
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("group_id", group.ID.String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("group_code", group.Code),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d channel(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// createInApp writes one notification row per distinct farmer in the group.
// A farmer contributing several listings is notified once.
func (n *Notifier) createInApp(ctx context.Context, group domain.DealGroup, members []domain.Listing, title, message string) error {
	now := time.Now()
	seen := make(map[uuid.UUID]bool, len(members))
	var failed int
	for _, l := range members {
		if seen[l.FarmerID] {
			continue
		}
		seen[l.FarmerID] = true

		groupID := group.ID
		err := n.store.Create(ctx, domain.Notification{
			ID:        uuid.New(),
			FarmerID:  l.FarmerID,
			Type:      domain.NotificationGroupFormed,
			Title:     title,
			Message:   message,
			GroupID:   &groupID,
			Status:    domain.NotificationSent,
			CreatedAt: now,
			SentAt:    &now,
		})
		if err != nil {
			failed++
			n.logger.ErrorContext(ctx, "in-app notification failed",
				slog.String("farmer_id", l.FarmerID.String()),
				slog.String("group_id", group.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("in-app: %d of %d farmer notifications failed", failed, len(seen))
	}
	return nil
}

func (n *Notifier) publishEvent(ctx context.Context, group domain.DealGroup, memberCount int) error {
	payload, err := json.Marshal(groupFormedEvent{
		GroupID:         group.ID,
		Code:            group.Code,
		CropID:          group.CropID,
		Grade:           string(group.Grade),
		TotalQuantityKg: group.TotalQuantityKg,
		Members:         memberCount,
		FormedAt:        time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal group formed event: %w", err)
	}
	return n.bus.Publish(ctx, GroupFormedChannel, payload)
}

// Compile-time interface check.
var _ domain.GroupFormedNotifier = (*Notifier)(nil)
