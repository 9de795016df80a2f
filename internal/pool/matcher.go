package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// defaultLockTTL bounds how long a per-key pooling lock may be held. A single
// matcher pass is a handful of store round-trips, so the TTL only matters if
// a worker dies while holding the lock.
const defaultLockTTL = 10 * time.Second

// lockKeyPrefix namespaces pooling locks in the shared lock keyspace.
const lockKeyPrefix = "pool:"

// Matcher is the core of the deal-pooling engine. For each listing that
// becomes eligible it finds or creates the open group for the listing's
// crop+grade key, attaches every unattached matching listing, recomputes the
// group's aggregate quantity, and promotes the group to FORMED once the
// aggregate reaches the crop's threshold.
//
// Invocations for the same key serialize through a per-key distributed lock,
// so at most one open group can ever exist per key and promotion happens
// exactly once.
type Matcher struct {
	listings  domain.ListingStore
	groups    domain.GroupStore
	crops     domain.CropStore
	threshold *ThresholdPolicy
	locks     domain.LockManager
	notifier  domain.GroupFormedNotifier
	lockTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewMatcher creates a Matcher. notifier may be nil, in which case formation
// events are only logged. lockTTL <= 0 selects the default.
func NewMatcher(
	listings domain.ListingStore,
	groups domain.GroupStore,
	crops domain.CropStore,
	threshold *ThresholdPolicy,
	locks domain.LockManager,
	notifier domain.GroupFormedNotifier,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Matcher {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Matcher{
		listings:  listings,
		groups:    groups,
		crops:     crops,
		threshold: threshold,
		locks:     locks,
		notifier:  notifier,
		lockTTL:   lockTTL,
		logger:    logger.With(slog.String("component", "pool_matcher")),
		now:       time.Now,
	}
}

// OnListingEligible is the engine's entry point, invoked whenever a listing
// is created or finishes grading. It is idempotent: re-invoking it for an
// already-processed listing never duplicates groups, memberships, or
// notifications. Ineligible listings are a silent no-op, not an error.
//
// The returned group is nil when the listing did not complete a pool. A
// wrapped domain.ErrLockHeld means another worker is pooling the same key
// right now; the call is safe to retry.
func (m *Matcher) OnListingEligible(ctx context.Context, listingID uuid.UUID) (*domain.DealGroup, error) {
	listing, err := m.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("pool: load listing %s: %w", listingID, err)
	}

	if !listing.EligibleForPooling() {
		m.logger.DebugContext(ctx, "listing not eligible for pooling",
			slog.String("listing_id", listingID.String()),
			slog.String("status", string(listing.Status)),
			slog.String("grading_status", string(listing.GradingStatus)),
			slog.String("grade", string(listing.Grade)),
		)
		return nil, nil
	}

	key := domain.PoolKeyFor(listing)

	// Serialize all pooling work for this key. Everything from here to the
	// commit of the membership transaction runs under the lock, so two
	// workers can never both observe "no open group" for one key.
	unlock, err := m.locks.Acquire(ctx, lockKeyPrefix+key.String(), m.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("pool: key %s is being pooled concurrently: %w", key, domain.ErrLockHeld)
		}
		return nil, fmt.Errorf("pool: acquire lock for key %s: %w", key, err)
	}
	defer unlock()

	eligible, err := m.listings.ListEligible(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pool: list eligible for key %s: %w", key, err)
	}

	group, err := m.groups.OpenByKey(ctx, key)
	switch {
	case err == nil:
		return m.fillOpenGroup(ctx, group, eligible)
	case errors.Is(err, domain.ErrNotFound):
		return m.formNewGroup(ctx, listing, key, eligible)
	default:
		// ErrIntegrity (more than one open group) lands here too: surface it
		// loudly rather than picking one.
		return nil, fmt.Errorf("pool: open group lookup for key %s: %w", key, err)
	}
}

// fillOpenGroup attaches the not-yet-attached eligible listings to an
// existing open group, recomputes the aggregate from the full member set, and
// promotes the group when the threshold is met. All mutations happen in one
// store transaction.
func (m *Matcher) fillOpenGroup(ctx context.Context, group domain.DealGroup, eligible []domain.Listing) (*domain.DealGroup, error) {
	memberIDs, err := m.groups.MemberIDs(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("pool: members of group %s: %w", group.ID, err)
	}
	attached := make(map[uuid.UUID]bool, len(memberIDs))
	for _, id := range memberIDs {
		attached[id] = true
	}

	// Idempotent filter: a listing already attached is never re-attached.
	var newcomers []domain.Listing
	for _, l := range eligible {
		if !attached[l.ID] {
			newcomers = append(newcomers, l)
		}
	}

	current, err := m.listings.ListByGroup(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("pool: load members of group %s: %w", group.ID, err)
	}

	// Recompute the aggregate over the now-current member set rather than
	// incrementing, so the denormalized total can never drift.
	var total int64
	for _, l := range current {
		total += l.QuantityKg
	}
	for _, l := range newcomers {
		total += l.QuantityKg
	}

	threshold := m.threshold.ThresholdFor(ctx, group.CropID)
	promote := total >= threshold

	// The lifecycle is monotonic: a group that already left OPEN can never
	// be promoted again.
	if promote && !domain.CanTransition(group.Status, domain.GroupFormed) {
		return nil, fmt.Errorf("pool: group %s is %s, cannot form: %w",
			group.ID, group.Status, domain.ErrIntegrity)
	}

	if len(newcomers) == 0 && !promote {
		m.logger.DebugContext(ctx, "no new listings to attach",
			slog.String("group_id", group.ID.String()),
			slog.String("group_code", group.Code),
			slog.Int64("total_kg", total),
			slog.Int64("threshold_kg", threshold),
		)
		return &group, nil
	}

	newIDs := make([]uuid.UUID, 0, len(newcomers))
	for _, l := range newcomers {
		newIDs = append(newIDs, l.ID)
	}

	if err := m.groups.Attach(ctx, domain.AttachRequest{
		GroupID:         group.ID,
		NewMemberIDs:    newIDs,
		TotalQuantityKg: total,
		Promote:         promote,
	}); err != nil {
		return nil, fmt.Errorf("pool: attach to group %s: %w", group.ID, err)
	}

	group.TotalQuantityKg = total
	if !promote {
		m.logger.InfoContext(ctx, "group still accumulating",
			slog.String("group_id", group.ID.String()),
			slog.String("group_code", group.Code),
			slog.Int("attached", len(newIDs)),
			slog.Int64("total_kg", total),
			slog.Int64("missing_kg", threshold-total),
		)
		return &group, nil
	}

	group.Status = domain.GroupFormed
	m.logger.InfoContext(ctx, "group promoted to formed",
		slog.String("group_id", group.ID.String()),
		slog.String("group_code", group.Code),
		slog.Int64("total_kg", total),
		slog.Int64("threshold_kg", threshold),
	)

	m.announceFormation(ctx, group, append(current, newcomers...))
	return &group, nil
}

// formNewGroup handles the no-open-group branch. If the full eligible pool
// already meets the threshold it creates a directly-FORMED group in one
// transaction; otherwise nothing is written and the listings simply stay
// AVAILABLE, waiting for more supply.
func (m *Matcher) formNewGroup(ctx context.Context, listing domain.Listing, key domain.PoolKey, eligible []domain.Listing) (*domain.DealGroup, error) {
	var total int64
	for _, l := range eligible {
		total += l.QuantityKg
	}
	threshold := m.threshold.ThresholdFor(ctx, key.CropID)

	if total < threshold {
		m.logger.InfoContext(ctx, "pool below threshold, listing stays available",
			slog.String("listing_id", listing.ID.String()),
			slog.String("pool_key", key.String()),
			slog.Int64("total_kg", total),
			slog.Int64("missing_kg", threshold-total),
		)
		return nil, nil
	}

	now := m.now()
	group := domain.DealGroup{
		ID:              uuid.New(),
		Code:            GroupCode(m.cropName(ctx, key.CropID), key.Grade, now),
		CropID:          key.CropID,
		Grade:           key.Grade,
		TotalQuantityKg: total,
		Status:          domain.GroupFormed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	memberIDs := make([]uuid.UUID, 0, len(eligible))
	for _, l := range eligible {
		memberIDs = append(memberIDs, l.ID)
	}

	if err := m.groups.CreateFormed(ctx, group, memberIDs); err != nil {
		return nil, fmt.Errorf("pool: create formed group for key %s: %w", key, err)
	}

	m.logger.InfoContext(ctx, "new group formed",
		slog.String("group_id", group.ID.String()),
		slog.String("group_code", group.Code),
		slog.String("pool_key", key.String()),
		slog.Int("members", len(memberIDs)),
		slog.Int64("total_kg", total),
	)

	m.announceFormation(ctx, group, eligible)
	return &group, nil
}

// announceFormation dispatches the formation notification after the pooling
// transaction has committed. The notified_at flip on the group row makes the
// announcement exactly-once across retries and workers; dispatch failures are
// logged and never unwind pooling.
func (m *Matcher) announceFormation(ctx context.Context, group domain.DealGroup, members []domain.Listing) {
	won, err := m.groups.MarkNotified(ctx, group.ID)
	if err != nil {
		m.logger.ErrorContext(ctx, "mark notified failed",
			slog.String("group_id", group.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !won {
		m.logger.DebugContext(ctx, "group already announced",
			slog.String("group_id", group.ID.String()),
		)
		return
	}

	if m.notifier == nil {
		return
	}
	if err := m.notifier.GroupFormed(ctx, group, members); err != nil {
		m.logger.ErrorContext(ctx, "group formed notification failed",
			slog.String("group_id", group.ID.String()),
			slog.String("group_code", group.Code),
			slog.String("error", err.Error()),
		)
	}
}

// cropName resolves the crop's display name for the group code. A lookup
// failure falls back to a generic name rather than blocking formation.
func (m *Matcher) cropName(ctx context.Context, cropID uuid.UUID) string {
	crop, err := m.crops.GetByID(ctx, cropID)
	if err != nil {
		m.logger.WarnContext(ctx, "crop name lookup failed",
			slog.String("crop_id", cropID.String()),
			slog.String("error", err.Error()),
		)
		return "CROP"
	}
	return crop.Name
}
