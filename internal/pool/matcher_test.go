package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrimandi/dealpool/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMatcher(s *memStore) (*Matcher, *recordingNotifier) {
	logger := testLogger()
	notifier := &recordingNotifier{}
	policy := NewThresholdPolicy(s.cropStore(), nil, 0, logger)
	m := NewMatcher(s.listingStore(), s.groupStore(), s.cropStore(), policy, newMemLock(), notifier, 0, logger)
	return m, notifier
}

// Three listings for (Tomato, FAQ) from three regions arrive sequentially:
// 8000 + 7000 brings the pool to 15000 (< 20000, nothing happens); the third
// 6000 kg listing tips it to 21000 and forms the group in one shot.
func TestSequentialAccumulationFormsGroup(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	tomato := s.addCrop("Tomato", 20000)
	m, notifier := newTestMatcher(s)

	l1 := s.addListing(tomato, domain.GradeFAQ, 8000, "Kadapa")
	g, err := m.OnListingEligible(ctx, l1.ID)
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.Equal(t, domain.ListingAvailable, s.listingByID(l1.ID).Status)
	assert.Equal(t, 0, s.groupCount())

	l2 := s.addListing(tomato, domain.GradeFAQ, 7000, "Guntur")
	g, err = m.OnListingEligible(ctx, l2.ID)
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.Equal(t, 0, s.groupCount())

	l3 := s.addListing(tomato, domain.GradeFAQ, 6000, "Anantapur")
	g, err = m.OnListingEligible(ctx, l3.ID)
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.Equal(t, 1, s.groupCount())
	assert.Equal(t, int64(21000), g.TotalQuantityKg)
	assert.Equal(t, domain.GroupFormed, g.Status)
	for _, l := range []domain.Listing{l1, l2, l3} {
		assert.Equal(t, domain.ListingGrouped, s.listingByID(l.ID).Status)
	}
	assert.Equal(t, 1, notifier.calls())
	assert.Equal(t, 3, notifier.sizes[0])
}

// A single listing whose quantity already exceeds the threshold forms a group
// by itself.
func TestSingleListingFormsGroupAlone(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	rice := s.addCrop("Rice", 10000)
	m, notifier := newTestMatcher(s)

	l := s.addListing(rice, domain.GradeMedium, 25000, "Nellore")
	g, err := m.OnListingEligible(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.Equal(t, int64(25000), g.TotalQuantityKg)
	assert.Equal(t, domain.GroupFormed, g.Status)
	members, err := s.listingStore().ListByGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, l.ID, members[0].ID)
	assert.Equal(t, 1, notifier.calls())
}

func TestThresholdBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("exactly at threshold promotes", func(t *testing.T) {
		s := newMemStore()
		crop := s.addCrop("Onion", 20000)
		m, _ := newTestMatcher(s)

		s.addListing(crop, domain.GradeFAQ, 12000, "Kurnool")
		l := s.addListing(crop, domain.GradeFAQ, 8000, "Kurnool")
		g, err := m.OnListingEligible(ctx, l.ID)
		require.NoError(t, err)
		require.NotNil(t, g)
		assert.Equal(t, int64(20000), g.TotalQuantityKg)
		assert.Equal(t, domain.GroupFormed, g.Status)
	})

	t.Run("one kg short does not", func(t *testing.T) {
		s := newMemStore()
		crop := s.addCrop("Onion", 20000)
		m, notifier := newTestMatcher(s)

		s.addListing(crop, domain.GradeFAQ, 12000, "Kurnool")
		l := s.addListing(crop, domain.GradeFAQ, 7999, "Kurnool")
		g, err := m.OnListingEligible(ctx, l.ID)
		require.NoError(t, err)
		assert.Nil(t, g)
		assert.Equal(t, 0, s.groupCount())
		assert.Equal(t, 0, notifier.calls())
	})
}

// Re-invoking the trigger for an already-pooled listing must not create a
// second group, re-attach the listing, inflate the total, or notify again.
func TestIdempotentReinvocation(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	crop := s.addCrop("Chilli", 5000)
	m, notifier := newTestMatcher(s)

	l := s.addListing(crop, domain.GradeLocal, 6000, "Guntur")
	g1, err := m.OnListingEligible(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, g1)

	// Second delivery of the same event: the listing is GROUPED now, so the
	// call is a silent no-op.
	g2, err := m.OnListingEligible(ctx, l.ID)
	require.NoError(t, err)
	assert.Nil(t, g2)

	assert.Equal(t, 1, s.groupCount())
	assert.Equal(t, int64(6000), s.groupByID(g1.ID).TotalQuantityKg)
	assert.Equal(t, 1, notifier.calls())
}

// Listings differing in crop or grade never pool together.
func TestKeyIndependence(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	tomato := s.addCrop("Tomato", 20000)
	onion := s.addCrop("Onion", 20000)
	m, _ := newTestMatcher(s)

	s.addListing(tomato, domain.GradeMedium, 15000, "Kadapa")
	s.addListing(onion, domain.GradeFAQ, 15000, "Kadapa")
	l := s.addListing(tomato, domain.GradeFAQ, 15000, "Kadapa")

	// 45000 kg total sits in the store, but no single (crop, grade) key has
	// reached 20000.
	g, err := m.OnListingEligible(ctx, l.ID)
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.Equal(t, 0, s.groupCount())

	// A second (Tomato, FAQ) listing completes only that key's pool.
	l2 := s.addListing(tomato, domain.GradeFAQ, 5000, "Guntur")
	g, err = m.OnListingEligible(ctx, l2.ID)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, int64(20000), g.TotalQuantityKg)
	members, err := s.listingStore().ListByGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

// A FORMED group is closed to new membership: supply arriving afterwards for
// the same key accumulates toward a fresh group instead.
func TestFormedGroupClosedToNewMembers(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	crop := s.addCrop("Tomato", 10000)
	m, notifier := newTestMatcher(s)

	l1 := s.addListing(crop, domain.GradeFAQ, 11000, "Kadapa")
	first, err := m.OnListingEligible(ctx, l1.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Below-threshold arrival after the formation: nothing joins the closed
	// group and no new group exists yet.
	l2 := s.addListing(crop, domain.GradeFAQ, 4000, "Guntur")
	g, err := m.OnListingEligible(ctx, l2.ID)
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.Equal(t, 1, s.groupCount())
	assert.Equal(t, int64(11000), s.groupByID(first.ID).TotalQuantityKg)

	// More supply crosses the threshold again: a second, distinct group.
	l3 := s.addListing(crop, domain.GradeFAQ, 7000, "Kadapa")
	second, err := m.OnListingEligible(ctx, l3.ID)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(11000), second.TotalQuantityKg)
	assert.Equal(t, 2, s.groupCount())
	assert.Equal(t, 2, notifier.calls())
}

// An open accumulating group (created administratively) gathers members
// across invocations; attachment is durable pre-threshold, members stay
// AVAILABLE, and promotion flips group and members together.
func TestOpenGroupAccumulatesThenPromotes(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	crop := s.addCrop("Groundnut", 20000)
	m, notifier := newTestMatcher(s)

	open := domain.DealGroup{
		ID:     uuid.New(),
		Code:   "GROUNDNUT-FAQ-202608240900",
		CropID: crop,
		Grade:  domain.GradeFAQ,
		Status: domain.GroupOpen,
	}
	require.NoError(t, s.groupStore().CreateOpen(ctx, open))

	l1 := s.addListing(crop, domain.GradeFAQ, 9000, "Anantapur")
	g, err := m.OnListingEligible(ctx, l1.ID)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, open.ID, g.ID)
	assert.Equal(t, domain.GroupOpen, g.Status)
	assert.Equal(t, int64(9000), g.TotalQuantityKg)
	// Attached but pre-threshold: the listing stays AVAILABLE.
	assert.Equal(t, domain.ListingAvailable, s.listingByID(l1.ID).Status)
	assert.Equal(t, 0, notifier.calls())

	// Re-delivering the same event re-attaches nothing and keeps the total.
	g, err = m.OnListingEligible(ctx, l1.ID)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, int64(9000), g.TotalQuantityKg)
	ids, err := s.groupStore().MemberIDs(ctx, open.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	l2 := s.addListing(crop, domain.GradeFAQ, 12000, "Kadapa")
	g, err = m.OnListingEligible(ctx, l2.ID)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, domain.GroupFormed, g.Status)
	assert.Equal(t, int64(21000), g.TotalQuantityKg)
	assert.Equal(t, domain.ListingGrouped, s.listingByID(l1.ID).Status)
	assert.Equal(t, domain.ListingGrouped, s.listingByID(l2.ID).Status)
	assert.Equal(t, 1, notifier.calls())
}

func TestIneligibleListingsAreNoOps(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	crop := s.addCrop("Tomato", 1000)
	m, notifier := newTestMatcher(s)

	ungraded := s.addListing(crop, domain.GradeFAQ, 5000, "Kadapa")
	withPatch(s, ungraded.ID, func(l *domain.Listing) { l.GradingStatus = domain.GradingPending })

	placeholder := s.addListing(crop, domain.GradePending, 5000, "Kadapa")

	sold := s.addListing(crop, domain.GradeFAQ, 5000, "Kadapa")
	withPatch(s, sold.ID, func(l *domain.Listing) { l.Status = domain.ListingSold })

	for _, id := range []uuid.UUID{ungraded.ID, placeholder.ID, sold.ID} {
		g, err := m.OnListingEligible(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, g)
	}
	assert.Equal(t, 0, s.groupCount())
	assert.Equal(t, 0, notifier.calls())
}

func TestUnknownListingIsAnError(t *testing.T) {
	s := newMemStore()
	m, _ := newTestMatcher(s)

	_, err := m.OnListingEligible(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Two open groups for one key is a concurrency-control bug; the matcher must
// surface it instead of silently picking one.
func TestDuplicateOpenGroupsFailLoudly(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	crop := s.addCrop("Maize", 20000)
	m, _ := newTestMatcher(s)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.groupStore().CreateOpen(ctx, domain.DealGroup{
			ID:     uuid.New(),
			CropID: crop,
			Grade:  domain.GradeFAQ,
			Status: domain.GroupOpen,
		}))
	}

	l := s.addListing(crop, domain.GradeFAQ, 5000, "Kadapa")
	_, err := m.OnListingEligible(ctx, l.ID)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

// A group that already left OPEN can never be promoted again: the lifecycle
// check rejects the write before anything reaches the store.
func TestPromotionRejectsNonOpenGroup(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	crop := s.addCrop("Chilli", 10000)
	m, notifier := newTestMatcher(s)

	formed := domain.DealGroup{
		ID:     uuid.New(),
		CropID: crop,
		Grade:  domain.GradeFAQ,
		Status: domain.GroupFormed,
	}
	require.NoError(t, s.groupStore().CreateOpen(ctx, formed))
	l := s.addListing(crop, domain.GradeFAQ, 12000, "Guntur")

	_, err := m.fillOpenGroup(ctx, formed, []domain.Listing{l})
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Equal(t, 0, notifier.calls())

	ids, err := s.groupStore().MemberIDs(ctx, formed.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, domain.ListingAvailable, s.listingByID(l.ID).Status)
}

func TestLockContentionIsRetryable(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	crop := s.addCrop("Tomato", 20000)
	l := s.addListing(crop, domain.GradeFAQ, 5000, "Kadapa")

	lock := newMemLock()
	key := domain.PoolKey{CropID: crop, Grade: domain.GradeFAQ}
	unlock, err := lock.Acquire(ctx, lockKeyPrefix+key.String(), time.Minute)
	require.NoError(t, err)

	logger := testLogger()
	policy := NewThresholdPolicy(s.cropStore(), nil, 0, logger)
	m := NewMatcher(s.listingStore(), s.groupStore(), s.cropStore(), policy, lock, nil, 0, logger)

	_, err = m.OnListingEligible(ctx, l.ID)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	_, err = m.OnListingEligible(ctx, l.ID)
	assert.NoError(t, err)
}

// N workers deliver eligibility events for the same key concurrently. The
// per-key lock serializes them: exactly one group forms, its total is the
// exact sum of all listings, and exactly one notification fires.
func TestConcurrentSameKeyFormsOneGroup(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	crop := s.addCrop("Cotton", 20000)
	m, notifier := newTestMatcher(s)

	const n = 8
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		l := s.addListing(crop, domain.GradeFAQ, 3000, "Adilabad")
		ids = append(ids, l.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			for {
				_, err := m.OnListingEligible(ctx, id)
				if errors.Is(err, domain.ErrLockHeld) {
					time.Sleep(time.Millisecond)
					continue
				}
				assert.NoError(t, err)
				return
			}
		}(id)
	}
	wg.Wait()

	require.Equal(t, 1, s.groupCount())
	groups, err := s.groupStore().ListRecent(ctx, domain.ListOpts{})
	require.NoError(t, err)
	g := groups[0]
	assert.Equal(t, domain.GroupFormed, g.Status)
	assert.Equal(t, int64(n*3000), g.TotalQuantityKg)
	members, err := s.groupStore().MemberIDs(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, members, n)
	for _, id := range ids {
		assert.Equal(t, domain.ListingGrouped, s.listingByID(id).Status)
	}
	assert.Equal(t, 1, notifier.calls())
}

// withPatch mutates a stored listing in place.
func withPatch(s *memStore, id uuid.UUID, fn func(*domain.Listing)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.listings[id]
	fn(&l)
	s.listings[id] = l
}
