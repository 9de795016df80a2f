package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// memStore holds in-memory state shared by the fake store implementations
// used in the matcher tests. The listing, group, and crop store interfaces
// are exposed as views over the same state so membership, statuses, and
// totals stay consistent, the way a shared database keeps them consistent.
// All methods lock, so the same-key race tests can hammer it from goroutines.
type memStore struct {
	mu       sync.Mutex
	listings map[uuid.UUID]domain.Listing
	groups   map[uuid.UUID]domain.DealGroup
	members  map[uuid.UUID][]uuid.UUID // group -> member listings
	crops    map[uuid.UUID]domain.CropProfile
	cropErr  error // forced failure for threshold fallback tests
	notified map[uuid.UUID]bool
}

func newMemStore() *memStore {
	return &memStore{
		listings: make(map[uuid.UUID]domain.Listing),
		groups:   make(map[uuid.UUID]domain.DealGroup),
		members:  make(map[uuid.UUID][]uuid.UUID),
		crops:    make(map[uuid.UUID]domain.CropProfile),
		notified: make(map[uuid.UUID]bool),
	}
}

func (s *memStore) listingStore() *memListings { return &memListings{s} }
func (s *memStore) groupStore() *memGroups     { return &memGroups{s} }
func (s *memStore) cropStore() *memCrops       { return &memCrops{s} }

func (s *memStore) addCrop(name string, minKg int64) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.crops[id] = domain.CropProfile{ID: id, Name: name, MinGroupKg: minKg}
	return id
}

func (s *memStore) addListing(cropID uuid.UUID, grade domain.Grade, qty int64, region string) domain.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := domain.Listing{
		ID:            uuid.New(),
		FarmerID:      uuid.New(),
		CropID:        cropID,
		Grade:         grade,
		QuantityKg:    qty,
		Status:        domain.ListingAvailable,
		GradingStatus: domain.GradingCompleted,
		Region:        region,
		CreatedAt:     time.Now().Add(time.Duration(len(s.listings)) * time.Millisecond),
	}
	s.listings[l.ID] = l
	return l
}

func (s *memStore) listingByID(id uuid.UUID) domain.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings[id]
}

func (s *memStore) groupByID(id uuid.UUID) domain.DealGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[id]
}

func (s *memStore) groupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}

// --- domain.ListingStore ---

type memListings struct{ s *memStore }

func (m *memListings) Create(ctx context.Context, l domain.Listing) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.listings[l.ID] = l
	return nil
}

func (m *memListings) GetByID(ctx context.Context, id uuid.UUID) (domain.Listing, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	l, ok := m.s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (m *memListings) CompleteGrading(ctx context.Context, id uuid.UUID, grade domain.Grade, confidence *float64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	l, ok := m.s.listings[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	l.Grade = grade
	l.GradeConfidence = confidence
	l.GradingStatus = domain.GradingCompleted
	l.GradedAt = &now
	m.s.listings[id] = l
	return nil
}

func (m *memListings) ListEligible(ctx context.Context, key domain.PoolKey) ([]domain.Listing, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	inOpenGroup := make(map[uuid.UUID]bool)
	for gid, g := range m.s.groups {
		if g.Status == domain.GroupOpen {
			for _, lid := range m.s.members[gid] {
				inOpenGroup[lid] = true
			}
		}
	}

	var out []domain.Listing
	for _, l := range m.s.listings {
		if l.EligibleForPooling() && domain.PoolKeyFor(l) == key && !inOpenGroup[l.ID] {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memListings) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]domain.Listing, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Listing
	for _, lid := range m.s.members[groupID] {
		out = append(out, m.s.listings[lid])
	}
	return out, nil
}

func (m *memListings) ListByFarmer(ctx context.Context, farmerID uuid.UUID, opts domain.ListOpts) ([]domain.Listing, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Listing
	for _, l := range m.s.listings {
		if l.FarmerID == farmerID {
			out = append(out, l)
		}
	}
	return out, nil
}

// --- domain.GroupStore ---

type memGroups struct{ s *memStore }

func (m *memGroups) OpenByKey(ctx context.Context, key domain.PoolKey) (domain.DealGroup, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var open []domain.DealGroup
	for _, g := range m.s.groups {
		if g.Status == domain.GroupOpen && g.Key() == key {
			open = append(open, g)
		}
	}
	switch len(open) {
	case 0:
		return domain.DealGroup{}, domain.ErrNotFound
	case 1:
		return open[0], nil
	default:
		return domain.DealGroup{}, fmt.Errorf("%d open groups for key %s: %w", len(open), key, domain.ErrIntegrity)
	}
}

func (m *memGroups) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]uuid.UUID(nil), m.s.members[groupID]...), nil
}

func (m *memGroups) Attach(ctx context.Context, req domain.AttachRequest) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	g, ok := m.s.groups[req.GroupID]
	if !ok {
		return domain.ErrNotFound
	}
	m.s.members[req.GroupID] = append(m.s.members[req.GroupID], req.NewMemberIDs...)
	g.TotalQuantityKg = req.TotalQuantityKg
	if req.Promote {
		g.Status = domain.GroupFormed
		for _, lid := range m.s.members[req.GroupID] {
			l := m.s.listings[lid]
			l.Status = domain.ListingGrouped
			m.s.listings[lid] = l
		}
	}
	m.s.groups[req.GroupID] = g
	return nil
}

func (m *memGroups) CreateFormed(ctx context.Context, g domain.DealGroup, memberIDs []uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.groups[g.ID] = g
	m.s.members[g.ID] = append([]uuid.UUID(nil), memberIDs...)
	for _, lid := range memberIDs {
		l := m.s.listings[lid]
		l.Status = domain.ListingGrouped
		m.s.listings[lid] = l
	}
	return nil
}

func (m *memGroups) CreateOpen(ctx context.Context, g domain.DealGroup) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.groups[g.ID] = g
	return nil
}

func (m *memGroups) MarkNotified(ctx context.Context, groupID uuid.UUID) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.notified[groupID] {
		return false, nil
	}
	m.s.notified[groupID] = true
	return true, nil
}

func (m *memGroups) GetByID(ctx context.Context, id uuid.UUID) (domain.DealGroup, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	g, ok := m.s.groups[id]
	if !ok {
		return domain.DealGroup{}, domain.ErrNotFound
	}
	return g, nil
}

func (m *memGroups) GetByCode(ctx context.Context, code string) (domain.DealGroup, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, g := range m.s.groups {
		if g.Code == code {
			return g, nil
		}
	}
	return domain.DealGroup{}, domain.ErrNotFound
}

func (m *memGroups) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.DealGroup, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.DealGroup
	for _, g := range m.s.groups {
		out = append(out, g)
	}
	return out, nil
}

func (m *memGroups) RecountTotals(ctx context.Context) ([]uuid.UUID, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var drifted []uuid.UUID
	for gid, g := range m.s.groups {
		var total int64
		for _, lid := range m.s.members[gid] {
			total += m.s.listings[lid].QuantityKg
		}
		if total != g.TotalQuantityKg {
			g.TotalQuantityKg = total
			m.s.groups[gid] = g
			drifted = append(drifted, gid)
		}
	}
	return drifted, nil
}

// --- domain.CropStore ---

type memCrops struct{ s *memStore }

func (m *memCrops) GetByID(ctx context.Context, id uuid.UUID) (domain.CropProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.cropErr != nil {
		return domain.CropProfile{}, m.s.cropErr
	}
	crop, ok := m.s.crops[id]
	if !ok {
		return domain.CropProfile{}, domain.ErrNotFound
	}
	return crop, nil
}

func (m *memCrops) GetByName(ctx context.Context, name string) (domain.CropProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, crop := range m.s.crops {
		if crop.Name == name {
			return crop, nil
		}
	}
	return domain.CropProfile{}, domain.ErrNotFound
}

func (m *memCrops) Upsert(ctx context.Context, crop domain.CropProfile) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.crops[crop.ID] = crop
	return nil
}

func (m *memCrops) List(ctx context.Context) ([]domain.CropProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.CropProfile
	for _, crop := range m.s.crops {
		out = append(out, crop)
	}
	return out, nil
}

// memLock is a non-blocking per-key lock with the same contract as the Redis
// LockManager: Acquire fails with ErrLockHeld while another holder exists.
type memLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLock() *memLock {
	return &memLock{held: make(map[string]bool)}
}

func (m *memLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	released := false
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !released {
			released = true
			delete(m.held, key)
		}
	}, nil
}

// recordingNotifier counts formation announcements.
type recordingNotifier struct {
	mu     sync.Mutex
	groups []domain.DealGroup
	sizes  []int
}

func (r *recordingNotifier) GroupFormed(ctx context.Context, g domain.DealGroup, members []domain.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, g)
	r.sizes = append(r.sizes, len(members))
	return nil
}

func (r *recordingNotifier) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
