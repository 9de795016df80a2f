package domain

import (
	"time"

	"github.com/google/uuid"
)

// GroupStatus is the lifecycle state of a deal group. Within the pooling
// engine's authority the only transition is OPEN -> FORMED; the later states
// are written by the negotiation collaborators and are listed here so the
// lifecycle check can reject regressions.
type GroupStatus string

const (
	GroupOpen        GroupStatus = "OPEN"
	GroupFormed      GroupStatus = "FORMED"
	GroupNegotiating GroupStatus = "NEGOTIATING"
	GroupSold        GroupStatus = "SOLD"
	GroupExpired     GroupStatus = "EXPIRED"
)

// groupRank orders statuses along the one-directional lifecycle.
var groupRank = map[GroupStatus]int{
	GroupOpen:        0,
	GroupFormed:      1,
	GroupNegotiating: 2,
	GroupSold:        3,
	GroupExpired:     3,
}

// CanTransition reports whether a group may move from one status to another.
// The lifecycle is monotonic: a group never regresses, and in particular a
// FORMED group never reopens.
func CanTransition(from, to GroupStatus) bool {
	fr, ok := groupRank[from]
	if !ok {
		return false
	}
	tr, ok := groupRank[to]
	if !ok {
		return false
	}
	return tr > fr
}

// DealGroup is a pool of listings sharing one crop+grade key, aggregated for
// collective negotiation. TotalQuantityKg is denormalized and recomputed from
// the member set on every membership change.
type DealGroup struct {
	ID              uuid.UUID
	Code            string // human-readable, e.g. TOMATO-FAQ-202608241530
	CropID          uuid.UUID
	Grade           Grade
	TotalQuantityKg int64
	Status          GroupStatus
	NotifiedAt      *time.Time // set exactly once, when formation is announced
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key returns the pooling key the group was formed under.
func (g DealGroup) Key() PoolKey {
	return PoolKey{CropID: g.CropID, Grade: g.Grade}
}

// Open reports whether the group still accepts new members.
func (g DealGroup) Open() bool {
	return g.Status == GroupOpen
}
