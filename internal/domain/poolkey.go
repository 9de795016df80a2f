package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// PoolKey is the grouping key for deal pooling: crop identity plus grade.
// Region is deliberately not part of the key -- farmers from different
// regions pool together, quantity alone is the formation trigger.
type PoolKey struct {
	CropID uuid.UUID
	Grade  Grade
}

// PoolKeyFor computes the pooling key for a listing. Pure and total for any
// well-formed listing.
func PoolKeyFor(l Listing) PoolKey {
	return PoolKey{CropID: l.CropID, Grade: l.Grade}
}

// String renders the key in a form usable as a lock or cache key segment.
func (k PoolKey) String() string {
	return fmt.Sprintf("%s:%s", k.CropID, k.Grade)
}
