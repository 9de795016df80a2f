package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMinGroupKg is the system-wide minimum pool quantity used when a crop
// profile does not carry its own override.
const DefaultMinGroupKg int64 = 20000

// CropProfile is reference data describing one crop. The pooling engine reads
// it only for the per-crop threshold override; everything else is carried for
// downstream collaborators (pricing, logistics).
type CropProfile struct {
	ID                 uuid.UUID
	Name               string
	PerishabilityScore int // 1-10, 10 is highly perishable
	IsStorable         bool
	HasMSP             bool
	MinGroupKg         int64 // 0 means "use the system default"
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
