package domain

import (
	"time"

	"github.com/google/uuid"
)

// ListingStatus is the lifecycle state of a supply listing. The pooling
// engine only ever performs the AVAILABLE -> GROUPED transition; the later
// states belong to the negotiation and fulfilment collaborators.
type ListingStatus string

const (
	ListingAvailable ListingStatus = "AVAILABLE"
	ListingGrouped   ListingStatus = "GROUPED"
	ListingAccepted  ListingStatus = "ACCEPTED"
	ListingInTransit ListingStatus = "IN_TRANSIT"
	ListingDelivered ListingStatus = "DELIVERED"
	ListingPaid      ListingStatus = "PAID"
	ListingSold      ListingStatus = "SOLD"
	ListingGrading   ListingStatus = "GRADING"
)

// GradingStatus tracks the upstream quality-grading pipeline for a listing.
type GradingStatus string

const (
	GradingPending    GradingStatus = "PENDING"
	GradingProcessing GradingStatus = "PROCESSING"
	GradingCompleted  GradingStatus = "COMPLETED"
	GradingFailed     GradingStatus = "FAILED"
)

// Grade is an enumerated quality tier. Values mirror the grading pipeline's
// canonical output; equality is exact-match, normalization happens upstream.
type Grade string

const (
	GradeFAQ     Grade = "FAQ"
	GradeMedium  Grade = "Medium"
	GradeLarge   Grade = "Large"
	GradeLocal   Grade = "Local"
	GradeNonFAQ  Grade = "Non-FAQ"
	GradeRef1    Grade = "Ref grade-1"
	GradeRef2    Grade = "Ref grade-2"
	GradePending Grade = "PENDING" // placeholder until grading completes
)

// Concrete reports whether the grade is a real quality tier rather than the
// pre-grading placeholder.
func (g Grade) Concrete() bool {
	return g != "" && g != GradePending
}

// Listing is one farmer's offered quantity of one crop at one quality grade.
type Listing struct {
	ID              uuid.UUID
	FarmerID        uuid.UUID
	CropID          uuid.UUID
	Grade           Grade
	QuantityKg      int64
	Status          ListingStatus
	GradingStatus   GradingStatus
	GradeConfidence *float64
	Region          string // informational only, never part of the pooling key
	CreatedAt       time.Time
	GradedAt        *time.Time
}

// EligibleForPooling reports whether the listing may participate in pooling:
// it must be AVAILABLE, have completed grading, and carry a concrete grade.
func (l Listing) EligibleForPooling() bool {
	return l.Status == ListingAvailable &&
		l.GradingStatus == GradingCompleted &&
		l.Grade.Concrete()
}
