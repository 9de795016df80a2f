package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// groupSnapshot is the JSONL header line written for an archived group.
type groupSnapshot struct {
	Record          string     `json:"record"`
	GroupID         uuid.UUID  `json:"group_id"`
	Code            string     `json:"code"`
	CropID          uuid.UUID  `json:"crop_id"`
	Grade           string     `json:"grade"`
	Status          string     `json:"status"`
	TotalQuantityKg int64      `json:"total_quantity_kg"`
	MemberCount     int        `json:"member_count"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ArchivedAt      time.Time  `json:"archived_at"`
}

// memberSnapshot is one JSONL line per member listing.
type memberSnapshot struct {
	Record          string     `json:"record"`
	ListingID       uuid.UUID  `json:"listing_id"`
	FarmerID        uuid.UUID  `json:"farmer_id"`
	CropID          uuid.UUID  `json:"crop_id"`
	Grade           string     `json:"grade"`
	QuantityKg      int64      `json:"quantity_kg"`
	Status          string     `json:"status"`
	GradeConfidence *float64   `json:"grade_confidence,omitempty"`
	Region          string     `json:"region,omitempty"`
	GradedAt        *time.Time `json:"graded_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// GroupArchive implements domain.GroupArchiver by serializing a formed group
// and its membership to JSONL and uploading the snapshot to blob storage.
// One object per group: archive/groups/YYYY-MM/{code}.jsonl, partitioned by
// the month the group was formed.
type GroupArchive struct {
	writer domain.BlobWriter
}

// NewGroupArchive creates a GroupArchive.
func NewGroupArchive(writer domain.BlobWriter) *GroupArchive {
	return &GroupArchive{writer: writer}
}

// ArchiveGroup uploads a point-in-time snapshot of the group. The first line
// is the group record, followed by one line per member. Archival runs after
// pooling commits, so a failure here leaves the database authoritative and is
// safe to retry.
func (a *GroupArchive) ArchiveGroup(ctx context.Context, group domain.DealGroup, members []domain.Listing) error {
	buf, err := marshalSnapshot(group, members)
	if err != nil {
		return fmt.Errorf("s3blob: marshal group %s: %w", group.Code, err)
	}

	path := archivePath(group)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive group %s: %w", group.Code, err)
	}
	return nil
}

// archivePath builds the S3 key for a group snapshot:
//
//	archive/groups/2026-08/TOMATO-FAQ-202608241030.jsonl
func archivePath(group domain.DealGroup) string {
	return fmt.Sprintf("archive/groups/%s/%s.jsonl", group.CreatedAt.Format("2006-01"), group.Code)
}

func marshalSnapshot(group domain.DealGroup, members []domain.Listing) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	now := time.Now().UTC()
	head := groupSnapshot{
		Record:          "group",
		GroupID:         group.ID,
		Code:            group.Code,
		CropID:          group.CropID,
		Grade:           string(group.Grade),
		Status:          string(group.Status),
		TotalQuantityKg: group.TotalQuantityKg,
		MemberCount:     len(members),
		NotifiedAt:      group.NotifiedAt,
		CreatedAt:       group.CreatedAt,
		ArchivedAt:      now,
	}
	if err := enc.Encode(head); err != nil {
		return nil, fmt.Errorf("jsonl encode group: %w", err)
	}

	for i, l := range members {
		line := memberSnapshot{
			Record:          "member",
			ListingID:       l.ID,
			FarmerID:        l.FarmerID,
			CropID:          l.CropID,
			Grade:           string(l.Grade),
			QuantityKg:      l.QuantityKg,
			Status:          string(l.Status),
			GradeConfidence: l.GradeConfidence,
			Region:          l.Region,
			GradedAt:        l.GradedAt,
			CreatedAt:       l.CreatedAt,
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("jsonl encode member %d: %w", i, err)
		}
	}

	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.GroupArchiver = (*GroupArchive)(nil)
