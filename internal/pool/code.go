package pool

import (
	"fmt"
	"strings"
	"time"

	"github.com/agrimandi/dealpool/internal/domain"
)

// GroupCode builds the human-readable identifier for a deal group, e.g.
// TOMATO-FAQ-202608241530. Region is intentionally absent: grouping is
// crop+grade only.
func GroupCode(cropName string, grade domain.Grade, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s",
		strings.ToUpper(cropName),
		grade,
		at.Format("200601021504"),
	)
}
