package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
	"github.com/agrimandi/dealpool/internal/service"
)

// ListingService defines the methods the listing handler requires from the
// service layer.
type ListingService interface {
	CreateListing(ctx context.Context, in service.CreateListingInput) (domain.Listing, error)
	CompleteGrading(ctx context.Context, id uuid.UUID, grade domain.Grade, confidence *float64) (domain.Listing, error)
	GetListing(ctx context.Context, id uuid.UUID) (domain.Listing, error)
	ListByFarmer(ctx context.Context, farmerID uuid.UUID, opts domain.ListOpts) ([]domain.Listing, error)
}

// ListingHandler serves listing-related HTTP endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logger,
	}
}

// createListingRequest is the JSON body for listing creation. Grade is
// optional; when present the listing is treated as pre-graded.
type createListingRequest struct {
	FarmerID        uuid.UUID `json:"farmer_id"`
	CropID          uuid.UUID `json:"crop_id"`
	QuantityKg      int64     `json:"quantity_kg"`
	Grade           string    `json:"grade,omitempty"`
	GradeConfidence *float64  `json:"grade_confidence,omitempty"`
	Region          string    `json:"region,omitempty"`
}

// gradingRequest is the JSON body for recording a grading result.
type gradingRequest struct {
	Grade           string   `json:"grade"`
	GradeConfidence *float64 `json:"grade_confidence,omitempty"`
}

// listingResponse is the JSON representation of a listing.
type listingResponse struct {
	ID              uuid.UUID  `json:"id"`
	FarmerID        uuid.UUID  `json:"farmer_id"`
	CropID          uuid.UUID  `json:"crop_id"`
	Grade           string     `json:"grade"`
	QuantityKg      int64      `json:"quantity_kg"`
	Status          string     `json:"status"`
	GradingStatus   string     `json:"grading_status"`
	GradeConfidence *float64   `json:"grade_confidence,omitempty"`
	Region          string     `json:"region,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	GradedAt        *time.Time `json:"graded_at,omitempty"`
}

func toListingResponse(l domain.Listing) listingResponse {
	return listingResponse{
		ID:              l.ID,
		FarmerID:        l.FarmerID,
		CropID:          l.CropID,
		Grade:           string(l.Grade),
		QuantityKg:      l.QuantityKg,
		Status:          string(l.Status),
		GradingStatus:   string(l.GradingStatus),
		GradeConfidence: l.GradeConfidence,
		Region:          l.Region,
		CreatedAt:       l.CreatedAt,
		GradedAt:        l.GradedAt,
	}
}

// CreateListing accepts a new supply listing. Pooling fires asynchronously to
// the response when the listing arrives pre-graded.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.listings.CreateListing(r.Context(), service.CreateListingInput{
		FarmerID:        req.FarmerID,
		CropID:          req.CropID,
		QuantityKg:      req.QuantityKg,
		Grade:           domain.Grade(req.Grade),
		GradeConfidence: req.GradeConfidence,
		Region:          req.Region,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "unknown crop")
			return
		}
		h.logger.ErrorContext(r.Context(), "create listing failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, toListingResponse(l))
}

// CompleteGrading records the grading pipeline's result for a listing.
// POST /api/listings/{id}/grading
func (h *ListingHandler) CompleteGrading(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req gradingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.listings.CompleteGrading(r.Context(), id, domain.Grade(req.Grade), req.GradeConfidence)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "complete grading failed",
			slog.String("listing_id", id.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toListingResponse(l))
}

// GetListing returns a single listing by ID.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.listings.GetListing(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get listing failed",
			slog.String("listing_id", id.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get listing")
		return
	}

	writeJSON(w, http.StatusOK, toListingResponse(l))
}

// listListingsResponse wraps the list endpoint output with pagination
// metadata.
type listListingsResponse struct {
	Listings []listingResponse `json:"listings"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// ListListings returns a farmer's listings.
// GET /api/listings?farmer={uuid}&limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("farmer")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "farmer query parameter is required")
		return
	}
	farmerID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid farmer id")
		return
	}

	opts := parseListOpts(r)
	listings, err := h.listings.ListByFarmer(r.Context(), farmerID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list listings failed",
			slog.String("farmer_id", farmerID.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}

	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, listListingsResponse{
		Listings: out,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}
