package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// CropService defines the methods the crop handler requires from the service
// layer.
type CropService interface {
	UpsertCrop(ctx context.Context, crop domain.CropProfile) (domain.CropProfile, error)
	GetCrop(ctx context.Context, id uuid.UUID) (domain.CropProfile, error)
	ListCrops(ctx context.Context) ([]domain.CropProfile, error)
}

// CropHandler serves crop reference-data endpoints.
type CropHandler struct {
	crops  CropService
	logger *slog.Logger
}

// NewCropHandler creates a CropHandler.
func NewCropHandler(crops CropService, logger *slog.Logger) *CropHandler {
	return &CropHandler{
		crops:  crops,
		logger: logger,
	}
}

// cropRequest is the JSON body for crop upserts. ID is optional; crops are
// keyed by name.
type cropRequest struct {
	ID                 *uuid.UUID `json:"id,omitempty"`
	Name               string     `json:"name"`
	PerishabilityScore int        `json:"perishability_score"`
	IsStorable         bool       `json:"is_storable"`
	HasMSP             bool       `json:"has_msp"`
	MinGroupKg         int64      `json:"min_group_kg"`
}

// cropResponse is the JSON representation of a crop profile.
type cropResponse struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	PerishabilityScore int       `json:"perishability_score"`
	IsStorable         bool      `json:"is_storable"`
	HasMSP             bool      `json:"has_msp"`
	MinGroupKg         int64     `json:"min_group_kg"`
}

func toCropResponse(c domain.CropProfile) cropResponse {
	return cropResponse{
		ID:                 c.ID,
		Name:               c.Name,
		PerishabilityScore: c.PerishabilityScore,
		IsStorable:         c.IsStorable,
		HasMSP:             c.HasMSP,
		MinGroupKg:         c.MinGroupKg,
	}
}

// UpsertCrop creates or updates a crop profile.
// POST /api/crops
func (h *CropHandler) UpsertCrop(w http.ResponseWriter, r *http.Request) {
	var req cropRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	crop := domain.CropProfile{
		Name:               req.Name,
		PerishabilityScore: req.PerishabilityScore,
		IsStorable:         req.IsStorable,
		HasMSP:             req.HasMSP,
		MinGroupKg:         req.MinGroupKg,
	}
	if req.ID != nil {
		crop.ID = *req.ID
	}

	out, err := h.crops.UpsertCrop(r.Context(), crop)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "upsert crop failed",
			slog.String("name", req.Name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toCropResponse(out))
}

// GetCrop returns a single crop profile by ID.
// GET /api/crops/{id}
func (h *CropHandler) GetCrop(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	crop, err := h.crops.GetCrop(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "crop not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get crop failed",
			slog.String("crop_id", id.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get crop")
		return
	}

	writeJSON(w, http.StatusOK, toCropResponse(crop))
}

// ListCrops returns all crop profiles.
// GET /api/crops
func (h *CropHandler) ListCrops(w http.ResponseWriter, r *http.Request) {
	crops, err := h.crops.ListCrops(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list crops failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list crops")
		return
	}

	out := make([]cropResponse, 0, len(crops))
	for _, c := range crops {
		out = append(out, toCropResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"crops": out})
}
