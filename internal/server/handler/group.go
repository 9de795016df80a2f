package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agrimandi/dealpool/internal/domain"
)

// GroupService defines the methods the group handler requires from the
// service layer.
type GroupService interface {
	GetGroup(ctx context.Context, id uuid.UUID) (domain.DealGroup, []domain.Listing, error)
	GetGroupByCode(ctx context.Context, code string) (domain.DealGroup, error)
	ListGroups(ctx context.Context, opts domain.ListOpts) ([]domain.DealGroup, error)
	CreateOpenGroup(ctx context.Context, cropID uuid.UUID, grade domain.Grade) (domain.DealGroup, error)
}

// GroupHandler serves deal-group HTTP endpoints.
type GroupHandler struct {
	groups GroupService
	logger *slog.Logger
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(groups GroupService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{
		groups: groups,
		logger: logger,
	}
}

// groupResponse is the JSON representation of a deal group.
type groupResponse struct {
	ID              uuid.UUID  `json:"id"`
	Code            string     `json:"code"`
	CropID          uuid.UUID  `json:"crop_id"`
	Grade           string     `json:"grade"`
	TotalQuantityKg int64      `json:"total_quantity_kg"`
	Status          string     `json:"status"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toGroupResponse(g domain.DealGroup) groupResponse {
	return groupResponse{
		ID:              g.ID,
		Code:            g.Code,
		CropID:          g.CropID,
		Grade:           string(g.Grade),
		TotalQuantityKg: g.TotalQuantityKg,
		Status:          string(g.Status),
		NotifiedAt:      g.NotifiedAt,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

// groupDetailResponse includes the member listings.
type groupDetailResponse struct {
	groupResponse
	Members []listingResponse `json:"members"`
}

// listGroupsResponse wraps the list endpoint output.
type listGroupsResponse struct {
	Groups []groupResponse `json:"groups"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// createOpenGroupRequest is the JSON body for administrative open-group
// creation.
type createOpenGroupRequest struct {
	CropID uuid.UUID `json:"crop_id"`
	Grade  string    `json:"grade"`
}

// ListGroups returns recent groups with pagination. A code query parameter
// looks up a single group by its human-readable code instead.
// GET /api/groups?limit=50&offset=0
// GET /api/groups?code=TOMATO-FAQ-202608241030
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	if code := r.URL.Query().Get("code"); code != "" {
		g, err := h.groups.GetGroupByCode(r.Context(), code)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "group not found")
				return
			}
			h.logger.ErrorContext(r.Context(), "get group by code failed",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to get group")
			return
		}
		writeJSON(w, http.StatusOK, toGroupResponse(g))
		return
	}

	opts := parseListOpts(r)
	groups, err := h.groups.ListGroups(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list groups failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}

	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, toGroupResponse(g))
	}
	writeJSON(w, http.StatusOK, listGroupsResponse{
		Groups: out,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetGroup returns a single group with its member listings.
// GET /api/groups/{id}
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, members, err := h.groups.GetGroup(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get group failed",
			slog.String("group_id", id.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get group")
		return
	}

	resp := groupDetailResponse{
		groupResponse: toGroupResponse(g),
		Members:       make([]listingResponse, 0, len(members)),
	}
	for _, l := range members {
		resp.Members = append(resp.Members, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateOpenGroup creates an empty accumulating group for a crop+grade key.
// Back-office operation; the matcher fills and promotes it.
// POST /api/groups
func (h *GroupHandler) CreateOpenGroup(w http.ResponseWriter, r *http.Request) {
	var req createOpenGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	g, err := h.groups.CreateOpenGroup(r.Context(), req.CropID, domain.Grade(req.Grade))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusBadRequest, "unknown crop")
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "an open group already exists for this crop and grade")
		default:
			h.logger.ErrorContext(r.Context(), "create open group failed",
				slog.String("crop_id", req.CropID.String()),
				slog.String("grade", req.Grade),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, toGroupResponse(g))
}
