package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrimandi/dealpool/internal/domain"
	"github.com/agrimandi/dealpool/internal/service"
)

type stubListingService struct {
	created   *service.CreateListingInput
	listing   domain.Listing
	err       error
	completed *domain.Grade
}

func (s *stubListingService) CreateListing(_ context.Context, in service.CreateListingInput) (domain.Listing, error) {
	s.created = &in
	if s.err != nil {
		return domain.Listing{}, s.err
	}
	l := s.listing
	l.FarmerID = in.FarmerID
	l.CropID = in.CropID
	l.QuantityKg = in.QuantityKg
	return l, nil
}

func (s *stubListingService) CompleteGrading(_ context.Context, id uuid.UUID, grade domain.Grade, _ *float64) (domain.Listing, error) {
	s.completed = &grade
	if s.err != nil {
		return domain.Listing{}, s.err
	}
	l := s.listing
	l.ID = id
	l.Grade = grade
	l.GradingStatus = domain.GradingCompleted
	return l, nil
}

func (s *stubListingService) GetListing(_ context.Context, id uuid.UUID) (domain.Listing, error) {
	if s.err != nil {
		return domain.Listing{}, s.err
	}
	l := s.listing
	l.ID = id
	return l, nil
}

func (s *stubListingService) ListByFarmer(_ context.Context, farmerID uuid.UUID, _ domain.ListOpts) ([]domain.Listing, error) {
	if s.err != nil {
		return nil, s.err
	}
	l := s.listing
	l.FarmerID = farmerID
	return []domain.Listing{l}, nil
}

func newTestMux(h *ListingHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/listings", h.CreateListing)
	mux.HandleFunc("GET /api/listings", h.ListListings)
	mux.HandleFunc("GET /api/listings/{id}", h.GetListing)
	mux.HandleFunc("POST /api/listings/{id}/grading", h.CompleteGrading)
	return mux
}

func noopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestCreateListingEndpoint(t *testing.T) {
	svc := &stubListingService{listing: domain.Listing{
		ID:        uuid.New(),
		Status:    domain.ListingAvailable,
		CreatedAt: time.Now(),
	}}
	mux := newTestMux(NewListingHandler(svc, noopLogger()))

	farmer := uuid.New()
	crop := uuid.New()
	body := `{"farmer_id":"` + farmer.String() + `","crop_id":"` + crop.String() + `","quantity_kg":8000,"grade":"FAQ"}`

	req := httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.created)
	assert.Equal(t, farmer, svc.created.FarmerID)
	assert.Equal(t, int64(8000), svc.created.QuantityKg)
	assert.Equal(t, domain.GradeFAQ, svc.created.Grade)

	var resp listingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, farmer, resp.FarmerID)
	assert.Equal(t, "AVAILABLE", resp.Status)
}

func TestCreateListingRejectsUnknownFields(t *testing.T) {
	svc := &stubListingService{}
	mux := newTestMux(NewListingHandler(svc, noopLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(`{"bogus":true}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.created)
}

func TestCreateListingUnknownCropIs400(t *testing.T) {
	svc := &stubListingService{err: domain.ErrNotFound}
	mux := newTestMux(NewListingHandler(svc, noopLogger()))

	body := `{"farmer_id":"` + uuid.NewString() + `","crop_id":"` + uuid.NewString() + `","quantity_kg":100}`
	req := httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown crop")
}

func TestCompleteGradingEndpoint(t *testing.T) {
	svc := &stubListingService{listing: domain.Listing{Status: domain.ListingAvailable}}
	mux := newTestMux(NewListingHandler(svc, noopLogger()))

	id := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/listings/"+id.String()+"/grading",
		strings.NewReader(`{"grade":"Medium","grade_confidence":0.9}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.completed)
	assert.Equal(t, domain.GradeMedium, *svc.completed)

	var resp listingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, "COMPLETED", resp.GradingStatus)
}

func TestCompleteGradingBadID(t *testing.T) {
	mux := newTestMux(NewListingHandler(&stubListingService{}, noopLogger()))

	req := httptest.NewRequest(http.MethodPost, "/api/listings/not-a-uuid/grading",
		strings.NewReader(`{"grade":"FAQ"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetListingNotFound(t *testing.T) {
	svc := &stubListingService{err: domain.ErrNotFound}
	mux := newTestMux(NewListingHandler(svc, noopLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/listings/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListListingsRequiresFarmer(t *testing.T) {
	mux := newTestMux(NewListingHandler(&stubListingService{}, noopLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "farmer")
}

func TestListListingsByFarmer(t *testing.T) {
	svc := &stubListingService{listing: domain.Listing{ID: uuid.New(), QuantityKg: 5000}}
	mux := newTestMux(NewListingHandler(svc, noopLogger()))

	farmer := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/listings?farmer="+farmer.String()+"&limit=10", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp listListingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Listings, 1)
	assert.Equal(t, farmer, resp.Listings[0].FarmerID)
	assert.Equal(t, 10, resp.Limit)
}

var _ ListingService = (*stubListingService)(nil)
