package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"freight-market/internal/apperror"
	"freight-market/internal/models"

	"github.com/google/uuid"
)

type stubMandatService struct {
	mandat *models.Mandat
	claim  *models.ClaimResult
	err    error
	draft  models.MandatDraft
	filter *models.MandatFilter
	limit  int
	offset int
}

func (s *stubMandatService) CreateMandat(ctx context.Context, actor *models.Profile, draft models.MandatDraft) (*models.Mandat, error) {
	s.draft = draft
	if s.err != nil {
		return nil, s.err
	}
	return &models.Mandat{ID: uuid.New(), Status: models.MandatStatusPendingReview, PickupAddress: draft.PickupAddress}, nil
}
func (s *stubMandatService) GetMandat(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.Mandat, error) {
	return s.mandat, s.err
}
func (s *stubMandatService) ListMandats(ctx context.Context, actor *models.Profile, filter *models.MandatFilter) ([]*models.Mandat, error) {
	s.filter = filter
	return []*models.Mandat{}, s.err
}
func (s *stubMandatService) ListMarketplace(ctx context.Context, actor *models.Profile, limit, offset int) ([]*models.Mandat, error) {
	s.limit, s.offset = limit, offset
	return []*models.Mandat{}, s.err
}
func (s *stubMandatService) ModerateMandat(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.ModerateMandatRequest) (*models.Mandat, models.MandatStatus, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &models.Mandat{ID: id, Status: req.Status}, models.MandatStatusPendingReview, nil
}
func (s *stubMandatService) CancelMandat(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.Mandat, models.MandatStatus, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &models.Mandat{ID: id, Status: models.MandatStatusCancelled}, models.MandatStatusApproved, nil
}
func (s *stubMandatService) ClaimMandat(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.ClaimResult, error) {
	return s.claim, s.err
}
func (s *stubMandatService) UpdateDeliveryStatus(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.UpdateDeliveryStatusRequest) (*models.Mandat, models.MandatStatus, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &models.Mandat{ID: id, Status: req.Status}, models.MandatStatusClaimed, nil
}

func newTestMandatHandler(svc *stubMandatService, distance *stubDistance, producer *stubProducer) *MandatHandler {
	return NewMandatHandler(svc, distance, producer, testLogger())
}

func TestMandatHandler_CreateMandat_NormalizesPayload(t *testing.T) {
	svc := &stubMandatService{}
	distance := &stubDistance{km: 999}
	producer := &stubProducer{}
	h := newTestMandatHandler(svc, distance, producer)

	// адрес доставки и расстояние пришли только в payload
	body := `{"pickup_address":"Lausanne","surface_m2":8,"payload":{"adresse_arrivee":"Genève","distance":"62.5","palettes":3}}`
	req := asActor(httptest.NewRequest(http.MethodPost, "/api/mandats", bytes.NewBufferString(body)), memberActor(uuid.New()))
	rr := httptest.NewRecorder()
	h.CreateMandat(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.draft.DeliveryAddress != "Genève" || svc.draft.DistanceKm == nil || *svc.draft.DistanceKm != 62.5 {
		t.Fatalf("payload not normalized: %+v", svc.draft)
	}
	if distance.calls != 0 {
		t.Fatalf("distance service should not be called when distance is known")
	}
	if _, ok := svc.draft.Extra["palettes"]; !ok {
		t.Fatalf("unknown payload keys must be kept")
	}
	if !producer.published(models.EventTypeMandatCreated) {
		t.Fatalf("expected mandat.created event")
	}
}

func TestMandatHandler_CreateMandat_ResolvesDistance(t *testing.T) {
	svc := &stubMandatService{}
	distance := &stubDistance{km: 226.4}
	h := newTestMandatHandler(svc, distance, &stubProducer{})

	body := `{"pickup_address":"Lausanne","delivery_address":"Zürich","surface_m2":10}`
	req := asActor(httptest.NewRequest(http.MethodPost, "/api/mandats", bytes.NewBufferString(body)), memberActor(uuid.New()))
	rr := httptest.NewRecorder()
	h.CreateMandat(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if distance.calls != 1 || svc.draft.DistanceKm == nil || *svc.draft.DistanceKm != 226.4 {
		t.Fatalf("distance not resolved: calls=%d draft=%+v", distance.calls, svc.draft)
	}
}

func TestMandatHandler_CreateMandat_NoActivePricingSet(t *testing.T) {
	producer := &stubProducer{}
	h := newTestMandatHandler(&stubMandatService{err: apperror.Validation("no active pricing set, cannot compute price", nil)}, &stubDistance{}, producer)

	body := `{"pickup_address":"Lausanne","delivery_address":"Zürich","distance_km":100,"surface_m2":10}`
	req := asActor(httptest.NewRequest(http.MethodPost, "/api/mandats", bytes.NewBufferString(body)), memberActor(uuid.New()))
	rr := httptest.NewRecorder()
	h.CreateMandat(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp ErrorResponse
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Message != "no active pricing set, cannot compute price" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if len(producer.events) != 0 {
		t.Fatalf("no event expected on failure")
	}
}

func TestMandatHandler_ClaimMandat_Outcomes(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		result  *models.ClaimResult
		code    int
		publish bool
	}{
		{"claimed", &models.ClaimResult{Outcome: models.ClaimOutcomeClaimed, Mandat: &models.Mandat{ID: id}}, http.StatusOK, true},
		{"already claimed", &models.ClaimResult{Outcome: models.ClaimOutcomeAlreadyClaimed}, http.StatusConflict, false},
		{"not found", &models.ClaimResult{Outcome: models.ClaimOutcomeNotFound}, http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := &stubProducer{}
			h := newTestMandatHandler(&stubMandatService{claim: tt.result}, &stubDistance{}, producer)

			req := asActor(httptest.NewRequest(http.MethodPost, "/api/mandats/"+id.String()+"/claim", nil), memberActor(uuid.New()))
			rr := httptest.NewRecorder()
			h.ClaimMandat(rr, req)

			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
			var resp models.ClaimResult
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Outcome != tt.result.Outcome {
				t.Fatalf("unexpected outcome %s", resp.Outcome)
			}
			if producer.published(models.EventTypeMandatClaimed) != tt.publish {
				t.Fatalf("claimed event published=%v, want %v", !tt.publish, tt.publish)
			}
		})
	}
}

func TestMandatHandler_ClaimMandat_Forbidden(t *testing.T) {
	h := newTestMandatHandler(&stubMandatService{err: apperror.Forbidden("company is not an approved transporteur", nil)}, &stubDistance{}, &stubProducer{})
	req := asActor(httptest.NewRequest(http.MethodPost, "/api/mandats/"+uuid.NewString()+"/claim", nil), memberActor(uuid.New()))
	rr := httptest.NewRecorder()
	h.ClaimMandat(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestMandatHandler_StateChangesPublish(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		call   func(h *MandatHandler) http.HandlerFunc
		event  models.EventType
	}{
		{"moderate", http.MethodPost, "/moderate", `{"status":"approved"}`, func(h *MandatHandler) http.HandlerFunc { return h.ModerateMandat }, models.EventTypeMandatModerated},
		{"cancel", http.MethodPost, "/cancel", ``, func(h *MandatHandler) http.HandlerFunc { return h.CancelMandat }, models.EventTypeMandatCancelled},
		{"status", http.MethodPut, "/status", `{"status":"in_transit"}`, func(h *MandatHandler) http.HandlerFunc { return h.UpdateDeliveryStatus }, models.EventTypeMandatStatusChanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := &stubProducer{}
			h := newTestMandatHandler(&stubMandatService{}, &stubDistance{}, producer)

			req := asActor(httptest.NewRequest(tt.method, "/api/mandats/"+id.String()+tt.path, bytes.NewBufferString(tt.body)), adminActor())
			rr := httptest.NewRecorder()
			tt.call(h)(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if !producer.published(tt.event) {
				t.Fatalf("expected %s event, got %v", tt.event, producer.events)
			}
		})
	}
}

func TestMandatHandler_UpdateDeliveryStatus_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not the carrier", apperror.Forbidden("only the assigned transporteur can update delivery status", nil), http.StatusForbidden},
		{"invalid transition", apperror.Conflict("invalid status transition", nil), http.StatusConflict},
		{"missing note", apperror.Validation("note is required for delivery_problem", nil), http.StatusBadRequest},
		{"unknown mandat", apperror.NotFound("mandat not found", nil), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := &stubProducer{}
			h := newTestMandatHandler(&stubMandatService{err: tt.err}, &stubDistance{}, producer)
			req := asActor(httptest.NewRequest(http.MethodPut, "/api/mandats/"+uuid.NewString()+"/status", bytes.NewBufferString(`{"status":"delivered"}`)), memberActor(uuid.New()))
			rr := httptest.NewRecorder()
			h.UpdateDeliveryStatus(rr, req)
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
			if len(producer.events) != 0 {
				t.Fatalf("no event expected on failure")
			}
		})
	}
}

func TestMandatHandler_ListMandats_Filters(t *testing.T) {
	svc := &stubMandatService{}
	h := newTestMandatHandler(svc, &stubDistance{}, &stubProducer{})
	shipper := uuid.New()

	req := asActor(httptest.NewRequest(http.MethodGet, "/api/mandats?status=approved&expediteur_company_id="+shipper.String()+"&limit=5", nil), adminActor())
	rr := httptest.NewRecorder()
	h.ListMandats(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	f := svc.filter
	if f.Status == nil || *f.Status != models.MandatStatusApproved || f.ExpediteurCompanyID == nil || *f.ExpediteurCompanyID != shipper || f.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", f)
	}

	req = asActor(httptest.NewRequest(http.MethodGet, "/api/mandats?transporteur_company_id=nope", nil), adminActor())
	rr = httptest.NewRecorder()
	h.ListMandats(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMandatHandler_ListMarketplace(t *testing.T) {
	svc := &stubMandatService{}
	h := newTestMandatHandler(svc, &stubDistance{}, &stubProducer{})

	req := asActor(httptest.NewRequest(http.MethodGet, "/api/marketplace?limit=20&offset=40", nil), memberActor(uuid.New()))
	rr := httptest.NewRecorder()
	h.ListMarketplace(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if svc.limit != 20 || svc.offset != 40 {
		t.Fatalf("unexpected pagination %d/%d", svc.limit, svc.offset)
	}
}

func TestMandatHandler_GetMandat(t *testing.T) {
	id := uuid.New()
	h := newTestMandatHandler(&stubMandatService{mandat: &models.Mandat{ID: id}}, &stubDistance{}, &stubProducer{})

	rr := httptest.NewRecorder()
	h.GetMandat(rr, asActor(httptest.NewRequest(http.MethodGet, "/api/mandats/"+id.String(), nil), adminActor()))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.GetMandat(rr, httptest.NewRequest(http.MethodGet, "/api/mandats/"+id.String(), nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without actor, got %d", rr.Code)
	}
}
