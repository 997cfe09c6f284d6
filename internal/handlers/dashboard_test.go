package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"freight-market/internal/apperror"
	"freight-market/internal/config"
	"freight-market/internal/models"
)

type stubDashboardService struct {
	kpi           *models.KPIMetrics
	transporteurs []*models.TransporteurAnalytics
	err           error
	filter        *models.AnalyticsFilter
}

func (s *stubDashboardService) GetKPIs(ctx context.Context, actor *models.Profile, filter *models.AnalyticsFilter) (*models.KPIMetrics, error) {
	s.filter = filter
	return s.kpi, s.err
}

func (s *stubDashboardService) GetTransporteurAnalytics(ctx context.Context, actor *models.Profile, filter *models.AnalyticsFilter) ([]*models.TransporteurAnalytics, error) {
	s.filter = filter
	return s.transporteurs, s.err
}

func TestDashboardHandler_GetKPIs_JSON(t *testing.T) {
	kpi := &models.KPIMetrics{
		From:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:           time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC),
		RevenueTTC:   2529.54,
		MandatsCount: 1,
		Currency:     "CHF",
		TopShippers: []models.TopShipper{
			{CompanyID: testUUID("11111111-1111-1111-1111-111111111111"), Name: "Léman Export", MandatsCount: 1, RevenueTTC: 2529.54},
		},
	}
	svc := &stubDashboardService{kpi: kpi}
	h := NewDashboardHandler(svc, testLogger(), &config.AnalyticsConfig{})

	req := asActor(httptest.NewRequest(http.MethodGet, "/api/dashboard/kpi?from=2026-01-01&to=2026-01-31&group_by=WEEK&top_limit=3", nil), adminActor())
	rr := httptest.NewRecorder()
	h.GetKPIs(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp models.KPIMetrics
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.MandatsCount != 1 || resp.RevenueTTC != 2529.54 {
		t.Fatalf("unexpected KPI response: %+v", resp)
	}

	f := svc.filter
	if f.GroupBy != models.AnalyticsGroupWeek || f.TopShippersLimit != 3 {
		t.Fatalf("unexpected filter: %+v", f)
	}
	if !f.From.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) || f.To.Day() != 31 || f.To.Hour() != 23 {
		t.Fatalf("unexpected range: %s..%s", f.From, f.To)
	}
}

func TestDashboardHandler_GetKPIs_CSV(t *testing.T) {
	kpi := &models.KPIMetrics{
		From:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:           time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		RevenueTTC:   1000,
		MandatsCount: 2,
		Periods:      []models.KPIPeriod{{Period: "2026-01", RevenueTTC: 1000, MandatsCount: 2}},
	}
	h := NewDashboardHandler(&stubDashboardService{kpi: kpi}, testLogger(), nil)

	req := asActor(httptest.NewRequest(http.MethodGet, "/api/dashboard/kpi?format=csv", nil), adminActor())
	rr := httptest.NewRecorder()
	h.GetKPIs(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("unexpected content type %s", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "summary,2026-01-01..2026-01-31,1000.00,2") || !strings.Contains(body, "period,2026-01,1000.00,2") {
		t.Fatalf("unexpected csv:\n%s", body)
	}
}

func TestDashboardHandler_GetTransporteurAnalytics_CSV(t *testing.T) {
	rows := []*models.TransporteurAnalytics{
		{
			CompanyID:              testUUID("22222222-2222-2222-2222-222222222222"),
			Name:                   "Transports Léman",
			Deliveries:             10,
			Problems:               1,
			RevenueTTC:             5000,
			AvgDeliveryTimeMinutes: 240,
		},
	}
	h := NewDashboardHandler(&stubDashboardService{transporteurs: rows}, testLogger(), nil)

	req := asActor(httptest.NewRequest(http.MethodGet, "/api/dashboard/transporteurs?format=csv&limit=10", nil), adminActor())
	rr := httptest.NewRecorder()
	h.GetTransporteurAnalytics(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	want := "22222222-2222-2222-2222-222222222222,Transports Léman,10,1,5000.00,240.00"
	if !strings.Contains(rr.Body.String(), want) {
		t.Fatalf("expected row %q in:\n%s", want, rr.Body.String())
	}
}

func TestDashboardHandler_BadRequests(t *testing.T) {
	h := NewDashboardHandler(&stubDashboardService{kpi: &models.KPIMetrics{}}, testLogger(), nil)
	for _, query := range []string{
		"from=2026/01/01",
		"to=yesterday",
		"from=2026-02-01&to=2026-01-01",
		"format=xml",
	} {
		req := asActor(httptest.NewRequest(http.MethodGet, "/api/dashboard/kpi?"+query, nil), adminActor())
		rr := httptest.NewRecorder()
		h.GetKPIs(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestDashboardHandler_ServiceErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{apperror.Forbidden("platform admin required", nil), http.StatusForbidden},
		{apperror.Validation("date range must not exceed 365 days", nil), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := NewDashboardHandler(&stubDashboardService{err: tt.err}, testLogger(), nil)
		req := asActor(httptest.NewRequest(http.MethodGet, "/api/dashboard/transporteurs", nil), memberActor(testUUID("33333333-3333-3333-3333-333333333333")))
		rr := httptest.NewRecorder()
		h.GetTransporteurAnalytics(rr, req)
		if rr.Code != tt.code {
			t.Fatalf("%v: expected %d, got %d", tt.err, tt.code, rr.Code)
		}
	}
}

func TestAnalyticsTimeout(t *testing.T) {
	if analyticsTimeout(nil) != 5*time.Second {
		t.Fatalf("unexpected default timeout")
	}
	if analyticsTimeout(&config.AnalyticsConfig{RequestTimeoutSeconds: 2}) != 2*time.Second {
		t.Fatalf("unexpected configured timeout")
	}
}
