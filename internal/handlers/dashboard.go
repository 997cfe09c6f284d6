package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"freight-market/internal/config"
	"freight-market/internal/logger"
	"freight-market/internal/models"
)

// DashboardHandler отдает KPI площадки и метрики перевозчиков администратору
type DashboardHandler struct {
	service DashboardProvider
	log     *logger.Logger
	cfg     *config.AnalyticsConfig
}

// NewDashboardHandler создает обработчик дашборда
func NewDashboardHandler(service DashboardProvider, log *logger.Logger, cfg *config.AnalyticsConfig) *DashboardHandler {
	return &DashboardHandler{
		service: service,
		log:     log,
		cfg:     cfg,
	}
}

// GetKPIs возвращает KPI по доставленным мандатам, JSON или CSV
func (h *DashboardHandler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	filter, format, err := parseAnalyticsFilter(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analyticsTimeout(h.cfg))
	defer cancel()

	kpi, err := h.service.GetKPIs(ctx, actor, filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to load analytics")
		return
	}

	if format == "csv" {
		if err := writeKPICSV(w, kpi); err != nil {
			h.log.WithError(err).Warn("Failed to stream KPI CSV")
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, kpi)
}

// GetTransporteurAnalytics возвращает метрики по перевозчикам, JSON или CSV
func (h *DashboardHandler) GetTransporteurAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	filter, format, err := parseAnalyticsFilter(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), analyticsTimeout(h.cfg))
	defer cancel()

	rows, err := h.service.GetTransporteurAnalytics(ctx, actor, filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to load analytics")
		return
	}

	if format == "csv" {
		if err := writeTransporteurCSV(w, rows); err != nil {
			h.log.WithError(err).Warn("Failed to stream transporteur CSV")
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, rows)
}

// parseAnalyticsFilter читает from/to (YYYY-MM-DD), group_by, top_limit, limit и format.
// Значения по умолчанию и допустимый диапазон задает сервис.
func parseAnalyticsFilter(r *http.Request) (*models.AnalyticsFilter, string, error) {
	query := r.URL.Query()
	filter := &models.AnalyticsFilter{}

	if toParam := query.Get("to"); toParam != "" {
		parsed, err := time.Parse("2006-01-02", toParam)
		if err != nil {
			return nil, "", fmt.Errorf("invalid 'to' date, expected YYYY-MM-DD")
		}
		filter.To = endOfDay(parsed)
	}
	if fromParam := query.Get("from"); fromParam != "" {
		parsed, err := time.Parse("2006-01-02", fromParam)
		if err != nil {
			return nil, "", fmt.Errorf("invalid 'from' date, expected YYYY-MM-DD")
		}
		filter.From = startOfDay(parsed)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, "", fmt.Errorf("'from' date must be before 'to' date")
	}

	filter.GroupBy = models.AnalyticsGroupBy(strings.ToLower(query.Get("group_by")))
	filter.TopShippersLimit = parseIntWithDefault(query.Get("top_limit"), 0)
	filter.TransporteurLimit = parseIntWithDefault(query.Get("limit"), 0)

	format := strings.ToLower(query.Get("format"))
	if format != "" && format != "json" && format != "csv" {
		return nil, "", fmt.Errorf("format must be json or csv")
	}

	return filter, format, nil
}

func parseIntWithDefault(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return defaultValue
	}

	return parsed
}

func writeKPICSV(w http.ResponseWriter, kpi *models.KPIMetrics) error {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=kpi.csv")
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"section", "period", "revenue_ttc", "mandats_count", "avg_delivery_time_minutes"})
	rangeLabel := fmt.Sprintf("%s..%s", kpi.From.Format("2006-01-02"), kpi.To.Format("2006-01-02"))
	_ = writer.Write([]string{"summary", rangeLabel, money(kpi.RevenueTTC), strconv.Itoa(kpi.MandatsCount), money(kpi.AvgDeliveryTimeMinutes)})

	for _, period := range kpi.Periods {
		_ = writer.Write([]string{"period", period.Period, money(period.RevenueTTC), strconv.Itoa(period.MandatsCount), money(period.AvgDeliveryTimeMinutes)})
	}

	_ = writer.Write([]string{})
	_ = writer.Write([]string{"section", "company_id", "name", "mandats_count", "revenue_ttc"})
	for _, shipper := range kpi.TopShippers {
		_ = writer.Write([]string{"top_shipper", shipper.CompanyID.String(), shipper.Name, strconv.Itoa(shipper.MandatsCount), money(shipper.RevenueTTC)})
	}

	writer.Flush()
	return writer.Error()
}

func writeTransporteurCSV(w http.ResponseWriter, rows []*models.TransporteurAnalytics) error {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=transporteurs.csv")
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"company_id", "name", "deliveries", "problems", "revenue_ttc", "avg_delivery_time_minutes"})

	for _, row := range rows {
		_ = writer.Write([]string{
			row.CompanyID.String(),
			row.Name,
			strconv.Itoa(row.Deliveries),
			strconv.Itoa(row.Problems),
			money(row.RevenueTTC),
			money(row.AvgDeliveryTimeMinutes),
		})
	}

	writer.Flush()
	return writer.Error()
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Millisecond*999), time.UTC)
}

func analyticsTimeout(cfg *config.AnalyticsConfig) time.Duration {
	if cfg != nil && cfg.RequestTimeoutSeconds > 0 {
		return time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}
	return 5 * time.Second
}
