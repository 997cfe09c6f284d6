package services

import (
	"context"
	"fmt"
	"time"

	"freight-market/internal/apperror"
	"freight-market/internal/config"
	"freight-market/internal/database"
	"freight-market/internal/logger"
	"freight-market/internal/models"
	"freight-market/internal/quote"
	"freight-market/internal/redis"
)

const (
	DefaultTopShippersLimit  = 5
	DefaultTransporteurLimit = 50
	defaultCacheTTL          = 10 * time.Minute
	defaultMaxRangeDays      = 365
)

// DashboardService агрегирует показатели площадки и кеширует тяжёлые выборки.
type DashboardService struct {
	db                  *database.DB
	redis               *redis.Client
	log                 *logger.Logger
	cacheTTL            time.Duration
	maxRange            time.Duration
	defaultTopShippers  int
	defaultTransporters int
	defaultGroupBy      models.AnalyticsGroupBy
}

// NewDashboardService создает сервис аналитики.
func NewDashboardService(db *database.DB, redisClient *redis.Client, log *logger.Logger, cfg *config.AnalyticsConfig) *DashboardService {
	cacheTTL := defaultCacheTTL
	maxRangeDays := defaultMaxRangeDays
	defaultTop := DefaultTopShippersLimit
	defaultTransporters := DefaultTransporteurLimit
	groupBy := models.AnalyticsGroupNone

	if cfg != nil {
		if cfg.CacheTTLMinutes > 0 {
			cacheTTL = time.Duration(cfg.CacheTTLMinutes) * time.Minute
		}
		if cfg.MaxRangeDays > 0 {
			maxRangeDays = cfg.MaxRangeDays
		}
		if cfg.DefaultTopLimit > 0 {
			defaultTop = cfg.DefaultTopLimit
		}
		if cfg.DefaultTransporteurLimit > 0 {
			defaultTransporters = cfg.DefaultTransporteurLimit
		}
		if g := models.AnalyticsGroupBy(cfg.DefaultGroupBy); g.Valid() {
			groupBy = g
		}
	}

	return &DashboardService{
		db:                  db,
		redis:               redisClient,
		log:                 log,
		cacheTTL:            cacheTTL,
		maxRange:            time.Duration(maxRangeDays) * 24 * time.Hour,
		defaultTopShippers:  defaultTop,
		defaultTransporters: defaultTransporters,
		defaultGroupBy:      groupBy,
	}
}

// GetKPIs возвращает KPI по доставленным мандатам с опциональной группировкой.
func (s *DashboardService) GetKPIs(ctx context.Context, actor *models.Profile, filter *models.AnalyticsFilter) (*models.KPIMetrics, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	filter, err := s.normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	cacheKey := s.buildCacheKey("kpi", filter)

	var cached models.KPIMetrics
	if s.tryGetFromCache(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	summary, err := s.fetchKPISummary(ctx, filter)
	if err != nil {
		return nil, err
	}

	periods, err := s.fetchKPIPeriods(ctx, filter)
	if err != nil {
		return nil, err
	}

	topShippers, err := s.fetchTopShippers(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := &models.KPIMetrics{
		From:                   filter.From,
		To:                     filter.To,
		RevenueTTC:             summary.RevenueTTC,
		RevenueHT:              summary.RevenueHT,
		MandatsCount:           summary.MandatsCount,
		AvgDeliveryTimeMinutes: summary.AvgDeliveryTimeMinutes,
		AveragePriceTTC:        summary.AveragePriceTTC,
		Currency:               quote.Currency,
		TopShippers:            topShippers,
		Periods:                periods,
		GeneratedAt:            time.Now(),
		GroupBy:                string(filter.GroupBy),
	}

	s.saveToCache(ctx, cacheKey, result)
	return result, nil
}

// GetTransporteurAnalytics возвращает метрики по перевозчикам (доставки, проблемы, выручка).
func (s *DashboardService) GetTransporteurAnalytics(ctx context.Context, actor *models.Profile, filter *models.AnalyticsFilter) ([]*models.TransporteurAnalytics, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	filter, err := s.normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	cacheKey := s.buildCacheKey("transporteurs", filter)

	var cached []*models.TransporteurAnalytics
	if s.tryGetFromCache(ctx, cacheKey, &cached) {
		return cached, nil
	}

	query := `
		SELECT c.id,
		       c.name,
		       COUNT(m.id) FILTER (WHERE m.status = 'delivered') AS deliveries,
		       COUNT(m.id) FILTER (WHERE m.problem_note IS NOT NULL) AS problems,
		       COALESCE(SUM(m.prix_estime_ttc) FILTER (WHERE m.status = 'delivered'), 0) AS revenue,
		       COALESCE(AVG(EXTRACT(EPOCH FROM (m.delivered_at - m.claimed_at)) / 60) FILTER (WHERE m.status = 'delivered'), 0) AS avg_delivery_minutes
		FROM companies c
		LEFT JOIN mandats m ON m.transporteur_company_id = c.id
			AND m.claimed_at BETWEEN $1 AND $2
		WHERE c.type = 'transporteur'
	GROUP BY c.id, c.name
	ORDER BY deliveries DESC, revenue DESC, c.name ASC
	`

	args := []interface{}{filter.From, filter.To}
	if filter.TransporteurLimit > 0 {
		query += " LIMIT $3"
		args = append(args, filter.TransporteurLimit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load transporteur analytics: %w", err)
	}
	defer rows.Close()

	result := []*models.TransporteurAnalytics{}
	for rows.Next() {
		item := &models.TransporteurAnalytics{}
		if err := rows.Scan(&item.CompanyID, &item.Name, &item.Deliveries, &item.Problems, &item.RevenueTTC, &item.AvgDeliveryTimeMinutes); err != nil {
			return nil, fmt.Errorf("failed to scan transporteur analytics: %w", err)
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transporteur analytics: %w", err)
	}

	s.saveToCache(ctx, cacheKey, result)
	return result, nil
}

type kpiSummary struct {
	RevenueTTC             float64
	RevenueHT              float64
	MandatsCount           int
	AvgDeliveryTimeMinutes float64
	AveragePriceTTC        float64
}

func (s *DashboardService) fetchKPISummary(ctx context.Context, filter *models.AnalyticsFilter) (*kpiSummary, error) {
	query := `
		SELECT COALESCE(SUM(prix_estime_ttc), 0) AS revenue_ttc,
		       COALESCE(SUM(prix_estime_ht), 0) AS revenue_ht,
		       COUNT(*) AS mandats_count,
		       COALESCE(AVG(EXTRACT(EPOCH FROM (delivered_at - claimed_at)) / 60), 0) AS avg_delivery_minutes,
		       COALESCE(AVG(prix_estime_ttc), 0) AS average_price
	FROM mandats
	WHERE status = 'delivered' AND delivered_at BETWEEN $1 AND $2
	`

	row := s.db.QueryRowContext(ctx, query, filter.From, filter.To)
	summary := &kpiSummary{}
	if err := row.Scan(&summary.RevenueTTC, &summary.RevenueHT, &summary.MandatsCount, &summary.AvgDeliveryTimeMinutes, &summary.AveragePriceTTC); err != nil {
		return nil, fmt.Errorf("failed to load KPI summary: %w", err)
	}

	return summary, nil
}

func (s *DashboardService) fetchKPIPeriods(ctx context.Context, filter *models.AnalyticsFilter) ([]models.KPIPeriod, error) {
	if filter.GroupBy == models.AnalyticsGroupNone || !filter.IncludePeriods {
		return nil, nil
	}

	periodExpr := "date_trunc('day', delivered_at)"
	switch filter.GroupBy {
	case models.AnalyticsGroupWeek:
		periodExpr = "date_trunc('week', delivered_at)"
	case models.AnalyticsGroupMonth:
		periodExpr = "date_trunc('month', delivered_at)"
	}

	query := fmt.Sprintf(`
		SELECT %[1]s AS period,
		       COALESCE(SUM(prix_estime_ttc), 0) AS revenue_ttc,
		       COUNT(*) AS mandats_count,
		       COALESCE(AVG(EXTRACT(EPOCH FROM (delivered_at - claimed_at)) / 60), 0) AS avg_delivery_minutes
	FROM mandats
	WHERE status = 'delivered' AND delivered_at BETWEEN $1 AND $2
	GROUP BY period
	ORDER BY period ASC
	`, periodExpr)

	rows, err := s.db.QueryContext(ctx, query, filter.From, filter.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load KPI periods: %w", err)
	}
	defer rows.Close()

	var result []models.KPIPeriod
	for rows.Next() {
		var (
			periodTime time.Time
			item       models.KPIPeriod
		)
		if err := rows.Scan(&periodTime, &item.RevenueTTC, &item.MandatsCount, &item.AvgDeliveryTimeMinutes); err != nil {
			return nil, fmt.Errorf("failed to scan KPI period: %w", err)
		}
		item.Period = formatPeriod(periodTime, filter.GroupBy)
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate KPI periods: %w", err)
	}

	return result, nil
}

func (s *DashboardService) fetchTopShippers(ctx context.Context, filter *models.AnalyticsFilter) ([]models.TopShipper, error) {
	query := `
		SELECT c.id,
		       c.name,
		       COUNT(m.id) AS mandats_count,
		       COALESCE(SUM(m.prix_estime_ttc), 0) AS revenue
	FROM mandats m
	JOIN companies c ON c.id = m.expediteur_company_id
	WHERE m.status = 'delivered' AND m.delivered_at BETWEEN $1 AND $2
	GROUP BY c.id, c.name
	ORDER BY revenue DESC, mandats_count DESC, c.name ASC
	LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, filter.From, filter.To, filter.TopShippersLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load top shippers: %w", err)
	}
	defer rows.Close()

	result := []models.TopShipper{}
	for rows.Next() {
		var item models.TopShipper
		if err := rows.Scan(&item.CompanyID, &item.Name, &item.MandatsCount, &item.RevenueTTC); err != nil {
			return nil, fmt.Errorf("failed to scan top shipper: %w", err)
		}
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate top shippers: %w", err)
	}

	return result, nil
}

func (s *DashboardService) buildCacheKey(kind string, filter *models.AnalyticsFilter) string {
	return redis.GenerateKey(redis.KeyPrefixStats, fmt.Sprintf(
		"%s:%s:%s:%s:%d:%d:%t",
		kind,
		filter.From.Format("2006-01-02"),
		filter.To.Format("2006-01-02"),
		filter.GroupBy,
		filter.TopShippersLimit,
		filter.TransporteurLimit,
		filter.IncludePeriods,
	))
}

func (s *DashboardService) normalizeFilter(filter *models.AnalyticsFilter) (*models.AnalyticsFilter, error) {
	if filter == nil {
		filter = &models.AnalyticsFilter{}
	}
	if filter.To.IsZero() {
		filter.To = time.Now()
	}
	if filter.From.IsZero() {
		filter.From = filter.To.AddDate(0, 0, -30)
	}
	if filter.To.Before(filter.From) {
		return nil, apperror.Validation("'to' must be after 'from'", nil)
	}
	if filter.To.Sub(filter.From) > s.maxRange {
		return nil, apperror.Validation(fmt.Sprintf("date range must not exceed %d days", int(s.maxRange.Hours()/24)), nil)
	}
	if filter.TopShippersLimit <= 0 {
		filter.TopShippersLimit = s.defaultTopShippers
	}
	if filter.TransporteurLimit <= 0 {
		filter.TransporteurLimit = s.defaultTransporters
	}
	if filter.GroupBy == "" {
		filter.GroupBy = s.defaultGroupBy
	}
	if !filter.GroupBy.Valid() {
		return nil, apperror.Validation("group_by must be one of none, day, week, month", nil)
	}
	filter.IncludePeriods = filter.GroupBy != models.AnalyticsGroupNone
	return filter, nil
}

func (s *DashboardService) tryGetFromCache(ctx context.Context, key string, dest interface{}) bool {
	if s.redis == nil {
		return false
	}

	if err := s.redis.Get(ctx, key, dest); err != nil {
		return false
	}
	return true
}

func (s *DashboardService) saveToCache(ctx context.Context, key string, value interface{}) {
	if s.redis == nil {
		return
	}

	if err := s.redis.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Failed to cache analytics result")
	}
}

func formatPeriod(period time.Time, groupBy models.AnalyticsGroupBy) string {
	switch groupBy {
	case models.AnalyticsGroupWeek:
		return period.Format("2006-01-02") // начало недели
	case models.AnalyticsGroupMonth:
		return period.Format("2006-01")
	default:
		return period.Format("2006-01-02")
	}
}
