package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalyticsGroupBy описывает доступные варианты группировки периодов.
type AnalyticsGroupBy string

const (
	AnalyticsGroupNone  AnalyticsGroupBy = "none"
	AnalyticsGroupDay   AnalyticsGroupBy = "day"
	AnalyticsGroupWeek  AnalyticsGroupBy = "week"
	AnalyticsGroupMonth AnalyticsGroupBy = "month"
)

// AnalyticsFilter задает временной интервал и параметры агрегации.
type AnalyticsFilter struct {
	From              time.Time
	To                time.Time
	GroupBy           AnalyticsGroupBy
	TopShippersLimit  int
	TransporteurLimit int
	IncludePeriods    bool
}

// KPIMetrics описывает показатели площадки по доставленным мандатам.
type KPIMetrics struct {
	From                   time.Time    `json:"from"`
	To                     time.Time    `json:"to"`
	RevenueTTC             float64      `json:"revenue_ttc"`
	RevenueHT              float64      `json:"revenue_ht"`
	MandatsCount           int          `json:"mandats_count"`
	AvgDeliveryTimeMinutes float64      `json:"avg_delivery_time_minutes"`
	AveragePriceTTC        float64      `json:"average_price_ttc"`
	Currency               string       `json:"currency"`
	TopShippers            []TopShipper `json:"top_shippers"`
	Periods                []KPIPeriod  `json:"periods,omitempty"`
	GeneratedAt            time.Time    `json:"generated_at"`
	GroupBy                string       `json:"group_by,omitempty"`
}

// KPIPeriod хранит агрегированные метрики по периоду.
type KPIPeriod struct {
	Period                 string  `json:"period"`
	RevenueTTC             float64 `json:"revenue_ttc"`
	MandatsCount           int     `json:"mandats_count"`
	AvgDeliveryTimeMinutes float64 `json:"avg_delivery_time_minutes"`
}

// TopShipper описывает экспедитора с наибольшим оборотом.
type TopShipper struct {
	CompanyID    uuid.UUID `json:"company_id"`
	Name         string    `json:"name"`
	MandatsCount int       `json:"mandats_count"`
	RevenueTTC   float64   `json:"revenue_ttc"`
}

// TransporteurAnalytics агрегирует метрики по перевозчикам.
type TransporteurAnalytics struct {
	CompanyID              uuid.UUID `json:"company_id"`
	Name                   string    `json:"name"`
	Deliveries             int       `json:"deliveries"`
	Problems               int       `json:"problems"`
	RevenueTTC             float64   `json:"revenue_ttc"`
	AvgDeliveryTimeMinutes float64   `json:"avg_delivery_time_minutes"`
}

// Valid сообщает, поддерживается ли группировка
func (g AnalyticsGroupBy) Valid() bool {
	switch g {
	case AnalyticsGroupNone, AnalyticsGroupDay, AnalyticsGroupWeek, AnalyticsGroupMonth:
		return true
	}
	return false
}
