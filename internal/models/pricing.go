package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"freight-market/internal/quote"

	"github.com/google/uuid"
)

// Supplements - список надбавок, хранится в jsonb
type Supplements []quote.Supplement

// Value сериализует надбавки для записи в jsonb
func (s Supplements) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]quote.Supplement(s))
}

// Scan читает надбавки из jsonb
func (s *Supplements) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = Supplements{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported supplements type %T", src)
	}
	var out []quote.Supplement
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode supplements: %w", err)
	}
	*s = out
	return nil
}

// PricingSet - именованный версионируемый набор тарифов
type PricingSet struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Version     int             `json:"version" db:"version"`
	Variables   quote.Variables `json:"variables"`
	Supplements Supplements     `json:"supplements" db:"supplements"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// PricingSetRequest - тело запроса на создание или изменение набора
type PricingSetRequest struct {
	Name        string          `json:"name"`
	Variables   quote.Variables `json:"variables"`
	Supplements Supplements     `json:"supplements"`
}

// QuoteRequest - запрос предварительного расчета
type QuoteRequest struct {
	DistanceKm      *float64 `json:"distance_km,omitempty"`
	SurfaceM2       float64  `json:"surface_m2"`
	PickupAddress   string   `json:"pickup_address,omitempty"`
	DeliveryAddress string   `json:"delivery_address,omitempty"`
}

// QuoteResponse - результат расчета с указанием использованного набора
type QuoteResponse struct {
	quote.Result
	DistanceKm   float64   `json:"distance_km"`
	SurfaceM2    float64   `json:"surface_m2"`
	PricingSetID uuid.UUID `json:"pricing_set_id"`
	Version      int       `json:"pricing_set_version"`
}
