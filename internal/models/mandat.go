package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MandatStatus - состояние мандата (заявки на перевозку)
type MandatStatus string

const (
	MandatStatusPendingReview   MandatStatus = "pending_review"
	MandatStatusApproved        MandatStatus = "approved"
	MandatStatusRejected        MandatStatus = "rejected"
	MandatStatusClaimed         MandatStatus = "claimed"
	MandatStatusInTransit       MandatStatus = "in_transit"
	MandatStatusDelivered       MandatStatus = "delivered"
	MandatStatusDeliveryProblem MandatStatus = "delivery_problem"
	MandatStatusCancelled       MandatStatus = "cancelled"
)

// переход approved -> claimed выполняется только через ClaimMandat
var mandatTransitions = map[MandatStatus][]MandatStatus{
	MandatStatusPendingReview:   {MandatStatusApproved, MandatStatusRejected, MandatStatusCancelled},
	MandatStatusApproved:        {MandatStatusClaimed, MandatStatusCancelled},
	MandatStatusClaimed:         {MandatStatusInTransit},
	MandatStatusInTransit:       {MandatStatusDelivered, MandatStatusDeliveryProblem},
	MandatStatusDeliveryProblem: {MandatStatusInTransit, MandatStatusDelivered},
}

// CanTransitionTo сообщает, разрешен ли переход
func (s MandatStatus) CanTransitionTo(next MandatStatus) bool {
	for _, allowed := range mandatTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsDeliveryStatus - статусы, которые выставляет перевозчик
func (s MandatStatus) IsDeliveryStatus() bool {
	switch s {
	case MandatStatusInTransit, MandatStatusDelivered, MandatStatusDeliveryProblem:
		return true
	}
	return false
}

// Terminal сообщает, что дальнейшие переходы невозможны
func (s MandatStatus) Terminal() bool {
	return len(mandatTransitions[s]) == 0
}

// JSONPayload - произвольный json-объект, хранится в jsonb
type JSONPayload map[string]interface{}

// Value сериализует payload
func (p JSONPayload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(p))
}

// Scan читает payload из jsonb
func (p *JSONPayload) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = JSONPayload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported payload type %T", src)
	}
	out := JSONPayload{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	*p = out
	return nil
}

// Mandat - каноническая запись заявки на перевозку
type Mandat struct {
	ID                    uuid.UUID    `json:"id" db:"id"`
	ExpediteurCompanyID   uuid.UUID    `json:"expediteur_company_id" db:"expediteur_company_id"`
	TransporteurCompanyID *uuid.UUID   `json:"transporteur_company_id,omitempty" db:"transporteur_company_id"`
	CreatedBy             uuid.UUID    `json:"created_by" db:"created_by"`
	Status                MandatStatus `json:"status" db:"status"`
	PickupAddress         string       `json:"pickup_address" db:"pickup_address"`
	DeliveryAddress       string       `json:"delivery_address" db:"delivery_address"`
	PickupDate            *time.Time   `json:"pickup_date,omitempty" db:"pickup_date"`
	DeliveryDate          *time.Time   `json:"delivery_date,omitempty" db:"delivery_date"`
	DistanceKm            float64      `json:"distance_km" db:"distance_km"`
	SurfaceM2             float64      `json:"surface_m2" db:"surface_m2"`
	WeightKg              *float64     `json:"weight_kg,omitempty" db:"weight_kg"`
	Description           string       `json:"description" db:"description"`
	PrixBaseHT            float64      `json:"prix_base_ht" db:"prix_base_ht"`
	PrixEstimeHT          float64      `json:"prix_estime_ht" db:"prix_estime_ht"`
	PrixEstimeTTC         float64      `json:"prix_estime_ttc" db:"prix_estime_ttc"`
	Currency              string       `json:"currency" db:"currency"`
	PricingSetID          *uuid.UUID   `json:"pricing_set_id,omitempty" db:"pricing_set_id"`
	AutreSupp             Supplements  `json:"autre_supp" db:"autre_supp"`
	Payload               JSONPayload  `json:"payload,omitempty" db:"payload"`
	RejectionReason       *string      `json:"rejection_reason,omitempty" db:"rejection_reason"`
	ProblemNote           *string      `json:"problem_note,omitempty" db:"problem_note"`
	ApprovedAt            *time.Time   `json:"approved_at,omitempty" db:"approved_at"`
	ClaimedAt             *time.Time   `json:"claimed_at,omitempty" db:"claimed_at"`
	DeliveredAt           *time.Time   `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt             time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at" db:"updated_at"`
}

// CreateMandatRequest - запрос на создание мандата.
// Старые клиенты присылают часть полей только в payload.
type CreateMandatRequest struct {
	PickupAddress   *string                `json:"pickup_address,omitempty"`
	DeliveryAddress *string                `json:"delivery_address,omitempty"`
	PickupDate      *time.Time             `json:"pickup_date,omitempty"`
	DeliveryDate    *time.Time             `json:"delivery_date,omitempty"`
	DistanceKm      *float64               `json:"distance_km,omitempty"`
	SurfaceM2       *float64               `json:"surface_m2,omitempty"`
	WeightKg        *float64               `json:"weight_kg,omitempty"`
	Description     *string                `json:"description,omitempty"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
}

// MandatDraft - нормализованные данные нового мандата
type MandatDraft struct {
	PickupAddress   string
	DeliveryAddress string
	PickupDate      *time.Time
	DeliveryDate    *time.Time
	DistanceKm      *float64
	SurfaceM2       float64
	WeightKg        *float64
	Description     string
	Extra           JSONPayload
}

// ключи payload, которые переносятся в типизированные поля
var (
	payloadPickupKeys      = []string{"pickup_address", "adresse_depart", "depart"}
	payloadDeliveryKeys    = []string{"delivery_address", "adresse_arrivee", "arrivee"}
	payloadPickupDateKeys  = []string{"pickup_date", "date_enlevement"}
	payloadDeliveryDateKey = []string{"delivery_date", "date_livraison"}
	payloadDistanceKeys    = []string{"distance_km", "distance"}
	payloadSurfaceKeys     = []string{"surface_m2", "surface"}
	payloadWeightKeys      = []string{"weight_kg", "poids_kg", "poids"}
	payloadDescriptionKeys = []string{"description", "remarques"}
)

// Normalize сводит типизированные поля и payload в один MandatDraft:
// типизированное поле, если задано, иначе значение из payload.
// Распознанные ключи удаляются из Extra.
func (r *CreateMandatRequest) Normalize() MandatDraft {
	extra := JSONPayload{}
	for k, v := range r.Payload {
		extra[k] = v
	}

	d := MandatDraft{
		PickupAddress:   strings.TrimSpace(pickString(r.PickupAddress, extra, payloadPickupKeys)),
		DeliveryAddress: strings.TrimSpace(pickString(r.DeliveryAddress, extra, payloadDeliveryKeys)),
		PickupDate:      pickTime(r.PickupDate, extra, payloadPickupDateKeys),
		DeliveryDate:    pickTime(r.DeliveryDate, extra, payloadDeliveryDateKey),
		DistanceKm:      pickFloat(r.DistanceKm, extra, payloadDistanceKeys),
		WeightKg:        pickFloat(r.WeightKg, extra, payloadWeightKeys),
		Description:     strings.TrimSpace(pickString(r.Description, extra, payloadDescriptionKeys)),
	}
	if s := pickFloat(r.SurfaceM2, extra, payloadSurfaceKeys); s != nil {
		d.SurfaceM2 = *s
	}
	d.Extra = extra
	return d
}

func pickString(typed *string, payload JSONPayload, keys []string) string {
	found := ""
	for _, k := range keys {
		v, ok := payload[k]
		if !ok {
			continue
		}
		delete(payload, k)
		if s, ok := v.(string); ok && found == "" && strings.TrimSpace(s) != "" {
			found = s
		}
	}
	if typed != nil && strings.TrimSpace(*typed) != "" {
		return *typed
	}
	return found
}

func pickFloat(typed *float64, payload JSONPayload, keys []string) *float64 {
	var found *float64
	for _, k := range keys {
		v, ok := payload[k]
		if !ok {
			continue
		}
		delete(payload, k)
		if found != nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			f := n
			found = &f
		case json.Number:
			if f, err := n.Float64(); err == nil {
				found = &f
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				found = &f
			}
		}
	}
	if typed != nil {
		return typed
	}
	return found
}

func pickTime(typed *time.Time, payload JSONPayload, keys []string) *time.Time {
	var found *time.Time
	for _, k := range keys {
		v, ok := payload[k]
		if !ok {
			continue
		}
		delete(payload, k)
		s, ok := v.(string)
		if !ok || found != nil {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				found = &t
				break
			}
		}
	}
	if typed != nil {
		return typed
	}
	return found
}

// ModerateMandatRequest - решение администратора по мандату
type ModerateMandatRequest struct {
	Status MandatStatus `json:"status"`
	Reason *string      `json:"reason,omitempty"`
}

// UpdateDeliveryStatusRequest - смена статуса доставки перевозчиком
type UpdateDeliveryStatusRequest struct {
	Status MandatStatus `json:"status"`
	Note   *string      `json:"note,omitempty"`
}

// ClaimOutcome - исход попытки взять мандат
type ClaimOutcome string

const (
	ClaimOutcomeClaimed        ClaimOutcome = "claimed"
	ClaimOutcomeAlreadyClaimed ClaimOutcome = "already_claimed"
	ClaimOutcomeNotFound       ClaimOutcome = "not_found"
)

// ClaimResult - результат атомарного захвата мандата
type ClaimResult struct {
	Outcome ClaimOutcome `json:"outcome"`
	Mandat  *Mandat      `json:"mandat,omitempty"`
}

// MandatFilter - параметры выборки мандатов
type MandatFilter struct {
	Status                *MandatStatus
	ExpediteurCompanyID   *uuid.UUID
	TransporteurCompanyID *uuid.UUID
	Limit                 int
	Offset                int
}
