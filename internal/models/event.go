package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType - тип доменного события
type EventType string

const (
	EventTypeCompanyRegistered   EventType = "company.registered"
	EventTypeCompanyModerated    EventType = "company.moderated"
	EventTypeMandatCreated       EventType = "mandat.created"
	EventTypeMandatModerated     EventType = "mandat.moderated"
	EventTypeMandatClaimed       EventType = "mandat.claimed"
	EventTypeMandatStatusChanged EventType = "mandat.status_changed"
	EventTypeMandatCancelled     EventType = "mandat.cancelled"
	EventTypeMemberInvited       EventType = "member.invited"
	EventTypeMemberJoined        EventType = "member.joined"
)

// Event - конверт события в Kafka
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CompanyEventData - данные событий компании
type CompanyEventData struct {
	CompanyID    uuid.UUID     `json:"company_id"`
	Name         string        `json:"name"`
	Type         CompanyType   `json:"type"`
	Status       CompanyStatus `json:"status"`
	ContactEmail string        `json:"contact_email"`
	Reason       *string       `json:"reason,omitempty"`
}

// MandatEventData - данные событий мандата
type MandatEventData struct {
	MandatID              uuid.UUID    `json:"mandat_id"`
	ExpediteurCompanyID   uuid.UUID    `json:"expediteur_company_id"`
	TransporteurCompanyID *uuid.UUID   `json:"transporteur_company_id,omitempty"`
	OldStatus             MandatStatus `json:"old_status,omitempty"`
	NewStatus             MandatStatus `json:"new_status"`
	PickupAddress         string       `json:"pickup_address"`
	DeliveryAddress       string       `json:"delivery_address"`
	PrixEstimeTTC         float64      `json:"prix_estime_ttc"`
	Note                  *string      `json:"note,omitempty"`
}

// MemberEventData - данные событий участников компании
type MemberEventData struct {
	CompanyID   uuid.UUID  `json:"company_id"`
	CompanyName string     `json:"company_name"`
	Email       string     `json:"email"`
	Token       *uuid.UUID `json:"token,omitempty"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
}
