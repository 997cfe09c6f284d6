package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus - статус приглашения в компанию
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusRevoked  InvitationStatus = "revoked"
)

// InvitationTTL - срок действия приглашения
const InvitationTTL = 7 * 24 * time.Hour

// Invitation - приглашение пользователя в компанию
type Invitation struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	CompanyID  uuid.UUID        `json:"company_id" db:"company_id"`
	Email      string           `json:"email" db:"email"`
	Role       CompanyRole      `json:"role" db:"role"`
	Token      uuid.UUID        `json:"token" db:"token"`
	InvitedBy  uuid.UUID        `json:"invited_by" db:"invited_by"`
	Status     InvitationStatus `json:"status" db:"status"`
	ExpiresAt  time.Time        `json:"expires_at" db:"expires_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`

	CompanyName string `json:"company_name,omitempty" db:"-"`
}

// Expired проверяет срок действия на момент now
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// CreateInvitationRequest - запрос на приглашение
type CreateInvitationRequest struct {
	Email string `json:"email"`
}
