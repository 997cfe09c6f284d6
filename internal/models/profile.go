package models

import "github.com/google/uuid"

// CompanyRole - роль пользователя внутри компании
type CompanyRole string

const (
	CompanyRoleOwner  CompanyRole = "owner"
	CompanyRoleMember CompanyRole = "member"
)

// Profile - профиль пользователя, привязанный к компании
type Profile struct {
	UserID        uuid.UUID    `json:"user_id" db:"user_id"`
	Email         string       `json:"email" db:"email"`
	FullName      string       `json:"full_name" db:"full_name"`
	CompanyID     *uuid.UUID   `json:"company_id,omitempty" db:"company_id"`
	CompanyRole   *CompanyRole `json:"company_role,omitempty" db:"company_role"`
	PlatformAdmin bool         `json:"platform_admin" db:"platform_admin"`
}

// BelongsTo проверяет принадлежность профиля компании
func (p *Profile) BelongsTo(companyID uuid.UUID) bool {
	return p != nil && p.CompanyID != nil && *p.CompanyID == companyID
}

// IsOwnerOf проверяет, что пользователь владелец компании
func (p *Profile) IsOwnerOf(companyID uuid.UUID) bool {
	return p.BelongsTo(companyID) && p.CompanyRole != nil && *p.CompanyRole == CompanyRoleOwner
}

// Me - ответ /api/me: профиль и компания пользователя
type Me struct {
	Profile *Profile `json:"profile"`
	Company *Company `json:"company,omitempty"`
}
