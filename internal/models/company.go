package models

import (
	"time"

	"github.com/google/uuid"
)

// CompanyType определяет роль компании на площадке
type CompanyType string

const (
	CompanyTypeExpediteur   CompanyType = "expediteur"
	CompanyTypeTransporteur CompanyType = "transporteur"
)

// Valid проверяет тип компании
func (t CompanyType) Valid() bool {
	return t == CompanyTypeExpediteur || t == CompanyTypeTransporteur
}

// CompanyStatus - статус модерации компании
type CompanyStatus string

const (
	CompanyStatusPending   CompanyStatus = "pending"
	CompanyStatusApproved  CompanyStatus = "approved"
	CompanyStatusRejected  CompanyStatus = "rejected"
	CompanyStatusSuspended CompanyStatus = "suspended"
)

// companyTransitions - допустимые переходы модерации
var companyTransitions = map[CompanyStatus][]CompanyStatus{
	CompanyStatusPending:   {CompanyStatusApproved, CompanyStatusRejected},
	CompanyStatusApproved:  {CompanyStatusSuspended},
	CompanyStatusSuspended: {CompanyStatusApproved},
}

// CanTransitionTo сообщает, разрешен ли переход статуса компании
func (s CompanyStatus) CanTransitionTo(next CompanyStatus) bool {
	for _, allowed := range companyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Company представляет компанию-участника площадки
type Company struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	Name            string        `json:"name" db:"name"`
	Type            CompanyType   `json:"type" db:"type"`
	Status          CompanyStatus `json:"status" db:"status"`
	ContactEmail    string        `json:"contact_email" db:"contact_email"`
	Phone           *string       `json:"phone,omitempty" db:"phone"`
	Address         *string       `json:"address,omitempty" db:"address"`
	VATNumber       *string       `json:"vat_number,omitempty" db:"vat_number"`
	RejectionReason *string       `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// RegisterCompanyRequest - запрос на регистрацию компании
type RegisterCompanyRequest struct {
	Name         string      `json:"name"`
	Type         CompanyType `json:"type"`
	ContactEmail string      `json:"contact_email"`
	Phone        *string     `json:"phone,omitempty"`
	Address      *string     `json:"address,omitempty"`
	VATNumber    *string     `json:"vat_number,omitempty"`
}

// ModerateCompanyRequest - решение администратора по компании
type ModerateCompanyRequest struct {
	Status CompanyStatus `json:"status"`
	Reason *string       `json:"reason,omitempty"`
}

// CompanyFilter - параметры выборки компаний
type CompanyFilter struct {
	Status *CompanyStatus
	Type   *CompanyType
	Limit  int
	Offset int
}
