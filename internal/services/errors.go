package services

import (
	"errors"

	"freight-market/internal/apperror"
	"freight-market/internal/models"

	"github.com/lib/pq"
)

// isUniqueViolation распознает нарушение уникального индекса Postgres
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireAdmin(actor *models.Profile) error {
	if actor == nil {
		return apperror.Unauthorized("authentication required", nil)
	}
	if !actor.PlatformAdmin {
		return apperror.Forbidden("platform admin required", nil)
	}
	return nil
}

func requireCompany(actor *models.Profile) error {
	if actor == nil {
		return apperror.Unauthorized("authentication required", nil)
	}
	if actor.CompanyID == nil {
		return apperror.Forbidden("user does not belong to a company", nil)
	}
	return nil
}
