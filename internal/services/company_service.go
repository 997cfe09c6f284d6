package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"freight-market/internal/apperror"
	"freight-market/internal/database"
	"freight-market/internal/logger"
	"freight-market/internal/models"

	"github.com/google/uuid"
)

// CompanyService регистрирует и модерирует компании.
type CompanyService struct {
	db       *database.DB
	log      *logger.Logger
	profiles profileInvalidator
}

type profileInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// NewCompanyService создает сервис компаний.
func NewCompanyService(db *database.DB, log *logger.Logger, profiles profileInvalidator) *CompanyService {
	return &CompanyService{
		db:       db,
		log:      log,
		profiles: profiles,
	}
}

const companyColumns = `id, name, type, status, contact_email, phone, address, vat_number, rejection_reason, created_at, updated_at`

// RegisterCompany создает компанию в статусе pending; пользователь становится владельцем.
func (s *CompanyService) RegisterCompany(ctx context.Context, actor *models.Profile, req *models.RegisterCompanyRequest) (*models.Company, error) {
	if actor == nil {
		return nil, apperror.Unauthorized("authentication required", nil)
	}
	if actor.CompanyID != nil {
		return nil, apperror.Conflict("user already belongs to a company", nil)
	}
	if err := validateRegisterCompanyRequest(req); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	now := time.Now()
	company := &models.Company{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(req.Name),
		Type:         req.Type,
		Status:       models.CompanyStatusPending,
		ContactEmail: strings.ToLower(strings.TrimSpace(req.ContactEmail)),
		Phone:        req.Phone,
		Address:      req.Address,
		VATNumber:    req.VATNumber,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO companies (id, name, type, status, contact_email, phone, address, vat_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.ExecContext(ctx, query, company.ID, company.Name, company.Type, company.Status,
		company.ContactEmail, company.Phone, company.Address, company.VATNumber, company.CreatedAt, company.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("company with this name already exists", err)
		}
		return nil, fmt.Errorf("failed to create company: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE profiles SET company_id = $1, company_role = $2, updated_at = $3
		WHERE user_id = $4 AND company_id IS NULL
	`, company.ID, models.CompanyRoleOwner, now, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach owner: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperror.Conflict("user already belongs to a company", nil)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.invalidate(ctx, actor.UserID)

	s.log.WithFields(map[string]interface{}{
		"company_id": company.ID,
		"type":       company.Type,
		"owner_id":   actor.UserID,
	}).Info("Company registered")
	return company, nil
}

// GetCompany возвращает компанию по ID.
func (s *CompanyService) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	company, err := scanCompany(s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("company not found", err)
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return company, nil
}

// ListCompanies возвращает компании с фильтрами (для администратора).
func (s *CompanyService) ListCompanies(ctx context.Context, actor *models.Profile, filter *models.CompanyFilter) ([]*models.Company, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	query := `SELECT ` + companyColumns + ` FROM companies WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argIndex)
		args = append(args, *filter.Type)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	companies := []*models.Company{}
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, company)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate companies: %w", err)
	}
	return companies, nil
}

// ModerateCompany меняет статус компании по решению администратора.
func (s *CompanyService) ModerateCompany(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.ModerateCompanyRequest) (*models.Company, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var reason *string
	switch req.Status {
	case models.CompanyStatusApproved, models.CompanyStatusSuspended:
	case models.CompanyStatusRejected:
		if req.Reason == nil || strings.TrimSpace(*req.Reason) == "" {
			return nil, apperror.Validation("reason is required when rejecting a company", nil)
		}
		trimmed := strings.TrimSpace(*req.Reason)
		reason = &trimmed
	default:
		return nil, apperror.Validation(fmt.Sprintf("invalid company status %q", req.Status), nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current models.CompanyStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM companies WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("company not found", err)
		}
		return nil, fmt.Errorf("failed to lock company: %w", err)
	}

	if !current.CanTransitionTo(req.Status) {
		return nil, apperror.Conflict(fmt.Sprintf("cannot change company status from %s to %s", current, req.Status), nil)
	}

	company, err := scanCompany(tx.QueryRowContext(ctx, `
		UPDATE companies SET status = $1, rejection_reason = $2, updated_at = $3
		WHERE id = $4
		RETURNING `+companyColumns, req.Status, reason, time.Now(), id))
	if err != nil {
		return nil, fmt.Errorf("failed to update company status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"company_id": id,
		"old_status": current,
		"new_status": company.Status,
	}).Info("Company moderated")
	return company, nil
}

func (s *CompanyService) invalidate(ctx context.Context, userID uuid.UUID) {
	if s.profiles != nil {
		s.profiles.Invalidate(ctx, userID)
	}
}

func scanCompany(row rowScanner) (*models.Company, error) {
	c := &models.Company{}
	if err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Status, &c.ContactEmail, &c.Phone, &c.Address,
		&c.VATNumber, &c.RejectionReason, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func validateRegisterCompanyRequest(req *models.RegisterCompanyRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !req.Type.Valid() {
		return fmt.Errorf("type must be expediteur or transporteur")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.ContactEmail)); err != nil {
		return fmt.Errorf("contact_email is invalid")
	}
	return nil
}
