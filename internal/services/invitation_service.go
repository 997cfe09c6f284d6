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

// InvitationService приглашает пользователей в компании.
type InvitationService struct {
	db       *database.DB
	log      *logger.Logger
	profiles profileInvalidator
	now      func() time.Time
}

// NewInvitationService создает сервис приглашений.
func NewInvitationService(db *database.DB, log *logger.Logger, profiles profileInvalidator) *InvitationService {
	return &InvitationService{
		db:       db,
		log:      log,
		profiles: profiles,
		now:      time.Now,
	}
}

const invitationColumns = `i.id, i.company_id, i.email, i.role, i.token, i.invited_by, i.status,
		       i.expires_at, i.accepted_at, i.created_at, c.name`

// CreateInvitation создает приглашение; доступно владельцу компании и администратору.
func (s *InvitationService) CreateInvitation(ctx context.Context, actor *models.Profile, companyID uuid.UUID, req *models.CreateInvitationRequest) (*models.Invitation, error) {
	if actor == nil {
		return nil, apperror.Unauthorized("authentication required", nil)
	}
	if !actor.PlatformAdmin && !actor.IsOwnerOf(companyID) {
		return nil, apperror.Forbidden("only the company owner can invite members", nil)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, apperror.Validation("email is invalid", err)
	}

	var companyName string
	if err := s.db.QueryRowContext(ctx, `SELECT name FROM companies WHERE id = $1`, companyID).Scan(&companyName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("company not found", err)
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	var member bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE lower(email) = $1 AND company_id IS NOT NULL)`, email).Scan(&member)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if member {
		return nil, apperror.Conflict("user already belongs to a company", nil)
	}

	now := s.now()
	inv := &models.Invitation{
		ID:          uuid.New(),
		CompanyID:   companyID,
		Email:       email,
		Role:        models.CompanyRoleMember,
		Token:       uuid.New(),
		InvitedBy:   actor.UserID,
		Status:      models.InvitationStatusPending,
		ExpiresAt:   now.Add(models.InvitationTTL),
		CreatedAt:   now,
		CompanyName: companyName,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, company_id, email, role, token, invited_by, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inv.ID, inv.CompanyID, inv.Email, inv.Role, inv.Token, inv.InvitedBy, inv.Status, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("a pending invitation already exists for this email", err)
		}
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"invitation_id": inv.ID,
		"company_id":    companyID,
		"email":         email,
	}).Info("Invitation created")
	return inv, nil
}

// ListInvitations возвращает приглашения компании.
func (s *InvitationService) ListInvitations(ctx context.Context, actor *models.Profile, companyID uuid.UUID) ([]*models.Invitation, error) {
	if actor == nil {
		return nil, apperror.Unauthorized("authentication required", nil)
	}
	if !actor.PlatformAdmin && !actor.BelongsTo(companyID) {
		return nil, apperror.Forbidden("not a member of this company", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations i JOIN companies c ON c.id = i.company_id
		WHERE i.company_id = $1
		ORDER BY i.created_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []*models.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}
	return invitations, nil
}

// RevokeInvitation отзывает ожидающее приглашение.
func (s *InvitationService) RevokeInvitation(ctx context.Context, actor *models.Profile, token uuid.UUID) error {
	if actor == nil {
		return apperror.Unauthorized("authentication required", nil)
	}

	var companyID uuid.UUID
	if err := s.db.QueryRowContext(ctx, `SELECT company_id FROM invitations WHERE token = $1`, token).Scan(&companyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("invitation not found", err)
		}
		return fmt.Errorf("failed to get invitation: %w", err)
	}
	if !actor.PlatformAdmin && !actor.IsOwnerOf(companyID) {
		return apperror.Forbidden("only the company owner can revoke invitations", nil)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET status = 'revoked' WHERE token = $1 AND status = 'pending'`, token)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.Conflict("invitation is no longer pending", nil)
	}

	s.log.WithFields(map[string]interface{}{
		"company_id": companyID,
		"token":      token,
	}).Info("Invitation revoked")
	return nil
}

// AcceptInvitation присоединяет пользователя к компании по токену.
func (s *InvitationService) AcceptInvitation(ctx context.Context, actor *models.Profile, token uuid.UUID) (*models.Profile, *models.Invitation, error) {
	if actor == nil {
		return nil, nil, apperror.Unauthorized("authentication required", nil)
	}
	if actor.CompanyID != nil {
		return nil, nil, apperror.Conflict("user already belongs to a company", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inv, err := scanInvitation(tx.QueryRowContext(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations i JOIN companies c ON c.id = i.company_id
		WHERE i.token = $1
		FOR UPDATE OF i
	`, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apperror.NotFound("invitation not found", err)
		}
		return nil, nil, fmt.Errorf("failed to get invitation: %w", err)
	}

	now := s.now()
	switch {
	case inv.Status != models.InvitationStatusPending:
		return nil, nil, apperror.Conflict(fmt.Sprintf("invitation is %s", inv.Status), nil)
	case inv.Expired(now):
		return nil, nil, apperror.Conflict("invitation has expired", nil)
	case !strings.EqualFold(inv.Email, actor.Email):
		return nil, nil, apperror.Forbidden("invitation was sent to another email", nil)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE profiles SET company_id = $1, company_role = $2, updated_at = $3
		WHERE user_id = $4 AND company_id IS NULL
	`, inv.CompanyID, inv.Role, now, actor.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to attach member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil, apperror.Conflict("user already belongs to a company", nil)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE invitations SET status = 'accepted', accepted_at = $1 WHERE id = $2`, now, inv.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	if s.profiles != nil {
		s.profiles.Invalidate(ctx, actor.UserID)
	}

	inv.Status = models.InvitationStatusAccepted
	inv.AcceptedAt = &now

	companyID := inv.CompanyID
	role := inv.Role
	profile := *actor
	profile.CompanyID = &companyID
	profile.CompanyRole = &role

	s.log.WithFields(map[string]interface{}{
		"user_id":    actor.UserID,
		"company_id": companyID,
	}).Info("Invitation accepted")
	return &profile, inv, nil
}

func scanInvitation(row rowScanner) (*models.Invitation, error) {
	inv := &models.Invitation{}
	if err := row.Scan(&inv.ID, &inv.CompanyID, &inv.Email, &inv.Role, &inv.Token, &inv.InvitedBy, &inv.Status,
		&inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt, &inv.CompanyName); err != nil {
		return nil, err
	}
	return inv, nil
}
