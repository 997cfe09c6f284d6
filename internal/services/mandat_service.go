package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"freight-market/internal/apperror"
	"freight-market/internal/database"
	"freight-market/internal/logger"
	"freight-market/internal/metrics"
	"freight-market/internal/models"
	"freight-market/internal/quote"
	"freight-market/internal/redis"

	"github.com/google/uuid"
)

type activePricingProvider interface {
	GetActivePricingSet(ctx context.Context) (*models.PricingSet, error)
}

const marketplaceCacheTTL = 30 * time.Second

// MandatService управляет жизненным циклом мандатов.
type MandatService struct {
	db      *database.DB
	redis   *redis.Client
	log     *logger.Logger
	pricing activePricingProvider
	metrics *metrics.Metrics
}

// NewMandatService создает сервис мандатов. redisClient и m могут быть nil.
func NewMandatService(db *database.DB, redisClient *redis.Client, log *logger.Logger, pricing activePricingProvider, m *metrics.Metrics) *MandatService {
	return &MandatService{
		db:      db,
		redis:   redisClient,
		log:     log,
		pricing: pricing,
		metrics: m,
	}
}

const mandatColumns = `id, expediteur_company_id, transporteur_company_id, created_by, status,
		       pickup_address, delivery_address, pickup_date, delivery_date, distance_km, surface_m2,
		       weight_kg, description, prix_base_ht, prix_estime_ht, prix_estime_ttc, currency,
		       pricing_set_id, autre_supp, payload, rejection_reason, problem_note,
		       approved_at, claimed_at, delivered_at, created_at, updated_at`

// CreateMandat создает мандат и фиксирует цену по активному набору тарифов.
func (s *MandatService) CreateMandat(ctx context.Context, actor *models.Profile, draft models.MandatDraft) (*models.Mandat, error) {
	if err := requireCompany(actor); err != nil {
		return nil, err
	}
	if err := s.requireApprovedCompany(ctx, *actor.CompanyID, models.CompanyTypeExpediteur); err != nil {
		return nil, err
	}
	if err := validateMandatDraft(draft); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	set, err := s.pricing.GetActivePricingSet(ctx)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return nil, apperror.Validation("no active pricing set, cannot compute price", err)
		}
		return nil, fmt.Errorf("failed to load pricing set: %w", err)
	}

	price := quote.Calculate(*draft.DistanceKm, draft.SurfaceM2, set.Variables, set.Supplements)

	now := time.Now()
	setID := set.ID
	mandat := &models.Mandat{
		ID:                  uuid.New(),
		ExpediteurCompanyID: *actor.CompanyID,
		CreatedBy:           actor.UserID,
		Status:              models.MandatStatusPendingReview,
		PickupAddress:       draft.PickupAddress,
		DeliveryAddress:     draft.DeliveryAddress,
		PickupDate:          draft.PickupDate,
		DeliveryDate:        draft.DeliveryDate,
		DistanceKm:          *draft.DistanceKm,
		SurfaceM2:           draft.SurfaceM2,
		WeightKg:            draft.WeightKg,
		Description:         draft.Description,
		PrixBaseHT:          price.PrixBaseHT,
		PrixEstimeHT:        price.PrixEstimeHT,
		PrixEstimeTTC:       price.PrixEstimeTTC,
		Currency:            price.Currency,
		PricingSetID:        &setID,
		AutreSupp:           append(models.Supplements{}, set.Supplements...),
		Payload:             draft.Extra,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if mandat.Payload == nil {
		mandat.Payload = models.JSONPayload{}
	}

	query := `
		INSERT INTO mandats (id, expediteur_company_id, created_by, status, pickup_address, delivery_address,
		                     pickup_date, delivery_date, distance_km, surface_m2, weight_kg, description,
		                     prix_base_ht, prix_estime_ht, prix_estime_ttc, currency, pricing_set_id,
		                     autre_supp, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err = s.db.ExecContext(ctx, query,
		mandat.ID, mandat.ExpediteurCompanyID, mandat.CreatedBy, mandat.Status,
		mandat.PickupAddress, mandat.DeliveryAddress, mandat.PickupDate, mandat.DeliveryDate,
		mandat.DistanceKm, mandat.SurfaceM2, mandat.WeightKg, mandat.Description,
		mandat.PrixBaseHT, mandat.PrixEstimeHT, mandat.PrixEstimeTTC, mandat.Currency, mandat.PricingSetID,
		mandat.AutreSupp, mandat.Payload, mandat.CreatedAt, mandat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create mandat: %w", err)
	}

	s.metrics.MandatCreated()
	s.log.WithFields(map[string]interface{}{
		"mandat_id":       mandat.ID,
		"company_id":      mandat.ExpediteurCompanyID,
		"pricing_set_id":  setID,
		"prix_estime_ttc": mandat.PrixEstimeTTC,
	}).Info("Mandat created")
	return mandat, nil
}

// GetMandat возвращает мандат, если пользователь имеет к нему доступ.
func (s *MandatService) GetMandat(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.Mandat, error) {
	if actor == nil {
		return nil, apperror.Unauthorized("authentication required", nil)
	}

	mandat, err := s.getMandat(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.PlatformAdmin || actor.BelongsTo(mandat.ExpediteurCompanyID) {
		return mandat, nil
	}
	if mandat.TransporteurCompanyID != nil && actor.BelongsTo(*mandat.TransporteurCompanyID) {
		return mandat, nil
	}
	// открытые предложения видны одобренным перевозчикам
	if mandat.Status == models.MandatStatusApproved && mandat.TransporteurCompanyID == nil && actor.CompanyID != nil {
		if err := s.requireApprovedCompany(ctx, *actor.CompanyID, models.CompanyTypeTransporteur); err == nil {
			return mandat, nil
		}
	}
	// чужие мандаты не раскрываем
	return nil, apperror.NotFound("mandat not found", nil)
}

// ListMandats возвращает мандаты; не-администратор видит только мандаты своей компании.
func (s *MandatService) ListMandats(ctx context.Context, actor *models.Profile, filter *models.MandatFilter) ([]*models.Mandat, error) {
	if actor == nil {
		return nil, apperror.Unauthorized("authentication required", nil)
	}
	if filter == nil {
		filter = &models.MandatFilter{}
	}

	query := `SELECT ` + mandatColumns + ` FROM mandats WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if !actor.PlatformAdmin {
		if actor.CompanyID == nil {
			return nil, apperror.Forbidden("user does not belong to a company", nil)
		}
		query += fmt.Sprintf(" AND (expediteur_company_id = $%d OR transporteur_company_id = $%d)", argIndex, argIndex)
		args = append(args, *actor.CompanyID)
		argIndex++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.ExpediteurCompanyID != nil {
		query += fmt.Sprintf(" AND expediteur_company_id = $%d", argIndex)
		args = append(args, *filter.ExpediteurCompanyID)
		argIndex++
	}
	if filter.TransporteurCompanyID != nil {
		query += fmt.Sprintf(" AND transporteur_company_id = $%d", argIndex)
		args = append(args, *filter.TransporteurCompanyID)
		argIndex++
	}

	query += " ORDER BY created_at DESC"
	query, args = appendPagination(query, args, argIndex, filter.Limit, filter.Offset)

	return s.queryMandats(ctx, query, args...)
}

// ListMarketplace возвращает одобренные мандаты без перевозчика.
func (s *MandatService) ListMarketplace(ctx context.Context, actor *models.Profile, limit, offset int) ([]*models.Mandat, error) {
	if err := requireCompany(actor); err != nil {
		return nil, err
	}
	if !actor.PlatformAdmin {
		if err := s.requireApprovedCompany(ctx, *actor.CompanyID, models.CompanyTypeTransporteur); err != nil {
			return nil, err
		}
	}

	query := `SELECT ` + mandatColumns + ` FROM mandats
		WHERE status = 'approved' AND transporteur_company_id IS NULL
		ORDER BY created_at DESC`
	query, args := appendPagination(query, nil, 1, limit, offset)

	if s.redis == nil {
		return s.queryMandats(ctx, query, args...)
	}
	// права проверены выше, в кеше только общая витрина
	key := redis.GenerateKey(redis.KeyPrefixMandat, fmt.Sprintf("marketplace:%d:%d", limit, offset))
	return redis.Remember(ctx, s.redis, key, marketplaceCacheTTL, func(ctx context.Context) ([]*models.Mandat, error) {
		return s.queryMandats(ctx, query, args...)
	})
}

// ModerateMandat одобряет или отклоняет мандат, ожидающий проверки.
func (s *MandatService) ModerateMandat(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.ModerateMandatRequest) (*models.Mandat, models.MandatStatus, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, "", err
	}

	var reason *string
	switch req.Status {
	case models.MandatStatusApproved:
	case models.MandatStatusRejected:
		if req.Reason == nil || strings.TrimSpace(*req.Reason) == "" {
			return nil, "", apperror.Validation("reason is required when rejecting a mandat", nil)
		}
		trimmed := strings.TrimSpace(*req.Reason)
		reason = &trimmed
	default:
		return nil, "", apperror.Validation("status must be approved or rejected", nil)
	}

	now := time.Now()
	var approvedAt *time.Time
	if req.Status == models.MandatStatusApproved {
		approvedAt = &now
	}

	mandat, err := scanMandat(s.db.QueryRowContext(ctx, `
		UPDATE mandats SET status = $1, rejection_reason = $2, approved_at = $3, updated_at = $4
		WHERE id = $5 AND status = 'pending_review'
		RETURNING `+mandatColumns, req.Status, reason, approvedAt, now, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", s.explainConflict(ctx, id, "mandat is not pending review")
		}
		return nil, "", fmt.Errorf("failed to moderate mandat: %w", err)
	}

	s.invalidateMarketplace(ctx)
	s.log.WithFields(map[string]interface{}{
		"mandat_id":  id,
		"new_status": mandat.Status,
	}).Info("Mandat moderated")
	return mandat, models.MandatStatusPendingReview, nil
}

// CancelMandat отменяет мандат, пока его не взял перевозчик.
func (s *MandatService) CancelMandat(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.Mandat, models.MandatStatus, error) {
	if actor == nil {
		return nil, "", apperror.Unauthorized("authentication required", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		current      models.MandatStatus
		expediteurID uuid.UUID
	)
	err = tx.QueryRowContext(ctx, `SELECT status, expediteur_company_id FROM mandats WHERE id = $1 FOR UPDATE`, id).
		Scan(&current, &expediteurID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", apperror.NotFound("mandat not found", err)
		}
		return nil, "", fmt.Errorf("failed to lock mandat: %w", err)
	}

	if !actor.PlatformAdmin && !actor.BelongsTo(expediteurID) {
		return nil, "", apperror.Forbidden("only the shipper can cancel this mandat", nil)
	}
	if !current.CanTransitionTo(models.MandatStatusCancelled) {
		return nil, "", apperror.Conflict(fmt.Sprintf("cannot cancel mandat in status %s", current), nil)
	}

	mandat, err := scanMandat(tx.QueryRowContext(ctx, `
		UPDATE mandats SET status = 'cancelled', updated_at = $1
		WHERE id = $2 AND transporteur_company_id IS NULL
		RETURNING `+mandatColumns, time.Now(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", apperror.Conflict("mandat already claimed", err)
		}
		return nil, "", fmt.Errorf("failed to cancel mandat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.invalidateMarketplace(ctx)
	s.log.WithFields(map[string]interface{}{
		"mandat_id":  id,
		"old_status": current,
	}).Info("Mandat cancelled")
	return mandat, current, nil
}

// ClaimMandat атомарно закрепляет мандат за компанией-перевозчиком.
// Из двух одновременных попыток успешна ровно одна.
func (s *MandatService) ClaimMandat(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.ClaimResult, error) {
	if err := requireCompany(actor); err != nil {
		return nil, err
	}
	if err := s.requireApprovedCompany(ctx, *actor.CompanyID, models.CompanyTypeTransporteur); err != nil {
		return nil, err
	}

	now := time.Now()
	mandat, err := scanMandat(s.db.QueryRowContext(ctx, `
		UPDATE mandats SET status = 'claimed', transporteur_company_id = $1, claimed_at = $2, updated_at = $2
		WHERE id = $3 AND status = 'approved' AND transporteur_company_id IS NULL
		RETURNING `+mandatColumns, *actor.CompanyID, now, id))
	if err == nil {
		s.metrics.ClaimAttempt(string(models.ClaimOutcomeClaimed))
		s.invalidateMarketplace(ctx)
		s.log.WithFields(map[string]interface{}{
			"mandat_id":  id,
			"company_id": *actor.CompanyID,
		}).Info("Mandat claimed")
		return &models.ClaimResult{Outcome: models.ClaimOutcomeClaimed, Mandat: mandat}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim mandat: %w", err)
	}

	// условие не выполнено: выясняем почему
	var status models.MandatStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM mandats WHERE id = $1`, id).Scan(&status)
	outcome := models.ClaimOutcomeNotFound
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get mandat status: %w", err)
	case status == models.MandatStatusClaimed || status.IsDeliveryStatus():
		outcome = models.ClaimOutcomeAlreadyClaimed
	}

	s.metrics.ClaimAttempt(string(outcome))
	return &models.ClaimResult{Outcome: outcome}, nil
}

// UpdateDeliveryStatus меняет статус доставки; доступно только перевозчику мандата.
func (s *MandatService) UpdateDeliveryStatus(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.UpdateDeliveryStatusRequest) (*models.Mandat, models.MandatStatus, error) {
	if err := requireCompany(actor); err != nil {
		return nil, "", err
	}
	if !req.Status.IsDeliveryStatus() {
		return nil, "", apperror.Validation("status must be in_transit, delivered or delivery_problem", nil)
	}

	var note *string
	if req.Note != nil && strings.TrimSpace(*req.Note) != "" {
		trimmed := strings.TrimSpace(*req.Note)
		note = &trimmed
	}
	if req.Status == models.MandatStatusDeliveryProblem && note == nil {
		return nil, "", apperror.Validation("note is required when reporting a delivery problem", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		current        models.MandatStatus
		transporteurID *uuid.UUID
	)
	err = tx.QueryRowContext(ctx, `SELECT status, transporteur_company_id FROM mandats WHERE id = $1 FOR UPDATE`, id).
		Scan(&current, &transporteurID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", apperror.NotFound("mandat not found", err)
		}
		return nil, "", fmt.Errorf("failed to lock mandat: %w", err)
	}

	if transporteurID == nil || !actor.BelongsTo(*transporteurID) {
		return nil, "", apperror.Forbidden("only the assigned transporteur can update delivery status", nil)
	}
	if !current.CanTransitionTo(req.Status) {
		return nil, "", apperror.Conflict(fmt.Sprintf("cannot change mandat status from %s to %s", current, req.Status), nil)
	}

	now := time.Now()
	var deliveredAt *time.Time
	if req.Status == models.MandatStatusDelivered {
		deliveredAt = &now
	}

	mandat, err := scanMandat(tx.QueryRowContext(ctx, `
		UPDATE mandats SET status = $1, problem_note = COALESCE($2, problem_note),
		       delivered_at = COALESCE($3, delivered_at), updated_at = $4
		WHERE id = $5
		RETURNING `+mandatColumns, req.Status, note, deliveredAt, now, id))
	if err != nil {
		return nil, "", fmt.Errorf("failed to update mandat status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"mandat_id":  id,
		"old_status": current,
		"new_status": mandat.Status,
	}).Info("Mandat delivery status updated")
	return mandat, current, nil
}

func (s *MandatService) invalidateMarketplace(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.DeleteByPrefix(ctx, redis.GenerateKey(redis.KeyPrefixMandat, "marketplace:")); err != nil {
		s.log.WithError(err).Warn("Failed to invalidate marketplace cache")
	}
}

func (s *MandatService) getMandat(ctx context.Context, id uuid.UUID) (*models.Mandat, error) {
	mandat, err := scanMandat(s.db.QueryRowContext(ctx, `SELECT `+mandatColumns+` FROM mandats WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("mandat not found", err)
		}
		return nil, fmt.Errorf("failed to get mandat: %w", err)
	}
	return mandat, nil
}

func (s *MandatService) queryMandats(ctx context.Context, query string, args ...interface{}) ([]*models.Mandat, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mandats: %w", err)
	}
	defer rows.Close()

	mandats := []*models.Mandat{}
	for rows.Next() {
		mandat, err := scanMandat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mandat: %w", err)
		}
		mandats = append(mandats, mandat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mandats: %w", err)
	}
	return mandats, nil
}

// explainConflict отличает отсутствующий мандат от мандата в неподходящем статусе.
func (s *MandatService) explainConflict(ctx context.Context, id uuid.UUID, msg string) error {
	var status models.MandatStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM mandats WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound("mandat not found", err)
	}
	if err != nil {
		return fmt.Errorf("failed to get mandat status: %w", err)
	}
	return apperror.Conflict(fmt.Sprintf("%s (current status %s)", msg, status), nil)
}

func (s *MandatService) requireApprovedCompany(ctx context.Context, companyID uuid.UUID, want models.CompanyType) error {
	var (
		typ    models.CompanyType
		status models.CompanyStatus
	)
	err := s.db.QueryRowContext(ctx, `SELECT type, status FROM companies WHERE id = $1`, companyID).Scan(&typ, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.Forbidden("company not found", err)
		}
		return fmt.Errorf("failed to get company: %w", err)
	}
	if typ != want {
		return apperror.Forbidden(fmt.Sprintf("company must be a %s", want), nil)
	}
	if status != models.CompanyStatusApproved {
		return apperror.Forbidden("company is not approved", nil)
	}
	return nil
}

func appendPagination(query string, args []interface{}, argIndex, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}
	return query, args
}

func scanMandat(row rowScanner) (*models.Mandat, error) {
	m := &models.Mandat{}
	if err := row.Scan(&m.ID, &m.ExpediteurCompanyID, &m.TransporteurCompanyID, &m.CreatedBy, &m.Status,
		&m.PickupAddress, &m.DeliveryAddress, &m.PickupDate, &m.DeliveryDate, &m.DistanceKm, &m.SurfaceM2,
		&m.WeightKg, &m.Description, &m.PrixBaseHT, &m.PrixEstimeHT, &m.PrixEstimeTTC, &m.Currency,
		&m.PricingSetID, &m.AutreSupp, &m.Payload, &m.RejectionReason, &m.ProblemNote,
		&m.ApprovedAt, &m.ClaimedAt, &m.DeliveredAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func validateMandatDraft(d models.MandatDraft) error {
	if d.PickupAddress == "" {
		return fmt.Errorf("pickup_address is required")
	}
	if d.DeliveryAddress == "" {
		return fmt.Errorf("delivery_address is required")
	}
	if d.DistanceKm == nil {
		return fmt.Errorf("distance_km is required")
	}
	if !validNumber(*d.DistanceKm) {
		return fmt.Errorf("distance_km must be a non-negative number")
	}
	if !validNumber(d.SurfaceM2) || d.SurfaceM2 <= 0 {
		return fmt.Errorf("surface_m2 must be greater than 0")
	}
	if d.WeightKg != nil && !validNumber(*d.WeightKg) {
		return fmt.Errorf("weight_kg must be a non-negative number")
	}
	if d.PickupDate != nil && d.DeliveryDate != nil && d.DeliveryDate.Before(*d.PickupDate) {
		return fmt.Errorf("delivery_date must not be before pickup_date")
	}
	return nil
}

func validNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
