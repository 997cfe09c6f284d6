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
	"freight-market/internal/models"
	"freight-market/internal/quote"
	"freight-market/internal/redis"

	"github.com/google/uuid"
)

const activePricingCacheTTL = 5 * time.Minute

var errNoActivePricingSet = apperror.NotFound("no active pricing set", nil)

// PricingService управляет наборами тарифов и считает предварительные цены.
type PricingService struct {
	db    *database.DB
	redis *redis.Client
	log   *logger.Logger
}

// NewPricingService создаёт сервис тарифов. redisClient может быть nil.
func NewPricingService(db *database.DB, redisClient *redis.Client, log *logger.Logger) *PricingService {
	return &PricingService{
		db:    db,
		redis: redisClient,
		log:   log,
	}
}

const pricingSetColumns = `id, name, version, tarif_km_base_chf, maj_carburant_pct, maj_embouteillage_pct,
		       tva_rate_pct, supplements, is_active, created_at, updated_at`

// CreatePricingSet создаёт неактивный набор тарифов (версия 1).
func (s *PricingService) CreatePricingSet(ctx context.Context, actor *models.Profile, req *models.PricingSetRequest) (*models.PricingSet, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validatePricingSetRequest(req); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	now := time.Now()
	set := &models.PricingSet{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(req.Name),
		Version:     1,
		Variables:   req.Variables,
		Supplements: req.Supplements,
		IsActive:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if set.Supplements == nil {
		set.Supplements = models.Supplements{}
	}

	query := `
		INSERT INTO pricing_sets (id, name, version, tarif_km_base_chf, maj_carburant_pct, maj_embouteillage_pct,
		                          tva_rate_pct, supplements, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query, set.ID, set.Name, set.Version,
		set.Variables.TarifKmBaseCHF, set.Variables.MajCarburantPct, set.Variables.MajEmbouteillagePct,
		set.Variables.TVARatePct, set.Supplements, set.IsActive, set.CreatedAt, set.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create pricing set: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"pricing_set_id": set.ID,
		"name":           set.Name,
	}).Info("Pricing set created")
	return set, nil
}

// UpdatePricingSet изменяет тарифы и увеличивает версию набора.
func (s *PricingService) UpdatePricingSet(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.PricingSetRequest) (*models.PricingSet, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validatePricingSetRequest(req); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	supplements := req.Supplements
	if supplements == nil {
		supplements = models.Supplements{}
	}

	query := `
		UPDATE pricing_sets
		SET name = $1, tarif_km_base_chf = $2, maj_carburant_pct = $3, maj_embouteillage_pct = $4,
		    tva_rate_pct = $5, supplements = $6, version = version + 1, updated_at = $7
		WHERE id = $8
		RETURNING ` + pricingSetColumns

	set, err := scanPricingSet(s.db.QueryRowContext(ctx, query, strings.TrimSpace(req.Name),
		req.Variables.TarifKmBaseCHF, req.Variables.MajCarburantPct, req.Variables.MajEmbouteillagePct,
		req.Variables.TVARatePct, supplements, time.Now(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("pricing set not found", err)
		}
		return nil, fmt.Errorf("failed to update pricing set: %w", err)
	}

	if set.IsActive {
		s.invalidateActive(ctx)
	}

	s.log.WithFields(map[string]interface{}{
		"pricing_set_id": set.ID,
		"version":        set.Version,
	}).Info("Pricing set updated")
	return set, nil
}

// GetPricingSet возвращает набор по ID.
func (s *PricingService) GetPricingSet(ctx context.Context, id uuid.UUID) (*models.PricingSet, error) {
	query := `SELECT ` + pricingSetColumns + ` FROM pricing_sets WHERE id = $1`
	set, err := scanPricingSet(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("pricing set not found", err)
		}
		return nil, fmt.Errorf("failed to get pricing set: %w", err)
	}
	return set, nil
}

// ListPricingSets возвращает все наборы, активный первым.
func (s *PricingService) ListPricingSets(ctx context.Context) ([]*models.PricingSet, error) {
	query := `SELECT ` + pricingSetColumns + ` FROM pricing_sets ORDER BY is_active DESC, updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing sets: %w", err)
	}
	defer rows.Close()

	sets := []*models.PricingSet{}
	for rows.Next() {
		set, err := scanPricingSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pricing set: %w", err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pricing sets: %w", err)
	}
	return sets, nil
}

// ActivatePricingSet делает набор единственным активным в одной транзакции.
func (s *PricingService) ActivatePricingSet(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.PricingSet, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists uuid.UUID
	if err := tx.QueryRowContext(ctx, `SELECT id FROM pricing_sets WHERE id = $1 FOR UPDATE`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("pricing set not found", err)
		}
		return nil, fmt.Errorf("failed to lock pricing set: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE pricing_sets SET is_active = FALSE, updated_at = $1 WHERE is_active AND id <> $2`, now, id); err != nil {
		return nil, fmt.Errorf("failed to deactivate pricing sets: %w", err)
	}

	set, err := scanPricingSet(tx.QueryRowContext(ctx,
		`UPDATE pricing_sets SET is_active = TRUE, updated_at = $1 WHERE id = $2 RETURNING `+pricingSetColumns, now, id))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("another pricing set was activated concurrently", err)
		}
		return nil, fmt.Errorf("failed to activate pricing set: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.invalidateActive(ctx)
	s.log.WithFields(map[string]interface{}{
		"pricing_set_id": set.ID,
		"version":        set.Version,
	}).Info("Pricing set activated")
	return set, nil
}

// GetActivePricingSet возвращает активный набор (с кешем в Redis).
func (s *PricingService) GetActivePricingSet(ctx context.Context) (*models.PricingSet, error) {
	load := func(ctx context.Context) (models.PricingSet, error) {
		query := `SELECT ` + pricingSetColumns + ` FROM pricing_sets WHERE is_active LIMIT 1`
		set, err := scanPricingSet(s.db.QueryRowContext(ctx, query))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.PricingSet{}, errNoActivePricingSet
			}
			return models.PricingSet{}, fmt.Errorf("failed to get active pricing set: %w", err)
		}
		return *set, nil
	}

	if s.redis == nil {
		set, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return &set, nil
	}

	set, err := redis.Remember(ctx, s.redis, redis.GenerateKey(redis.KeyPrefixPricing, "active"), activePricingCacheTTL, load)
	if err != nil {
		return nil, err
	}
	return &set, nil
}

// Quote считает предварительную цену по активному набору.
func (s *PricingService) Quote(ctx context.Context, distanceKm, surfaceM2 float64) (*models.QuoteResponse, error) {
	set, err := s.GetActivePricingSet(ctx)
	if err != nil {
		return nil, err
	}

	res := quote.Calculate(distanceKm, surfaceM2, set.Variables, set.Supplements)
	return &models.QuoteResponse{
		Result:       res,
		DistanceKm:   distanceKm,
		SurfaceM2:    surfaceM2,
		PricingSetID: set.ID,
		Version:      set.Version,
	}, nil
}

func (s *PricingService) invalidateActive(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Delete(ctx, redis.GenerateKey(redis.KeyPrefixPricing, "active")); err != nil {
		s.log.WithError(err).Warn("Failed to invalidate active pricing cache")
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPricingSet(row rowScanner) (*models.PricingSet, error) {
	set := &models.PricingSet{}
	if err := row.Scan(&set.ID, &set.Name, &set.Version,
		&set.Variables.TarifKmBaseCHF, &set.Variables.MajCarburantPct, &set.Variables.MajEmbouteillagePct,
		&set.Variables.TVARatePct, &set.Supplements, &set.IsActive, &set.CreatedAt, &set.UpdatedAt); err != nil {
		return nil, err
	}
	return set, nil
}

func validatePricingSetRequest(req *models.PricingSetRequest) error {
	if req == nil {
		return fmt.Errorf("request body is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}

	vars := map[string]float64{
		"tarif_km_base_chf":     req.Variables.TarifKmBaseCHF,
		"maj_carburant_pct":     req.Variables.MajCarburantPct,
		"maj_embouteillage_pct": req.Variables.MajEmbouteillagePct,
		"tva_rate_pct":          req.Variables.TVARatePct,
	}
	for name, v := range vars {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%s must be a non-negative number", name)
		}
	}

	for i, sup := range req.Supplements {
		if strings.TrimSpace(sup.Nom) == "" {
			return fmt.Errorf("supplement %d: nom is required", i)
		}
		if !sup.Type.Valid() {
			return fmt.Errorf("supplement %d: type must be pct or fixe", i)
		}
		if math.IsNaN(sup.Montant) || math.IsInf(sup.Montant, 0) || sup.Montant < 0 {
			return fmt.Errorf("supplement %d: montant must be a non-negative number", i)
		}
	}
	return nil
}
