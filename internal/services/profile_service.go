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
	"freight-market/internal/config"
	"freight-market/internal/database"
	"freight-market/internal/logger"
	"freight-market/internal/models"
	"freight-market/internal/redis"

	"github.com/google/uuid"
)

const defaultProfileCacheTTL = 5 * time.Minute

// ProfileService находит профиль пользователя по идентификатору от шлюза авторизации.
// Профили кешируются в Redis; кеш сбрасывается при смене компании.
type ProfileService struct {
	db    *database.DB
	redis *redis.Client
	log   *logger.Logger
	ttl   time.Duration
}

// NewProfileService создает сервис профилей. redisClient может быть nil.
func NewProfileService(db *database.DB, redisClient *redis.Client, log *logger.Logger, cfg *config.ProfileConfig) *ProfileService {
	ttl := defaultProfileCacheTTL
	if cfg != nil && cfg.CacheTTLSeconds > 0 {
		ttl = time.Duration(cfg.CacheTTLSeconds) * time.Second
	}
	return &ProfileService{
		db:    db,
		redis: redisClient,
		log:   log,
		ttl:   ttl,
	}
}

const profileColumns = `user_id, email, full_name, company_id, company_role, platform_admin`

// Resolve возвращает профиль; при первом входе профиль создается по email.
func (s *ProfileService) Resolve(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	if userID == uuid.Nil {
		return nil, apperror.Unauthorized("authentication required", nil)
	}

	load := func(ctx context.Context) (models.Profile, error) {
		profile, err := s.loadOrCreate(ctx, userID, email)
		if err != nil {
			return models.Profile{}, err
		}
		return *profile, nil
	}

	if s.redis == nil {
		profile, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return &profile, nil
	}

	profile, err := redis.Remember(ctx, s.redis, s.cacheKey(userID), s.ttl, load)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Invalidate сбрасывает кеш профиля.
func (s *ProfileService) Invalidate(ctx context.Context, userID uuid.UUID) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Delete(ctx, s.cacheKey(userID)); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate profile cache")
	}
}

// Me возвращает профиль вместе с компанией пользователя.
func (s *ProfileService) Me(ctx context.Context, actor *models.Profile) (*models.Me, error) {
	if actor == nil {
		return nil, apperror.Unauthorized("authentication required", nil)
	}

	me := &models.Me{Profile: actor}
	if actor.CompanyID == nil {
		return me, nil
	}

	company, err := scanCompany(s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, *actor.CompanyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return me, nil
		}
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	me.Company = company
	return me, nil
}

func (s *ProfileService) loadOrCreate(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error) {
	profile, err := scanProfile(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperror.Unauthorized("unknown user", nil)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperror.Validation("user email is invalid", err)
	}

	now := time.Now()
	profile = &models.Profile{UserID: userID, Email: email}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, email, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Conflict("email is already used by another user", err)
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"user_id": userID,
		"email":   email,
	}).Info("Profile created")
	return profile, nil
}

func (s *ProfileService) cacheKey(userID uuid.UUID) string {
	return redis.GenerateKey(redis.KeyPrefixProfile, userID.String())
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	p := &models.Profile{}
	if err := row.Scan(&p.UserID, &p.Email, &p.FullName, &p.CompanyID, &p.CompanyRole, &p.PlatformAdmin); err != nil {
		return nil, err
	}
	return p, nil
}
