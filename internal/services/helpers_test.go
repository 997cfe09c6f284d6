package services

import (
	"testing"

	"freight-market/internal/config"
	"freight-market/internal/database"
	"freight-market/internal/logger"
	"freight-market/internal/models"
	"freight-market/internal/redis"

	"github.com/DATA-DOG/go-sqlmock"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
}

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &database.DB{DB: db}, mock
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.Connect(&config.RedisConfig{Host: "127.0.0.1", Port: mr.Port()}, newTestLogger())
	if err != nil {
		t.Fatalf("failed to connect redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func adminProfile() *models.Profile {
	return &models.Profile{UserID: uuid.New(), Email: "admin@freight-market.ch", PlatformAdmin: true}
}

func memberOf(companyID uuid.UUID, role models.CompanyRole) *models.Profile {
	id := companyID
	r := role
	return &models.Profile{UserID: uuid.New(), Email: "user@example.ch", CompanyID: &id, CompanyRole: &r}
}
