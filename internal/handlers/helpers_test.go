package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"freight-market/internal/config"
	"freight-market/internal/logger"
	"freight-market/internal/models"
	"freight-market/internal/redis"

	"github.com/google/uuid"
)

func testLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
}

func asActor(req *http.Request, actor *models.Profile) *http.Request {
	return req.WithContext(WithActor(req.Context(), actor))
}

func adminActor() *models.Profile {
	return &models.Profile{UserID: uuid.New(), Email: "admin@freight-market.ch", PlatformAdmin: true}
}

func memberActor(companyID uuid.UUID) *models.Profile {
	role := models.CompanyRoleOwner
	return &models.Profile{UserID: uuid.New(), Email: "owner@example.ch", CompanyID: &companyID, CompanyRole: &role}
}

func testUUID(val string) uuid.UUID {
	id, _ := uuid.Parse(val)
	return id
}

// stubProducer запоминает типы опубликованных событий
type stubProducer struct {
	events []models.EventType
	err    error
}

func (p *stubProducer) record(t models.EventType) error {
	p.events = append(p.events, t)
	return p.err
}

func (p *stubProducer) PublishCompanyRegistered(*models.Company) error {
	return p.record(models.EventTypeCompanyRegistered)
}
func (p *stubProducer) PublishCompanyModerated(*models.Company) error {
	return p.record(models.EventTypeCompanyModerated)
}
func (p *stubProducer) PublishMandatCreated(*models.Mandat) error {
	return p.record(models.EventTypeMandatCreated)
}
func (p *stubProducer) PublishMandatModerated(*models.Mandat, models.MandatStatus) error {
	return p.record(models.EventTypeMandatModerated)
}
func (p *stubProducer) PublishMandatClaimed(*models.Mandat) error {
	return p.record(models.EventTypeMandatClaimed)
}
func (p *stubProducer) PublishMandatStatusChanged(*models.Mandat, models.MandatStatus) error {
	return p.record(models.EventTypeMandatStatusChanged)
}
func (p *stubProducer) PublishMandatCancelled(*models.Mandat, models.MandatStatus) error {
	return p.record(models.EventTypeMandatCancelled)
}
func (p *stubProducer) PublishMemberInvited(*models.Invitation, string) error {
	return p.record(models.EventTypeMemberInvited)
}
func (p *stubProducer) PublishMemberJoined(*models.Profile, string) error {
	return p.record(models.EventTypeMemberJoined)
}

func (p *stubProducer) published(t models.EventType) bool {
	for _, e := range p.events {
		if e == t {
			return true
		}
	}
	return false
}

var _ EventProducer = (*stubProducer)(nil)

// stubRedis хранит значения в памяти в JSON, как настоящий клиент
type stubRedis struct {
	data map[string][]byte
}

func newStubRedis() *stubRedis {
	return &stubRedis{data: make(map[string][]byte)}
}

func (s *stubRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.data[key] = raw
	return nil
}

func (s *stubRedis) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := s.data[key]
	if !ok {
		return redis.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (s *stubRedis) Delete(ctx context.Context, key string) error {
	delete(s.data, key)
	return nil
}

var _ RedisClient = (*stubRedis)(nil)

type stubDistance struct {
	km    float64
	err   error
	calls int
}

func (s *stubDistance) Distance(ctx context.Context, origin, destination string) (float64, error) {
	s.calls++
	return s.km, s.err
}
