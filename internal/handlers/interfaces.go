package handlers

import (
	"context"
	"time"

	"freight-market/internal/models"

	"github.com/google/uuid"
)

// ----- Pricing -----

type PricingService interface {
	CreatePricingSet(ctx context.Context, actor *models.Profile, req *models.PricingSetRequest) (*models.PricingSet, error)
	UpdatePricingSet(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.PricingSetRequest) (*models.PricingSet, error)
	GetPricingSet(ctx context.Context, id uuid.UUID) (*models.PricingSet, error)
	ListPricingSets(ctx context.Context) ([]*models.PricingSet, error)
	ActivatePricingSet(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.PricingSet, error)
	GetActivePricingSet(ctx context.Context) (*models.PricingSet, error)
}

type QuoteService interface {
	Quote(ctx context.Context, distanceKm, surfaceM2 float64) (*models.QuoteResponse, error)
}

type DistanceService interface {
	Distance(ctx context.Context, origin, destination string) (float64, error)
}

// ----- Companies -----

type CompanyService interface {
	RegisterCompany(ctx context.Context, actor *models.Profile, req *models.RegisterCompanyRequest) (*models.Company, error)
	GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	ListCompanies(ctx context.Context, actor *models.Profile, filter *models.CompanyFilter) ([]*models.Company, error)
	ModerateCompany(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.ModerateCompanyRequest) (*models.Company, error)
}

type InvitationService interface {
	CreateInvitation(ctx context.Context, actor *models.Profile, companyID uuid.UUID, req *models.CreateInvitationRequest) (*models.Invitation, error)
	ListInvitations(ctx context.Context, actor *models.Profile, companyID uuid.UUID) ([]*models.Invitation, error)
	RevokeInvitation(ctx context.Context, actor *models.Profile, token uuid.UUID) error
	AcceptInvitation(ctx context.Context, actor *models.Profile, token uuid.UUID) (*models.Profile, *models.Invitation, error)
}

// ----- Mandats -----

type MandatService interface {
	CreateMandat(ctx context.Context, actor *models.Profile, draft models.MandatDraft) (*models.Mandat, error)
	GetMandat(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.Mandat, error)
	ListMandats(ctx context.Context, actor *models.Profile, filter *models.MandatFilter) ([]*models.Mandat, error)
	ListMarketplace(ctx context.Context, actor *models.Profile, limit, offset int) ([]*models.Mandat, error)
	ModerateMandat(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.ModerateMandatRequest) (*models.Mandat, models.MandatStatus, error)
	CancelMandat(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.Mandat, models.MandatStatus, error)
	ClaimMandat(ctx context.Context, actor *models.Profile, id uuid.UUID) (*models.ClaimResult, error)
	UpdateDeliveryStatus(ctx context.Context, actor *models.Profile, id uuid.UUID, req *models.UpdateDeliveryStatusRequest) (*models.Mandat, models.MandatStatus, error)
}

type EventProducer interface {
	PublishCompanyRegistered(company *models.Company) error
	PublishCompanyModerated(company *models.Company) error
	PublishMandatCreated(m *models.Mandat) error
	PublishMandatModerated(m *models.Mandat, oldStatus models.MandatStatus) error
	PublishMandatClaimed(m *models.Mandat) error
	PublishMandatStatusChanged(m *models.Mandat, oldStatus models.MandatStatus) error
	PublishMandatCancelled(m *models.Mandat, oldStatus models.MandatStatus) error
	PublishMemberInvited(inv *models.Invitation, companyName string) error
	PublishMemberJoined(profile *models.Profile, companyName string) error
}

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
}

// ----- Profiles -----

type ProfileResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID, email string) (*models.Profile, error)
}

type ProfileService interface {
	ProfileResolver
	Me(ctx context.Context, actor *models.Profile) (*models.Me, error)
}

// ----- Dashboard -----

type DashboardProvider interface {
	GetKPIs(ctx context.Context, actor *models.Profile, filter *models.AnalyticsFilter) (*models.KPIMetrics, error)
	GetTransporteurAnalytics(ctx context.Context, actor *models.Profile, filter *models.AnalyticsFilter) ([]*models.TransporteurAnalytics, error)
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}
