package handlers

import (
	"encoding/json"
	"net/http"

	"freight-market/internal/logger"
	"freight-market/internal/models"
	"freight-market/internal/redis"

	"github.com/google/uuid"
)

const companiesPrefix = "/api/companies/"

// CompanyHandler обслуживает регистрацию и модерацию компаний
type CompanyHandler struct {
	service     CompanyService
	producer    EventProducer
	redisClient RedisClient
	log         *logger.Logger
}

// NewCompanyHandler создает обработчик компаний
func NewCompanyHandler(service CompanyService, producer EventProducer, redisClient RedisClient, log *logger.Logger) *CompanyHandler {
	return &CompanyHandler{
		service:     service,
		producer:    producer,
		redisClient: redisClient,
		log:         log,
	}
}

// RegisterCompany регистрирует компанию; пользователь становится ее владельцем
func (h *CompanyHandler) RegisterCompany(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.RegisterCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	company, err := h.service.RegisterCompany(r.Context(), actor, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to register company")
		return
	}

	if err := h.producer.PublishCompanyRegistered(company); err != nil {
		h.log.WithError(err).Error("Failed to publish company registered event")
	}

	writeJSONResponse(w, http.StatusCreated, company)
}

// GetCompany возвращает компанию по ID
func (h *CompanyHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	companyID, err := extractUUIDFromPath(r.URL.Path, companiesPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid company ID")
		return
	}

	cacheKey := redis.GenerateKey(redis.KeyPrefixCompany, companyID.String())
	var cached models.Company
	if err := h.redisClient.Get(r.Context(), cacheKey, &cached); err == nil {
		h.log.WithField("company_id", companyID).Debug("Company retrieved from cache")
		writeJSONResponse(w, http.StatusOK, &cached)
		return
	}

	company, err := h.service.GetCompany(r.Context(), companyID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get company")
		return
	}

	if err := h.redisClient.Set(r.Context(), cacheKey, company, defaultCacheTTL); err != nil {
		h.log.WithError(err).Error("Failed to cache company")
	}

	writeJSONResponse(w, http.StatusOK, company)
}

// ListCompanies возвращает компании с фильтрами status и type (только администратор)
func (h *CompanyHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := &models.CompanyFilter{}
	if statusStr := query.Get("status"); statusStr != "" {
		status := models.CompanyStatus(statusStr)
		filter.Status = &status
	}
	if typeStr := query.Get("type"); typeStr != "" {
		companyType := models.CompanyType(typeStr)
		if !companyType.Valid() {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid company type")
			return
		}
		filter.Type = &companyType
	}
	filter.Limit, filter.Offset = parsePagination(query)

	companies, err := h.service.ListCompanies(r.Context(), actor, filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list companies")
		return
	}

	writeJSONResponse(w, http.StatusOK, companies)
}

// ModerateCompany меняет статус компании (только администратор)
func (h *CompanyHandler) ModerateCompany(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	companyID, err := extractUUIDFromPath(r.URL.Path, companiesPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid company ID")
		return
	}

	var req models.ModerateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	company, err := h.service.ModerateCompany(r.Context(), actor, companyID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to moderate company")
		return
	}

	if err := h.producer.PublishCompanyModerated(company); err != nil {
		h.log.WithError(err).Error("Failed to publish company moderated event")
	}
	h.invalidate(r, companyID)

	writeJSONResponse(w, http.StatusOK, company)
}

func (h *CompanyHandler) invalidate(r *http.Request, companyID uuid.UUID) {
	cacheKey := redis.GenerateKey(redis.KeyPrefixCompany, companyID.String())
	if err := h.redisClient.Delete(r.Context(), cacheKey); err != nil {
		h.log.WithError(err).Error("Failed to invalidate company cache")
	}
}
