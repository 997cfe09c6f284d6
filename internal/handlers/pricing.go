package handlers

import (
	"encoding/json"
	"net/http"

	"freight-market/internal/logger"
	"freight-market/internal/models"
)

const pricingSetsPrefix = "/api/pricing-sets/"

// PricingHandler управляет наборами тарифов
type PricingHandler struct {
	service PricingService
	log     *logger.Logger
}

// NewPricingHandler создает обработчик наборов тарифов
func NewPricingHandler(service PricingService, log *logger.Logger) *PricingHandler {
	return &PricingHandler{
		service: service,
		log:     log,
	}
}

// CreatePricingSet создает новый неактивный набор
func (h *PricingHandler) CreatePricingSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.PricingSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	set, err := h.service.CreatePricingSet(r.Context(), actor, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create pricing set")
		return
	}

	writeJSONResponse(w, http.StatusCreated, set)
}

// ListPricingSets возвращает все наборы
func (h *PricingHandler) ListPricingSets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sets, err := h.service.ListPricingSets(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list pricing sets")
		return
	}

	writeJSONResponse(w, http.StatusOK, sets)
}

// GetPricingSet возвращает набор по ID
func (h *PricingHandler) GetPricingSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id, err := extractUUIDFromPath(r.URL.Path, pricingSetsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid pricing set ID")
		return
	}

	set, err := h.service.GetPricingSet(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get pricing set")
		return
	}

	writeJSONResponse(w, http.StatusOK, set)
}

// UpdatePricingSet изменяет набор и повышает его версию
func (h *PricingHandler) UpdatePricingSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, err := extractUUIDFromPath(r.URL.Path, pricingSetsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid pricing set ID")
		return
	}

	var req models.PricingSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	set, err := h.service.UpdatePricingSet(r.Context(), actor, id, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update pricing set")
		return
	}

	writeJSONResponse(w, http.StatusOK, set)
}

// ActivatePricingSet делает набор единственным активным
func (h *PricingHandler) ActivatePricingSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, err := extractUUIDFromPath(r.URL.Path, pricingSetsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid pricing set ID")
		return
	}

	set, err := h.service.ActivatePricingSet(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to activate pricing set")
		return
	}

	h.log.WithFields(map[string]interface{}{
		"pricing_set_id": set.ID,
		"version":        set.Version,
	}).Info("Pricing set activated")
	writeJSONResponse(w, http.StatusOK, set)
}

// GetActivePricingSet возвращает текущий активный набор
func (h *PricingHandler) GetActivePricingSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	set, err := h.service.GetActivePricingSet(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get active pricing set")
		return
	}

	writeJSONResponse(w, http.StatusOK, set)
}
