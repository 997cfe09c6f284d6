package handlers

import (
	"encoding/json"
	"net/http"

	"freight-market/internal/logger"
	"freight-market/internal/models"

	"github.com/google/uuid"
)

const mandatsPrefix = "/api/mandats/"

// MandatHandler обслуживает жизненный цикл мандатов и витрину
type MandatHandler struct {
	service  MandatService
	distance DistanceService
	producer EventProducer
	log      *logger.Logger
}

// NewMandatHandler создает обработчик мандатов
func NewMandatHandler(service MandatService, distance DistanceService, producer EventProducer, log *logger.Logger) *MandatHandler {
	return &MandatHandler{
		service:  service,
		distance: distance,
		producer: producer,
		log:      log,
	}
}

// CreateMandat создает мандат от имени компании-экспедитора
func (h *MandatHandler) CreateMandat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req models.CreateMandatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	draft := req.Normalize()

	// без расстояния считаем его по адресам; пустые адреса отклонит сервис
	if draft.DistanceKm == nil && draft.PickupAddress != "" && draft.DeliveryAddress != "" {
		km, ok := resolveDistance(w, r, h.distance, h.log, nil, draft.PickupAddress, draft.DeliveryAddress)
		if !ok {
			return
		}
		draft.DistanceKm = &km
	}

	mandat, err := h.service.CreateMandat(r.Context(), actor, draft)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create mandat")
		return
	}

	if err := h.producer.PublishMandatCreated(mandat); err != nil {
		h.log.WithError(err).Error("Failed to publish mandat created event")
	}

	writeJSONResponse(w, http.StatusCreated, mandat)
}

// GetMandat возвращает мандат, если он виден пользователю
func (h *MandatHandler) GetMandat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	mandatID, err := extractUUIDFromPath(r.URL.Path, mandatsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid mandat ID")
		return
	}

	mandat, err := h.service.GetMandat(r.Context(), actor, mandatID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get mandat")
		return
	}

	writeJSONResponse(w, http.StatusOK, mandat)
}

// ListMandats возвращает мандаты компании пользователя (администратору все)
func (h *MandatHandler) ListMandats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := &models.MandatFilter{}
	if statusStr := query.Get("status"); statusStr != "" {
		status := models.MandatStatus(statusStr)
		filter.Status = &status
	}
	if idStr := query.Get("expediteur_company_id"); idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid expediteur company ID")
			return
		}
		filter.ExpediteurCompanyID = &id
	}
	if idStr := query.Get("transporteur_company_id"); idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid transporteur company ID")
			return
		}
		filter.TransporteurCompanyID = &id
	}
	filter.Limit, filter.Offset = parsePagination(query)

	mandats, err := h.service.ListMandats(r.Context(), actor, filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list mandats")
		return
	}

	writeJSONResponse(w, http.StatusOK, mandats)
}

// ListMarketplace возвращает одобренные мандаты, которые еще никто не взял
func (h *MandatHandler) ListMarketplace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	limit, offset := parsePagination(r.URL.Query())
	mandats, err := h.service.ListMarketplace(r.Context(), actor, limit, offset)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list marketplace")
		return
	}

	writeJSONResponse(w, http.StatusOK, mandats)
}

// ModerateMandat одобряет или отклоняет мандат (только администратор)
func (h *MandatHandler) ModerateMandat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	mandatID, err := extractUUIDFromPath(r.URL.Path, mandatsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid mandat ID")
		return
	}

	var req models.ModerateMandatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	mandat, oldStatus, err := h.service.ModerateMandat(r.Context(), actor, mandatID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to moderate mandat")
		return
	}

	if err := h.producer.PublishMandatModerated(mandat, oldStatus); err != nil {
		h.log.WithError(err).Error("Failed to publish mandat moderated event")
	}

	writeJSONResponse(w, http.StatusOK, mandat)
}

// CancelMandat отменяет мандат экспедитором до того, как его взял перевозчик
func (h *MandatHandler) CancelMandat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	mandatID, err := extractUUIDFromPath(r.URL.Path, mandatsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid mandat ID")
		return
	}

	mandat, oldStatus, err := h.service.CancelMandat(r.Context(), actor, mandatID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to cancel mandat")
		return
	}

	if err := h.producer.PublishMandatCancelled(mandat, oldStatus); err != nil {
		h.log.WithError(err).Error("Failed to publish mandat cancelled event")
	}

	writeJSONResponse(w, http.StatusOK, mandat)
}

// ClaimMandat закрепляет мандат за перевозчиком: 200, 409 если уже взят, 404 если недоступен
func (h *MandatHandler) ClaimMandat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	mandatID, err := extractUUIDFromPath(r.URL.Path, mandatsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid mandat ID")
		return
	}

	result, err := h.service.ClaimMandat(r.Context(), actor, mandatID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to claim mandat")
		return
	}

	switch result.Outcome {
	case models.ClaimOutcomeClaimed:
		if err := h.producer.PublishMandatClaimed(result.Mandat); err != nil {
			h.log.WithError(err).Error("Failed to publish mandat claimed event")
		}
		writeJSONResponse(w, http.StatusOK, result)
	case models.ClaimOutcomeAlreadyClaimed:
		writeJSONResponse(w, http.StatusConflict, result)
	default:
		writeJSONResponse(w, http.StatusNotFound, result)
	}
}

// UpdateDeliveryStatus меняет статус доставки (только перевозчик мандата)
func (h *MandatHandler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	mandatID, err := extractUUIDFromPath(r.URL.Path, mandatsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid mandat ID")
		return
	}

	var req models.UpdateDeliveryStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	mandat, oldStatus, err := h.service.UpdateDeliveryStatus(r.Context(), actor, mandatID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update mandat status")
		return
	}

	if err := h.producer.PublishMandatStatusChanged(mandat, oldStatus); err != nil {
		h.log.WithError(err).Error("Failed to publish mandat status changed event")
	}

	h.log.WithFields(map[string]interface{}{
		"mandat_id":  mandatID,
		"new_status": mandat.Status,
	}).Info("Mandat status updated")
	writeJSONResponse(w, http.StatusOK, mandat)
}
