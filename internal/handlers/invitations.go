package handlers

import (
	"encoding/json"
	"net/http"

	"freight-market/internal/logger"
	"freight-market/internal/models"
)

const invitationsPrefix = "/api/invitations/"

// InvitationHandler обслуживает приглашения в компанию
type InvitationHandler struct {
	service  InvitationService
	producer EventProducer
	log      *logger.Logger
}

// NewInvitationHandler создает обработчик приглашений
func NewInvitationHandler(service InvitationService, producer EventProducer, log *logger.Logger) *InvitationHandler {
	return &InvitationHandler{
		service:  service,
		producer: producer,
		log:      log,
	}
}

// CreateInvitation приглашает пользователя по email (POST /api/companies/{id}/invitations)
func (h *InvitationHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
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

	var req models.CreateInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inv, err := h.service.CreateInvitation(r.Context(), actor, companyID, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create invitation")
		return
	}

	if err := h.producer.PublishMemberInvited(inv, inv.CompanyName); err != nil {
		h.log.WithError(err).Error("Failed to publish member invited event")
	}

	writeJSONResponse(w, http.StatusCreated, inv)
}

// ListInvitations возвращает приглашения компании (GET /api/companies/{id}/invitations)
func (h *InvitationHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
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

	invitations, err := h.service.ListInvitations(r.Context(), actor, companyID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list invitations")
		return
	}

	writeJSONResponse(w, http.StatusOK, invitations)
}

// AcceptInvitation привязывает текущего пользователя к компании
func (h *InvitationHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	token, err := extractUUIDFromPath(r.URL.Path, invitationsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid invitation token")
		return
	}

	profile, inv, err := h.service.AcceptInvitation(r.Context(), actor, token)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to accept invitation")
		return
	}

	if err := h.producer.PublishMemberJoined(profile, inv.CompanyName); err != nil {
		h.log.WithError(err).Error("Failed to publish member joined event")
	}

	writeJSONResponse(w, http.StatusOK, profile)
}

// RevokeInvitation отзывает ожидающее приглашение
func (h *InvitationHandler) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	token, err := extractUUIDFromPath(r.URL.Path, invitationsPrefix)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid invitation token")
		return
	}

	if err := h.service.RevokeInvitation(r.Context(), actor, token); err != nil {
		writeServiceError(w, h.log, err, "Failed to revoke invitation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
