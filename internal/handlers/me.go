package handlers

import (
	"net/http"

	"freight-market/internal/logger"
)

// MeHandler отдает профиль текущего пользователя
type MeHandler struct {
	profiles ProfileService
	log      *logger.Logger
}

// NewMeHandler создает обработчик /api/me
func NewMeHandler(profiles ProfileService, log *logger.Logger) *MeHandler {
	return &MeHandler{profiles: profiles, log: log}
}

// Me возвращает профиль и компанию пользователя
func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	me, err := h.profiles.Me(r.Context(), actor)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to load profile")
		return
	}

	writeJSONResponse(w, http.StatusOK, me)
}
