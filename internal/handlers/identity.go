package handlers

import (
	"net/http"
	"strings"

	"freight-market/internal/logger"

	"github.com/google/uuid"
)

// Заголовки, которые выставляет шлюз аутентификации
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

// IdentityMiddleware находит профиль по X-User-ID и кладет его в контекст.
// Без заголовка или с некорректным id запрос отклоняется с 401.
func IdentityMiddleware(profiles ProfileResolver, log *logger.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if rawID == "" {
			writeErrorResponse(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		userID, err := uuid.Parse(rawID)
		if err != nil {
			writeErrorResponse(w, http.StatusUnauthorized, "Invalid user ID")
			return
		}

		email := strings.TrimSpace(r.Header.Get(HeaderUserEmail))
		profile, err := profiles.Resolve(r.Context(), userID, email)
		if err != nil {
			writeServiceError(w, log, err, "Failed to resolve user profile")
			return
		}

		next(w, r.WithContext(WithActor(r.Context(), profile)))
	}
}
