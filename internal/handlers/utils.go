package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"freight-market/internal/models"

	"github.com/google/uuid"
)

// Константы
const (
	defaultCacheTTL = 15 * time.Minute
	defaultLimit    = 50
	maxLimit        = 100
)

// ErrorResponse представляет структуру ответа с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSONResponse отправляет JSON ответ
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeErrorResponse отправляет ответ с ошибкой
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	writeJSONResponse(w, statusCode, response)
}

// extractUUIDFromPath извлекает UUID из пути URL
func extractUUIDFromPath(path, prefix string) (uuid.UUID, error) {
	if !strings.HasPrefix(path, prefix) {
		return uuid.Nil, fmt.Errorf("invalid path format")
	}

	// Убираем префикс и получаем ID
	idStr := strings.TrimPrefix(path, prefix)

	// Убираем возможный суффикс (например, /status)
	parts := strings.Split(idStr, "/")
	if len(parts) == 0 {
		return uuid.Nil, fmt.Errorf("missing ID in path")
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	return id, nil
}

// parsePagination читает limit и offset; некорректные значения заменяются значениями по умолчанию
func parsePagination(query url.Values) (int, int) {
	limit := defaultLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxLimit {
			limit = l
		}
	}

	offset := 0
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

type actorKey struct{}

// WithActor кладет профиль пользователя в контекст запроса
func WithActor(ctx context.Context, actor *models.Profile) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom возвращает профиль, положенный IdentityMiddleware
func ActorFrom(ctx context.Context) *models.Profile {
	actor, _ := ctx.Value(actorKey{}).(*models.Profile)
	return actor
}

// requireActor пишет 401, если запрос прошел мимо IdentityMiddleware
func requireActor(w http.ResponseWriter, r *http.Request) (*models.Profile, bool) {
	actor := ActorFrom(r.Context())
	if actor == nil {
		writeErrorResponse(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return actor, true
}
