package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"freight-market/internal/logger"
	"freight-market/internal/metrics"
	"freight-market/internal/models"
)

// QuoteHandler считает предварительную цену перевозки
type QuoteHandler struct {
	quotes   QuoteService
	distance DistanceService
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewQuoteHandler создает обработчик расчета. m может быть nil.
func NewQuoteHandler(quotes QuoteService, distance DistanceService, m *metrics.Metrics, log *logger.Logger) *QuoteHandler {
	return &QuoteHandler{
		quotes:   quotes,
		distance: distance,
		metrics:  m,
		log:      log,
	}
}

// CreateQuote считает цену по активному набору тарифов.
// Если distance_km не передан, расстояние считается по адресам.
func (h *QuoteHandler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	distanceKm, ok := resolveDistance(w, r, h.distance, h.log, req.DistanceKm, req.PickupAddress, req.DeliveryAddress)
	if !ok {
		return
	}

	resp, err := h.quotes.Quote(r.Context(), distanceKm, req.SurfaceM2)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to compute quote")
		return
	}

	h.metrics.QuoteComputed(resp.PrixEstimeTTC)
	writeJSONResponse(w, http.StatusOK, resp)
}

// resolveDistance возвращает переданное расстояние или считает его по адресам
func resolveDistance(w http.ResponseWriter, r *http.Request, distance DistanceService, log *logger.Logger, distanceKm *float64, origin, destination string) (float64, bool) {
	if distanceKm != nil {
		return *distanceKm, true
	}
	origin = strings.TrimSpace(origin)
	destination = strings.TrimSpace(destination)
	if origin == "" || destination == "" || distance == nil {
		writeErrorResponse(w, http.StatusBadRequest, "distance_km or both addresses are required")
		return 0, false
	}

	km, err := distance.Distance(r.Context(), origin, destination)
	if err != nil {
		writeServiceError(w, log, err, "Failed to compute distance")
		return 0, false
	}
	return km, true
}
