package services

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"freight-market/internal/apperror"
	"freight-market/internal/config"
	"freight-market/internal/logger"
	"freight-market/internal/redis"
)

const (
	distanceCacheTTL = 24 * time.Hour
	// оценка вместо ответа Google живет недолго, чтобы провайдер опрашивался снова
	fallbackCacheTTL = 10 * time.Minute
)

// границы Швейцарии для офлайн-оценки
const (
	swissMinLat = 45.8
	swissMaxLat = 47.8
	swissMinLon = 5.9
	swissMaxLon = 10.5
)

// DistanceService считает дорожное расстояние между адресами с кешем в Redis.
type DistanceService struct {
	redis  *redis.Client
	log    *logger.Logger
	client *http.Client
	cfg    *config.DistanceConfig
}

// NewDistanceService создает сервис расстояний. redisClient может быть nil.
func NewDistanceService(redisClient *redis.Client, log *logger.Logger, cfg *config.DistanceConfig) *DistanceService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DistanceService{
		redis:  redisClient,
		log:    log,
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
	}
}

// Distance возвращает расстояние в километрах.
// Если Google недоступен, используется детерминированная офлайн-оценка.
func (s *DistanceService) Distance(ctx context.Context, origin, destination string) (float64, error) {
	origin = strings.TrimSpace(origin)
	destination = strings.TrimSpace(destination)
	if origin == "" || destination == "" {
		return 0, apperror.Validation("pickup and delivery addresses are required to compute distance", nil)
	}

	if s.redis == nil {
		km, _ := s.resolve(ctx, origin, destination)
		return km, nil
	}

	key := redis.GenerateKey(redis.KeyPrefixDistance, hashKey(strings.ToLower(origin)+"|"+strings.ToLower(destination)))
	var cached float64
	err := s.redis.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !redis.IsMiss(err) {
		s.log.WithError(err).WithField("key", key).Warn("Distance cache read failed")
	}

	km, ttl := s.resolve(ctx, origin, destination)
	if err := s.redis.Set(ctx, key, km, ttl); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("Failed to cache distance")
	}
	return km, nil
}

// resolve возвращает расстояние и срок, на который его можно кешировать.
func (s *DistanceService) resolve(ctx context.Context, origin, destination string) (float64, time.Duration) {
	if !strings.EqualFold(s.cfg.Provider, "google") || s.cfg.GoogleAPIKey == "" {
		return s.offlineDistance(origin, destination), distanceCacheTTL
	}

	km, err := s.googleDistance(ctx, origin, destination)
	if err == nil {
		return km, distanceCacheTTL
	}
	s.log.WithError(err).WithFields(map[string]interface{}{
		"origin":      origin,
		"destination": destination,
	}).Warn("Google distance failed, fallback to offline")
	return s.offlineDistance(origin, destination), fallbackCacheTTL
}

// googleDistance вызывает Distance Matrix API.
func (s *DistanceService) googleDistance(ctx context.Context, origin, destination string) (float64, error) {
	params := url.Values{}
	params.Set("key", s.cfg.GoogleAPIKey)
	params.Set("origins", origin)
	params.Set("destinations", destination)
	params.Set("units", "metric")
	params.Set("region", "ch")

	endpoint := s.cfg.GoogleBaseURL
	if endpoint == "" {
		endpoint = "https://maps.googleapis.com/maps/api/distancematrix/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call distance matrix: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("distance matrix returned status %d: %s", resp.StatusCode, string(body))
	}

	var data distanceMatrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, fmt.Errorf("failed to decode distance matrix response: %w", err)
	}

	meters, err := data.firstDistance()
	if err != nil {
		return 0, err
	}
	return float64(meters) / 1000, nil
}

type distanceMatrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance struct {
				Value int64 `json:"value"`
			} `json:"distance"`
		} `json:"elements"`
	} `json:"rows"`
}

func (r *distanceMatrixResponse) firstDistance() (int64, error) {
	if r.Status != "OK" {
		return 0, fmt.Errorf("distance matrix status %q", r.Status)
	}
	if len(r.Rows) == 0 || len(r.Rows[0].Elements) == 0 {
		return 0, fmt.Errorf("distance matrix returned no elements")
	}
	el := r.Rows[0].Elements[0]
	if el.Status != "OK" {
		return 0, fmt.Errorf("distance matrix element status %q", el.Status)
	}
	return el.Distance.Value, nil
}

// offlineDistance - прямая между псевдо-координатами с поправкой на дороги.
func (s *DistanceService) offlineDistance(origin, destination string) float64 {
	if strings.EqualFold(origin, destination) {
		return 0
	}
	lat1, lon1 := hashToCoordinates(origin)
	lat2, lon2 := hashToCoordinates(destination)

	factor := s.cfg.DetourFactor
	if factor <= 0 {
		factor = 1
	}
	return haversineKm(lat1, lon1, lat2, lon2) * factor
}

// hashToCoordinates детерминированно отображает адрес в точку внутри Швейцарии.
func hashToCoordinates(address string) (float64, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(address)))
	val := h.Sum64()

	latSteps := uint64((swissMaxLat - swissMinLat) * 1000)
	lonSteps := uint64((swissMaxLon - swissMinLon) * 1000)

	lat := swissMinLat + float64(val%latSteps)/1000.0 // шаг 0.001 градуса
	lon := swissMinLon + float64((val/latSteps)%lonSteps)/1000.0

	return lat, lon
}

// haversineKm вычисляет расстояние между двумя точками по формуле гаверсинуса (в км)
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	deltaLat := (lat2 - lat1) * math.Pi / 180.0
	deltaLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// hashKey делает короткий ключ для адреса.
func hashKey(address string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(address))
	return fmt.Sprintf("%x", h.Sum64())
}
