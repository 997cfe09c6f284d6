package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Kafka     KafkaConfig     `json:"kafka"`
	Logger    LoggerConfig    `json:"logger"`
	Distance  DistanceConfig  `json:"distance"`
	Email     EmailConfig     `json:"email"`
	Profile   ProfileConfig   `json:"profile"`
	Analytics AnalyticsConfig `json:"analytics"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Host          string `json:"host"`
	Port          string `json:"port"`
	User          string `json:"user"`
	Password      string `json:"password"`
	DBName        string `json:"db_name"`
	SSLMode       string `json:"ssl_mode"`
	MaxOpenConns  int    `json:"max_open_conns"`
	RunMigrations bool   `json:"run_migrations"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	Mandats   string `json:"mandats"`
	Companies string `json:"companies"`
	Members   string `json:"members"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// DistanceConfig описывает провайдера расстояний между адресами
type DistanceConfig struct {
	Provider       string  `json:"provider"`        // offline | google
	GoogleAPIKey   string  `json:"google_api_key"`  // ключ Distance Matrix API
	GoogleBaseURL  string  `json:"google_base_url"` // https://maps.googleapis.com/maps/api/distancematrix/json
	TimeoutSeconds int     `json:"timeout_seconds"` // таймаут http-запроса
	DetourFactor   float64 `json:"detour_factor"`   // поправка прямой линии на дорожную сеть (offline)
}

// EmailConfig описывает SMTP для уведомлений
type EmailConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	From         string `json:"from"`
	FromName     string `json:"from_name"`
	AdminAddress string `json:"admin_address"`
	AppBaseURL   string `json:"app_base_url"`
}

// ProfileConfig хранит настройки кеша профилей пользователей
type ProfileConfig struct {
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

// AnalyticsConfig хранит настройки аналитики
type AnalyticsConfig struct {
	CacheTTLMinutes          int    `json:"cache_ttl_minutes"`
	MaxRangeDays             int    `json:"max_range_days"`
	DefaultGroupBy           string `json:"default_group_by"`
	DefaultTopLimit          int    `json:"default_top_limit"`
	DefaultTransporteurLimit int    `json:"default_transporteur_limit"`
	RequestTimeoutSeconds    int    `json:"request_timeout_seconds"`
}

// RateLimitConfig описывает настройки rate limiting
type RateLimitConfig struct {
	Enabled       bool   `json:"enabled"`
	Requests      int    `json:"requests"`
	WindowSeconds int    `json:"window_seconds"`
	KeyPrefix     string `json:"key_prefix"`
}

// MetricsConfig описывает экспорт метрик Prometheus
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения
func Load() *Config {
	// .env опционален: в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			User:          getEnv("DB_USER", "freight_user"),
			Password:      getEnv("DB_PASSWORD", "freight_pass"),
			DBName:        getEnv("DB_NAME", "freight_market"),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:  getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			RunMigrations: getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "freight-market"),
			Topics: Topics{
				Mandats:   getEnv("KAFKA_TOPIC_MANDATS", "mandats"),
				Companies: getEnv("KAFKA_TOPIC_COMPANIES", "companies"),
				Members:   getEnv("KAFKA_TOPIC_MEMBERS", "members"),
			},
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Distance: DistanceConfig{
			Provider:       getEnv("DISTANCE_PROVIDER", "offline"),
			GoogleAPIKey:   getEnv("GOOGLE_MAPS_API_KEY", ""),
			GoogleBaseURL:  getEnv("GOOGLE_DISTANCE_MATRIX_URL", "https://maps.googleapis.com/maps/api/distancematrix/json"),
			TimeoutSeconds: getEnvAsInt("DISTANCE_TIMEOUT_SECONDS", 5),
			DetourFactor:   getEnvAsFloat("DISTANCE_DETOUR_FACTOR", 1.3),
		},
		Email: EmailConfig{
			Enabled:      getEnvAsBool("EMAIL_ENABLED", false),
			Host:         getEnv("SMTP_HOST", "localhost"),
			Port:         getEnvAsInt("SMTP_PORT", 1025),
			Username:     getEnv("SMTP_USERNAME", ""),
			Password:     getEnv("SMTP_PASSWORD", ""),
			From:         getEnv("EMAIL_FROM", "noreply@freight-market.ch"),
			FromName:     getEnv("EMAIL_FROM_NAME", "Freight Market"),
			AdminAddress: getEnv("EMAIL_ADMIN_ADDRESS", "admin@freight-market.ch"),
			AppBaseURL:   getEnv("APP_BASE_URL", "http://localhost:3000"),
		},
		Profile: ProfileConfig{
			CacheTTLSeconds: getEnvAsInt("PROFILE_CACHE_TTL_SECONDS", 300),
		},
		Analytics: AnalyticsConfig{
			CacheTTLMinutes:          getEnvAsInt("ANALYTICS_CACHE_TTL_MINUTES", 10),
			MaxRangeDays:             getEnvAsInt("ANALYTICS_MAX_RANGE_DAYS", 365),
			DefaultGroupBy:           getEnv("ANALYTICS_DEFAULT_GROUP_BY", "none"),
			DefaultTopLimit:          getEnvAsInt("ANALYTICS_DEFAULT_TOP_LIMIT", 5),
			DefaultTransporteurLimit: getEnvAsInt("ANALYTICS_DEFAULT_TRANSPORTEUR_LIMIT", 50),
			RequestTimeoutSeconds:    getEnvAsInt("ANALYTICS_REQUEST_TIMEOUT_SECONDS", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvAsBool("RATE_LIMIT_ENABLED", false),
			Requests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			KeyPrefix:     getEnv("RATE_LIMIT_KEY_PREFIX", "ratelimit"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvAsBool("METRICS_ENABLED", true),
			Namespace: getEnv("METRICS_NAMESPACE", "freight_market"),
		},
	}
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64 с значением по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool получает значение переменной окружения как bool с значением по умолчанию
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(getEnv(key, ""))
	if valueStr == "true" || valueStr == "1" || valueStr == "yes" {
		return true
	}
	if valueStr == "false" || valueStr == "0" || valueStr == "no" {
		return false
	}
	return defaultValue
}
