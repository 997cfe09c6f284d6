package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"freight-market/internal/config"
	"freight-market/internal/database"
	"freight-market/internal/email"
	"freight-market/internal/handlers"
	"freight-market/internal/kafka"
	"freight-market/internal/logger"
	"freight-market/internal/metrics"
	"freight-market/internal/redis"
	"freight-market/internal/services"
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	kafkaHealthCheck = handlers.CheckKafkaHealth
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
type application struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
	mux      *http.ServeMux
	server   *http.Server
}

// routeHandlers - все HTTP обработчики приложения
type routeHandlers struct {
	health      *handlers.HealthHandler
	quotes      *handlers.QuoteHandler
	pricing     *handlers.PricingHandler
	companies   *handlers.CompanyHandler
	invitations *handlers.InvitationHandler
	mandats     *handlers.MandatHandler
	dashboard   *handlers.DashboardHandler
	me          *handlers.MeHandler
	rateLimit   *handlers.RateLimitHandler
}

func main() {
	app, err := buildApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting freight market server...")

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = app.consumer.Stop()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	_ = app.producer.Close()
	_ = app.redis.Close()
	_ = app.db.Close()
	app.log.Info("Server exited")
}

// buildApplication создает все зависимости (подменяемые в тестах).
func buildApplication() (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)

	db, err := dbConnect(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if cfg.Database.RunMigrations {
		if err := db.Migrate(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
	}

	redisClient, err := redisConnect(&cfg.Redis, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	producer, err := newKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	consumer, err := newKafkaConsumer(&cfg.Kafka, log)
	if err != nil {
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	var sender email.Sender = email.NewLogSender(log)
	if cfg.Email.Enabled {
		sender = email.NewSMTPSender(&cfg.Email, log)
	}

	profileService := services.NewProfileService(db, redisClient, log, &cfg.Profile)
	pricingService := services.NewPricingService(db, redisClient, log)
	companyService := services.NewCompanyService(db, log, profileService)
	invitationService := services.NewInvitationService(db, log, profileService)
	mandatService := services.NewMandatService(db, redisClient, log, pricingService, m)
	distanceService := services.NewDistanceService(redisClient, log, &cfg.Distance)
	dashboardService := services.NewDashboardService(db, redisClient, log, &cfg.Analytics)
	notificationService := services.NewNotificationService(db, sender, log, &cfg.Email, m)
	rateLimiter := services.NewRateLimiter(redisClient, log, &cfg.RateLimit)

	h := routeHandlers{
		health:      handlers.NewHealthHandler(db, redisClient, cfg.Kafka.Brokers, kafkaHealthCheck),
		quotes:      handlers.NewQuoteHandler(pricingService, distanceService, m, log),
		pricing:     handlers.NewPricingHandler(pricingService, log),
		companies:   handlers.NewCompanyHandler(companyService, producer, redisClient, log),
		invitations: handlers.NewInvitationHandler(invitationService, producer, log),
		mandats:     handlers.NewMandatHandler(mandatService, distanceService, producer, log),
		dashboard:   handlers.NewDashboardHandler(dashboardService, log, &cfg.Analytics),
		me:          handlers.NewMeHandler(profileService, log),
		rateLimit:   handlers.NewRateLimitHandler(rateLimiter, log, &cfg.RateLimit),
	}

	notificationService.Register(consumer)
	if err := consumer.Start(); err != nil {
		_ = consumer.Stop()
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer start: %w", err)
	}

	mux := setupRoutes(h, profileService, rateLimiter, m, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &application{
		cfg:      cfg,
		log:      log,
		db:       db,
		redis:    redisClient,
		producer: producer,
		consumer: consumer,
		mux:      mux,
		server:   server,
	}, nil
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(h routeHandlers, profiles handlers.ProfileResolver, rateLimiter *services.RateLimiter, m *metrics.Metrics, log *logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	// лимит до идентификации, чтобы анонимные запросы тоже учитывались по IP
	applyAPI := func(next http.HandlerFunc) http.HandlerFunc {
		return corsMiddleware(m.Middleware(handlers.RateLimitMiddleware(rateLimiter, log,
			handlers.IdentityMiddleware(profiles, log, next))))
	}

	// Health check endpoints
	mux.HandleFunc("/health", corsMiddleware(h.health.Health))
	mux.HandleFunc("/health/readiness", corsMiddleware(h.health.Readiness))
	mux.HandleFunc("/health/liveness", corsMiddleware(h.health.Liveness))
	mux.Handle("/metrics", m.Handler())

	// Quotes
	mux.HandleFunc("/api/quotes", applyAPI(h.quotes.CreateQuote))

	// Pricing sets
	mux.HandleFunc("/api/pricing-sets", applyAPI(handlePricingSetsRoute(h.pricing)))
	mux.HandleFunc("/api/pricing-sets/", applyAPI(handlePricingSetRoute(h.pricing)))

	// Companies and invitations
	mux.HandleFunc("/api/companies", applyAPI(handleCompaniesRoute(h.companies)))
	mux.HandleFunc("/api/companies/", applyAPI(handleCompanyRoute(h.companies, h.invitations)))
	mux.HandleFunc("/api/invitations/", applyAPI(handleInvitationRoute(h.invitations)))

	// Mandats
	mux.HandleFunc("/api/mandats", applyAPI(handleMandatsRoute(h.mandats)))
	mux.HandleFunc("/api/mandats/", applyAPI(handleMandatRoute(h.mandats)))
	mux.HandleFunc("/api/marketplace", applyAPI(h.mandats.ListMarketplace))

	// Dashboard
	mux.HandleFunc("/api/dashboard/kpi", applyAPI(h.dashboard.GetKPIs))
	mux.HandleFunc("/api/dashboard/transporteurs", applyAPI(h.dashboard.GetTransporteurAnalytics))

	mux.HandleFunc("/api/me", applyAPI(h.me.Me))

	// Rate limit status
	mux.HandleFunc("/api/rate-limit/status", corsMiddleware(handlers.RateLimitMiddleware(rateLimiter, log, h.rateLimit.Status)))

	return mux
}

// handlePricingSetsRoute обрабатывает коллекцию наборов тарифов
func handlePricingSetsRoute(handler *handlers.PricingHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ListPricingSets(w, r)
		case http.MethodPost:
			handler.CreatePricingSet(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handlePricingSetRoute обрабатывает отдельный набор, активацию и активный набор
func handlePricingSetRoute(handler *handlers.PricingHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSuffix(r.URL.Path, "/")
		switch {
		case path == "/api/pricing-sets/active":
			handler.GetActivePricingSet(w, r)
		case strings.HasSuffix(path, "/activate"):
			handler.ActivatePricingSet(w, r)
		case r.Method == http.MethodPut:
			handler.UpdatePricingSet(w, r)
		default:
			handler.GetPricingSet(w, r)
		}
	}
}

// handleCompaniesRoute обрабатывает коллекцию компаний
func handleCompaniesRoute(handler *handlers.CompanyHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ListCompanies(w, r)
		case http.MethodPost:
			handler.RegisterCompany(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleCompanyRoute обрабатывает компанию, ее модерацию и приглашения
func handleCompanyRoute(companies *handlers.CompanyHandler, invitations *handlers.InvitationHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSuffix(r.URL.Path, "/")
		switch {
		case strings.HasSuffix(path, "/moderate"):
			companies.ModerateCompany(w, r)
		case strings.HasSuffix(path, "/invitations"):
			if r.Method == http.MethodPost {
				invitations.CreateInvitation(w, r)
			} else {
				invitations.ListInvitations(w, r)
			}
		default:
			companies.GetCompany(w, r)
		}
	}
}

// handleInvitationRoute обрабатывает принятие и отзыв приглашения
func handleInvitationRoute(handler *handlers.InvitationHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/accept") {
			handler.AcceptInvitation(w, r)
			return
		}
		handler.RevokeInvitation(w, r)
	}
}

// handleMandatsRoute обрабатывает коллекцию мандатов
func handleMandatsRoute(handler *handlers.MandatHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ListMandats(w, r)
		case http.MethodPost:
			handler.CreateMandat(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleMandatRoute обрабатывает отдельный мандат и переходы его статусов
func handleMandatRoute(handler *handlers.MandatHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSuffix(r.URL.Path, "/")
		switch {
		case strings.HasSuffix(path, "/moderate"):
			handler.ModerateMandat(w, r)
		case strings.HasSuffix(path, "/cancel"):
			handler.CancelMandat(w, r)
		case strings.HasSuffix(path, "/claim"):
			handler.ClaimMandat(w, r)
		case strings.HasSuffix(path, "/status"):
			handler.UpdateDeliveryStatus(w, r)
		default:
			handler.GetMandat(w, r)
		}
	}
}

// corsMiddleware и другие helper функции
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID, X-User-Email")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	type errorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}
