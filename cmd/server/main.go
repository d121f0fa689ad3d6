package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2/google"

	"github.com/chatcal/link-server-go/internal/config"
	"github.com/chatcal/link-server-go/internal/database"
	"github.com/chatcal/link-server-go/internal/handler"
	"github.com/chatcal/link-server-go/internal/jobs"
	"github.com/chatcal/link-server-go/internal/middleware"
	"github.com/chatcal/link-server-go/internal/redis"
	"github.com/chatcal/link-server-go/internal/repository"
	"github.com/chatcal/link-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	pairingCodeRepo := repository.NewPairingCodeRepository(db.DB)
	oauthStateRepo := repository.NewOAuthStateRepository(db.DB)
	credentialRepo := repository.NewCredentialRepository(db.DB)

	refreshLock := redis.NewRefreshLock(redisClient.Client)

	pairingService := service.NewPairingService(pairingCodeRepo, cfg.PairingCodeTTL())
	credentialService := service.NewCredentialService(cfg, credentialRepo, refreshLock, google.Endpoint)
	oauthService := service.NewOAuthService(cfg, oauthStateRepo, credentialService, google.Endpoint)

	rateLimiter := middleware.NewRedisRateLimiter(redisClient.Client)
	formRateLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.PairingFormRateLimit, config.RateLimitWindow, "form",
	)
	webhookRateLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.WebhookRateLimit, config.RateLimitWindow, "webhook",
	)
	signatureMiddleware := middleware.NewChatSignatureMiddleware(cfg.ChatSignatureSecret)
	apiTokenMiddleware := middleware.NewAPITokenMiddleware(cfg.LinkAPIToken)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	linkHandler := handler.NewLinkHandler(pairingService, oauthService, cfg.PublicBaseURL)
	oauthHandler := handler.NewOAuthHandler(oauthService, cfg.PublicBaseURL)
	webhookHandler := handler.NewWebhookHandler(pairingService, credentialService, cfg.PublicBaseURL)
	apiHandler := handler.NewLinkAPIHandler(pairingService, credentialService, cfg.PublicBaseURL)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/link", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(formRateLimit.Handler)
		r.Mount("/", linkHandler.Routes())
	})

	r.Route(service.CallbackPath, func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Get("/", oauthHandler.Callback)
	})

	r.Route("/chat", func(r chi.Router) {
		r.Use(signatureMiddleware.Handler)
		r.Use(webhookRateLimit.Handler)
		r.Post("/webhook", webhookHandler.Webhook)
	})

	r.Route("/api/link", func(r chi.Router) {
		r.Use(apiTokenMiddleware.Handler)
		r.Mount("/", apiHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(pairingCodeRepo, oauthStateRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
