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
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stayline/whatsapp-bridge-go/internal/config"
	"github.com/stayline/whatsapp-bridge-go/internal/credential"
	"github.com/stayline/whatsapp-bridge-go/internal/database"
	"github.com/stayline/whatsapp-bridge-go/internal/handler"
	"github.com/stayline/whatsapp-bridge-go/internal/jobs"
	"github.com/stayline/whatsapp-bridge-go/internal/middleware"
	"github.com/stayline/whatsapp-bridge-go/internal/projection"
	"github.com/stayline/whatsapp-bridge-go/internal/redis"
	"github.com/stayline/whatsapp-bridge-go/internal/repository"
	"github.com/stayline/whatsapp-bridge-go/internal/session"
	"github.com/stayline/whatsapp-bridge-go/internal/sse"
	"github.com/stayline/whatsapp-bridge-go/internal/transport"
)

func main() {
	_ = godotenv.Load()

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

	cache, err := credential.NewCache(cfg.CredentialDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare credential cache")
	}

	credentialRepo := repository.NewCredentialRepository(db.DB)
	mirror := credential.NewMirror(cfg.SessionID, cache, credentialRepo)

	broker := sse.NewBroker(redisClient, cfg.SessionID)
	defer broker.Close()

	dialer := &transport.GatewayDialer{
		URL:            cfg.GatewayURL,
		ConnectTimeout: config.GatewayConnectTimeout,
		QueryTimeout:   config.GatewayQueryTimeout,
	}

	store := projection.NewStore(config.MessageProjectionCap, config.StatusProjectionCap)

	manager := session.NewManager(session.Options{
		SessionID:             cfg.SessionID,
		MaxReconnectAttempts:  cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:    cfg.ReconnectBaseDelay(),
		PostPairingRetryDelay: config.PostPairingRetryDelay,
	}, dialer, mirror, store, broker)
	defer manager.Stop()

	authMiddleware := middleware.NewAuthMiddleware(cfg.APITokenHash)
	sendRateLimit := middleware.NewSendRateLimitMiddleware(redisClient.Client, cfg.SessionID, cfg.SendRateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	bridgeHandler := handler.NewBridgeHandler(manager, sendRateLimit.Handler)
	qrHandler := handler.NewQRHandler(manager)
	eventsHandler := handler.NewEventsHandler(broker, manager)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Get("/qr.png", qrHandler.Image)
		r.Get("/events", eventsHandler.ServeHTTP)
		r.Mount("/", bridgeHandler.Routes())
	})

	sweepJob := jobs.NewSweepJob(mirror, config.CredentialMirrorSweep)
	sweepJob.Start()
	defer sweepJob.Stop()

	// the session connects on boot; a stored credential set skips pairing
	manager.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("session_id", cfg.SessionID).Msg("starting server")
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
