package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crew/internal/audit"
	"crew/internal/coordinator"
	"crew/internal/identity"
	invitationmetrics "crew/internal/invitation/metrics"
	invitationsvc "crew/internal/invitation/service"
	invitationstore "crew/internal/invitation/store"
	"crew/internal/platform/config"
	"crew/internal/platform/database"
	"crew/internal/platform/health"
	"crew/internal/platform/httpserver"
	"crew/internal/platform/kafka"
	"crew/internal/platform/logger"
	"crew/internal/platform/mailer"
	platformredis "crew/internal/platform/redis"
	profilesvc "crew/internal/profile/service"
	profilestore "crew/internal/profile/store"
	sessionmetrics "crew/internal/session/metrics"
	sessionsvc "crew/internal/session/service"
	sessionstore "crew/internal/session/store"
	httptransport "crew/internal/transport/http"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing crew",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"storage", storageMode(cfg),
	)

	pool, err := database.New(cfg.Database)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}

	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer, err = kafka.New(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Error("kafka init failed", "error", err)
			os.Exit(1)
		}
	}

	// Identity provider: hosted over HTTP when configured, in-process
	// otherwise.
	var provider identity.Provider
	if cfg.ProviderBaseURL != "" {
		provider = identity.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey)
	} else {
		log.Warn("no identity provider configured, using in-process provider")
		provider = identity.NewLocalProvider(cfg.JWTSigningKey)
	}

	// Stores: postgres when a database is configured, in-memory otherwise.
	var (
		profiles    profilestore.Store
		sessions    sessionsvc.SessionStore
		settings    sessionstore.SettingsStore
		invitations invitationsvc.Store
	)
	if pool != nil {
		profiles = profilestore.NewPostgres(pool.DB())
		sessions = sessionstore.NewPostgres(pool.DB())
		settings = sessionstore.NewPostgresSettings(pool.DB())
		invitations = invitationstore.NewPostgres(pool.DB())
	} else {
		memProfiles := profilestore.NewMemory()
		profiles = memProfiles
		sessions = sessionstore.NewMemory()
		settings = sessionstore.NewMemorySettings(nil)
		invitations = invitationstore.NewMemory(memProfiles)
	}
	if redisClient != nil {
		settings = sessionstore.NewCachedSettings(settings, redisClient.Client, cfg.Redis.CacheTTL)
	}

	// Audit trail: kafka when brokers are configured, log otherwise.
	var sink audit.Sink
	if producer != nil {
		sink = audit.NewKafkaSink(producer, cfg.Kafka.AuditTopic)
	} else {
		sink = audit.NewLogSink(log)
	}
	auditor := audit.NewPublisher(sink, audit.WithAsyncBuffer(256), audit.WithPublisherLogger(log))

	var mail invitationsvc.Mailer
	if producer != nil {
		mail = mailer.NewKafka(producer, cfg.Kafka.MailTopic)
	} else {
		mail = mailer.NewLog(log)
	}

	resolver := profilesvc.New(profiles, profilesvc.WithLogger(log))
	enforcer := sessionsvc.New(sessions, settings,
		sessionsvc.WithLogger(log),
		sessionsvc.WithMetrics(sessionmetrics.New()),
	)
	coord := coordinator.New(provider, resolver, enforcer,
		coordinator.WithLogger(log),
		coordinator.WithMetrics(coordinator.NewMetrics(prometheus.DefaultRegisterer)),
		coordinator.WithInitTimeout(cfg.InitTimeout),
	)
	invitationService := invitationsvc.New(invitations, mail,
		invitationsvc.WithLogger(log),
		invitationsvc.WithMetrics(invitationmetrics.New(prometheus.DefaultRegisterer)),
		invitationsvc.WithTTL(cfg.InvitationTTL),
	)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(rootCtx); err != nil {
		log.Error("coordinator start failed", "error", err)
		os.Exit(1)
	}

	go expiredSessionJanitor(rootCtx, enforcer, cfg.SessionCleanupInterval, log)

	healthHandler := health.New(cfg.Environment)
	if pool != nil {
		healthHandler.RegisterCheck("database", pool.HealthCheck)
	}
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", redisClient.HealthCheck)
	}

	authHandler := httptransport.NewAuthHandler(coord, enforcer, auditor)
	invitationHandler := httptransport.NewInvitationHandler(invitationService, coord, auditor)
	router := httptransport.NewRouter(authHandler, invitationHandler, healthHandler, log)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting http server", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	coord.Close()
	auditor.Close()
	if producer != nil {
		producer.Close()
	}
	if redisClient != nil {
		redisClient.Close() //nolint:errcheck
	}
	if pool != nil {
		pool.Close() //nolint:errcheck
	}

	log.Info("server stopped")
}

// expiredSessionJanitor periodically deletes sessions past their expiry.
func expiredSessionJanitor(ctx context.Context, enforcer *sessionsvc.Enforcer, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := enforcer.CleanupExpired(ctx); err != nil {
				log.Error("expired session cleanup failed", "error", err)
			}
		}
	}
}

func storageMode(cfg config.Server) string {
	if cfg.Database.URL != "" {
		return "postgres"
	}
	return "memory"
}
