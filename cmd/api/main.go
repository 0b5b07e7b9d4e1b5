package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"voice-receptionist/internal/admission"
	"voice-receptionist/internal/agents"
	"voice-receptionist/internal/auth"
	"voice-receptionist/internal/bridge"
	"voice-receptionist/internal/calendar"
	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/config"
	"voice-receptionist/internal/realtime"
	"voice-receptionist/internal/routing"
	"voice-receptionist/internal/tenants"
	"voice-receptionist/internal/timeline"
	"voice-receptionist/internal/tools"
	"voice-receptionist/pkg/logger"
	"voice-receptionist/pkg/metrics"
	"voice-receptionist/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := config.LoadEnvFiles(".env", ".env.local"); err != nil {
		slog.Error("env file load failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.PublicBaseURL == "" {
		log.Warn("PUBLIC_BASE_URL not set; every inbound call will get the fallback response")
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Admission.Backend == config.AdmissionBackendRedis {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	agentsRepo := agents.NewPostgresRepo(db)
	tenantsRepo := tenants.NewPostgresRepo(db)
	callsRepo := calls.NewPostgresRepo(db)
	events := timeline.NewService(timeline.NewPostgresRepo(db))
	recorder := timeline.NewRecorder(events, nil)

	var gate admission.Gate
	switch cfg.Admission.Backend {
	case config.AdmissionBackendRedis:
		gate = admission.NewRedisGate(rdb, cfg.Admission.RateLimit, cfg.Admission.Window)
	default:
		window := admission.NewSlidingWindow(cfg.Admission.RateLimit, cfg.Admission.Window, time.Now)
		go window.RunSweeper(rootCtx, cfg.Admission.Window)
		gate = window
	}
	log.Info("admission gate ready", "backend", cfg.Admission.Backend, "limit", cfg.Admission.RateLimit, "window", cfg.Admission.Window.String())

	calendarAdapter := calendar.NewAdapter(
		calendar.NewPostgresStore(db),
		calendar.NewGoogleOAuth(cfg.Calendar.ClientID, cfg.Calendar.ClientSecret, cfg.Calendar.RedirectURL, cfg.UpstreamTimeout),
		calendar.NewGoogleAPI,
		callsRepo,
		recorder,
	)

	provisioner := realtime.NewProvisioner(callsRepo, agentsRepo, tenantsRepo,
		realtime.NewOpenAIClient(cfg.Realtime.BaseURL, cfg.Realtime.APIKey, cfg.UpstreamTimeout),
		realtime.Defaults{Model: cfg.Realtime.DefaultModel, Voice: cfg.Realtime.DefaultVoice},
	)

	deps := routeDeps{
		Auth:         authManager,
		Router:       routing.NewRouter(agentsRepo, callsRepo, gate, recorder, cfg.PublicBaseURL),
		Bridge:       bridge.NewService(callsRepo, recorder),
		Gateway:      tools.NewGateway(callsRepo, calendarAdapter),
		Provisioner:  provisioner,
		Calendar:     calendarAdapter,
		Calls:        callsRepo,
		Timeline:     events,
		TwilioToken:  cfg.Twilio.AuthToken,
		PublicBase:   cfg.PublicBaseURL,
		BridgeKey:    cfg.BridgeAPIKey,
		CalendarPage: cfg.Calendar.StatusURL,
		Ready:        readiness(db, rdb),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())

	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	log.Info("shutdown complete")
}
