package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/internal/core/services"
	httphandlers "confvideo/internal/handlers/http"
	"confvideo/internal/infrastructure/conference"
	"confvideo/internal/infrastructure/monitoring"
	"confvideo/internal/infrastructure/repositories"
	signalinfra "confvideo/internal/infrastructure/signal"
	"confvideo/internal/infrastructure/transport"
	"confvideo/pkg/config"
	"confvideo/pkg/logger"
	"confvideo/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 2 * time.Second
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var participants []int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the receiver and its control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(runCtx, cfg, participants)
		},
	}

	cmd.Flags().IntSliceVarP(&participants, "participant", "p", nil, "Participant ids to open and start sessions for at boot")

	return cmd
}

// app is the wired receiver service.
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	router   *gin.Engine
	receiver ports.ReceiverService
	feed     *signalinfra.FeedServer
	health   *monitoring.HealthChecker
	repos    *repositories.RepositoryFactory
	tracer   *tracing.TracerProvider
}

func newApp(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (*app, error) {
	log := zapLogger.Sugar()

	tracer, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "confvideo-receiver",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	repos, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("create repository factory: %w", err)
	}

	directory, err := repos.CreateParticipantDirectory(ctx, cfg.Conference.Name, conference.SeedParticipants(cfg.Conference.Participants))
	if err != nil {
		repos.Close()
		return nil, fmt.Errorf("create participant directory: %w", err)
	}
	conf := conference.New(cfg.Conference.Name, cfg.Conference.ServerURL, repos.Backend(), directory)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := monitoring.NewPrometheusCollector(registry)

	transports := transport.NewReliableFactory(cfg, collector, log.Named("transport"))
	feed := signalinfra.NewFeedServer(cfg.Diagnostics.FeedBuffer, log.Named("feed"))

	receiver := services.NewReceiverService(
		conf,
		transports,
		collector,
		feed,
		services.ReceiverConfig{PacketLogRate: cfg.Diagnostics.PacketLogRate},
		log.Named("receiver"),
	)

	health := monitoring.NewHealthChecker()
	health.AddDirectoryCheck(directory, healthCheckInterval, healthCheckTimeout)
	if repos.Backend() == "redis" {
		health.AddBackendCheck("redis", repos.HealthCheck, healthCheckInterval, healthCheckTimeout)
	}
	health.AddBreakerCheck(transports.BreakerStates)

	var authService services.AuthService
	if cfg.Auth.Enabled {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	}

	var metrics http.Handler
	if cfg.Monitoring.PrometheusEnabled {
		metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.NewRouter(cfg, httphandlers.Dependencies{
		Receiver:  receiver,
		Directory: directory,
		Auth:      authService,
		Health:    health,
		Feed:      feed,
		Metrics:   metrics,
		Logger:    zapLogger,
	})

	return &app{
		cfg:      cfg,
		log:      log,
		router:   router,
		receiver: receiver,
		feed:     feed,
		health:   health,
		repos:    repos,
		tracer:   tracer,
	}, nil
}

// openSessions opens and starts a session per participant. Failures are
// logged and leave the session open for a later start through the API.
func (a *app) openSessions(ctx context.Context, participants []int) {
	for _, id := range participants {
		info, err := a.receiver.Open(ctx, domain.ParticipantID(id))
		if err != nil {
			a.log.Errorw("failed to open session", "participant_id", id, "error", err)
			continue
		}
		if err := a.receiver.Start(ctx, info.ID); err != nil {
			a.log.Warnw("failed to start session", "session_id", info.ID, "participant_id", id, "error", err)
		}
	}
}

// shutdown releases everything newApp acquired.
func (a *app) shutdown(ctx context.Context) {
	if err := a.receiver.Shutdown(ctx); err != nil {
		a.log.Errorw("error stopping sessions", "error", err)
	}
	a.feed.Close()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.log.Errorw("error shutting down tracer", "error", err)
	}
	if err := a.repos.Close(); err != nil {
		a.log.Errorw("error closing repository factory", "error", err)
	}
}

func runServe(ctx context.Context, cfg *config.Config, participants []int) error {
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	a, err := newApp(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}
	log := a.log

	a.health.StartBackgroundChecks(ctx, func(name string, err error) {
		log.Warnw("health check failed", "check", name, "error", err)
	})
	a.openSessions(ctx, participants)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      a.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting receiver", "address", cfg.Server.Address, "conference", cfg.Conference.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
		log.Errorw("server failed", "error", runErr)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	a.shutdown(shutdownCtx)

	log.Info("receiver stopped")
	return runErr
}
