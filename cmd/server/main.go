package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gramorx/studybuddy-server/internal/analytics"
	"github.com/gramorx/studybuddy-server/internal/config"
	"github.com/gramorx/studybuddy-server/internal/database"
	"github.com/gramorx/studybuddy-server/internal/handler"
	"github.com/gramorx/studybuddy-server/internal/jobs"
	"github.com/gramorx/studybuddy-server/internal/middleware"
	"github.com/gramorx/studybuddy-server/internal/redis"
	"github.com/gramorx/studybuddy-server/internal/repository"
	"github.com/gramorx/studybuddy-server/internal/service"
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

	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("database connected")

	if cfg.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	healthChecks := map[string]handler.Pinger{"database": db}
	sinks := []analytics.Sink{analytics.NewLogSink(log.Logger)}
	var limiter middleware.Limiter = middleware.NewMemoryRateLimiter()

	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		healthChecks["redis"] = redisClient
		sinks = append(sinks, analytics.NewRedisStreamSink(redisClient.Client, cfg.AnalyticsStream, config.AnalyticsStreamMaxLen))
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
	} else {
		log.Warn().Msg("REDIS_URL not set: using in-memory rate limiting and log-only analytics")
	}

	recorder := analytics.NewRecorder(sinks...)
	recorder.Start(analytics.DefaultQueueSize)

	studySessionRepo := repository.NewStudySessionRepository(db.DB)
	xpEventRepo := repository.NewXPEventRepository(db.DB)

	studySessionService := service.NewStudySessionService(db, studySessionRepo, xpEventRepo, recorder, service.StudySessionOptions{
		Policy:            cfg.PlanPolicy(),
		Location:          cfg.Location(),
		WeeklyGoalMinutes: cfg.WeeklyGoalMinutes,
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.RateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	studyBuddyHandler := handler.NewStudyBuddyHandler(studySessionService)
	healthHandler := handler.NewHealthHandler(healthChecks)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/v1/study-buddy", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Mount("/", studyBuddyHandler.Routes())
	})

	staleSessionJob := jobs.NewStaleSessionJob(
		studySessionRepo, recorder, cfg.StaleSessionAge(), config.StaleSessionJobInterval,
	)
	staleSessionJob.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
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

	staleSessionJob.Stop()
	recorder.Stop(shutdownCtx)

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
