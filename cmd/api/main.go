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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/medilink-api/config"
	"github.com/jwalitptl/medilink-api/internal/bootstrap"
	"github.com/jwalitptl/medilink-api/internal/email"
	appointmenthandler "github.com/jwalitptl/medilink-api/internal/handler/appointment"
	authhandler "github.com/jwalitptl/medilink-api/internal/handler/auth"
	"github.com/jwalitptl/medilink-api/internal/handler/health"
	promhandler "github.com/jwalitptl/medilink-api/internal/handler/prometheus"
	reporthandler "github.com/jwalitptl/medilink-api/internal/handler/report"
	userhandler "github.com/jwalitptl/medilink-api/internal/handler/user"
	"github.com/jwalitptl/medilink-api/internal/middleware"
	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/ocr"
	"github.com/jwalitptl/medilink-api/internal/router"
	appointmentService "github.com/jwalitptl/medilink-api/internal/service/appointment"
	auditService "github.com/jwalitptl/medilink-api/internal/service/audit"
	authService "github.com/jwalitptl/medilink-api/internal/service/auth"
	eventService "github.com/jwalitptl/medilink-api/internal/service/event"
	medicalService "github.com/jwalitptl/medilink-api/internal/service/medical"
	userService "github.com/jwalitptl/medilink-api/internal/service/user"
	"github.com/jwalitptl/medilink-api/internal/storage"
	"github.com/jwalitptl/medilink-api/pkg/auth"
	"github.com/jwalitptl/medilink-api/pkg/logger"
	"github.com/jwalitptl/medilink-api/pkg/metrics"
	"github.com/jwalitptl/medilink-api/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Log.Console,
	})
	log.Logger = appLogger.ZL
	zerolog.SetGlobalLevel(logger.ParseLevel(cfg.Log.Level))
	gin.SetMode(cfg.Server.Mode)

	if err := middleware.RegisterValidation(); err != nil {
		log.Fatal().Err(err).Msg("failed to register validators")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	repos, err := bootstrap.OpenRepositories(startCtx, cfg.Database)
	cancelStart()
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open store")
	}
	defer repos.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("medilink", reg)

	appointmentPolicy, err := model.ParseAccessPolicy(cfg.Authorization.AppointmentStatus)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid appointment status policy")
	}
	reportPolicy, err := model.ParseAccessPolicy(cfg.Authorization.ReportAccess)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid report access policy")
	}

	blobs, err := storage.NewLocalStore(cfg.Storage.UploadDir, cfg.Storage.URLPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare upload directory")
	}

	var extractor ocr.Extractor = ocr.NoopExtractor{}
	if cfg.OCR.Endpoint != "" {
		extractor = ocr.NewHTTPExtractor(ocr.HTTPConfig{
			Endpoint:     cfg.OCR.Endpoint,
			Timeout:      cfg.OCR.Timeout,
			MaxFailures:  cfg.OCR.MaxFailures,
			OpenDuration: cfg.OCR.OpenDuration,
		})
	} else {
		log.Warn().Msg("no OCR endpoint configured, reports will carry empty text")
	}

	mailer := email.NewSMTPService(email.Config{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		From:        cfg.SMTP.From,
		DialTimeout: cfg.SMTP.DialTimeout,
	}, appLogger)

	auditor := auditService.NewService(repos.Audit, appLogger)
	events := eventService.NewEventService(repos.Outbox, appLogger)

	userSvc := userService.NewService(repos.Users, auditor, cfg.Cache.DoctorsTTL, appLogger)
	authSvc := authService.NewService(authService.Deps{
		UserRepo: repos.Users,
		JWT: auth.NewJWTService(auth.Config{
			Secret: cfg.JWT.Secret,
			Expiry: cfg.JWTExpiry(),
			Issuer: cfg.JWT.Issuer,
		}),
		Hasher:    security.NewBcryptHasher(cfg.Security.BcryptCost),
		Email:     mailer,
		Auditor:   auditor,
		Events:    events,
		Directory: userSvc,
		Metrics:   m,
		Logger:    appLogger,
	}, authService.Config{
		ResetTokenExpiry: cfg.Security.ResetTokenExpiry,
		ResetURLBase:     cfg.App.ResetURLBase,
	})
	appointmentSvc := appointmentService.NewService(appointmentService.Deps{
		Repo:     repos.Appointments,
		UserRepo: repos.Users,
		Auditor:  auditor,
		Events:   events,
		Metrics:  m,
		Logger:   appLogger,
	}, appointmentPolicy)
	reportSvc := medicalService.NewService(medicalService.Deps{
		Repo:      repos.Reports,
		UserRepo:  repos.Users,
		Blobs:     blobs,
		Extractor: extractor,
		Auditor:   auditor,
		Events:    events,
		Metrics:   m,
		Logger:    appLogger,
	}, medicalService.Config{
		OCRTimeout:   cfg.OCR.Timeout,
		AccessPolicy: reportPolicy,
	})

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
	corsConfig.MaxAge = cfg.CORS.MaxAge

	sizeLimit := middleware.DefaultSizeLimitConfig()
	sizeLimit.MaxBodySize = cfg.Server.MaxBodyBytes
	sizeLimit.MaxUploadSize = cfg.Server.MaxUploadBytes

	secHeaders := middleware.DefaultSecurityConfig()
	secHeaders.HSTS = cfg.Security.HSTS

	routerConfig := router.RouterConfig{
		CORSConfig: corsConfig,
		Timeout:    middleware.TimeoutConfig{Duration: cfg.RequestTimeout()},
		SizeLimit:  sizeLimit,
		Logger:     middleware.DefaultLoggerConfig(),
		Security:   secHeaders,
	}
	if cfg.RateLimit.Enabled {
		routerConfig.AuthRateLimit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
		routerConfig.AuthRateBurst = cfg.RateLimit.Burst
	}

	r := router.NewRouter(middleware.NewAuthMiddleware(authSvc), router.Handlers{
		Auth:        authhandler.NewHandler(authSvc),
		User:        userhandler.NewHandler(userSvc),
		Appointment: appointmenthandler.NewHandler(appointmentSvc),
		Report:      reporthandler.NewHandler(reportSvc),
		Health:      health.NewHandler(map[string]health.Pinger{"database": repos.Users}),
		Metrics:     promhandler.New(reg, m),
	}, routerConfig)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
