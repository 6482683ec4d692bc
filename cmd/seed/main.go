package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jwalitptl/medilink-api/config"
	"github.com/jwalitptl/medilink-api/internal/bootstrap"
	"github.com/jwalitptl/medilink-api/internal/email"
	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/seed"
	appointmentService "github.com/jwalitptl/medilink-api/internal/service/appointment"
	auditService "github.com/jwalitptl/medilink-api/internal/service/audit"
	authService "github.com/jwalitptl/medilink-api/internal/service/auth"
	eventService "github.com/jwalitptl/medilink-api/internal/service/event"
	medicalService "github.com/jwalitptl/medilink-api/internal/service/medical"
	"github.com/jwalitptl/medilink-api/internal/storage"
	"github.com/jwalitptl/medilink-api/pkg/auth"
	"github.com/jwalitptl/medilink-api/pkg/logger"
	"github.com/jwalitptl/medilink-api/pkg/security"
)

const seedTimeout = 2 * time.Minute

func main() {
	appLogger := logger.NewLogger(nil)

	cfg, err := config.LoadConfig()
	if err != nil {
		appLogger.Fatal(err, "failed to load configuration")
	}

	appLogger = logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Console:    cfg.Log.Console,
	})
	log := appLogger.WithFields(map[string]interface{}{
		"driver":     cfg.Database.Driver,
		"upload_dir": cfg.Storage.UploadDir,
	})
	if cfg.Database.Driver == "memory" {
		log.Warn(nil, "memory driver selected, seeded data is discarded on exit")
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	repos, err := bootstrap.OpenRepositories(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to open store")
	}
	defer repos.Close()

	blobs, err := storage.NewLocalStore(cfg.Storage.UploadDir, cfg.Storage.URLPrefix)
	if err != nil {
		log.Fatal(err, "failed to prepare upload directory")
	}

	auditor := auditService.NewService(repos.Audit, appLogger)
	events := eventService.NewEventService(repos.Outbox, appLogger)

	authSvc := authService.NewService(authService.Deps{
		UserRepo: repos.Users,
		JWT: auth.NewJWTService(auth.Config{
			Secret: cfg.JWT.Secret,
			Expiry: cfg.JWTExpiry(),
			Issuer: cfg.JWT.Issuer,
		}),
		Hasher:  security.NewBcryptHasher(cfg.Security.BcryptCost),
		Email:   email.NewSMTPService(email.Config{}, appLogger),
		Auditor: auditor,
		Events:  events,
		Logger:  appLogger,
	}, authService.Config{})

	seeder := seed.New(seed.Services{
		Auth: authSvc,
		Appointments: appointmentService.NewService(appointmentService.Deps{
			Repo:     repos.Appointments,
			UserRepo: repos.Users,
			Auditor:  auditor,
			Events:   events,
			Logger:   appLogger,
		}, model.AccessAny),
		Reports: medicalService.NewService(medicalService.Deps{
			Repo:      repos.Reports,
			UserRepo:  repos.Users,
			Blobs:     blobs,
			Extractor: seed.SampleExtractor{},
			Auditor:   auditor,
			Events:    events,
			Logger:    appLogger,
		}, medicalService.Config{}),
	}, log)

	if _, err := seeder.Run(ctx); err != nil {
		if errors.Is(err, seed.ErrAlreadySeeded) {
			log.Info("Demo data already present, nothing to do")
			return
		}
		log.Fatal(err, "seeding failed")
	}
}
