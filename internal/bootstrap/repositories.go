// Package bootstrap holds process wiring shared by the binaries.
package bootstrap

import (
	"context"

	"github.com/jwalitptl/medilink-api/config"
	"github.com/jwalitptl/medilink-api/internal/repository"
	"github.com/jwalitptl/medilink-api/internal/repository/memory"
	"github.com/jwalitptl/medilink-api/internal/repository/postgres"
)

type Repositories struct {
	Users        repository.UserRepository
	Appointments repository.AppointmentRepository
	Reports      repository.ReportRepository
	Outbox       repository.OutboxRepository
	Audit        repository.AuditRepository
	Close        func() error
}

// OpenRepositories returns the store selected by cfg.Driver.
func OpenRepositories(ctx context.Context, cfg config.DatabaseConfig) (*Repositories, error) {
	if cfg.Driver == "memory" {
		store := memory.NewStore()
		return &Repositories{
			Users:        store.Users(),
			Appointments: store.Appointments(),
			Reports:      store.Reports(),
			Outbox:       store.Outbox(),
			Audit:        store.Audit(),
			Close:        func() error { return nil },
		}, nil
	}

	db, err := postgres.NewDB(ctx, postgres.Config{
		DSN:             cfg.DSN(),
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	base := postgres.NewBaseRepository(db)
	return &Repositories{
		Users:        postgres.NewUserRepository(base),
		Appointments: postgres.NewAppointmentRepository(base),
		Reports:      postgres.NewReportRepository(base),
		Outbox:       postgres.NewOutboxRepository(base),
		Audit:        postgres.NewAuditRepository(base),
		Close:        db.Close,
	}, nil
}
