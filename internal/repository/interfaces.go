package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medilink-api/internal/model"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate record")
)

// All repository interfaces in one file
type (
	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		UpdateProfile(ctx context.Context, id uuid.UUID, name string, profile model.Profile) (*model.User, error)
		ListDoctors(ctx context.Context) ([]*model.DoctorListing, error)
		SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
		ClearResetToken(ctx context.Context, id uuid.UUID) error
		// ConsumeResetToken atomically swaps the password of the user holding
		// an unexpired token with the given hash and clears the token.
		ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*model.User, error)
		Ping(ctx context.Context) error
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus, updatedAt time.Time) (*model.Appointment, error)
		List(ctx context.Context, filters model.AppointmentFilters) ([]*model.AppointmentDetail, error)
	}

	ReportRepository interface {
		Create(ctx context.Context, report *model.MedicalReport) error
		ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.ReportDetail, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		// Cleanup removes entries created before cutoff and reports how many.
		Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
	}
)
