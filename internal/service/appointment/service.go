package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
	"github.com/jwalitptl/medilink-api/internal/service/audit"
	"github.com/jwalitptl/medilink-api/internal/service/event"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/logger"
	"github.com/jwalitptl/medilink-api/pkg/metrics"
)

type Service struct {
	repo     repository.AppointmentRepository
	userRepo repository.UserRepository
	auditor  *audit.Service
	events   event.Emitter
	metrics  *metrics.Metrics
	logger   *logger.Logger
	// statusPolicy controls who may change an appointment's status.
	statusPolicy model.AccessPolicy
	now          func() time.Time
}

type Deps struct {
	Repo     repository.AppointmentRepository
	UserRepo repository.UserRepository
	Auditor  *audit.Service
	Events   event.Emitter
	Metrics  *metrics.Metrics
	Logger   *logger.Logger
}

func NewService(deps Deps, statusPolicy model.AccessPolicy) *Service {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	if statusPolicy == "" {
		statusPolicy = model.AccessAny
	}
	return &Service{
		repo:         deps.Repo,
		userRepo:     deps.UserRepo,
		auditor:      deps.Auditor,
		events:       deps.Events,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		statusPolicy: statusPolicy,
		now:          time.Now,
	}
}

// Create books an appointment for the calling patient with a registered doctor.
func (s *Service) Create(ctx context.Context, caller model.AuthenticatedUser, req model.CreateAppointmentRequest) (*model.Appointment, error) {
	if caller.Role != model.RolePatient {
		return nil, apperrors.Validation("patient does not refer to a patient", nil)
	}

	if strings.TrimSpace(req.DoctorID) == "" {
		return nil, apperrors.Validation("doctorId is required", nil)
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return nil, apperrors.Validation("doctorId must be a valid id", err)
	}
	doctor, err := s.userRepo.Get(ctx, doctorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Validation("doctorId does not refer to a doctor", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to load doctor: %w", err))
	}
	if doctor.Role != model.RoleDoctor {
		return nil, apperrors.Validation("doctorId does not refer to a doctor", nil)
	}

	if strings.TrimSpace(req.DateTime) == "" {
		return nil, apperrors.Validation("dateTime is required", nil)
	}
	dateTime, err := model.ParseTimestamp(req.DateTime)
	if err != nil {
		return nil, apperrors.Validation("dateTime must be a valid timestamp", err)
	}

	now := s.now().UTC()
	apt := &model.Appointment{
		Base:      model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		DoctorID:  doctor.ID,
		PatientID: caller.ID,
		DateTime:  dateTime,
		Status:    model.AppointmentStatusPending,
		Symptoms:  strings.TrimSpace(req.Symptoms),
		Notes:     req.Notes,
	}

	if err := s.repo.Create(ctx, apt); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to create appointment: %w", err))
	}

	s.metrics.AppointmentsCreated.Inc()
	if s.auditor != nil {
		s.auditor.Record(ctx, caller.ID, model.AuditActionCreate, model.AuditEntityAppointment, apt.ID, nil)
	}
	event.Publish(ctx, s.events, s.logger, model.EventAppointmentCreated, map[string]interface{}{
		"appointmentId": apt.ID,
		"doctorId":      apt.DoctorID,
		"patientId":     apt.PatientID,
		"dateTime":      apt.DateTime,
	})

	return apt, nil
}

// ListFor returns the caller's appointments with both parties populated,
// newest dateTime first.
func (s *Service) ListFor(ctx context.Context, caller model.AuthenticatedUser) ([]*model.AppointmentDetail, error) {
	var filters model.AppointmentFilters
	switch caller.Role {
	case model.RoleDoctor:
		filters.DoctorID = &caller.ID
	case model.RolePatient:
		filters.PatientID = &caller.ID
	default:
		return nil, apperrors.Forbidden("")
	}

	appointments, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to list appointments: %w", err))
	}
	if appointments == nil {
		appointments = []*model.AppointmentDetail{}
	}
	return appointments, nil
}

func (s *Service) UpdateStatus(ctx context.Context, caller model.AuthenticatedUser, rawID string, status model.AppointmentStatus) (*model.Appointment, error) {
	if !status.Valid() {
		return nil, apperrors.Validation("status must be one of [pending confirmed cancelled]", nil)
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, apperrors.NotFound("Appointment", err)
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("Appointment", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to get appointment: %w", err))
	}

	if s.statusPolicy == model.AccessParticipant &&
		caller.ID != current.DoctorID && caller.ID != current.PatientID {
		return nil, apperrors.Forbidden("Access denied: not a participant of this appointment")
	}

	updated, err := s.repo.UpdateStatus(ctx, id, status, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("Appointment", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to update appointment: %w", err))
	}

	s.metrics.AppointmentUpdates.WithLabelValues(string(status)).Inc()
	if s.auditor != nil {
		s.auditor.Record(ctx, caller.ID, model.AuditActionUpdate, model.AuditEntityAppointment, id, &audit.LogOptions{
			Metadata: map[string]interface{}{
				"from": current.Status,
				"to":   status,
			},
		})
	}
	event.Publish(ctx, s.events, s.logger, model.EventAppointmentStatusChanged, map[string]interface{}{
		"appointmentId": id,
		"status":        status,
		"changedBy":     caller.ID,
	})

	return updated, nil
}
