// Package memory holds map-backed repositories used by tests and by the
// "memory" database driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
)

// Store keeps every table behind one lock so joins see a consistent view.
type Store struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]*model.User
	emails       map[string]uuid.UUID
	appointments map[uuid.UUID]*model.Appointment
	reports      map[uuid.UUID]*model.MedicalReport
	outbox       map[uuid.UUID]*model.OutboxEvent
	audit        []*model.AuditLog
}

func NewStore() *Store {
	return &Store{
		users:        make(map[uuid.UUID]*model.User),
		emails:       make(map[string]uuid.UUID),
		appointments: make(map[uuid.UUID]*model.Appointment),
		reports:      make(map[uuid.UUID]*model.MedicalReport),
		outbox:       make(map[uuid.UUID]*model.OutboxEvent),
	}
}

func (s *Store) Users() repository.UserRepository               { return &userRepository{s} }
func (s *Store) Appointments() repository.AppointmentRepository { return &appointmentRepository{s} }
func (s *Store) Reports() repository.ReportRepository           { return &reportRepository{s} }
func (s *Store) Outbox() repository.OutboxRepository            { return &outboxRepository{s} }
func (s *Store) Audit() repository.AuditRepository              { return &auditRepository{s} }

// AuditLogs returns a snapshot of recorded audit entries.
func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AuditLog, 0, len(s.audit))
	for _, l := range s.audit {
		out = append(out, *l)
	}
	return out
}

func copyUser(u *model.User) *model.User {
	c := *u
	if u.Profile.Age != nil {
		age := *u.Profile.Age
		c.Profile.Age = &age
	}
	if u.Profile.MedicalConditions != nil {
		c.Profile.MedicalConditions = append([]string(nil), u.Profile.MedicalConditions...)
	}
	if u.ResetTokenHash != nil {
		h := *u.ResetTokenHash
		c.ResetTokenHash = &h
	}
	if u.ResetTokenExpiresAt != nil {
		t := *u.ResetTokenExpiresAt
		c.ResetTokenExpiresAt = &t
	}
	return &c
}

func summary(u *model.User) model.UserSummary {
	c := copyUser(u)
	return model.UserSummary{ID: c.ID, Name: c.Name, Email: c.Email, Profile: c.Profile}
}

type userRepository struct{ s *Store }

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, exists := r.s.emails[key]; exists {
		return fmt.Errorf("failed to create user: %w", repository.ErrDuplicate)
	}
	r.s.users[user.ID] = copyUser(user)
	r.s.emails[key] = user.ID
	return nil
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("failed to get user: %w", repository.ErrNotFound)
	}
	return copyUser(u), nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.emails[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("failed to get user by email: %w", repository.ErrNotFound)
	}
	return copyUser(r.s.users[id]), nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id uuid.UUID, name string, profile model.Profile) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("failed to update profile: %w", repository.ErrNotFound)
	}
	u.Name = name
	u.Profile = profile
	u.UpdatedAt = time.Now().UTC()
	stored := copyUser(u)
	r.s.users[id] = stored
	return copyUser(stored), nil
}

func (r *userRepository) ListDoctors(ctx context.Context) ([]*model.DoctorListing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	doctors := []*model.DoctorListing{}
	for _, u := range r.s.users {
		if u.Role != model.RoleDoctor {
			continue
		}
		doctors = append(doctors, &model.DoctorListing{
			ID:             u.ID,
			Name:           u.Name,
			Email:          u.Email,
			Specialization: u.Profile.Specialization,
		})
	}
	sort.SliceStable(doctors, func(i, j int) bool {
		if doctors[i].Specialization != doctors[j].Specialization {
			return doctors[i].Specialization < doctors[j].Specialization
		}
		return doctors[i].Name < doctors[j].Name
	})
	return doctors, nil
}

func (r *userRepository) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.ResetTokenHash = &tokenHash
	u.ResetTokenExpiresAt = &expiresAt
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *userRepository) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.ResetTokenHash = nil
	u.ResetTokenExpiresAt = nil
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *userRepository) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.ResetTokenHash == nil || *u.ResetTokenHash != tokenHash {
			continue
		}
		if u.ResetTokenExpiresAt == nil || !u.ResetTokenExpiresAt.After(now) {
			break
		}
		u.PasswordHash = passwordHash
		u.ResetTokenHash = nil
		u.ResetTokenExpiresAt = nil
		u.UpdatedAt = now
		return copyUser(u), nil
	}
	return nil, fmt.Errorf("failed to consume reset token: %w", repository.ErrNotFound)
}

func (r *userRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

type appointmentRepository struct{ s *Store }

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *appointment
	r.s.appointments[c.ID] = &c
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("failed to get appointment: %w", repository.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus, updatedAt time.Time) (*model.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("failed to update appointment status: %w", repository.ErrNotFound)
	}
	a.Status = status
	a.UpdatedAt = updatedAt
	c := *a
	return &c, nil
}

func (r *appointmentRepository) List(ctx context.Context, filters model.AppointmentFilters) ([]*model.AppointmentDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*model.AppointmentDetail{}
	for _, a := range r.s.appointments {
		if filters.DoctorID != nil && a.DoctorID != *filters.DoctorID {
			continue
		}
		if filters.PatientID != nil && a.PatientID != *filters.PatientID {
			continue
		}
		doctor, dok := r.s.users[a.DoctorID]
		patient, pok := r.s.users[a.PatientID]
		if !dok || !pok {
			continue
		}
		out = append(out, &model.AppointmentDetail{
			Appointment: *a,
			Doctor:      summary(doctor),
			Patient:     summary(patient),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DateTime.After(out[j].DateTime)
	})
	return out, nil
}

type reportRepository struct{ s *Store }

func (r *reportRepository) Create(ctx context.Context, report *model.MedicalReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *report
	r.s.reports[c.ID] = &c
	return nil
}

func (r *reportRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.ReportDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*model.ReportDetail{}
	for _, rep := range r.s.reports {
		if rep.PatientID != patientID {
			continue
		}
		doctor, ok := r.s.users[rep.DoctorID]
		if !ok {
			continue
		}
		out = append(out, &model.ReportDetail{
			MedicalReport: *rep,
			Doctor:        model.DoctorRef{ID: doctor.ID, Name: doctor.Name, Email: doctor.Email},
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

type outboxRepository struct{ s *Store }

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil || event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	event.ID = uuid.New()
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = event.CreatedAt
	event.Status = model.OutboxStatusPending
	c := *event
	r.s.outbox[c.ID] = &c
	return nil
}

func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*model.OutboxEvent{}
	for _, e := range r.s.outbox {
		if e.Status == model.OutboxStatusPending {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	e.Status = status
	e.ErrorMessage = errMsg
	e.UpdatedAt = now
	if status == model.OutboxStatusProcessed {
		e.ProcessedAt = &now
	}
	return nil
}

type auditRepository struct{ s *Store }

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *log
	r.s.audit = append(r.s.audit, &c)
	return nil
}

func (r *auditRepository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kept := r.s.audit[:0]
	var removed int64
	for _, l := range r.s.audit {
		if l.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	r.s.audit = kept
	return removed, nil
}
