package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
)

const appointmentColumns = `id, doctor_id, patient_id, date_time, status, symptoms, notes, created_at, updated_at`

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, doctor_id, patient_id, date_time, status,
			symptoms, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		appointment.ID,
		appointment.DoctorID,
		appointment.PatientID,
		appointment.DateTime,
		appointment.Status,
		appointment.Symptoms,
		appointment.Notes,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, id); err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", mapError(err))
	}
	return &appointment, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus, updatedAt time.Time) (*model.Appointment, error) {
	query := `
		UPDATE appointments
		SET status = $1, updated_at = $2
		WHERE id = $3
		RETURNING ` + appointmentColumns

	var appointment model.Appointment
	if err := r.db.GetContext(ctx, &appointment, query, status, updatedAt, id); err != nil {
		return nil, fmt.Errorf("failed to update appointment status: %w", mapError(err))
	}
	return &appointment, nil
}

func (r *appointmentRepository) List(ctx context.Context, filters model.AppointmentFilters) ([]*model.AppointmentDetail, error) {
	query := `
		SELECT a.id, a.doctor_id, a.patient_id, a.date_time, a.status,
			   a.symptoms, a.notes, a.created_at, a.updated_at,
			   d.id AS "doctor.id", d.name AS "doctor.name",
			   d.email AS "doctor.email", d.profile AS "doctor.profile",
			   p.id AS "patient.id", p.name AS "patient.name",
			   p.email AS "patient.email", p.profile AS "patient.profile"
		FROM appointments a
		JOIN users d ON d.id = a.doctor_id
		JOIN users p ON p.id = a.patient_id
		WHERE 1 = 1
	`
	args := []interface{}{}
	argCount := 1

	if filters.DoctorID != nil {
		query += fmt.Sprintf(" AND a.doctor_id = $%d", argCount)
		args = append(args, *filters.DoctorID)
		argCount++
	}

	if filters.PatientID != nil {
		query += fmt.Sprintf(" AND a.patient_id = $%d", argCount)
		args = append(args, *filters.PatientID)
		argCount++
	}

	query += " ORDER BY a.date_time DESC"

	appointments := []*model.AppointmentDetail{}
	if err := r.db.SelectContext(ctx, &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}
