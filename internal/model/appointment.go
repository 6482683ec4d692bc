package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusPending, AppointmentStatusConfirmed, AppointmentStatusCancelled:
		return true
	}
	return false
}

type Appointment struct {
	Base
	DoctorID  uuid.UUID         `db:"doctor_id" json:"doctorId"`
	PatientID uuid.UUID         `db:"patient_id" json:"patientId"`
	DateTime  time.Time         `db:"date_time" json:"dateTime"`
	Status    AppointmentStatus `db:"status" json:"status"`
	Symptoms  string            `db:"symptoms" json:"symptoms"`
	Notes     *string           `db:"notes" json:"notes,omitempty"`
}

// AppointmentDetail carries the appointment with both parties populated.
type AppointmentDetail struct {
	Appointment
	Doctor  UserSummary `db:"doctor" json:"doctor"`
	Patient UserSummary `db:"patient" json:"patient"`
}

type CreateAppointmentRequest struct {
	DoctorID string  `json:"doctorId"`
	DateTime string  `json:"dateTime"`
	Symptoms string  `json:"symptoms"`
	Notes    *string `json:"notes,omitempty"`
}

type UpdateAppointmentStatusRequest struct {
	Status AppointmentStatus `json:"status" binding:"required"`
}

type AppointmentFilters struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
}
