package model

import (
	"time"

	"github.com/google/uuid"
)

type ReportType string

const (
	ReportTypeLab          ReportType = "lab"
	ReportTypePrescription ReportType = "prescription"
	ReportTypeXray         ReportType = "xray"
	ReportTypeOther        ReportType = "other"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeLab, ReportTypePrescription, ReportTypeXray, ReportTypeOther:
		return true
	}
	return false
}

// MedicalReport is immutable once stored.
type MedicalReport struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patientId"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctorId"`
	FileURL       string     `db:"file_url" json:"fileUrl"`
	FileName      string     `db:"file_name" json:"fileName"`
	FileType      string     `db:"file_type" json:"fileType"`
	ExtractedText string     `db:"extracted_text" json:"extractedText"`
	ReportType    ReportType `db:"report_type" json:"reportType"`
	Date          time.Time  `db:"report_date" json:"date"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

type DoctorRef struct {
	ID    uuid.UUID `db:"id" json:"id"`
	Name  string    `db:"name" json:"name"`
	Email string    `db:"email" json:"email"`
}

type ReportDetail struct {
	MedicalReport
	Doctor DoctorRef `db:"doctor" json:"doctor"`
}
