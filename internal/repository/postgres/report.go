package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
)

type reportRepository struct {
	BaseRepository
}

func NewReportRepository(base BaseRepository) repository.ReportRepository {
	return &reportRepository{base}
}

func (r *reportRepository) Create(ctx context.Context, report *model.MedicalReport) error {
	query := `
		INSERT INTO medical_reports (
			id, patient_id, doctor_id, file_url, file_name, file_type,
			extracted_text, report_type, report_date, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		report.ID,
		report.PatientID,
		report.DoctorID,
		report.FileURL,
		report.FileName,
		report.FileType,
		report.ExtractedText,
		report.ReportType,
		report.Date,
		report.Notes,
		report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create medical report: %w", err)
	}
	return nil
}

func (r *reportRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*model.ReportDetail, error) {
	query := `
		SELECT m.id, m.patient_id, m.doctor_id, m.file_url, m.file_name, m.file_type,
			   m.extracted_text, m.report_type, m.report_date, m.notes, m.created_at,
			   d.id AS "doctor.id", d.name AS "doctor.name", d.email AS "doctor.email"
		FROM medical_reports m
		JOIN users d ON d.id = m.doctor_id
		WHERE m.patient_id = $1
		ORDER BY m.report_date DESC
	`

	reports := []*model.ReportDetail{}
	if err := r.db.SelectContext(ctx, &reports, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list medical reports: %w", err)
	}
	return reports, nil
}
