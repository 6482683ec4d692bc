// Package seed fills an empty store with demo doctors, patients,
// appointments and reports. Everything goes through the services so the
// usual validation, audit and outbox side effects apply.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/ocr"
	"github.com/jwalitptl/medilink-api/internal/service/appointment"
	"github.com/jwalitptl/medilink-api/internal/service/auth"
	"github.com/jwalitptl/medilink-api/internal/service/medical"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/logger"
)

// DemoPassword is shared by every seeded account.
const DemoPassword = "password123"

const sampleExtractedText = "Sample extracted text from report."

// ErrAlreadySeeded is returned when the first demo account already exists.
var ErrAlreadySeeded = errors.New("demo data already present")

var (
	doctorNames = []string{
		"Dr. Aarav Sharma", "Dr. Priya Patel", "Dr. Rohan Mehra", "Dr. Ananya Singh", "Dr. Aditya Verma",
		"Dr. Sneha Nair", "Dr. Karan Kapoor", "Dr. Isha Desai", "Dr. Arjun Reddy", "Dr. Meera Joshi",
	}
	patientNames = []string{
		"Rahul Gupta", "Pooja Sinha", "Vikram Rao", "Neha Jain", "Amit Kulkarni",
		"Sonal Agarwal", "Ritesh Bansal", "Divya Menon", "Siddharth Chatterjee", "Kavya Pillai",
	}
	specializations = []string{
		"Cardiology", "Dermatology", "Neurology", "Pediatrics", "Orthopedics",
		"Gynecology", "Oncology", "Psychiatry", "ENT", "General Medicine",
	}
	medicalConditions = []string{
		"Diabetes", "Hypertension", "Asthma", "Thyroid Disorder", "Heart Disease", "Arthritis", "None",
	}
	appointmentStatuses = []model.AppointmentStatus{
		model.AppointmentStatusPending, model.AppointmentStatusConfirmed, model.AppointmentStatusCancelled,
	}
	reportTypes = []model.ReportType{
		model.ReportTypeLab, model.ReportTypePrescription, model.ReportTypeXray, model.ReportTypeOther,
	}
)

// samplePDF is the smallest body mimetype recognises as application/pdf.
var samplePDF = []byte("%PDF-1.4\n1 0 obj<<>>endobj\ntrailer<<>>\n%%EOF\n")

// SampleExtractor stands in for OCR while seeding.
type SampleExtractor struct{}

func (SampleExtractor) Extract(ctx context.Context, doc ocr.Document) (string, error) {
	return sampleExtractedText, nil
}

type Services struct {
	Auth         *auth.Service
	Appointments *appointment.Service
	Reports      *medical.Service
}

type Summary struct {
	Doctors      int
	Patients     int
	Appointments int
	Reports      int
}

type Seeder struct {
	services Services
	logger   *logger.Logger
	now      func() time.Time
}

func New(services Services, log *logger.Logger) *Seeder {
	if log == nil {
		log = logger.Nop()
	}
	return &Seeder{services: services, logger: log, now: time.Now}
}

// Run inserts the demo data set. It stops at the first failure; rows
// written before it are kept.
func (s *Seeder) Run(ctx context.Context) (*Summary, error) {
	var sum Summary

	doctors := make([]*model.User, 0, len(doctorNames))
	for i, name := range doctorNames {
		u, err := s.register(ctx, model.SignupRequest{
			Name:     name,
			Email:    fmt.Sprintf("doctor%d@medilink.com", i+1),
			Password: DemoPassword,
			Role:     model.RoleDoctor,
			Profile: model.Profile{
				Specialization: specializations[i%len(specializations)],
				Phone:          fmt.Sprintf("90000000%d", i+1),
				Address:        fmt.Sprintf("Clinic %d, Mumbai", i+1),
			},
		})
		if err != nil {
			if i == 0 && apperrors.Is(err, apperrors.ErrDuplicateEmail) {
				return nil, ErrAlreadySeeded
			}
			return nil, err
		}
		doctors = append(doctors, u)
	}
	sum.Doctors = len(doctors)

	patients := make([]*model.User, 0, len(patientNames))
	for i, name := range patientNames {
		age := 25 + i%10
		gender := "female"
		if i%2 == 0 {
			gender = "male"
		}
		u, err := s.register(ctx, model.SignupRequest{
			Name:     name,
			Email:    fmt.Sprintf("patient%d@medilink.com", i+1),
			Password: DemoPassword,
			Role:     model.RolePatient,
			Profile: model.Profile{
				Age:               &age,
				Gender:            gender,
				Phone:             fmt.Sprintf("80000000%d", i+1),
				Address:           fmt.Sprintf("House %d, Delhi", i+1),
				MedicalConditions: []string{medicalConditions[i%len(medicalConditions)]},
			},
		})
		if err != nil {
			return nil, err
		}
		patients = append(patients, u)
	}
	sum.Patients = len(patients)

	now := s.now().UTC()
	for i := 0; i < 10; i++ {
		doctor, patient := doctors[i%len(doctors)], patients[i%len(patients)]
		if err := s.appointment(ctx, doctor, patient, now.AddDate(0, 0, i), appointmentStatuses[i%len(appointmentStatuses)]); err != nil {
			return nil, err
		}
		sum.Appointments++
	}

	for i := 0; i < 10; i++ {
		notes := "Sample report notes."
		_, err := s.services.Reports.Upload(ctx, patients[i%len(patients)].Identity(), medical.UploadInput{
			DoctorID:   doctors[i%len(doctors)].ID.String(),
			ReportType: string(reportTypes[i%len(reportTypes)]),
			Date:       now.AddDate(0, 0, -i).Format("2006-01-02"),
			Notes:      &notes,
			File: &medical.File{
				Name:        fmt.Sprintf("report%d.pdf", i+1),
				ContentType: "application/pdf",
				Content:     bytes.NewReader(samplePDF),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to seed report %d: %w", i+1, err)
		}
		sum.Reports++
	}

	s.logger.WithContext(ctx).Info("Demo data inserted",
		"doctors", sum.Doctors,
		"patients", sum.Patients,
		"appointments", sum.Appointments,
		"reports", sum.Reports)
	return &sum, nil
}

func (s *Seeder) register(ctx context.Context, req model.SignupRequest) (*model.User, error) {
	resp, err := s.services.Auth.Register(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to seed %s: %w", req.Email, err)
	}
	return resp.User, nil
}

// appointment books as the patient, then moves the status as the doctor.
func (s *Seeder) appointment(ctx context.Context, doctor, patient *model.User, at time.Time, status model.AppointmentStatus) error {
	notes := "Follow up in 2 weeks"
	apt, err := s.services.Appointments.Create(ctx, patient.Identity(), model.CreateAppointmentRequest{
		DoctorID: doctor.ID.String(),
		DateTime: at.Format(time.RFC3339),
		Symptoms: "Fever, cough",
		Notes:    &notes,
	})
	if err != nil {
		return fmt.Errorf("failed to seed appointment for %s: %w", patient.Email, err)
	}
	if status == model.AppointmentStatusPending {
		return nil
	}
	if _, err := s.services.Appointments.UpdateStatus(ctx, doctor.Identity(), apt.ID.String(), status); err != nil {
		return fmt.Errorf("failed to set appointment status: %w", err)
	}
	return nil
}
