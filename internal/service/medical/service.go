package medical

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/ocr"
	"github.com/jwalitptl/medilink-api/internal/repository"
	"github.com/jwalitptl/medilink-api/internal/service/audit"
	"github.com/jwalitptl/medilink-api/internal/service/event"
	"github.com/jwalitptl/medilink-api/internal/storage"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/logger"
	"github.com/jwalitptl/medilink-api/pkg/metrics"
)

const defaultOCRTimeout = 30 * time.Second

// File is an uploaded document as received from the client.
type File struct {
	Name        string
	ContentType string
	Content     io.Reader
}

type UploadInput struct {
	DoctorID   string
	ReportType string
	Date       string
	Notes      *string
	File       *File
}

type Config struct {
	OCRTimeout time.Duration
	// AccessPolicy controls who may list a patient's reports.
	AccessPolicy model.AccessPolicy
}

type Service struct {
	repo      repository.ReportRepository
	userRepo  repository.UserRepository
	blobs     storage.BlobStore
	extractor ocr.Extractor
	auditor   *audit.Service
	events    event.Emitter
	metrics   *metrics.Metrics
	logger    *logger.Logger
	config    Config
	now       func() time.Time
}

type Deps struct {
	Repo      repository.ReportRepository
	UserRepo  repository.UserRepository
	Blobs     storage.BlobStore
	Extractor ocr.Extractor
	Auditor   *audit.Service
	Events    event.Emitter
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = defaultOCRTimeout
	}
	if cfg.AccessPolicy == "" {
		cfg.AccessPolicy = model.AccessAny
	}
	if deps.Extractor == nil {
		deps.Extractor = ocr.NoopExtractor{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	return &Service{
		repo:      deps.Repo,
		userRepo:  deps.UserRepo,
		blobs:     deps.Blobs,
		extractor: deps.Extractor,
		auditor:   deps.Auditor,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		config:    cfg,
		now:       time.Now,
	}
}

// Upload stores the file, extracts its text and records the report for
// the calling patient. OCR failures never fail the upload.
func (s *Service) Upload(ctx context.Context, caller model.AuthenticatedUser, in UploadInput) (*model.MedicalReport, error) {
	if in.File == nil || in.File.Content == nil {
		return nil, apperrors.Validation("No file uploaded", nil)
	}

	reportType := model.ReportType(strings.TrimSpace(in.ReportType))
	if !reportType.Valid() {
		return nil, apperrors.Validation("reportType must be one of [lab prescription xray other]", nil)
	}

	if strings.TrimSpace(in.Date) == "" {
		return nil, apperrors.Validation("date is required", nil)
	}
	date, err := model.ParseTimestamp(in.Date)
	if err != nil {
		return nil, apperrors.Validation("date must be a valid date", err)
	}

	doctorID, err := uuid.Parse(strings.TrimSpace(in.DoctorID))
	if err != nil {
		return nil, apperrors.Validation("doctorId must be a valid id", err)
	}
	if _, err := s.userRepo.Get(ctx, doctorID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Validation("doctorId does not refer to a user", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to load doctor: %w", err))
	}

	content, err := io.ReadAll(in.File.Content)
	if err != nil {
		return nil, apperrors.Validation("could not read uploaded file", err)
	}
	if len(content) == 0 {
		return nil, apperrors.Validation("No file uploaded", nil)
	}

	contentType := detectContentType(in.File.ContentType, content)

	locator, err := s.blobs.Save(ctx, in.File.Name, bytes.NewReader(content))
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to store file: %w", err))
	}

	text := s.extractText(ctx, ocr.Document{
		FileName:    in.File.Name,
		ContentType: contentType,
		Content:     content,
	})

	report := &model.MedicalReport{
		ID:            uuid.New(),
		PatientID:     caller.ID,
		DoctorID:      doctorID,
		FileURL:       locator,
		FileName:      in.File.Name,
		FileType:      contentType,
		ExtractedText: text,
		ReportType:    reportType,
		Date:          date,
		Notes:         in.Notes,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.Create(ctx, report); err != nil {
		if delErr := s.blobs.Delete(context.Background(), locator); delErr != nil {
			s.logger.WithContext(ctx).Warn(delErr, "Failed to remove orphaned upload", "locator", locator)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to save report: %w", err))
	}

	s.metrics.ReportsUploaded.WithLabelValues(string(reportType)).Inc()
	if s.auditor != nil {
		s.auditor.Record(ctx, caller.ID, model.AuditActionCreate, model.AuditEntityReport, report.ID, &audit.LogOptions{
			Metadata: map[string]interface{}{"reportType": reportType, "fileType": contentType},
		})
	}
	event.Publish(ctx, s.events, s.logger, model.EventReportUploaded, map[string]interface{}{
		"reportId":   report.ID,
		"patientId":  report.PatientID,
		"doctorId":   report.DoctorID,
		"reportType": reportType,
	})

	return report, nil
}

func (s *Service) extractText(ctx context.Context, doc ocr.Document) string {
	ctx, cancel := context.WithTimeout(ctx, s.config.OCRTimeout)
	defer cancel()

	start := time.Now()
	text, err := s.extractor.Extract(ctx, doc)
	s.metrics.OCRLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.OCRRequests.WithLabelValues("failed").Inc()
		s.logger.WithContext(ctx).Warn(err, "OCR extraction failed, storing report without text",
			"file_name", doc.FileName,
			"content_type", doc.ContentType)
		return ""
	}

	s.metrics.OCRRequests.WithLabelValues("success").Inc()
	return text
}

// ListFor returns a patient's reports, newest report date first.
func (s *Service) ListFor(ctx context.Context, caller model.AuthenticatedUser, rawPatientID string) ([]*model.ReportDetail, error) {
	patientID, err := uuid.Parse(rawPatientID)
	if err != nil {
		return nil, apperrors.Validation("userId must be a valid id", err)
	}

	if s.config.AccessPolicy == model.AccessParticipant &&
		caller.ID != patientID && caller.Role != model.RoleDoctor {
		return nil, apperrors.Forbidden("Access denied: reports belong to another patient")
	}

	reports, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to list reports: %w", err))
	}
	if reports == nil {
		reports = []*model.ReportDetail{}
	}
	return reports, nil
}

// detectContentType trusts the declared type unless it is missing or generic.
func detectContentType(declared string, content []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(content).String()
}
