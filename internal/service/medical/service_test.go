package medical

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/ocr"
	"github.com/jwalitptl/medilink-api/internal/repository/memory"
	"github.com/jwalitptl/medilink-api/internal/storage"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
)

type fakeExtractor struct {
	text string
	err  error
	// block waits for ctx to end instead of answering.
	block bool
	seen  ocr.Document
}

func (f *fakeExtractor) Extract(ctx context.Context, doc ocr.Document) (string, error) {
	f.seen = doc
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	dir     string
	ocr     *fakeExtractor
	patient model.AuthenticatedUser
	doctor  model.AuthenticatedUser
}

func seedUser(t *testing.T, store *memory.Store, name string, role model.Role) model.AuthenticatedUser {
	t.Helper()
	now := time.Now().UTC()
	u := &model.User{
		Base:         model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Name:         name,
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		Role:         role,
	}
	require.NoError(t, store.Users().Create(context.Background(), u))
	return u.Identity()
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := memory.NewStore()
	dir := t.TempDir()
	blobs, err := storage.NewLocalStore(dir, "uploads")
	require.NoError(t, err)
	extractor := &fakeExtractor{text: "Hemoglobin 13.5"}

	svc := NewService(Deps{
		Repo:      store.Reports(),
		UserRepo:  store.Users(),
		Blobs:     blobs,
		Extractor: extractor,
	}, cfg)

	return &fixture{
		svc:     svc,
		store:   store,
		dir:     dir,
		ocr:     extractor,
		patient: seedUser(t, store, "Pat", model.RolePatient),
		doctor:  seedUser(t, store, "Doc", model.RoleDoctor),
	}
}

func (f *fixture) input(content string) UploadInput {
	return UploadInput{
		DoctorID:   f.doctor.ID.String(),
		ReportType: "lab",
		Date:       "2026-01-15",
		File: &File{
			Name:        "blood.pdf",
			ContentType: "application/pdf",
			Content:     strings.NewReader(content),
		},
	}
}

func TestUploadStoresFileAndText(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	report, err := f.svc.Upload(ctx, f.patient, f.input("%PDF-1.4 fake"))
	require.NoError(t, err)
	assert.Equal(t, "Hemoglobin 13.5", report.ExtractedText)
	assert.Equal(t, model.ReportTypeLab, report.ReportType)
	assert.Equal(t, "application/pdf", report.FileType)
	assert.Equal(t, f.patient.ID, report.PatientID)
	assert.True(t, strings.HasPrefix(report.FileURL, "uploads/"))
	assert.True(t, strings.HasSuffix(report.FileURL, ".pdf"))

	data, err := os.ReadFile(filepath.Join(f.dir, filepath.Base(report.FileURL)))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	reports, err := f.svc.ListFor(ctx, f.doctor, f.patient.ID.String())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "Doc", reports[0].Doctor.Name)
}

func TestUploadFallsBackToEmptyTextOnOCRFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.ocr.err = errors.New("engine crashed")

	report, err := f.svc.Upload(context.Background(), f.patient, f.input("content"))
	require.NoError(t, err)
	assert.Equal(t, "", report.ExtractedText)
}

func TestUploadOCRTimeout(t *testing.T) {
	f := newFixture(t, Config{OCRTimeout: 20 * time.Millisecond})
	f.ocr.block = true

	start := time.Now()
	report, err := f.svc.Upload(context.Background(), f.patient, f.input("content"))
	require.NoError(t, err)
	assert.Empty(t, report.ExtractedText)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestUploadSniffsMissingContentType(t *testing.T) {
	f := newFixture(t, Config{})
	in := f.input("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	in.File.Name = "scan.png"
	in.File.ContentType = "application/octet-stream"

	report, err := f.svc.Upload(context.Background(), f.patient, in)
	require.NoError(t, err)
	assert.Equal(t, "image/png", report.FileType)
	assert.Equal(t, "image/png", f.ocr.seen.ContentType)
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name   string
		mutate func(*UploadInput)
		msg    string
	}{
		{"no file", func(in *UploadInput) { in.File = nil }, "No file uploaded"},
		{"empty file", func(in *UploadInput) { in.File.Content = strings.NewReader("") }, "No file uploaded"},
		{"bad report type", func(in *UploadInput) { in.ReportType = "mri" }, "reportType"},
		{"missing date", func(in *UploadInput) { in.Date = "" }, "date is required"},
		{"bad date", func(in *UploadInput) { in.Date = "15/01/2026" }, "date must be a valid date"},
		{"unknown doctor", func(in *UploadInput) { in.DoctorID = uuid.NewString() }, "doctorId"},
		{"malformed doctor", func(in *UploadInput) { in.DoctorID = "x" }, "doctorId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input("content")
			tt.mutate(&in)

			_, err := f.svc.Upload(context.Background(), f.patient, in)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListForAccessPolicy(t *testing.T) {
	f := newFixture(t, Config{AccessPolicy: model.AccessParticipant})
	ctx := context.Background()
	other := seedUser(t, f.store, "Other", model.RolePatient)

	_, err := f.svc.Upload(ctx, f.patient, f.input("content"))
	require.NoError(t, err)

	_, err = f.svc.ListFor(ctx, other, f.patient.ID.String())
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))

	own, err := f.svc.ListFor(ctx, f.patient, f.patient.ID.String())
	require.NoError(t, err)
	assert.Len(t, own, 1)

	_, err = f.svc.ListFor(ctx, f.doctor, "not-an-id")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestListForAnyPolicyReturnsEmptyList(t *testing.T) {
	f := newFixture(t, Config{})
	other := seedUser(t, f.store, "Other", model.RolePatient)

	reports, err := f.svc.ListFor(context.Background(), other, f.patient.ID.String())
	require.NoError(t, err)
	assert.NotNil(t, reports)
	assert.Empty(t, reports)
}
