package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository/memory"
	"github.com/jwalitptl/medilink-api/internal/service/appointment"
	"github.com/jwalitptl/medilink-api/internal/service/audit"
	"github.com/jwalitptl/medilink-api/internal/service/auth"
	"github.com/jwalitptl/medilink-api/internal/service/event"
	"github.com/jwalitptl/medilink-api/internal/service/medical"
	"github.com/jwalitptl/medilink-api/internal/storage"
	jwtauth "github.com/jwalitptl/medilink-api/pkg/auth"
	"github.com/jwalitptl/medilink-api/pkg/security"
)

type noopMailer struct{}

func (noopMailer) SendPasswordReset(ctx context.Context, to, name, resetURL string) error { return nil }

func newSeeder(t *testing.T) (*Seeder, *memory.Store, *auth.Service) {
	t.Helper()
	store := memory.NewStore()
	auditor := audit.NewService(store.Audit(), nil)
	events := event.NewEventService(store.Outbox(), nil)

	blobs, err := storage.NewLocalStore(t.TempDir(), "uploads")
	require.NoError(t, err)

	authSvc := auth.NewService(auth.Deps{
		UserRepo: store.Users(),
		JWT:      jwtauth.NewJWTService(jwtauth.Config{Secret: "seed-test", Expiry: time.Hour}),
		Hasher:   security.NewBcryptHasher(bcrypt.MinCost),
		Email:    noopMailer{},
		Auditor:  auditor,
		Events:   events,
	}, auth.Config{})

	s := New(Services{
		Auth: authSvc,
		Appointments: appointment.NewService(appointment.Deps{
			Repo:     store.Appointments(),
			UserRepo: store.Users(),
			Auditor:  auditor,
			Events:   events,
		}, model.AccessParticipant),
		Reports: medical.NewService(medical.Deps{
			Repo:      store.Reports(),
			UserRepo:  store.Users(),
			Blobs:     blobs,
			Extractor: SampleExtractor{},
			Auditor:   auditor,
			Events:    events,
		}, medical.Config{}),
	}, nil)
	return s, store, authSvc
}

func TestRunInsertsDemoData(t *testing.T) {
	s, store, authSvc := newSeeder(t)
	ctx := context.Background()

	sum, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Doctors: 10, Patients: 10, Appointments: 10, Reports: 10}, *sum)

	doctors, err := store.Users().ListDoctors(ctx)
	require.NoError(t, err)
	assert.Len(t, doctors, 10)

	login, err := authSvc.Login(ctx, "patient1@medilink.com", DemoPassword)
	require.NoError(t, err)
	assert.Equal(t, "Rahul Gupta", login.User.Name)
	assert.Equal(t, []string{"Diabetes"}, login.User.Profile.MedicalConditions)

	doctor, err := store.Users().GetByEmail(ctx, "doctor9@medilink.com")
	require.NoError(t, err)
	assert.Equal(t, "ENT", doctor.Profile.Specialization)

	apts, err := store.Appointments().List(ctx, model.AppointmentFilters{PatientID: &login.User.ID})
	require.NoError(t, err)
	require.Len(t, apts, 1)
	assert.Equal(t, model.AppointmentStatusPending, apts[0].Status)

	second, err := store.Users().GetByEmail(ctx, "patient2@medilink.com")
	require.NoError(t, err)
	apts, err = store.Appointments().List(ctx, model.AppointmentFilters{PatientID: &second.ID})
	require.NoError(t, err)
	require.Len(t, apts, 1)
	assert.Equal(t, model.AppointmentStatusConfirmed, apts[0].Status)

	reports, err := store.Reports().ListByPatient(ctx, login.User.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "report1.pdf", reports[0].FileName)
	assert.Equal(t, "application/pdf", reports[0].FileType)
	assert.Equal(t, sampleExtractedText, reports[0].ExtractedText)
	assert.Equal(t, model.ReportTypeLab, reports[0].ReportType)
}

func TestRunTwiceReportsAlreadySeeded(t *testing.T) {
	s, _, _ := newSeeder(t)
	ctx := context.Background()

	_, err := s.Run(ctx)
	require.NoError(t, err)

	_, err = s.Run(ctx)
	assert.ErrorIs(t, err, ErrAlreadySeeded)
}
