package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
	"github.com/jwalitptl/medilink-api/internal/repository/memory"
	"github.com/jwalitptl/medilink-api/internal/service/audit"
	"github.com/jwalitptl/medilink-api/internal/service/event"
	"github.com/jwalitptl/medilink-api/pkg/auth"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/security"
)

type fakeMailer struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (m *fakeMailer) SendPasswordReset(ctx context.Context, to, name, resetURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, resetURL)
	return m.err
}

func (m *fakeMailer) lastToken(t *testing.T) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.urls)
	u := m.urls[len(m.urls)-1]
	return u[strings.LastIndex(u, "/")+1:]
}

// slowMailer holds delivery until the caller's ctx is done.
type slowMailer struct {
	fakeMailer
}

func (m *slowMailer) SendPasswordReset(ctx context.Context, to, name, resetURL string) error {
	_ = m.fakeMailer.SendPasswordReset(ctx, to, name, resetURL)
	<-ctx.Done()
	return ctx.Err()
}

// ctxAwareUsers fails writes on a done ctx, as a database driver would.
type ctxAwareUsers struct {
	repository.UserRepository
}

func (r ctxAwareUsers) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.UserRepository.ClearResetToken(ctx, id)
}

type countingDirectory struct{ calls int }

func (d *countingDirectory) InvalidateDoctors() { d.calls++ }

type fixture struct {
	svc       *Service
	store     *memory.Store
	mailer    *fakeMailer
	jwt       auth.JWTService
	directory *countingDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	mailer := &fakeMailer{}
	jwtSvc := auth.NewJWTService(auth.Config{Secret: "test-secret", Expiry: time.Hour})
	directory := &countingDirectory{}

	svc := NewService(Deps{
		UserRepo:  store.Users(),
		JWT:       jwtSvc,
		Hasher:    security.NewBcryptHasher(bcrypt.MinCost),
		Email:     mailer,
		Auditor:   audit.NewService(store.Audit(), nil),
		Events:    event.NewEventService(store.Outbox(), nil),
		Directory: directory,
	}, Config{ResetURLBase: "http://localhost:3000/reset-password"})

	return &fixture{svc: svc, store: store, mailer: mailer, jwt: jwtSvc, directory: directory}
}

func patientSignup(email string) model.SignupRequest {
	return model.SignupRequest{
		Name:     "Pat Example",
		Email:    email,
		Password: "secret1",
		Role:     model.RolePatient,
	}
}

func TestRegisterLoginAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registered, err := f.svc.Register(ctx, patientSignup("  Pat@Example.com "))
	require.NoError(t, err)
	assert.Equal(t, "pat@example.com", registered.User.Email)
	assert.NotEmpty(t, registered.Token)
	assert.NotEqual(t, "secret1", registered.User.PasswordHash)

	loggedIn, err := f.svc.Login(ctx, "pat@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)

	identity, err := f.svc.Authenticate(ctx, loggedIn.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, identity.ID)
	assert.Equal(t, model.RolePatient, identity.Role)

	events, err := f.store.Outbox().GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventUserRegistered, events[0].EventType)
	assert.Equal(t, 0, f.directory.calls)
}

func TestRegisterDuplicateEmailKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, patientSignup("dup@example.com"))
	require.NoError(t, err)

	second := patientSignup("DUP@example.com")
	second.Name = "Someone Else"
	second.Password = "another1"
	_, err = f.svc.Register(ctx, second)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDuplicateEmail))

	stored, err := f.store.Users().GetByEmail(ctx, "dup@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Pat Example", stored.Name)

	_, err = f.svc.Login(ctx, "dup@example.com", "secret1")
	assert.NoError(t, err)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.SignupRequest)
		msg    string
	}{
		{"missing name", func(r *model.SignupRequest) { r.Name = "  " }, "name is required"},
		{"bad email", func(r *model.SignupRequest) { r.Email = "nope" }, "email must be a valid email"},
		{"short password", func(r *model.SignupRequest) { r.Password = "abc" }, "password must be at least 6 characters long"},
		{"long password", func(r *model.SignupRequest) { r.Password = strings.Repeat("a", 73) }, "password must not exceed 72 characters"},
		{"password over bcrypt byte limit", func(r *model.SignupRequest) { r.Password = strings.Repeat("é", 40) }, "password must not exceed 72 bytes"},
		{"unknown role", func(r *model.SignupRequest) { r.Role = "admin" }, "role must be one of [doctor patient]"},
		{"doctor without specialization", func(r *model.SignupRequest) { r.Role = model.RoleDoctor }, "specialization"},
		{"age out of range", func(r *model.SignupRequest) {
			age := 130
			r.Profile.Age = &age
		}, "age must be at most 120"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := patientSignup("valid@example.com")
			tt.mutate(&req)

			_, err := f.svc.Register(ctx, req)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRegisterDoctorInvalidatesDirectory(t *testing.T) {
	f := newFixture(t)

	req := patientSignup("doc@example.com")
	req.Role = model.RoleDoctor
	req.Profile.Specialization = "Cardiology"

	_, err := f.svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.directory.calls)
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, patientSignup("pat@example.com"))
	require.NoError(t, err)

	_, wrongPassword := f.svc.Login(ctx, "pat@example.com", "wrong-password")
	_, unknownEmail := f.svc.Login(ctx, "nobody@example.com", "secret1")

	for _, err := range []error{wrongPassword, unknownEmail} {
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidCredentials))
		assert.Equal(t, "Invalid credentials", err.Error())
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ForgotPassword(context.Background(), "ghost@example.com", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.Empty(t, f.mailer.urls)
}

func TestResetPasswordIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, patientSignup("pat@example.com"))
	require.NoError(t, err)

	require.NoError(t, f.svc.ForgotPassword(ctx, "pat@example.com", "http://ignored"))
	assert.True(t, strings.HasPrefix(f.mailer.urls[0], "http://localhost:3000/reset-password/"))
	token := f.mailer.lastToken(t)
	assert.Len(t, token, 64)

	resp, err := f.svc.ResetPassword(ctx, token, "newsecret")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)

	_, err = f.svc.ResetPassword(ctx, token, "othersecret")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTokenInvalid))

	_, err = f.svc.Login(ctx, "pat@example.com", "secret1")
	assert.Error(t, err)
	_, err = f.svc.Login(ctx, "pat@example.com", "newsecret")
	assert.NoError(t, err)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, patientSignup("pat@example.com"))
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	require.NoError(t, f.svc.ForgotPassword(ctx, "pat@example.com", ""))
	f.svc.now = time.Now

	_, err = f.svc.ResetPassword(ctx, f.mailer.lastToken(t), "newsecret")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTokenInvalid))
	assert.Equal(t, "Token is invalid or has expired", err.(*apperrors.AppError).Message)
}

func TestResetPasswordRejectsShortPassword(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ResetPassword(context.Background(), "whatever", "abc")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestForgotPasswordMailFailureWithdrawsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, patientSignup("pat@example.com"))
	require.NoError(t, err)

	f.mailer.err = errors.New("smtp down")
	err = f.svc.ForgotPassword(ctx, "pat@example.com", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInternal))
	assert.Equal(t, "Email could not be sent", err.(*apperrors.AppError).Message)

	stored, err := f.store.Users().GetByEmail(ctx, "pat@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.ResetTokenHash)

	_, err = f.svc.ResetPassword(ctx, f.mailer.lastToken(t), "newsecret")
	assert.True(t, apperrors.Is(err, apperrors.ErrTokenInvalid))
}

func TestForgotPasswordWithdrawsTokenAfterRequestTimeout(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), patientSignup("pat@example.com"))
	require.NoError(t, err)

	mailer := &slowMailer{}
	f.svc.emailSvc = mailer
	f.svc.userRepo = ctxAwareUsers{UserRepository: f.store.Users()}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.svc.ForgotPassword(ctx, "pat@example.com", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInternal))

	stored, err := f.store.Users().GetByEmail(context.Background(), "pat@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.ResetTokenHash)
	assert.Nil(t, stored.ResetTokenExpiresAt)

	_, err = f.svc.ResetPassword(context.Background(), mailer.lastToken(t), "newsecret")
	assert.True(t, apperrors.Is(err, apperrors.ErrTokenInvalid))
}

func TestResetPasswordRejectsLongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, patientSignup("pat@example.com"))
	require.NoError(t, err)
	require.NoError(t, f.svc.ForgotPassword(ctx, "pat@example.com", ""))
	token := f.mailer.lastToken(t)

	_, err = f.svc.ResetPassword(ctx, token, strings.Repeat("a", 73))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Contains(t, err.Error(), "72 bytes")

	// A rejected attempt leaves the token usable.
	_, err = f.svc.ResetPassword(ctx, token, "newsecret")
	assert.NoError(t, err)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, "not-a-jwt")
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthenticated))

	orphan, err := f.jwt.IssueSessionToken(uuid.New())
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, orphan)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthenticated))
}

func TestAuthorize(t *testing.T) {
	doctor := model.AuthenticatedUser{ID: uuid.New(), Role: model.RoleDoctor}

	assert.NoError(t, Authorize(doctor, model.RoleDoctor))
	assert.NoError(t, Authorize(doctor, model.RolePatient, model.RoleDoctor))

	err := Authorize(doctor, model.RolePatient)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))
}
