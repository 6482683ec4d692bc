package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medilink-api/internal/email"
	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
	"github.com/jwalitptl/medilink-api/internal/service/audit"
	"github.com/jwalitptl/medilink-api/internal/service/event"
	"github.com/jwalitptl/medilink-api/pkg/auth"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/logger"
	"github.com/jwalitptl/medilink-api/pkg/metrics"
	"github.com/jwalitptl/medilink-api/pkg/security"
	"github.com/jwalitptl/medilink-api/pkg/validator"
)

const (
	defaultResetTokenExpiry = 1 * time.Hour
	resetTokenInvalidMsg    = "Token is invalid or has expired"
	clearResetTimeout       = 5 * time.Second
)

// DoctorDirectory is notified when the set of doctors changes.
type DoctorDirectory interface {
	InvalidateDoctors()
}

type Config struct {
	ResetTokenExpiry time.Duration
	// ResetURLBase overrides the per-request base for reset links.
	ResetURLBase string
}

type Service struct {
	userRepo  repository.UserRepository
	jwtSvc    auth.JWTService
	hasher    security.PasswordHasher
	emailSvc  email.Service
	auditor   *audit.Service
	events    event.Emitter
	directory DoctorDirectory
	validate  validator.Validator
	metrics   *metrics.Metrics
	logger    *logger.Logger
	config    Config
	now       func() time.Time
}

type Deps struct {
	UserRepo  repository.UserRepository
	JWT       auth.JWTService
	Hasher    security.PasswordHasher
	Email     email.Service
	Auditor   *audit.Service
	Events    event.Emitter
	Directory DoctorDirectory
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	if cfg.ResetTokenExpiry <= 0 {
		cfg.ResetTokenExpiry = defaultResetTokenExpiry
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	return &Service{
		userRepo:  deps.UserRepo,
		jwtSvc:    deps.JWT,
		hasher:    deps.Hasher,
		emailSvc:  deps.Email,
		auditor:   deps.Auditor,
		events:    deps.Events,
		directory: deps.Directory,
		validate:  validator.New(),
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		config:    cfg,
		now:       time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, req model.SignupRequest) (*model.AuthResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)

	if err := s.validate.Validate(&req); err != nil {
		return nil, apperrors.Validation(err.Error(), err)
	}
	if err := validateProfile(s.validate, req.Role, req.Profile); err != nil {
		return nil, err
	}

	if _, err := s.userRepo.GetByEmail(ctx, req.Email); err == nil {
		return nil, apperrors.DuplicateEmail(nil)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(fmt.Errorf("failed to check email: %w", err))
	}

	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		Base:         model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		Profile:      req.Profile,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.DuplicateEmail(err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to create user: %w", err))
	}

	token, err := s.jwtSvc.IssueSessionToken(user.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.metrics.UsersRegistered.WithLabelValues(string(user.Role)).Inc()
	if user.Role == model.RoleDoctor && s.directory != nil {
		s.directory.InvalidateDoctors()
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, user.ID, model.AuditActionRegister, model.AuditEntityUser, user.ID, &audit.LogOptions{
			Metadata: map[string]interface{}{"role": user.Role},
		})
	}
	event.Publish(ctx, s.events, s.logger, model.EventUserRegistered, map[string]interface{}{
		"userId": user.ID,
		"role":   user.Role,
	})

	return &model.AuthResponse{User: user, Token: token}, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) || errors.Is(err, security.ErrPasswordTooLong) {
			return "", apperrors.Validation(err.Error(), err)
		}
		return "", apperrors.Internal(fmt.Errorf("failed to hash password: %w", err))
	}
	return hash, nil
}

// Login never reveals whether the email or the password was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.LoginAttempts.WithLabelValues("rejected").Inc()
			return nil, apperrors.InvalidCredentials()
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to load user: %w", err))
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		return nil, apperrors.InvalidCredentials()
	}

	token, err := s.jwtSvc.IssueSessionToken(user.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.metrics.LoginAttempts.WithLabelValues("success").Inc()
	if s.auditor != nil {
		s.auditor.Record(ctx, user.ID, model.AuditActionLogin, model.AuditEntityUser, user.ID, nil)
	}

	return &model.AuthResponse{User: user, Token: token}, nil
}

// ForgotPassword stores a fresh reset token and mails the link. urlBase is
// used when no base is configured. If the mail cannot be sent the token is
// withdrawn again.
func (s *Service) ForgotPassword(ctx context.Context, email, urlBase string) error {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("User", err)
		}
		return apperrors.Internal(fmt.Errorf("failed to load user: %w", err))
	}

	raw, digest, err := security.NewResetToken()
	if err != nil {
		return apperrors.Internal(err)
	}

	expiresAt := s.now().UTC().Add(s.config.ResetTokenExpiry)
	if err := s.userRepo.SetResetToken(ctx, user.ID, digest, expiresAt); err != nil {
		return apperrors.Internal(fmt.Errorf("failed to store reset token: %w", err))
	}

	base := s.config.ResetURLBase
	if base == "" {
		base = urlBase
	}
	resetURL := strings.TrimSuffix(base, "/") + "/" + raw

	if sendErr := s.emailSvc.SendPasswordReset(ctx, user.Email, user.Name, resetURL); sendErr != nil {
		log := s.logger.WithContext(ctx)
		// The request ctx may already be done when delivery fails on it.
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearResetTimeout)
		defer cancel()
		if clearErr := s.userRepo.ClearResetToken(clearCtx, user.ID); clearErr != nil {
			log.Error(clearErr, "Failed to clear reset token after mail failure", "user_id", user.ID.String())
		}
		log.Error(sendErr, "Failed to send password reset email", "user_id", user.ID.String())
		return apperrors.InternalMessage("Email could not be sent", sendErr)
	}

	return nil
}

func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) (*model.AuthResponse, error) {
	switch {
	case len(newPassword) < security.MinPasswordLen:
		return nil, apperrors.Validation(security.ErrPasswordTooShort.Error(), nil)
	case len(newPassword) > security.MaxPasswordLen:
		return nil, apperrors.Validation(security.ErrPasswordTooLong.Error(), nil)
	}
	if rawToken == "" {
		return nil, apperrors.TokenInvalid(resetTokenInvalidMsg, nil)
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.ConsumeResetToken(ctx, security.HashResetToken(rawToken), hash, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.TokenInvalid(resetTokenInvalidMsg, err)
		}
		return nil, apperrors.Internal(err)
	}

	token, err := s.jwtSvc.IssueSessionToken(user.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	if s.auditor != nil {
		s.auditor.Record(ctx, user.ID, model.AuditActionPasswordReset, model.AuditEntityUser, user.ID, nil)
	}

	return &model.AuthResponse{User: user, Token: token}, nil
}

// Authenticate resolves a bearer token to the live user behind it.
func (s *Service) Authenticate(ctx context.Context, token string) (model.AuthenticatedUser, error) {
	userID, err := s.jwtSvc.VerifySessionToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return model.AuthenticatedUser{}, apperrors.TokenExpired(err)
		}
		return model.AuthenticatedUser{}, apperrors.Unauthenticated(err)
	}

	user, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.AuthenticatedUser{}, apperrors.Unauthenticated(err)
		}
		return model.AuthenticatedUser{}, apperrors.Internal(err)
	}

	return user.Identity(), nil
}
