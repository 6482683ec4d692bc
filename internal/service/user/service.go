package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
	"github.com/jwalitptl/medilink-api/internal/service/audit"
	"github.com/jwalitptl/medilink-api/internal/service/auth"
	apperrors "github.com/jwalitptl/medilink-api/pkg/errors"
	"github.com/jwalitptl/medilink-api/pkg/logger"
)

const doctorsCacheKey = "doctors"

type Service struct {
	repo    repository.UserRepository
	auditor *audit.Service
	cache   *cache.Cache
	ttl     time.Duration
	logger  *logger.Logger
}

// NewService builds the user service. A non-positive directoryTTL disables
// caching of the doctor directory.
func NewService(repo repository.UserRepository, auditor *audit.Service, directoryTTL time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		repo:    repo,
		auditor: auditor,
		ttl:     directoryTTL,
		logger:  log,
	}
	if directoryTTL > 0 {
		s.cache = cache.New(directoryTTL, 2*directoryTTL)
	}
	return s
}

func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*model.User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("User", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to get user: %w", err))
	}
	return user, nil
}

// UpdateProfile applies a partial update. Omitted fields keep their stored
// values; a supplied profile replaces the stored one as a whole.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, req model.UpdateProfileRequest) (*model.User, error) {
	current, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	name := current.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.Validation("name must not be empty", nil)
		}
	}

	profile := current.Profile
	if req.Profile != nil {
		profile = *req.Profile
	}
	if err := auth.ValidateProfile(current.Role, profile); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateProfile(ctx, id, name, profile)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("User", err)
		}
		return nil, apperrors.Internal(fmt.Errorf("failed to update profile: %w", err))
	}

	if updated.Role == model.RoleDoctor {
		s.InvalidateDoctors()
	}
	if s.auditor != nil {
		s.auditor.Record(ctx, id, model.AuditActionUpdate, model.AuditEntityUser, id, nil)
	}

	return updated, nil
}

// ListDoctors returns the public doctor directory, served from cache when warm.
func (s *Service) ListDoctors(ctx context.Context) ([]*model.DoctorListing, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(doctorsCacheKey); ok {
			return cached.([]*model.DoctorListing), nil
		}
	}

	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to list doctors: %w", err))
	}
	if doctors == nil {
		doctors = []*model.DoctorListing{}
	}

	if s.cache != nil {
		s.cache.Set(doctorsCacheKey, doctors, cache.DefaultExpiration)
	}
	return doctors, nil
}

func (s *Service) InvalidateDoctors() {
	if s.cache != nil {
		s.cache.Delete(doctorsCacheKey)
	}
}
