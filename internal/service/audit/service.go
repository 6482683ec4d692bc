package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
	"github.com/jwalitptl/medilink-api/pkg/logger"
)

type clientKey struct{}

type client struct {
	ip        string
	userAgent string
}

// WithClient attaches the caller's address and user agent to ctx.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, client{ip: ip, userAgent: userAgent})
}

type Service struct {
	repo   repository.AuditRepository
	logger *logger.Logger
}

func NewService(repo repository.AuditRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, logger: log}
}

type LogOptions struct {
	Metadata interface{}
}

// Log creates an audit log entry
func (s *Service) Log(ctx context.Context, userID uuid.UUID, action, entityType string, entityID uuid.UUID, opts *LogOptions) error {
	metadata := json.RawMessage(`{}`)
	if opts != nil && opts.Metadata != nil {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return err
		}
		metadata = raw
	}

	c, _ := ctx.Value(clientKey{}).(client)

	entry := &model.AuditLog{
		ID:         uuid.New(),
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		IPAddress:  c.ip,
		UserAgent:  c.userAgent,
		CreatedAt:  time.Now().UTC(),
	}

	return s.repo.Create(ctx, entry)
}

// Record is Log for callers that must not fail on audit errors.
func (s *Service) Record(ctx context.Context, userID uuid.UUID, action, entityType string, entityID uuid.UUID, opts *LogOptions) {
	if err := s.Log(ctx, userID, action, entityType, entityID, opts); err != nil {
		s.logger.WithContext(ctx).Warn(err, "Failed to write audit log",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID.String())
	}
}
