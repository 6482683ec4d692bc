package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository"
	"github.com/jwalitptl/medilink-api/pkg/logger"
)

// Emitter records domain events for asynchronous delivery.
type Emitter interface {
	Emit(ctx context.Context, eventType string, payload interface{}) error
}

// EventService writes events to the outbox table. The relay in cmd/worker
// publishes them.
type EventService struct {
	outboxRepo repository.OutboxRepository
	logger     *logger.Logger
}

func NewEventService(outboxRepo repository.OutboxRepository, log *logger.Logger) *EventService {
	if log == nil {
		log = logger.Nop()
	}
	return &EventService{
		outboxRepo: outboxRepo,
		logger:     log,
	}
}

func (s *EventService) Emit(ctx context.Context, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &model.OutboxEvent{
		EventType: eventType,
		Payload:   payloadJSON,
	}

	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	s.logger.Debug("Event queued", "event_type", eventType, "event_id", event.ID.String())
	return nil
}

// Publish is Emit for callers whose primary write already succeeded; a
// failed enqueue is logged rather than returned.
func Publish(ctx context.Context, e Emitter, log *logger.Logger, eventType string, payload interface{}) {
	if e == nil {
		return
	}
	if err := e.Emit(ctx, eventType, payload); err != nil {
		log.WithContext(ctx).Warn(err, "Failed to queue event", "event_type", eventType)
	}
}
