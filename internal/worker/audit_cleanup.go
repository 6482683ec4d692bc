package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jwalitptl/medilink-api/internal/repository"
)

// AuditCleanupWorker prunes audit entries older than the retention window.
type AuditCleanupWorker struct {
	repo            repository.AuditRepository
	retentionDays   int
	cleanupInterval time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

func NewAuditCleanupWorker(repo repository.AuditRepository, retentionDays int, cleanupInterval time.Duration, logger *zap.Logger) *AuditCleanupWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditCleanupWorker{
		repo:            repo,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		now:             time.Now,
	}
}

func (w *AuditCleanupWorker) Start(ctx context.Context) {
	if w.retentionDays <= 0 || w.cleanupInterval <= 0 {
		w.logger.Info("audit cleanup disabled")
		return
	}

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error("error cleaning up audit logs", zap.Error(err))
			}
		}
	}
}

func (w *AuditCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().UTC().AddDate(0, 0, -w.retentionDays)

	rows, err := w.repo.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	w.logger.Info("cleaned up audit logs", zap.Int64("rows", rows), zap.Time("cutoff", cutoff))
	return rows, nil
}
