package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medilink-api/internal/model"
	"github.com/jwalitptl/medilink-api/internal/repository/memory"
)

func TestAuditCleanupRemovesOnlyExpiredEntries(t *testing.T) {
	store := memory.NewStore()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for _, age := range []time.Duration{100 * 24 * time.Hour, 10 * 24 * time.Hour} {
		require.NoError(t, store.Audit().Create(ctx, &model.AuditLog{
			ID:        uuid.New(),
			Action:    model.AuditActionLogin,
			CreatedAt: now.Add(-age),
		}))
	}

	w := NewAuditCleanupWorker(store.Audit(), 30, time.Hour, nil)
	w.now = func() time.Time { return now }

	n, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, store.AuditLogs(), 1)
}

func TestAuditCleanupDisabledReturnsImmediately(t *testing.T) {
	w := NewAuditCleanupWorker(memory.NewStore().Audit(), 0, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return for a disabled worker")
	}
}
