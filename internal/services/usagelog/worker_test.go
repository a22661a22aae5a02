package usagelog

import (
	"context"
	"testing"
	"time"

	"github.com/solstream/keygate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRecordsSubmittedTasks(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testLimiter(5), true)
	now := time.Now().UTC()
	key := seedKey(t, db, models.TierStandard, 0, models.NextMonthStart(now))

	w := NewWorker(svc, 2, 8)
	defer w.Stop()

	w.Submit(recordParams(key.KeyID), "req-1")

	require.Eventually(t, func() bool {
		usage, err := svc.GetUsageByAPIKey(context.Background(), "tenant-1", key.KeyID, 10, 0)
		return err == nil && len(usage) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerSubmitAfterStopDropsTask(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db, testLimiter(5), true)
	now := time.Now().UTC()
	key := seedKey(t, db, models.TierStandard, 0, models.NextMonthStart(now))

	w := NewWorker(svc, 2, 8)
	w.Stop()
	w.Stop() // idempotent

	// a late submit must not panic, and must not produce a row
	w.Submit(recordParams(key.KeyID), "req-late")
	time.Sleep(50 * time.Millisecond)

	usage, err := svc.GetUsageByAPIKey(context.Background(), "tenant-1", key.KeyID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, usage)
}
