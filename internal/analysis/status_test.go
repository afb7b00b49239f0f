package analysis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RishiKendai/phosphorus/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) (*StatusTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStatusTracker(client), mr
}

func TestStatusTracker(t *testing.T) {
	ctx := context.Background()
	tracker, mr := newTracker(t)

	step, err := tracker.GetStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StepIdle, step)

	require.NoError(t, tracker.UpdateStatus(ctx, "c1", models.StepAnalyzing))
	step, err = tracker.GetStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StepAnalyzing, step)
	assert.Equal(t, statusTTL, mr.TTL("plagiarism_report_status:c1"))

	assert.Error(t, tracker.UpdateStatus(ctx, "c1", models.Step("deep_analysis")))
}

func TestStatusTrackerLease(t *testing.T) {
	ctx := context.Background()
	tracker, mr := newTracker(t)

	ok, err := tracker.Acquire(ctx, "c1", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	step, err := tracker.GetStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StepInitiated, step)
	assert.Equal(t, statusTTL, mr.TTL("plagiarism_report_status:c1"))

	ok, err = tracker.Acquire(ctx, "c1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tracker.Release(ctx, "c1", "owner-b"))
	assert.True(t, mr.Exists("plagiarism_report_lease:c1"), "only the owner releases")

	require.NoError(t, tracker.Release(ctx, "c1", "owner-a"))
	assert.False(t, mr.Exists("plagiarism_report_lease:c1"))
}

func TestStatusTrackerStaleLeaseIsTakenOver(t *testing.T) {
	ctx := context.Background()
	tracker, mr := newTracker(t)

	ok, err := tracker.Acquire(ctx, "c1", "crashed", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tracker.UpdateStatus(ctx, "c1", models.StepAnalyzing))

	mr.FastForward(2 * time.Minute)

	ok, err = tracker.Acquire(ctx, "c1", "next", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tracker.Release(ctx, "c1", "crashed"))
	assert.True(t, mr.Exists("plagiarism_report_lease:c1"), "a late release does not drop the new lease")
}

func TestBeginIsExclusiveUnderConcurrency(t *testing.T) {
	tracker, _ := newTracker(t)
	pool := NewWorkerPool(context.Background(), 1)
	t.Cleanup(pool.Close)
	svc, err := NewService(newFakeAnalyzer(), &fakeSubmissions{}, &fakeResults{}, tracker, pool, ServiceConfig{
		ComputationTimeout: time.Minute,
	})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		contestID := fmt.Sprintf("c%d", i)
		var (
			wg      sync.WaitGroup
			started atomic.Int32
		)
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := svc.Begin(context.Background(), contestID)
				assert.NoError(t, err)
				if ok {
					started.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), started.Load(), "contest %s", contestID)
	}
}
