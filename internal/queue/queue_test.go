package queue

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/database"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T) (*Queue, *fakeClock) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "queue.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	q := New(db, RetryPolicy{MaxAttempts: 3, InitialDelay: time.Minute, MaxDelay: time.Hour, BackoffFactor: 2}, 10*time.Minute, &logger)
	q.SetClock(clock.Now)
	return q, clock
}

func intPtr(v int) *int { return &v }

func TestEnqueue_Validation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	cases := []EnqueueRequest{
		{ObjectType: "ticket", ObjectID: 1, SyncType: models.SyncCreate},
		{ObjectType: models.ObjectOrder, ObjectID: 0, SyncType: models.SyncCreate},
		{ObjectType: models.ObjectOrder, ObjectID: 1, SyncType: "upsert"},
		{ObjectType: models.ObjectOrder, ObjectID: 1, SyncType: models.SyncCreate, Priority: intPtr(-1)},
	}
	for _, req := range cases {
		_, _, err := q.Enqueue(ctx, req)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr, "%+v", req)
	}
}

func TestEnqueue_DoubleEnqueueKeepsOnePending(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	req := EnqueueRequest{ObjectType: models.ObjectOrder, ObjectID: 42, SyncType: models.SyncCreate}

	id1, merged, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.False(t, merged)

	id2, merged, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, id1, id2)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Pending)

	task, err := q.Get(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPriority, task.Priority)
	assert.NotNil(t, task.Data)
}

func TestEnqueue_ExplicitZeroPriority(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	low, _, err := q.Enqueue(ctx, EnqueueRequest{ObjectType: models.ObjectOrder, ObjectID: 1, SyncType: models.SyncCreate, Priority: intPtr(1)})
	require.NoError(t, err)
	top, _, err := q.Enqueue(ctx, EnqueueRequest{ObjectType: models.ObjectOrder, ObjectID: 2, SyncType: models.SyncCreate, Priority: intPtr(0)})
	require.NoError(t, err)

	task, err := q.Get(ctx, top)
	require.NoError(t, err)
	assert.Equal(t, 0, task.Priority)

	tasks, err := q.FetchBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, top, tasks[0].ID)
	assert.Equal(t, low, tasks[1].ID)
}

func TestEnqueue_MergeResetsBackoff(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	req := EnqueueRequest{ObjectType: models.ObjectCustomer, ObjectID: 6, SyncType: models.SyncUpdate}

	id, _, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	task, err := q.Lease(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, task)
	terminal, err := q.MarkFailed(ctx, task, "zoho unavailable")
	require.NoError(t, err)
	require.False(t, terminal)

	backedOff, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, backedOff.Attempts)
	require.NotNil(t, backedOff.NextAttemptAt)

	mergedID, merged, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.True(t, merged)
	assert.Equal(t, id, mergedID)

	task, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, task.Attempts)
	assert.Nil(t, task.NextAttemptAt)

	leased, err := q.Lease(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, leased, "merged change must be due at once")
}

func TestEnqueue_WhileProcessingCreatesNewTask(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	req := EnqueueRequest{ObjectType: models.ObjectCustomer, ObjectID: 5, SyncType: models.SyncUpdate}

	id1, _, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	leased, err := q.FetchBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	id2, merged, err := q.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.False(t, merged)
	assert.NotEqual(t, id1, id2)
}

func TestMarkFailed_ReachesCeiling(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	id, _, err := q.Enqueue(ctx, EnqueueRequest{ObjectType: models.ObjectOrder, ObjectID: 1, SyncType: models.SyncCreate})
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		tasks, err := q.FetchBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, tasks, 1, "attempt %d", attempt)

		terminal, err := q.MarkFailed(ctx, tasks[0], "connection timeout")
		require.NoError(t, err)
		assert.Equal(t, attempt == 3, terminal)

		if !terminal {
			// Backoff keeps the task out of the next batch until it is due.
			none, err := q.FetchBatch(ctx, 1)
			require.NoError(t, err)
			assert.Empty(t, none)
			clock.Advance(q.Policy().NextDelay(attempt))
		}
	}

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, "connection timeout", task.ErrorMessage)

	failed, err := q.List(ctx, models.StatusFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestMarkFailedPermanent(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	id, _, err := q.Enqueue(ctx, EnqueueRequest{ObjectType: models.ObjectProduct, ObjectID: 3, SyncType: models.SyncUpdate})
	require.NoError(t, err)
	tasks, err := q.FetchBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, q.MarkFailedPermanent(ctx, tasks[0], "Last_Name: required"))

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, 1, task.Attempts)

	retried, err := q.Retry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, retried)
	task, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
}

func TestLease_StaleAfterTimeout(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	id, _, err := q.Enqueue(ctx, EnqueueRequest{ObjectType: models.ObjectOrder, ObjectID: 8, SyncType: models.SyncCreate})
	require.NoError(t, err)

	held, err := q.Lease(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, held)

	clock.Advance(9 * time.Minute)
	again, err := q.Lease(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, again, "live lease must not be taken over")

	clock.Advance(2 * time.Minute)
	again, err = q.Lease(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.NotEqual(t, held.LeaseToken, again.LeaseToken)

	assert.ErrorIs(t, q.MarkCompleted(ctx, held, ""), domain.ErrLeaseLost)
	require.NoError(t, q.MarkCompleted(ctx, again, "done"))
}

func TestLease_ExpiredLeasesSpendAttempts(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	id, _, err := q.Enqueue(ctx, EnqueueRequest{ObjectType: models.ObjectOrder, ObjectID: 9, SyncType: models.SyncCreate})
	require.NoError(t, err)

	// Every holder dies without reporting; each expiry costs one attempt.
	for attempts := 0; attempts < 3; attempts++ {
		held, err := q.Lease(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, held, "lease %d", attempts+1)
		assert.Equal(t, attempts, held.Attempts)
		clock.Advance(11 * time.Minute)
	}

	again, err := q.Lease(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, again)

	task, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Equal(t, "lease expired without a result", task.ErrorMessage)
}

func TestFetchBatch_ConcurrentDisjoint(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	for i := int64(1); i <= 30; i++ {
		_, _, err := q.Enqueue(ctx, EnqueueRequest{ObjectType: models.ObjectOrder, ObjectID: i, SyncType: models.SyncCreate})
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
		dups int
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks, err := q.FetchBatch(ctx, 10)
			if err != nil {
				t.Errorf("fetch: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, task := range tasks {
				if seen[task.ID] {
					dups++
				}
				seen[task.ID] = true
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, dups)
	assert.Len(t, seen, 30)
}

func TestPruneCompleted(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, EnqueueRequest{ObjectType: models.ObjectCoupon, ObjectID: 1, SyncType: models.SyncDelete})
	require.NoError(t, err)
	tasks, err := q.FetchBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(ctx, tasks[0], ""))

	clock.Advance(8 * 24 * time.Hour)
	n, err := q.PruneCompleted(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
