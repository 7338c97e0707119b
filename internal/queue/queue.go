package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/database"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the queue runs on.
type Store interface {
	EnqueueTask(ctx context.Context, task *models.SyncTask) (bool, error)
	LeaseTasks(ctx context.Context, p database.LeaseParams) ([]*models.SyncTask, error)
	CompleteTask(ctx context.Context, id int64, leaseToken, note string, now time.Time) error
	FailTask(ctx context.Context, id int64, leaseToken, errMsg string, now time.Time) error
	FailExpiredLeases(ctx context.Context, staleBefore time.Time, maxAttempts int, now time.Time) (int64, error)
	RescheduleTask(ctx context.Context, id int64, leaseToken, errMsg string, nextAt, now time.Time) (int64, error)
	GetTask(ctx context.Context, id int64) (*models.SyncTask, error)
	ListTasks(ctx context.Context, status string, limit int) ([]*models.SyncTask, error)
	CountTasks(ctx context.Context) (models.QueueCounts, error)
	RetryTask(ctx context.Context, id int64, now time.Time) (int64, error)
	PruneCompletedTasks(ctx context.Context, olderThan time.Time) (int64, error)
}

// EnqueueRequest asks for one entity to be synced.
type EnqueueRequest struct {
	ObjectType string         `json:"object_type"`
	ObjectID   int64          `json:"object_id"`
	SyncType   string         `json:"sync_type"`
	// Priority orders due tasks, lower first. Nil means models.DefaultPriority.
	Priority   *int           `json:"priority,omitempty"`
	Data       models.Payload `json:"data,omitempty"`
}

func (r EnqueueRequest) Validate() error {
	if !models.IsValidObjectType(r.ObjectType) {
		return domain.NewValidationError("object_type", fmt.Sprintf("unknown object type %q", r.ObjectType))
	}
	if r.ObjectID <= 0 {
		return domain.NewValidationError("object_id", "must be positive")
	}
	if !models.IsValidSyncType(r.SyncType) {
		return domain.NewValidationError("sync_type", fmt.Sprintf("unknown sync type %q", r.SyncType))
	}
	if r.Priority != nil && *r.Priority < 0 {
		return domain.NewValidationError("priority", "must not be negative")
	}
	return nil
}

// Queue is the persistent sync work queue. Tasks are claimed with leases; a lease older
// than the lease timeout is treated as abandoned and the task can be claimed again.
type Queue struct {
	store        Store
	policy       RetryPolicy
	leaseTimeout time.Duration
	logger       *zerolog.Logger
	now          func() time.Time
}

func New(store Store, policy RetryPolicy, leaseTimeout time.Duration, logger *zerolog.Logger) *Queue {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = models.DefaultMaxAttempts
	}
	if leaseTimeout <= 0 {
		leaseTimeout = models.DefaultLeaseTimeout * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Queue{
		store:        store,
		policy:       policy,
		leaseTimeout: leaseTimeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (q *Queue) SetClock(now func() time.Time) {
	q.now = now
}

func (q *Queue) Policy() RetryPolicy {
	return q.policy
}

// Enqueue stores a pending task and returns its id. A request for an entity and operation
// that already has a pending task is folded into it; merged reports that case.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (id int64, merged bool, err error) {
	if err := req.Validate(); err != nil {
		return 0, false, err
	}
	priority := models.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	if req.Data == nil {
		req.Data = models.Payload{}
	}

	task := &models.SyncTask{
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
		SyncType:   req.SyncType,
		Priority:   priority,
		Data:       req.Data,
		CreatedAt:  q.now(),
	}
	merged, err = q.store.EnqueueTask(ctx, task)
	if err != nil {
		return 0, false, fmt.Errorf("failed to enqueue %s %d: %w", req.ObjectType, req.ObjectID, err)
	}

	q.logger.Debug().
		Int64("task_id", task.ID).
		Str("object_type", req.ObjectType).
		Int64("object_id", req.ObjectID).
		Str("sync_type", req.SyncType).
		Bool("merged", merged).
		Msg("Task enqueued")
	return task.ID, merged, nil
}

// FetchBatch leases up to limit due tasks, optionally restricted to object types.
func (q *Queue) FetchBatch(ctx context.Context, limit int, types ...string) ([]*models.SyncTask, error) {
	now := q.now()
	if err := q.failExpired(ctx, now); err != nil {
		return nil, err
	}
	return q.store.LeaseTasks(ctx, database.LeaseParams{
		Now:         now,
		StaleBefore: now.Add(-q.leaseTimeout),
		Limit:       limit,
		Types:       types,
		Token:       uuid.NewString(),
	})
}

// Lease claims one task by id. It returns nil when the task is not due or is held by a live lease.
func (q *Queue) Lease(ctx context.Context, id int64) (*models.SyncTask, error) {
	now := q.now()
	if err := q.failExpired(ctx, now); err != nil {
		return nil, err
	}
	tasks, err := q.store.LeaseTasks(ctx, database.LeaseParams{
		Now:         now,
		StaleBefore: now.Add(-q.leaseTimeout),
		Limit:       1,
		TaskID:      id,
		Token:       uuid.NewString(),
	})
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return tasks[0], nil
}

// failExpired fails tasks whose worker died holding the lease once that expiry spends
// their last attempt. Expiries with attempts left are counted when the task is reclaimed.
func (q *Queue) failExpired(ctx context.Context, now time.Time) error {
	if q.policy.MaxAttempts <= 0 {
		return nil
	}
	n, err := q.store.FailExpiredLeases(ctx, now.Add(-q.leaseTimeout), q.policy.MaxAttempts, now)
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.Warn().Int64("tasks", n).Msg("Expired leases used up the attempt budget, tasks failed")
	}
	return nil
}

func (q *Queue) MarkCompleted(ctx context.Context, task *models.SyncTask, note string) error {
	if err := q.store.CompleteTask(ctx, task.ID, task.LeaseToken, note, q.now()); err != nil {
		return err
	}
	task.Status = models.StatusCompleted
	task.ErrorMessage = note
	return nil
}

// MarkFailed records a recoverable failure. The task goes back to pending after a backoff
// delay until the attempt ceiling is reached, then becomes failed. It reports whether the
// task is now terminal.
func (q *Queue) MarkFailed(ctx context.Context, task *models.SyncTask, msg string) (bool, error) {
	attempts := task.Attempts + 1
	if q.policy.Exhausted(attempts) {
		return true, q.MarkFailedPermanent(ctx, task, msg)
	}

	now := q.now()
	next := now.Add(q.policy.NextDelay(attempts))
	supersededBy, err := q.store.RescheduleTask(ctx, task.ID, task.LeaseToken, msg, next, now)
	if err != nil {
		return false, err
	}
	task.Attempts = attempts
	task.ErrorMessage = msg
	if supersededBy != 0 {
		task.Status = models.StatusCompleted
		q.logger.Info().Int64("task_id", task.ID).Int64("superseded_by", supersededBy).Msg("Retry folded into pending task")
		return true, nil
	}
	task.Status = models.StatusPending
	task.NextAttemptAt = &next
	return false, nil
}

// MarkFailedPermanent records a failure that must not be retried.
func (q *Queue) MarkFailedPermanent(ctx context.Context, task *models.SyncTask, msg string) error {
	if err := q.store.FailTask(ctx, task.ID, task.LeaseToken, msg, q.now()); err != nil {
		return err
	}
	task.Attempts++
	task.Status = models.StatusFailed
	task.ErrorMessage = msg
	return nil
}

func (q *Queue) Get(ctx context.Context, id int64) (*models.SyncTask, error) {
	return q.store.GetTask(ctx, id)
}

func (q *Queue) List(ctx context.Context, status string, limit int) ([]*models.SyncTask, error) {
	return q.store.ListTasks(ctx, status, limit)
}

func (q *Queue) Counts(ctx context.Context) (models.QueueCounts, error) {
	return q.store.CountTasks(ctx)
}

// Retry resets a failed task to pending and returns the id of the task that will run.
func (q *Queue) Retry(ctx context.Context, id int64) (int64, error) {
	return q.store.RetryTask(ctx, id, q.now())
}

func (q *Queue) PruneCompleted(ctx context.Context, retention time.Duration) (int64, error) {
	return q.store.PruneCompletedTasks(ctx, q.now().Add(-retention))
}
