package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
)

const taskColumns = `id, object_id, object_type, sync_type, priority, status, attempts, last_attempt_at,
    next_attempt_at, lease_token, leased_at, created_at, updated_at, data, error_message`

// EnqueueTask inserts a pending task, or folds it into the pending task of the same
// (object_type, object_id, sync_type). The folded task keeps the lower priority value,
// takes the newest data and starts over with a full attempt budget and no backoff.
// It reports whether the request was merged.
func (db *DB) EnqueueTask(ctx context.Context, task *models.SyncTask) (bool, error) {
	now := utc(task.CreatedAt)
	if task.CreatedAt.IsZero() {
		now = utc(nowFunc())
	}
	data, err := task.Data.Encode()
	if err != nil {
		return false, fmt.Errorf("failed to encode task data: %w", err)
	}

	merged := false
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var existingID int64
		err := tx.QueryRowContext(ctx, `
            SELECT id FROM sync_queue
            WHERE status = 'pending' AND object_type = ? AND object_id = ? AND sync_type = ?`,
			task.ObjectType, task.ObjectID, task.SyncType).Scan(&existingID)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, `
                UPDATE sync_queue SET priority = MIN(priority, ?), data = ?, attempts = 0,
                    next_attempt_at = NULL, updated_at = ?
                WHERE id = ?`,
				task.Priority, data, now, existingID); err != nil {
				return storageErr("merge task", err)
			}
			task.ID = existingID
			merged = true
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return storageErr("find pending task", err)
		}

		result, err := tx.ExecContext(ctx, `
            INSERT INTO sync_queue (object_id, object_type, sync_type, priority, status, attempts, created_at, updated_at, data, error_message)
            VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, '')`,
			task.ObjectID, task.ObjectType, task.SyncType, task.Priority, now, now, data)
		if err != nil {
			return storageErr("insert task", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return storageErr("insert task", err)
		}
		task.ID = id
		return nil
	})
	if err != nil {
		return false, err
	}

	if !merged {
		task.Status = models.StatusPending
		task.CreatedAt = now
		task.UpdatedAt = now
	}
	return merged, nil
}

// LeaseParams selects the tasks LeaseTasks claims.
type LeaseParams struct {
	Now time.Time
	// StaleBefore lets processing tasks leased before this instant be claimed again.
	StaleBefore time.Time
	Limit       int
	Types       []string
	// TaskID restricts the lease to one task.
	TaskID int64
	Token  string
}

// LeaseTasks claims due tasks in a single UPDATE so concurrent callers never share a task,
// then returns them ordered by priority, created_at and id. Reclaiming an expired lease
// counts as an attempt.
func (db *DB) LeaseTasks(ctx context.Context, p LeaseParams) ([]*models.SyncTask, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	now := utc(p.Now)

	where := `((status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
        OR (status = 'processing' AND leased_at <= ?))`
	args := []interface{}{p.Token, now, now, now, now, utc(p.StaleBefore)}

	if p.TaskID != 0 {
		where += ` AND id = ?`
		args = append(args, p.TaskID)
	}
	if len(p.Types) > 0 {
		where += ` AND object_type IN (?` + strings.Repeat(", ?", len(p.Types)-1) + `)`
		for _, t := range p.Types {
			args = append(args, t)
		}
	}
	args = append(args, p.Limit)

	query := `UPDATE sync_queue
        SET attempts = attempts + CASE WHEN status = 'processing' THEN 1 ELSE 0 END,
            status = 'processing', lease_token = ?, leased_at = ?, last_attempt_at = ?, updated_at = ?
        WHERE id IN (
            SELECT id FROM sync_queue WHERE ` + where + `
            ORDER BY priority ASC, created_at ASC, id ASC
            LIMIT ?
        )`

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("lease tasks", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT `+taskColumns+` FROM sync_queue WHERE lease_token = ?`, p.Token)
	if err != nil {
		return nil, storageErr("read leased tasks", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return tasks, nil
}

// CompleteTask marks a leased task completed. A note, when given, is kept in error_message.
func (db *DB) CompleteTask(ctx context.Context, id int64, leaseToken, note string, now time.Time) error {
	result, err := db.ExecContext(ctx, `
        UPDATE sync_queue SET status = 'completed', lease_token = NULL, leased_at = NULL,
            next_attempt_at = NULL, error_message = ?, updated_at = ?
        WHERE id = ? AND status = 'processing' AND lease_token = ?`,
		note, utc(now), id, leaseToken)
	if err != nil {
		return storageErr("complete task", err)
	}
	return leaseGuard(result)
}

// FailTask records a failed attempt and makes the task terminal.
func (db *DB) FailTask(ctx context.Context, id int64, leaseToken, errMsg string, now time.Time) error {
	result, err := db.ExecContext(ctx, `
        UPDATE sync_queue SET status = 'failed', attempts = attempts + 1, lease_token = NULL, leased_at = NULL,
            next_attempt_at = NULL, error_message = ?, updated_at = ?
        WHERE id = ? AND status = 'processing' AND lease_token = ?`,
		errMsg, utc(now), id, leaseToken)
	if err != nil {
		return storageErr("fail task", err)
	}
	return leaseGuard(result)
}

// FailExpiredLeases fails processing tasks leased before staleBefore whose expired lease
// would be their last allowed attempt, and returns how many were failed.
func (db *DB) FailExpiredLeases(ctx context.Context, staleBefore time.Time, maxAttempts int, now time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `
        UPDATE sync_queue SET status = 'failed', attempts = attempts + 1, lease_token = NULL, leased_at = NULL,
            next_attempt_at = NULL, error_message = 'lease expired without a result', updated_at = ?
        WHERE status = 'processing' AND leased_at <= ? AND attempts + 1 >= ?`,
		utc(now), utc(staleBefore), maxAttempts)
	if err != nil {
		return 0, storageErr("fail expired leases", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// RescheduleTask records a failed attempt and returns the task to pending at nextAt.
// When a newer pending task for the same entity and operation exists, this one is
// completed as superseded and the id of the pending task is returned.
func (db *DB) RescheduleTask(ctx context.Context, id int64, leaseToken, errMsg string, nextAt, now time.Time) (int64, error) {
	var supersededBy int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var objectType, syncType string
		var objectID int64
		err := tx.QueryRowContext(ctx, `
            SELECT object_type, object_id, sync_type FROM sync_queue
            WHERE id = ? AND status = 'processing' AND lease_token = ?`, id, leaseToken).
			Scan(&objectType, &objectID, &syncType)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrLeaseLost
		}
		if err != nil {
			return storageErr("reschedule task", err)
		}

		err = tx.QueryRowContext(ctx, `
            SELECT id FROM sync_queue
            WHERE status = 'pending' AND object_type = ? AND object_id = ? AND sync_type = ?`,
			objectType, objectID, syncType).Scan(&supersededBy)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return storageErr("find pending task", err)
		}

		if supersededBy != 0 {
			_, err = tx.ExecContext(ctx, `
                UPDATE sync_queue SET status = 'completed', attempts = attempts + 1, lease_token = NULL,
                    leased_at = NULL, next_attempt_at = NULL, error_message = ?, updated_at = ?
                WHERE id = ?`,
				fmt.Sprintf("superseded by task #%d after error: %s", supersededBy, errMsg), utc(now), id)
		} else {
			_, err = tx.ExecContext(ctx, `
                UPDATE sync_queue SET status = 'pending', attempts = attempts + 1, lease_token = NULL,
                    leased_at = NULL, next_attempt_at = ?, error_message = ?, updated_at = ?
                WHERE id = ?`,
				utc(nextAt), errMsg, utc(now), id)
		}
		if err != nil {
			return storageErr("reschedule task", err)
		}
		return nil
	})
	return supersededBy, err
}

func (db *DB) GetTask(ctx context.Context, id int64) (*models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+taskColumns+` FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return nil, storageErr("get task", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, domain.ErrTaskNotFound
	}
	return tasks[0], nil
}

// ListTasks returns tasks with the given status, newest first. An empty status lists all.
func (db *DB) ListTasks(ctx context.Context, status string, limit int) ([]*models.SyncTask, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM sync_queue`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (db *DB) CountTasks(ctx context.Context) (models.QueueCounts, error) {
	var counts models.QueueCounts
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return counts, storageErr("count tasks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return counts, storageErr("count tasks", err)
		}
		switch status {
		case models.StatusPending:
			counts.Pending = n
		case models.StatusProcessing:
			counts.Processing = n
		case models.StatusFailed:
			counts.Failed = n
		case models.StatusCompleted:
			counts.Completed = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, storageErr("count tasks", err)
	}
	return counts, nil
}

// RetryTask puts a failed task back to pending with a fresh attempt budget. If a pending
// task for the same entity and operation already exists, the failed task is left alone
// and the pending task's id is returned.
func (db *DB) RetryTask(ctx context.Context, id int64, now time.Time) (int64, error) {
	resultID := id
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var objectType, syncType, status string
		var objectID int64
		err := tx.QueryRowContext(ctx, `SELECT object_type, object_id, sync_type, status FROM sync_queue WHERE id = ?`, id).
			Scan(&objectType, &objectID, &syncType, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrTaskNotFound
		}
		if err != nil {
			return storageErr("retry task", err)
		}
		if status != models.StatusFailed {
			return domain.NewValidationError("status", "only failed tasks can be retried, task is "+status)
		}

		var pendingID int64
		err = tx.QueryRowContext(ctx, `
            SELECT id FROM sync_queue WHERE status = 'pending' AND object_type = ? AND object_id = ? AND sync_type = ?`,
			objectType, objectID, syncType).Scan(&pendingID)
		if err == nil {
			resultID = pendingID
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return storageErr("retry task", err)
		}

		if _, err := tx.ExecContext(ctx, `
            UPDATE sync_queue SET status = 'pending', attempts = 0, next_attempt_at = NULL,
                error_message = '', updated_at = ?
            WHERE id = ?`, utc(now), id); err != nil {
			return storageErr("retry task", err)
		}
		return nil
	})
	return resultID, err
}

// PruneCompletedTasks deletes completed tasks last touched before the cutoff.
func (db *DB) PruneCompletedTasks(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE status = 'completed' AND updated_at < ?`, utc(olderThan))
	if err != nil {
		return 0, storageErr("prune tasks", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func leaseGuard(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if n == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]*models.SyncTask, error) {
	var tasks []*models.SyncTask
	for rows.Next() {
		var (
			t                                  models.SyncTask
			lastAttempt, nextAttempt, leasedAt sql.NullTime
			leaseToken                         sql.NullString
			data                               string
		)
		if err := rows.Scan(&t.ID, &t.ObjectID, &t.ObjectType, &t.SyncType, &t.Priority, &t.Status, &t.Attempts,
			&lastAttempt, &nextAttempt, &leaseToken, &leasedAt, &t.CreatedAt, &t.UpdatedAt, &data, &t.ErrorMessage); err != nil {
			return nil, storageErr("scan task", err)
		}
		t.LastAttemptAt = timePtr(lastAttempt)
		t.NextAttemptAt = timePtr(nextAttempt)
		t.LeasedAt = timePtr(leasedAt)
		t.LeaseToken = leaseToken.String
		t.CreatedAt = t.CreatedAt.UTC()
		t.UpdatedAt = t.UpdatedAt.UTC()

		payload, err := models.DecodePayload(data)
		if err != nil {
			return nil, storageErr("decode task data", err)
		}
		t.Data = payload
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan tasks", err)
	}
	return tasks, nil
}
