package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
)

func (db *DB) AppendLog(ctx context.Context, entry *models.SyncLogEntry) error {
	details, err := entry.Details.Encode()
	if err != nil {
		return storageErr("encode log details", err)
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = nowFunc()
	}

	var objectID, objectType interface{}
	if entry.ObjectType != "" {
		objectID = entry.ObjectID
		objectType = entry.ObjectType
	}

	result, err := db.ExecContext(ctx, `
        INSERT INTO sync_logs (timestamp, level, source, object_id, object_type, message, details)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		utc(ts), entry.Level, entry.Source, objectID, objectType, entry.Message, details)
	if err != nil {
		return storageErr("append log", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// LogFilter narrows ListLogs. Zero values mean "any".
type LogFilter struct {
	Level      string
	Source     string
	ObjectType string
	ObjectID   int64
	Limit      int
}

// ListLogs returns the newest entries first.
func (db *DB) ListLogs(ctx context.Context, f LogFilter) ([]*models.SyncLogEntry, error) {
	query := `SELECT id, timestamp, level, source, object_id, object_type, message, details FROM sync_logs WHERE 1 = 1`
	var args []interface{}
	if f.Level != "" {
		query += ` AND level = ?`
		args = append(args, f.Level)
	}
	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, f.Source)
	}
	if f.ObjectType != "" {
		query += ` AND object_type = ?`
		args = append(args, f.ObjectType)
	}
	if f.ObjectID != 0 {
		query += ` AND object_id = ?`
		args = append(args, f.ObjectID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list logs", err)
	}
	defer rows.Close()

	var entries []*models.SyncLogEntry
	for rows.Next() {
		var (
			e          models.SyncLogEntry
			objectID   sql.NullInt64
			objectType sql.NullString
			details    string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Source, &objectID, &objectType, &e.Message, &details); err != nil {
			return nil, storageErr("scan log", err)
		}
		e.ObjectID = objectID.Int64
		e.ObjectType = objectType.String
		if e.Details, err = models.DecodePayload(details); err != nil {
			return nil, storageErr("decode log details", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list logs", err)
	}
	return entries, nil
}

// PruneLogs removes entries older than the cutoff and reports how many were removed.
func (db *DB) PruneLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM sync_logs WHERE timestamp < ?`, utc(olderThan))
	if err != nil {
		return 0, storageErr("prune logs", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
