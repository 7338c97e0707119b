package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var nowFunc = time.Now

// DB is the SQLite store behind the credential store, mapping store, sync queue,
// entity links and the sync log.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Writers take the lock at BEGIN so dedup and lease checks cannot interleave.
	dsn := path + "?_busy_timeout=5000&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            service TEXT NOT NULL,
            token_type TEXT NOT NULL,
            access_token TEXT NOT NULL,
            refresh_token TEXT,
            expires_at DATETIME,
            scope TEXT NOT NULL DEFAULT '',
            api_domain TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            UNIQUE(service, token_type)
        )`,
		`CREATE TABLE IF NOT EXISTS field_mappings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            module TEXT NOT NULL,
            wc_field TEXT NOT NULL DEFAULT '',
            custom_key TEXT NOT NULL DEFAULT '',
            wc_field_label TEXT NOT NULL DEFAULT '',
            zoho_module TEXT NOT NULL,
            zoho_field TEXT NOT NULL,
            zoho_field_label TEXT NOT NULL DEFAULT '',
            direction TEXT NOT NULL,
            transform_function TEXT NOT NULL DEFAULT '',
            default_value TEXT NOT NULL DEFAULT '',
            is_custom BOOLEAN NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            UNIQUE(module, wc_field, custom_key, zoho_module, zoho_field, direction)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            object_id INTEGER NOT NULL,
            object_type TEXT NOT NULL,
            sync_type TEXT NOT NULL,
            priority INTEGER NOT NULL DEFAULT 10,
            status TEXT NOT NULL DEFAULT 'pending',
            attempts INTEGER NOT NULL DEFAULT 0,
            last_attempt_at DATETIME,
            next_attempt_at DATETIME,
            lease_token TEXT,
            leased_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            data TEXT NOT NULL DEFAULT '{}',
            error_message TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS sync_logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp DATETIME NOT NULL,
            level TEXT NOT NULL,
            source TEXT NOT NULL,
            object_id INTEGER,
            object_type TEXT,
            message TEXT NOT NULL,
            details TEXT NOT NULL DEFAULT '{}'
        )`,
		`CREATE TABLE IF NOT EXISTS entity_links (
            object_type TEXT NOT NULL,
            object_id INTEGER NOT NULL,
            service TEXT NOT NULL,
            remote_module TEXT NOT NULL,
            remote_id TEXT NOT NULL,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY(object_type, object_id, service, remote_module)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_field_mappings_module ON field_mappings(module, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, priority, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_object ON sync_queue(object_type, object_id, sync_type)`,
		// At most one pending task per entity and operation.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_queue_pending_unique
            ON sync_queue(object_type, object_id, sync_type) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_timestamp ON sync_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_object ON sync_logs(object_type, object_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return &domain.StorageError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
