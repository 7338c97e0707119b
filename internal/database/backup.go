package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"

	"github.com/rs/zerolog"
)

const backupTimeLayout = "20060102_150405"

// BackupService snapshots the sync database (tokens, mappings, queue, links and log) into
// StoragePath. Snapshots are named after the database file, so several databases can share
// one backup directory; retention only touches snapshots of this database.
type BackupService struct {
	db     *DB
	cfg    config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &BackupService{db: db, cfg: cfg, logger: logger, now: time.Now}
}

func (s *BackupService) Enabled() bool {
	return s.cfg.Enabled && s.cfg.StoragePath != "" && s.db != nil
}

// Run takes a snapshot, then applies retention.
func (s *BackupService) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	path, err := s.PerformBackup(ctx)
	if err != nil {
		return err
	}
	removed := s.CleanupOldBackups()
	s.logger.Info().Str("path", path).Int("expired", removed).Msg("Backup completed")
	return nil
}

func (s *BackupService) prefix() string {
	base := filepath.Base(s.db.Path())
	if base == "" || base == ":memory:" || base == "." {
		return "sync_"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_"
}

// PerformBackup writes a consistent copy with VACUUM INTO and checks the copy opens cleanly.
// A copy that fails the check is removed.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	backupPath := filepath.Join(s.cfg.StoragePath, s.prefix()+s.now().UTC().Format(backupTimeLayout)+".db")
	quoted := strings.ReplaceAll(backupPath, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", storageErr("backup", err)
	}

	if err := verifySnapshot(ctx, backupPath); err != nil {
		_ = os.Remove(backupPath)
		return "", fmt.Errorf("backup %s failed verification: %w", backupPath, err)
	}
	return backupPath, nil
}

func verifySnapshot(ctx context.Context, path string) error {
	snap, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer snap.Close()

	var result string
	if err := snap.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check: %s", result)
	}
	var tables int
	if err := snap.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('oauth_tokens', 'field_mappings', 'sync_queue')`).
		Scan(&tables); err != nil {
		return err
	}
	if tables != 3 {
		return fmt.Errorf("snapshot is missing core tables")
	}
	return nil
}

// CleanupOldBackups removes this database's snapshots older than RetentionDays and returns
// how many it removed.
func (s *BackupService) CleanupOldBackups() int {
	if s.cfg.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.cfg.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return 0
	}

	prefix := s.prefix()
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cfg.StoragePath, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Failed to delete old backup")
			continue
		}
		s.logger.Info().Str("file", name).Msg("Deleted old backup")
		removed++
	}
	return removed
}
