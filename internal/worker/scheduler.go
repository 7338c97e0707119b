package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/metrics"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type BatchRunner interface {
	ProcessBatch(ctx context.Context, limit int, types ...string) (models.SyncResult, error)
}

type QueueMaintainer interface {
	Counts(ctx context.Context) (models.QueueCounts, error)
	PruneCompleted(ctx context.Context, retention time.Duration) (int64, error)
}

type LogPruner interface {
	PruneLogs(ctx context.Context, olderThan time.Time) (int64, error)
}

type BackupRunner interface {
	Enabled() bool
	Run(ctx context.Context) error
}

// Scheduler runs batch processing, housekeeping and backups on cron schedules. A job that
// is still running when its next tick comes is skipped for that tick.
type Scheduler struct {
	runner  BatchRunner
	queue   QueueMaintainer
	logs    LogPruner
	backup  BackupRunner
	syncCfg config.SyncConfig
	bkp     config.BackupConfig
	logger  *zerolog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewScheduler(runner BatchRunner, queue QueueMaintainer, logs LogPruner, backup BackupRunner,
	syncCfg config.SyncConfig, backupCfg config.BackupConfig, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		runner:  runner,
		queue:   queue,
		logs:    logs,
		backup:  backup,
		syncCfg: syncCfg,
		bkp:     backupCfg,
		logger:  logger,
	}
}

// Start registers the jobs and starts ticking. Jobs stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	jobCtx, cancel := context.WithCancel(ctx)

	if _, err := c.AddFunc(s.syncCfg.Schedule, func() { _, _ = s.RunBatch(jobCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid sync schedule %q: %w", s.syncCfg.Schedule, err)
	}
	if _, err := c.AddFunc(s.syncCfg.MaintenanceSchedule, func() { _ = s.RunMaintenance(jobCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid maintenance schedule %q: %w", s.syncCfg.MaintenanceSchedule, err)
	}
	if s.backup != nil && s.backup.Enabled() && s.bkp.Schedule != "" {
		if _, err := c.AddFunc(s.bkp.Schedule, func() {
			if err := s.backup.Run(jobCtx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled backup failed")
			}
		}); err != nil {
			cancel()
			return fmt.Errorf("invalid backup schedule %q: %w", s.bkp.Schedule, err)
		}
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info().
		Str("sync", s.syncCfg.Schedule).
		Str("maintenance", s.syncCfg.MaintenanceSchedule).
		Msg("Scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// RunBatch processes one batch and refreshes the queue depth gauge.
func (s *Scheduler) RunBatch(ctx context.Context) (models.SyncResult, error) {
	batch := s.syncCfg.BatchSize
	if batch <= 0 {
		batch = models.DefaultBatchSize
	}
	res, err := s.runner.ProcessBatch(ctx, batch)
	if err != nil {
		s.logger.Error().Err(err).Msg("Batch run failed")
	} else if res.Leased > 0 {
		s.logger.Info().
			Int("leased", res.Leased).
			Int("completed", res.Completed).
			Int("retried", res.Retried).
			Int("failed", res.Failed).
			Msg("Batch run finished")
	}

	if counts, cerr := s.queue.Counts(ctx); cerr == nil {
		metrics.SetQueueCounts(counts)
	}
	return res, err
}

// RunMaintenance drops sync log entries and completed tasks past retention.
func (s *Scheduler) RunMaintenance(ctx context.Context) error {
	logs, err := s.logs.PruneLogs(ctx, time.Now().UTC().Add(-s.syncCfg.LogRetention))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune sync logs")
		return err
	}
	tasks, err := s.queue.PruneCompleted(ctx, s.syncCfg.CompletedRetention)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune completed tasks")
		return err
	}
	s.logger.Info().Int64("logs", logs).Int64("tasks", tasks).Msg("Maintenance finished")
	return nil
}

// cronLogger routes cron's own messages into zerolog.
type cronLogger struct {
	logger *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
