package worker

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
}

func (r *countingRunner) ProcessBatch(_ context.Context, limit int, _ ...string) (models.SyncResult, error) {
	r.calls.Add(1)
	r.limit.Store(int32(limit))
	return models.SyncResult{Leased: 1, Completed: 1}, r.err
}

type mockMaintainer struct {
	mock.Mock
}

func (m *mockMaintainer) Counts(ctx context.Context) (models.QueueCounts, error) {
	args := m.Called()
	return args.Get(0).(models.QueueCounts), args.Error(1)
}

func (m *mockMaintainer) PruneCompleted(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(retention)
	return args.Get(0).(int64), args.Error(1)
}

type mockPruner struct {
	mock.Mock
}

func (m *mockPruner) PruneLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func schedulerConfig() config.SyncConfig {
	return config.SyncConfig{
		BatchSize:           5,
		Schedule:            "@every 1s",
		MaintenanceSchedule: "@daily",
		LogRetention:        30 * 24 * time.Hour,
		CompletedRetention:  7 * 24 * time.Hour,
	}
}

func TestScheduler_RunBatch(t *testing.T) {
	logger := zerolog.New(io.Discard)
	runner := &countingRunner{}
	q := new(mockMaintainer)
	q.On("Counts").Return(models.QueueCounts{Pending: 2}, nil)

	s := NewScheduler(runner, q, new(mockPruner), nil, schedulerConfig(), config.BackupConfig{}, &logger)
	res, err := s.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, int32(5), runner.limit.Load())

	runner.err = errors.New("storage down")
	_, err = s.RunBatch(context.Background())
	assert.Error(t, err)
	q.AssertNumberOfCalls(t, "Counts", 2)
}

func TestScheduler_RunMaintenance(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := schedulerConfig()

	t.Run("PrunesBoth", func(t *testing.T) {
		q := new(mockMaintainer)
		logs := new(mockPruner)
		logs.On("PruneLogs", mock.MatchedBy(func(cutoff time.Time) bool {
			return time.Since(cutoff) >= cfg.LogRetention
		})).Return(int64(4), nil).Once()
		q.On("PruneCompleted", cfg.CompletedRetention).Return(int64(2), nil).Once()

		s := NewScheduler(&countingRunner{}, q, logs, nil, cfg, config.BackupConfig{}, &logger)
		require.NoError(t, s.RunMaintenance(context.Background()))
		logs.AssertExpectations(t)
		q.AssertExpectations(t)
	})

	t.Run("StopsOnLogFailure", func(t *testing.T) {
		q := new(mockMaintainer)
		logs := new(mockPruner)
		logs.On("PruneLogs", mock.Anything).Return(int64(0), errors.New("locked")).Once()

		s := NewScheduler(&countingRunner{}, q, logs, nil, cfg, config.BackupConfig{}, &logger)
		assert.Error(t, s.RunMaintenance(context.Background()))
		q.AssertNotCalled(t, "PruneCompleted", mock.Anything)
	})
}

func TestScheduler_StartStop(t *testing.T) {
	logger := zerolog.New(io.Discard)
	runner := &countingRunner{}
	q := new(mockMaintainer)
	q.On("Counts").Return(models.QueueCounts{}, nil)

	s := NewScheduler(runner, q, new(mockPruner), nil, schedulerConfig(), config.BackupConfig{}, &logger)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start is rejected")

	require.Eventually(t, func() bool { return runner.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := schedulerConfig()
	cfg.Schedule = "every now and then"

	s := NewScheduler(&countingRunner{}, new(mockMaintainer), new(mockPruner), nil, cfg, config.BackupConfig{}, &logger)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sync schedule")
}
