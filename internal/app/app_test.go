package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	body := "database:\n  path: " + filepath.Join(dir, "sync.db") + "\n" +
		"exports:\n  path: " + filepath.Join(dir, "exports") + "\n" +
		"sync:\n  mappings_file: " + filepath.Join(dir, "missing.yaml") + "\n" + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestNew_WithoutRedis(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := loadTestConfig(t, "")

	a, err := New(cfg, &logger)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.Nil(t, a.DeadLetters)

	deps := a.APIDependencies()
	assert.Nil(t, deps.OAuth, "oauth needs client credentials")
	assert.Nil(t, deps.DeadLetters)
	assert.NotNil(t, deps.Hooks)

	ctx := context.Background()
	inserted, err := a.SeedMappings(ctx)
	require.NoError(t, err)
	assert.Positive(t, inserted)

	again, err := a.SeedMappings(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)

	mappings, err := a.Mappings.GetMappings(ctx, models.ObjectCustomer, "")
	require.NoError(t, err)
	assert.NotEmpty(t, mappings)

	_, _, err = a.Queue.Enqueue(ctx, queue.EnqueueRequest{ObjectType: models.ObjectOrder, ObjectID: 1, SyncType: models.SyncCreate})
	require.NoError(t, err)
	counts, err := a.Queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Pending)

	assert.NotNil(t, a.Scheduler())
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := zerolog.New(io.Discard)
	cfg := loadTestConfig(t, "redis:\n  address: "+mr.Addr()+"\n")

	a, err := New(cfg, &logger)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Redis)
	require.NotNil(t, a.DeadLetters)
	assert.NotNil(t, a.APIDependencies().DeadLetters)
}

func TestServiceResolver(t *testing.T) {
	resolve := ServiceResolver(config.DefaultRoutes())

	svc, ok := resolve("Contacts")
	assert.True(t, ok)
	assert.Equal(t, models.ServiceCRM, svc)

	svc, ok = resolve("invoices")
	assert.True(t, ok)
	assert.Equal(t, models.ServiceBooks, svc)

	_, ok = resolve("Deals")
	assert.False(t, ok)
}
