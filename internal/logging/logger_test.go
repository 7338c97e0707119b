package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	appCfg := config.AppConfig{Name: "zoho-sync-test", Environment: "test", Version: "1.0.0"}

	t.Run("Stdout", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{Level: "info"}, appCfg)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.Nil(t, closer)
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("ConsoleStderr", func(t *testing.T) {
		logger, closer, err := New(config.LoggingConfig{Level: "debug", Output: "stderr", Format: "console"}, appCfg)
		require.NoError(t, err)
		assert.Nil(t, closer)
		assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	})

	t.Run("FileInNewDir", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "logs", "sync.log")
		logger, closer, err := New(config.LoggingConfig{Level: "error", Output: "file", FilePath: logPath}, appCfg)
		require.NoError(t, err)
		require.NotNil(t, closer)

		logger.Error().Str("object_type", "order").Msg("sync failed")
		require.NoError(t, closer.Close())

		raw, err := os.ReadFile(logPath)
		require.NoError(t, err)
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &line))
		assert.Equal(t, "sync failed", line["message"])
		assert.Equal(t, "zoho-sync-test", line["app"])
		assert.Equal(t, "order", line["object_type"])
	})

	t.Run("BothNeedsPath", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "both"}, appCfg)
		assert.Error(t, err)
	})

	t.Run("UnknownOutput", func(t *testing.T) {
		_, _, err := New(config.LoggingConfig{Output: "syslog"}, appCfg)
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zerolog.FatalLevel, ParseLevel("critical"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" debug "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)
	Component(&base, "queue").Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"queue"`)

	assert.NotNil(t, Component(nil, "x"))
}
