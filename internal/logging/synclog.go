package logging

import (
	"context"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/rs/zerolog"
)

// SyncLogger writes sync log entries to the structured logger and to the persistent sink.
// A nil sink only logs.
type SyncLogger struct {
	sink   domain.LogSink
	logger *zerolog.Logger
	now    func() time.Time
}

func NewSyncLogger(sink domain.LogSink, logger *zerolog.Logger) *SyncLogger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SyncLogger{sink: sink, logger: logger, now: time.Now}
}

// Entry describes one event. ObjectType and ObjectID are optional.
type Entry struct {
	Level      string
	Source     string
	ObjectType string
	ObjectID   int64
	Message    string
	Details    models.Payload
}

func (l *SyncLogger) Log(ctx context.Context, e Entry) {
	if e.Level == "" {
		e.Level = models.LevelInfo
	}

	event := l.logger.WithLevel(zerologLevel(e.Level)).
		Str("source", e.Source)
	if e.ObjectType != "" {
		event = event.Str("object_type", e.ObjectType).Int64("object_id", e.ObjectID)
	}
	if len(e.Details) > 0 {
		event = event.Interface("details", map[string]interface{}(e.Details))
	}
	event.Msg(e.Message)

	if l.sink == nil {
		return
	}
	entry := &models.SyncLogEntry{
		Timestamp:  l.now().UTC(),
		Level:      e.Level,
		Source:     e.Source,
		ObjectType: e.ObjectType,
		ObjectID:   e.ObjectID,
		Message:    e.Message,
		Details:    e.Details,
	}
	if err := l.sink.AppendLog(ctx, entry); err != nil {
		l.logger.Error().Err(err).Str("source", e.Source).Msg("failed to persist sync log entry")
	}
}

func (l *SyncLogger) Info(ctx context.Context, source, msg string, details models.Payload) {
	l.Log(ctx, Entry{Level: models.LevelInfo, Source: source, Message: msg, Details: details})
}

func (l *SyncLogger) Warning(ctx context.Context, source, msg string, details models.Payload) {
	l.Log(ctx, Entry{Level: models.LevelWarning, Source: source, Message: msg, Details: details})
}

func (l *SyncLogger) Error(ctx context.Context, source, msg string, details models.Payload) {
	l.Log(ctx, Entry{Level: models.LevelError, Source: source, Message: msg, Details: details})
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case models.LevelDebug:
		return zerolog.DebugLevel
	case models.LevelWarning:
		return zerolog.WarnLevel
	case models.LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
