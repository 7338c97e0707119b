package domain

import (
	"context"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
)

// Cache is the key-value store used for short-lived shared state.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Take returns and removes the value in one step.
	Take(ctx context.Context, key string) (string, bool, error)
}

type TokenStore interface {
	GetToken(ctx context.Context, service, tokenType string) (*models.Token, error)
	PutToken(ctx context.Context, token *models.Token) error
	DeleteToken(ctx context.Context, service, tokenType string) error
	ListTokens(ctx context.Context) ([]*models.Token, error)
}

type MappingStore interface {
	ListMappings(ctx context.Context, module string) ([]*models.FieldMapping, error)
	GetMapping(ctx context.Context, id int64) (*models.FieldMapping, error)
	SaveMapping(ctx context.Context, m *models.FieldMapping) error
	DeleteMapping(ctx context.Context, id int64) error
	CountMappings(ctx context.Context, module string) (int, error)
}

type LinkStore interface {
	GetLink(ctx context.Context, objectType string, objectID int64, service, remoteModule string) (*models.EntityLink, error)
	SaveLink(ctx context.Context, link *models.EntityLink) error
	DeleteLink(ctx context.Context, objectType string, objectID int64, service, remoteModule string) error
}

// LogSink is the append-only store of sync log entries.
type LogSink interface {
	AppendLog(ctx context.Context, entry *models.SyncLogEntry) error
}

// Record is a read view over an entity used as mapping input.
type Record interface {
	// Field returns the value at a dotted path such as "billing.email".
	Field(path string) (interface{}, bool)
	// Meta returns a custom metadata value.
	Meta(key string) (interface{}, bool)
}

// EntityResolver loads live local entities.
type EntityResolver interface {
	Resolve(ctx context.Context, objectType string, id int64) (Record, error)
}

// MetaWriter stores remote identifiers back on the local entity.
type MetaWriter interface {
	WriteMeta(ctx context.Context, objectType string, id int64, meta map[string]string) error
}

// TokenProvider hands out access tokens that are valid for immediate use.
type TokenProvider interface {
	GetValidToken(ctx context.Context, service string) (*models.Token, error)
}

// RemoteClient talks to the Zoho REST APIs.
type RemoteClient interface {
	Create(ctx context.Context, token *models.Token, service, module string, fields map[string]interface{}) (string, error)
	Update(ctx context.Context, token *models.Token, service, module, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, token *models.Token, service, module, id string) error
	ListFields(ctx context.Context, token *models.Token, service, module string) ([]models.RemoteField, error)
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, eventType string, payload interface{}) error
}
