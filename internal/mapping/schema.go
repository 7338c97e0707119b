package mapping

import (
	"context"
	"encoding/json"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/rs/zerolog"
)

const schemaKeyPrefix = "schema:"

// SchemaCache remembers the field lists of remote modules.
type SchemaCache struct {
	tokens domain.TokenProvider
	client domain.RemoteClient
	cache  domain.Cache
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewSchemaCache(tokens domain.TokenProvider, client domain.RemoteClient, cache domain.Cache, ttl time.Duration, logger *zerolog.Logger) *SchemaCache {
	if ttl <= 0 {
		ttl = models.SchemaCacheTTL * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SchemaCache{tokens: tokens, client: client, cache: cache, ttl: ttl, logger: logger}
}

func schemaKey(service, module string) string {
	return schemaKeyPrefix + service + ":" + module
}

// Fields returns the fields of a remote module, from cache when possible.
func (s *SchemaCache) Fields(ctx context.Context, service, module string) ([]models.RemoteField, error) {
	key := schemaKey(service, module)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var fields []models.RemoteField
		if err := json.Unmarshal([]byte(raw), &fields); err == nil {
			return fields, nil
		}
	} else if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Schema cache read failed")
	}

	token, err := s.tokens.GetValidToken(ctx, service)
	if err != nil {
		return nil, err
	}
	fields, err := s.client.ListFields(ctx, token, service, module)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(fields); err == nil {
		if err := s.cache.Set(ctx, key, string(raw), s.ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Schema cache write failed")
		}
	}
	return fields, nil
}

func (s *SchemaCache) Invalidate(ctx context.Context, service, module string) error {
	return s.cache.Delete(ctx, schemaKey(service, module))
}
