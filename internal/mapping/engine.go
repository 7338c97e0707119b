package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/rs/zerolog"
)

const mappingsKeyPrefix = "mappings:"

// ServiceResolver tells which Zoho service owns a remote module.
type ServiceResolver func(remoteModule string) (service string, ok bool)

// Engine stores field mappings and converts records between WooCommerce and Zoho shapes.
type Engine struct {
	store      domain.MappingStore
	cache      domain.Cache
	transforms *Registry
	ttl        time.Duration
	schema     *SchemaCache
	serviceFor ServiceResolver
	logger     *zerolog.Logger
}

func NewEngine(store domain.MappingStore, cache domain.Cache, transforms *Registry, ttl time.Duration, logger *zerolog.Logger) *Engine {
	if transforms == nil {
		transforms = NewRegistry()
	}
	if ttl <= 0 {
		ttl = models.MappingCacheTTL * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{store: store, cache: cache, transforms: transforms, ttl: ttl, logger: logger}
}

// WithSchemaCheck makes SaveMapping verify remote field names against the live schema
// when a token for the owning service is available.
func (e *Engine) WithSchemaCheck(schema *SchemaCache, serviceFor ServiceResolver) *Engine {
	e.schema = schema
	e.serviceFor = serviceFor
	return e
}

func (e *Engine) Transforms() *Registry {
	return e.transforms
}

// GetMappings returns the active mappings of a module in insertion order. A non-empty
// direction keeps mappings of that direction and bidirectional ones.
func (e *Engine) GetMappings(ctx context.Context, module, direction string) ([]*models.FieldMapping, error) {
	all, err := e.loadModule(ctx, module)
	if err != nil {
		return nil, err
	}
	if direction == "" {
		return all, nil
	}
	filtered := make([]*models.FieldMapping, 0, len(all))
	for _, m := range all {
		if m.Matches(direction) {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

func (e *Engine) loadModule(ctx context.Context, module string) ([]*models.FieldMapping, error) {
	key := mappingsKeyPrefix + module
	if e.cache != nil {
		raw, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			e.logger.Warn().Err(err).Str("module", module).Msg("Mapping cache read failed")
		} else if ok {
			var cached []*models.FieldMapping
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
			e.logger.Warn().Str("module", module).Msg("Discarding undecodable mapping cache entry")
		}
	}

	mappings, err := e.store.ListMappings(ctx, module)
	if err != nil {
		return nil, err
	}
	if mappings == nil {
		mappings = []*models.FieldMapping{}
	}

	if e.cache != nil {
		if raw, err := json.Marshal(mappings); err == nil {
			if err := e.cache.Set(ctx, key, string(raw), e.ttl); err != nil {
				e.logger.Warn().Err(err).Str("module", module).Msg("Mapping cache write failed")
			}
		}
	}
	return mappings, nil
}

func (e *Engine) invalidate(ctx context.Context, module string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, mappingsKeyPrefix+module); err != nil {
		e.logger.Error().Err(err).Str("module", module).Msg("Failed to invalidate mapping cache")
	}
}

func (e *Engine) GetMapping(ctx context.Context, id int64) (*models.FieldMapping, error) {
	return e.store.GetMapping(ctx, id)
}

// SaveMapping validates and stores a mapping. On update, the cache of the module it
// moved away from is invalidated too.
func (e *Engine) SaveMapping(ctx context.Context, m *models.FieldMapping) error {
	if err := e.validateMapping(ctx, m); err != nil {
		return err
	}

	previousModule := ""
	if m.ID != 0 {
		existing, err := e.store.GetMapping(ctx, m.ID)
		if err != nil {
			return err
		}
		previousModule = existing.Module
	}

	if err := e.store.SaveMapping(ctx, m); err != nil {
		return err
	}
	e.invalidate(ctx, m.Module)
	if previousModule != "" && previousModule != m.Module {
		e.invalidate(ctx, previousModule)
	}
	return nil
}

func (e *Engine) validateMapping(ctx context.Context, m *models.FieldMapping) error {
	fields := map[string]string{}

	if m.Module == "" {
		fields["module"] = "is required"
	}
	if m.ZohoModule == "" {
		fields["zoho_module"] = "is required"
	}
	if m.ZohoField == "" {
		fields["zoho_field"] = "is required"
	}
	if m.WCField == "" && m.CustomKey == "" {
		fields["wc_field"] = "wc_field or custom_key is required"
	}
	if m.WCField == models.CustomFieldSentinel && m.CustomKey == "" {
		fields["custom_key"] = "is required when wc_field is " + models.CustomFieldSentinel
	}
	if m.Direction == "" {
		m.Direction = models.DirectionLocalToRemote
	}
	if !models.IsValidDirection(m.Direction) {
		fields["direction"] = fmt.Sprintf("unknown direction %q", m.Direction)
	}
	if m.TransformFunction != "" && !e.transforms.Has(m.TransformFunction) {
		fields["transform_function"] = fmt.Sprintf("unknown transform %q", m.TransformFunction)
	}
	if len(fields) > 0 {
		return &domain.ValidationError{Fields: fields}
	}

	if m.IsCustomField() {
		m.IsCustom = true
		if m.WCField == "" {
			m.WCField = models.CustomFieldSentinel
		}
	}
	return e.checkRemoteField(ctx, m)
}

func (e *Engine) checkRemoteField(ctx context.Context, m *models.FieldMapping) error {
	if e.schema == nil || e.serviceFor == nil {
		return nil
	}
	service, ok := e.serviceFor(m.ZohoModule)
	if !ok {
		return nil
	}
	remote, err := e.schema.Fields(ctx, service, m.ZohoModule)
	if err != nil {
		e.logger.Debug().Err(err).Str("module", m.ZohoModule).Msg("Skipping remote field check")
		return nil
	}
	for _, f := range remote {
		if f.APIName == m.ZohoField {
			if m.ZohoFieldLabel == "" {
				m.ZohoFieldLabel = f.FieldLabel
			}
			return nil
		}
	}
	return domain.NewValidationError("zoho_field", fmt.Sprintf("%s is not a field of %s", m.ZohoField, m.ZohoModule))
}

func (e *Engine) DeleteMapping(ctx context.Context, id int64) error {
	existing, err := e.store.GetMapping(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteMapping(ctx, id); err != nil {
		return err
	}
	e.invalidate(ctx, existing.Module)
	return nil
}

// SeedDefaults inserts the given mappings for every module that has none yet and
// returns how many were inserted.
func (e *Engine) SeedDefaults(ctx context.Context, defaults []*models.FieldMapping) (int, error) {
	byModule := map[string][]*models.FieldMapping{}
	var order []string
	for _, m := range defaults {
		if _, seen := byModule[m.Module]; !seen {
			order = append(order, m.Module)
		}
		byModule[m.Module] = append(byModule[m.Module], m)
	}

	inserted := 0
	for _, module := range order {
		count, err := e.store.CountMappings(ctx, module)
		if err != nil {
			return inserted, err
		}
		if count > 0 {
			continue
		}
		for _, m := range byModule[module] {
			m.ID = 0
			if err := e.validateMapping(ctx, m); err != nil {
				return inserted, fmt.Errorf("default mapping %s.%s: %w", module, m.LocalKey(), err)
			}
			if err := e.store.SaveMapping(ctx, m); err != nil {
				return inserted, err
			}
			inserted++
		}
		e.invalidate(ctx, module)
	}
	return inserted, nil
}

// Apply converts source with every mapping of module. See ApplyTo.
func (e *Engine) Apply(ctx context.Context, direction, module string, source domain.Record) (map[string]interface{}, error) {
	return e.ApplyTo(ctx, direction, module, "", source)
}

// ApplyTo converts source with the mappings of module that target remoteModule (all of
// them when remoteModule is empty). Local to remote writes under the Zoho field name,
// remote to local under the WooCommerce field or custom key. Fields whose transform
// fails are left out and reported together in a *domain.ValidationError next to the
// partial result.
func (e *Engine) ApplyTo(ctx context.Context, direction, module, remoteModule string, source domain.Record) (map[string]interface{}, error) {
	if direction != models.DirectionLocalToRemote && direction != models.DirectionRemoteToLocal {
		return nil, domain.NewValidationError("direction", fmt.Sprintf("cannot apply mappings in direction %q", direction))
	}
	mappings, err := e.GetMappings(ctx, module, direction)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(mappings))
	failed := map[string]string{}
	for _, m := range mappings {
		if remoteModule != "" && m.ZohoModule != remoteModule {
			continue
		}

		var (
			value  interface{}
			ok     bool
			target string
		)
		if direction == models.DirectionLocalToRemote {
			if m.IsCustomField() {
				value, ok = source.Meta(m.CustomKey)
			} else {
				value, ok = source.Field(m.WCField)
			}
			target = m.ZohoField
		} else {
			value, ok = source.Field(m.ZohoField)
			target = m.LocalKey()
		}

		if isMissing(value, ok) {
			if m.DefaultValue != "" {
				out[target] = m.DefaultValue
			}
			continue
		}

		converted, err := e.transforms.Apply(m.TransformFunction, value)
		if err != nil {
			failed[target] = err.Error()
			continue
		}
		out[target] = converted
	}

	if len(failed) > 0 {
		return out, &domain.ValidationError{Fields: failed}
	}
	return out, nil
}

