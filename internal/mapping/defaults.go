package mapping

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"gopkg.in/yaml.v2"
)

//go:embed defaults.yaml
var builtinDefaults []byte

type defaultsFile struct {
	Mappings map[string][]defaultEntry `yaml:"mappings"`
}

type defaultEntry struct {
	WCField           string `yaml:"wc_field"`
	CustomKey         string `yaml:"custom_key"`
	WCFieldLabel      string `yaml:"wc_field_label"`
	ZohoModule        string `yaml:"zoho_module"`
	ZohoField         string `yaml:"zoho_field"`
	ZohoFieldLabel    string `yaml:"zoho_field_label"`
	Direction         string `yaml:"direction"`
	TransformFunction string `yaml:"transform"`
	DefaultValue      string `yaml:"default"`
	IsActive          *bool  `yaml:"active"`
}

// LoadDefaults reads default mappings from a YAML file. A missing file, or an empty
// path, yields the built-in set.
func LoadDefaults(path string) ([]*models.FieldMapping, error) {
	data := builtinDefaults
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = raw
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read mappings file: %w", err)
		}
	}
	return ParseDefaults(data)
}

// ParseDefaults decodes the mappings document. Modules keep file order, as do the
// entries inside a module.
func ParseDefaults(data []byte) ([]*models.FieldMapping, error) {
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse mappings file: %w", err)
	}

	var out []*models.FieldMapping
	for _, top := range doc {
		if top.Key != "mappings" {
			continue
		}
		modules, ok := top.Value.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("mappings must be a map of module to list")
		}
		for _, mod := range modules {
			module := fmt.Sprint(mod.Key)
			raw, err := yaml.Marshal(mod.Value)
			if err != nil {
				return nil, err
			}
			var entries []defaultEntry
			if err := yaml.Unmarshal(raw, &entries); err != nil {
				return nil, fmt.Errorf("module %s: %w", module, err)
			}
			for _, e := range entries {
				out = append(out, e.toMapping(module))
			}
		}
	}
	return out, nil
}

func (e defaultEntry) toMapping(module string) *models.FieldMapping {
	active := true
	if e.IsActive != nil {
		active = *e.IsActive
	}
	m := &models.FieldMapping{
		Module:            module,
		WCField:           e.WCField,
		CustomKey:         e.CustomKey,
		WCFieldLabel:      e.WCFieldLabel,
		ZohoModule:        e.ZohoModule,
		ZohoField:         e.ZohoField,
		ZohoFieldLabel:    e.ZohoFieldLabel,
		Direction:         e.Direction,
		TransformFunction: e.TransformFunction,
		DefaultValue:      e.DefaultValue,
		IsActive:          active,
	}
	m.IsCustom = m.IsCustomField()
	return m
}
