package mapping

import (
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// MapRecord is a Record over decoded JSON. Custom metadata is read from a WooCommerce
// style "meta_data" list of {key, value} objects, then from top-level keys.
type MapRecord map[string]interface{}

func (r MapRecord) Field(path string) (interface{}, bool) {
	return Lookup(map[string]interface{}(r), path)
}

func (r MapRecord) Meta(key string) (interface{}, bool) {
	if v, ok := MetaValue(map[string]interface{}(r), key); ok {
		return v, true
	}
	v, ok := r[key]
	return v, ok
}

// Lookup walks a dotted path through nested objects and arrays, e.g. "billing.email"
// or "line_items.0.sku".
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	var current interface{} = data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// MetaValue finds key in the "meta_data" list.
func MetaValue(data map[string]interface{}, key string) (interface{}, bool) {
	list, ok := data["meta_data"].([]interface{})
	if !ok {
		return nil, false
	}
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if cast.ToString(entry["key"]) == key {
			return entry["value"], true
		}
	}
	return nil, false
}

// isMissing treats absent, null and blank string values alike.
func isMissing(v interface{}, ok bool) bool {
	if !ok || v == nil {
		return true
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return true
	}
	return false
}
