package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BuiltIns(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name      string
		transform string
		in        interface{}
		want      interface{}
	}{
		{"TrimSpaces", "trim", "  Ana  ", "Ana"},
		{"Upper", "uppercase", "summer10", "SUMMER10"},
		{"Lower", "lowercase", " Ana@Example.COM ", "ana@example.com"},
		{"DateFromWoo", "date", "2024-03-22T16:28:02", "2024-03-22"},
		{"DateFromTime", "date", time.Date(2024, 1, 5, 23, 0, 0, 0, time.UTC), "2024-01-05"},
		{"DateTimeDropsFraction", "datetime", "2024-03-22T16:28:02.123Z", "2024-03-22T16:28:02Z"},
		{"DateTimeNoZone", "datetime", "2024-03-22 16:28:02", "2024-03-22T16:28:02Z"},
		{"PriceString", "price_round", "19.999", 20.0},
		{"PriceFloat", "price_round", 10.005, 10.01},
		{"IntegerString", "integer", "42", int64(42)},
		{"IntegerFloat", "integer", 7.0, int64(7)},
		{"BooleanYes", "boolean", "yes", true},
		{"BooleanString", "boolean", "false", false},
		{"YesNo", "yes_no", true, "Yes"},
		{"YesNoString", "yes_no", "0", "No"},
		{"StatusToZoho", "order_status_to_zoho", "processing", "Approved"},
		{"StatusToZohoPrefixed", "order_status_to_zoho", "wc-completed", "Delivered"},
		{"StatusFromZoho", "order_status_from_zoho", "Cancelled", "cancelled"},
		{"CountryKnown", "country_name", "es", "Spain"},
		{"CountryUnknown", "country_name", "Atlantis", "Atlantis"},
		{"NoTransform", "", 12, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Apply(tt.transform, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_Failures(t *testing.T) {
	r := NewRegistry()

	_, err := r.Apply("missing", "x")
	assert.Error(t, err)

	for name, in := range map[string]interface{}{
		"date":                 "not a date",
		"price_round":          "abc",
		"integer":              "12.5",
		"boolean":              "maybe",
		"order_status_to_zoho": "teleported",
	} {
		_, err := r.Apply(name, in)
		assert.Error(t, err, name)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("prefix_order"))

	r.Register("prefix_order", func(v interface{}) (interface{}, error) {
		return "WC-" + v.(string), nil
	})

	assert.True(t, r.Has("prefix_order"))
	assert.Contains(t, r.Names(), "prefix_order")
	got, err := r.Apply("prefix_order", "100")
	require.NoError(t, err)
	assert.Equal(t, "WC-100", got)
}
