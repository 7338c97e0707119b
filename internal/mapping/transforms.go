package mapping

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// TransformFunc converts one field value. It must not have side effects.
type TransformFunc func(value interface{}) (interface{}, error)

// Registry holds the named transforms a mapping may reference.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]TransformFunc
}

// NewRegistry returns a registry preloaded with the built-in transforms.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]TransformFunc)}
	r.Register("trim", transformTrim)
	r.Register("uppercase", transformUpper)
	r.Register("lowercase", transformLower)
	r.Register("date", transformDate)
	r.Register("datetime", transformDateTime)
	r.Register("price_round", transformPriceRound)
	r.Register("integer", transformInteger)
	r.Register("boolean", transformBoolean)
	r.Register("yes_no", transformYesNo)
	r.Register("order_status_to_zoho", transformOrderStatusToZoho)
	r.Register("order_status_from_zoho", transformOrderStatusFromZoho)
	r.Register("country_name", transformCountryName)
	return r
}

func (r *Registry) Register(name string, fn TransformFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs the named transform. An empty name returns the value unchanged.
func (r *Registry) Apply(name string, value interface{}) (interface{}, error) {
	if name == "" {
		return value, nil
	}
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return fn(value)
}

func transformTrim(v interface{}) (interface{}, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func transformUpper(v interface{}) (interface{}, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(strings.TrimSpace(s)), nil
}

func transformLower(v interface{}) (interface{}, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(strings.TrimSpace(s)), nil
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = time.RFC3339
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
	"02/01/2006",
}

// parseTime accepts time values, unix seconds and the date formats both systems emit.
// Values without a zone are read as UTC.
func parseTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised date %q", s)
	}
	secs, err := cast.ToInt64E(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised date %v", v)
	}
	return time.Unix(secs, 0).UTC(), nil
}

func transformDate(v interface{}) (interface{}, error) {
	t, err := parseTime(v)
	if err != nil {
		return nil, err
	}
	return t.Format(dateLayout), nil
}

func transformDateTime(v interface{}) (interface{}, error) {
	t, err := parseTime(v)
	if err != nil {
		return nil, err
	}
	return t.Truncate(time.Second).Format(dateTimeLayout), nil
}

// toDecimal reads numbers and numeric strings without going through float64 for strings.
func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(f), nil
}

func transformPriceRound(v interface{}) (interface{}, error) {
	d, err := toDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("not a price: %v", v)
	}
	return d.Round(2).InexactFloat64(), nil
}

func transformInteger(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil || !d.IsInteger() {
			return nil, fmt.Errorf("not an integer: %q", s)
		}
		return d.IntPart(), nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return nil, fmt.Errorf("not an integer: %v", v)
	}
	return n, nil
}

// parseBool extends strconv's forms with yes/no and on/off.
func parseBool(v interface{}) (bool, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "y", "on":
			return true, nil
		case "no", "n", "off", "":
			return false, nil
		}
	}
	return cast.ToBoolE(v)
}

func transformBoolean(v interface{}) (interface{}, error) {
	return parseBool(v)
}

func transformYesNo(v interface{}) (interface{}, error) {
	b, err := parseBool(v)
	if err != nil {
		return nil, err
	}
	if b {
		return "Yes", nil
	}
	return "No", nil
}

var orderStatusToZoho = map[string]string{
	"pending":    "Created",
	"on-hold":    "Created",
	"processing": "Approved",
	"completed":  "Delivered",
	"cancelled":  "Cancelled",
	"refunded":   "Cancelled",
	"failed":     "Cancelled",
}

var orderStatusFromZoho = map[string]string{
	"created":   "pending",
	"approved":  "processing",
	"delivered": "completed",
	"cancelled": "cancelled",
}

func transformOrderStatusToZoho(v interface{}) (interface{}, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	key := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "wc-")
	if out, ok := orderStatusToZoho[key]; ok {
		return out, nil
	}
	// Already in Zoho form.
	for _, zs := range orderStatusToZoho {
		if strings.EqualFold(zs, s) {
			return zs, nil
		}
	}
	return nil, fmt.Errorf("unknown order status %q", s)
}

func transformOrderStatusFromZoho(v interface{}) (interface{}, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	if out, ok := orderStatusFromZoho[strings.ToLower(strings.TrimSpace(s))]; ok {
		return out, nil
	}
	if _, ok := orderStatusToZoho[s]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown order status %q", s)
}

var countryNames = map[string]string{
	"AR": "Argentina",
	"AT": "Austria",
	"AU": "Australia",
	"BE": "Belgium",
	"BO": "Bolivia",
	"BR": "Brazil",
	"CA": "Canada",
	"CH": "Switzerland",
	"CL": "Chile",
	"CN": "China",
	"CO": "Colombia",
	"CR": "Costa Rica",
	"DE": "Germany",
	"DK": "Denmark",
	"DO": "Dominican Republic",
	"EC": "Ecuador",
	"ES": "Spain",
	"FI": "Finland",
	"FR": "France",
	"GB": "United Kingdom",
	"GT": "Guatemala",
	"IE": "Ireland",
	"IN": "India",
	"IT": "Italy",
	"JP": "Japan",
	"MX": "Mexico",
	"NL": "Netherlands",
	"NO": "Norway",
	"NZ": "New Zealand",
	"PA": "Panama",
	"PE": "Peru",
	"PL": "Poland",
	"PT": "Portugal",
	"PY": "Paraguay",
	"SE": "Sweden",
	"US": "United States",
	"UY": "Uruguay",
	"VE": "Venezuela",
	"ZA": "South Africa",
}

// transformCountryName expands ISO 3166-1 alpha-2 codes. Unknown values pass through.
func transformCountryName(v interface{}) (interface{}, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if name, ok := countryNames[strings.ToUpper(s)]; ok {
		return name, nil
	}
	return s, nil
}
