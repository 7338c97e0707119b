package models

import (
	"encoding/json"
	"time"
)

// Payload is a free-form JSON object carried by queue tasks and log entries.
type Payload map[string]interface{}

func (p Payload) GetInt64(key string) int64 {
	if p == nil {
		return 0
	}
	val, ok := p[key]
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func (p Payload) GetString(key string) string {
	if p == nil {
		return ""
	}
	if str, ok := p[key].(string); ok {
		return str
	}
	return ""
}

func (p Payload) GetTime(key string) time.Time {
	if p == nil {
		return time.Time{}
	}
	switch v := p[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// Encode returns the JSON form, "{}" for a nil payload.
func (p Payload) Encode() (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodePayload parses a stored JSON object. Empty input yields an empty payload.
func DecodePayload(raw string) (Payload, error) {
	p := Payload{}
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return p, nil
}
