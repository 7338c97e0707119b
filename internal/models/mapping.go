package models

import "time"

type FieldMapping struct {
	ID                int64     `json:"id" yaml:"-"`
	Module            string    `json:"module" yaml:"module"`
	WCField           string    `json:"wc_field" yaml:"wc_field"`
	CustomKey         string    `json:"custom_key,omitempty" yaml:"custom_key"`
	WCFieldLabel      string    `json:"wc_field_label,omitempty" yaml:"wc_field_label"`
	ZohoModule        string    `json:"zoho_module" yaml:"zoho_module"`
	ZohoField         string    `json:"zoho_field" yaml:"zoho_field"`
	ZohoFieldLabel    string    `json:"zoho_field_label,omitempty" yaml:"zoho_field_label"`
	Direction         string    `json:"direction" yaml:"direction"`
	TransformFunction string    `json:"transform_function,omitempty" yaml:"transform_function"`
	DefaultValue      string    `json:"default_value,omitempty" yaml:"default_value"`
	IsCustom          bool      `json:"is_custom" yaml:"is_custom"`
	IsActive          bool      `json:"is_active" yaml:"is_active"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

// LocalKey is the name the mapping reads and writes on the local side.
func (m *FieldMapping) LocalKey() string {
	if m.WCField == CustomFieldSentinel || (m.WCField == "" && m.CustomKey != "") {
		return m.CustomKey
	}
	return m.WCField
}

func (m *FieldMapping) IsCustomField() bool {
	return m.WCField == CustomFieldSentinel || (m.WCField == "" && m.CustomKey != "")
}

// Matches reports whether the mapping applies in the requested direction.
func (m *FieldMapping) Matches(direction string) bool {
	return direction == "" || m.Direction == direction || m.Direction == DirectionBidirectional
}

// RemoteField describes one field of a remote module.
type RemoteField struct {
	APIName    string `json:"api_name"`
	FieldLabel string `json:"field_label"`
	DataType   string `json:"data_type"`
}
