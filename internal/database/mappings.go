package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
)

const mappingColumns = `id, module, wc_field, custom_key, wc_field_label, zoho_module, zoho_field, zoho_field_label,
    direction, transform_function, default_value, is_custom, is_active, created_at, updated_at`

// ListMappings returns the active mappings of a module in insertion order.
func (db *DB) ListMappings(ctx context.Context, module string) ([]*models.FieldMapping, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+mappingColumns+` FROM field_mappings WHERE module = ? AND is_active = 1 ORDER BY id`, module)
	if err != nil {
		return nil, storageErr("list mappings", err)
	}
	defer rows.Close()

	var mappings []*models.FieldMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, storageErr("scan mapping", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list mappings", err)
	}
	return mappings, nil
}

func (db *DB) GetMapping(ctx context.Context, id int64) (*models.FieldMapping, error) {
	row := db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM field_mappings WHERE id = ?`, id)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMappingNotFound
	}
	if err != nil {
		return nil, storageErr("get mapping", err)
	}
	return m, nil
}

// SaveMapping inserts a mapping when ID is zero and updates it otherwise.
// A duplicate tuple is reported as a ValidationError.
func (db *DB) SaveMapping(ctx context.Context, m *models.FieldMapping) error {
	now := utc(nowFunc())

	if m.ID == 0 {
		result, err := db.ExecContext(ctx, `
            INSERT INTO field_mappings (module, wc_field, custom_key, wc_field_label, zoho_module, zoho_field,
                zoho_field_label, direction, transform_function, default_value, is_custom, is_active, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.Module, m.WCField, m.CustomKey, m.WCFieldLabel, m.ZohoModule, m.ZohoField,
			m.ZohoFieldLabel, m.Direction, m.TransformFunction, m.DefaultValue, m.IsCustom, m.IsActive, now, now)
		if isUniqueViolation(err) {
			return domain.NewValidationError("mapping", "an identical mapping already exists")
		}
		if err != nil {
			return storageErr("insert mapping", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return storageErr("insert mapping", err)
		}
		m.ID = id
		m.CreatedAt = now
		m.UpdatedAt = now
		return nil
	}

	result, err := db.ExecContext(ctx, `
        UPDATE field_mappings SET module = ?, wc_field = ?, custom_key = ?, wc_field_label = ?, zoho_module = ?,
            zoho_field = ?, zoho_field_label = ?, direction = ?, transform_function = ?, default_value = ?,
            is_custom = ?, is_active = ?, updated_at = ?
        WHERE id = ?`,
		m.Module, m.WCField, m.CustomKey, m.WCFieldLabel, m.ZohoModule, m.ZohoField, m.ZohoFieldLabel,
		m.Direction, m.TransformFunction, m.DefaultValue, m.IsCustom, m.IsActive, now, m.ID)
	if isUniqueViolation(err) {
		return domain.NewValidationError("mapping", "an identical mapping already exists")
	}
	if err != nil {
		return storageErr("update mapping", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("update mapping", err)
	}
	if affected == 0 {
		return domain.ErrMappingNotFound
	}
	m.UpdatedAt = now
	return nil
}

func (db *DB) DeleteMapping(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM field_mappings WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete mapping", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return domain.ErrMappingNotFound
	}
	return nil
}

// CountMappings counts all mappings of a module, active or not.
func (db *DB) CountMappings(ctx context.Context, module string) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM field_mappings WHERE module = ?`, module).Scan(&count); err != nil {
		return 0, storageErr("count mappings", err)
	}
	return count, nil
}

func scanMapping(row rowScanner) (*models.FieldMapping, error) {
	var m models.FieldMapping
	if err := row.Scan(&m.ID, &m.Module, &m.WCField, &m.CustomKey, &m.WCFieldLabel, &m.ZohoModule, &m.ZohoField,
		&m.ZohoFieldLabel, &m.Direction, &m.TransformFunction, &m.DefaultValue, &m.IsCustom, &m.IsActive,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
