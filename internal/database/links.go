package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
)

func (db *DB) GetLink(ctx context.Context, objectType string, objectID int64, service, remoteModule string) (*models.EntityLink, error) {
	var l models.EntityLink
	err := db.QueryRowContext(ctx, `
        SELECT object_type, object_id, service, remote_module, remote_id, updated_at
        FROM entity_links WHERE object_type = ? AND object_id = ? AND service = ? AND remote_module = ?`,
		objectType, objectID, service, remoteModule,
	).Scan(&l.ObjectType, &l.ObjectID, &l.Service, &l.RemoteModule, &l.RemoteID, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLinkNotFound
	}
	if err != nil {
		return nil, storageErr("get link", err)
	}
	return &l, nil
}

func (db *DB) SaveLink(ctx context.Context, link *models.EntityLink) error {
	now := utc(nowFunc())
	_, err := db.ExecContext(ctx, `
        INSERT INTO entity_links (object_type, object_id, service, remote_module, remote_id, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(object_type, object_id, service, remote_module) DO UPDATE SET
            remote_id = excluded.remote_id,
            updated_at = excluded.updated_at`,
		link.ObjectType, link.ObjectID, link.Service, link.RemoteModule, link.RemoteID, now)
	if err != nil {
		return storageErr("save link", err)
	}
	link.UpdatedAt = now
	return nil
}

func (db *DB) DeleteLink(ctx context.Context, objectType string, objectID int64, service, remoteModule string) error {
	if _, err := db.ExecContext(ctx, `
        DELETE FROM entity_links WHERE object_type = ? AND object_id = ? AND service = ? AND remote_module = ?`,
		objectType, objectID, service, remoteModule); err != nil {
		return storageErr("delete link", err)
	}
	return nil
}
