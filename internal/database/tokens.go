package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
)

const tokenColumns = `id, service, token_type, access_token, refresh_token, expires_at, scope, api_domain, created_at, updated_at`

func (db *DB) GetToken(ctx context.Context, service, tokenType string) (*models.Token, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM oauth_tokens WHERE service = ? AND token_type = ?`,
		service, tokenType)

	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, storageErr("get token", err)
	}
	return t, nil
}

// PutToken inserts or replaces the token of (service, token_type).
func (db *DB) PutToken(ctx context.Context, token *models.Token) error {
	now := utc(token.UpdatedAt)
	if token.UpdatedAt.IsZero() {
		now = utc(nowFunc())
	}
	var refresh interface{}
	if token.RefreshToken != "" {
		refresh = token.RefreshToken
	}

	_, err := db.ExecContext(ctx, `
        INSERT INTO oauth_tokens (service, token_type, access_token, refresh_token, expires_at, scope, api_domain, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(service, token_type) DO UPDATE SET
            access_token = excluded.access_token,
            refresh_token = excluded.refresh_token,
            expires_at = excluded.expires_at,
            scope = excluded.scope,
            api_domain = excluded.api_domain,
            updated_at = excluded.updated_at`,
		token.Service, token.TokenType, token.AccessToken, refresh, nullTime(token.ExpiresAt),
		token.Scope, token.APIDomain, now, now)
	if err != nil {
		return storageErr("put token", err)
	}
	token.UpdatedAt = now
	return nil
}

// DeleteToken removes the token; deleting an absent token is not an error.
func (db *DB) DeleteToken(ctx context.Context, service, tokenType string) error {
	if _, err := db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE service = ? AND token_type = ?`, service, tokenType); err != nil {
		return storageErr("delete token", err)
	}
	return nil
}

func (db *DB) ListTokens(ctx context.Context) ([]*models.Token, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+tokenColumns+` FROM oauth_tokens ORDER BY service, token_type`)
	if err != nil {
		return nil, storageErr("list tokens", err)
	}
	defer rows.Close()

	var tokens []*models.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, storageErr("scan token", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list tokens", err)
	}
	return tokens, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*models.Token, error) {
	var (
		t         models.Token
		refresh   sql.NullString
		expiresAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Service, &t.TokenType, &t.AccessToken, &refresh, &expiresAt,
		&t.Scope, &t.APIDomain, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.RefreshToken = refresh.String
	t.ExpiresAt = timePtr(expiresAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
