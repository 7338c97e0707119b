package models

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Token is the stored OAuth credential of one Zoho service.
type Token struct {
	ID           int64      `json:"id"`
	Service      string     `json:"service"`
	TokenType    string     `json:"token_type"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        string     `json:"scope"`
	APIDomain    string     `json:"api_domain,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ExpiresWithin reports whether the access token is expired or will be within margin.
// A token without expiry never expires.
func (t *Token) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Add(margin).Before(*t.ExpiresAt)
}

func (t *Token) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// AuthorizationHeader renders the value sent to Zoho, e.g. "Zoho-oauthtoken abc".
func (t *Token) AuthorizationHeader() string {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return tokenType + " " + t.AccessToken
}

func (t *Token) String() string {
	return fmt.Sprintf("Token{service=%s type=%s access=[redacted] refresh=[redacted]}", t.Service, t.TokenType)
}

func (t *Token) MarshalZerologObject(e *zerolog.Event) {
	e.Str("service", t.Service).
		Str("token_type", t.TokenType).
		Str("scope", t.Scope).
		Bool("has_refresh_token", t.HasRefreshToken())
	if t.ExpiresAt != nil {
		e.Time("expires_at", *t.ExpiresAt)
	}
}

// TokenStatus is the secret-free connection summary of a service.
type TokenStatus struct {
	Service   string     `json:"service"`
	Connected bool       `json:"connected"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
	Scope     string     `json:"scope,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
