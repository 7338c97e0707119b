package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/logging"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/metrics"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	logSource       = "auth"
	stateKeyPrefix  = "oauth_state:"
	refreshLockKey  = "oauth_refresh:"
	refreshLockTTL  = 30 * time.Second
	refreshWaitStep = 100 * time.Millisecond
)

// pendingAuthorization is what an issued state value stands for.
type pendingAuthorization struct {
	SessionID string   `json:"session_id"`
	Services  []string `json:"services"`
}

// Manager owns the OAuth lifecycle of the Zoho services: consent, code exchange,
// refresh on expiry and revocation.
type Manager struct {
	cfg        config.ZohoConfig
	oauth      *oauth2.Config
	store      domain.TokenStore
	cache      domain.Cache
	httpClient *http.Client
	synclog    *logging.SyncLogger
	logger     *zerolog.Logger
	group      singleflight.Group
	now        func() time.Time
}

func NewManager(cfg config.ZohoConfig, store domain.TokenStore, cache domain.Cache, synclog *logging.SyncLogger, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if synclog == nil {
		synclog = logging.NewSyncLogger(nil, logger)
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.TokenType == "" {
		cfg.TokenType = models.DefaultTokenType
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = models.DefaultRefreshMargin * time.Second
	}
	accounts := strings.TrimRight(cfg.AccountsURL, "/")

	return &Manager{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   accounts + "/oauth/v2/auth",
				TokenURL:  accounts + "/oauth/v2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:      store,
		cache:      cache,
		httpClient: &http.Client{Timeout: timeout},
		synclog:    synclog,
		logger:     logger,
		now:        time.Now,
	}
}

// SetHTTPClient replaces the client used for calls to the accounts server.
func (m *Manager) SetHTTPClient(c *http.Client) {
	m.httpClient = c
}

func (m *Manager) TokenType() string {
	return m.cfg.TokenType
}

// AuthorizationURL builds the consent URL for the given services and remembers the
// issued state for the session.
func (m *Manager) AuthorizationURL(ctx context.Context, sessionID string, services []string) (string, error) {
	if !m.cfg.OAuthConfigured() {
		return "", &domain.ConfigError{Field: "zoho.client_id", Message: "client id, client secret and redirect uri must be configured"}
	}
	if len(services) == 0 {
		services = models.Services
	}
	scopes, err := m.scopesFor(services)
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	raw, err := json.Marshal(pendingAuthorization{SessionID: sessionID, Services: services})
	if err != nil {
		return "", fmt.Errorf("encode authorization state: %w", err)
	}
	if err := m.cache.Set(ctx, stateKeyPrefix+state, string(raw), models.OAuthStateTTL*time.Second); err != nil {
		return "", fmt.Errorf("store authorization state: %w", err)
	}

	return m.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("scope", strings.Join(scopes, ",")),
	), nil
}

func (m *Manager) scopesFor(services []string) ([]string, error) {
	seen := map[string]bool{}
	var scopes []string
	for _, service := range services {
		svc, ok := m.cfg.Services[service]
		if !ok || !models.IsValidService(service) {
			return nil, &domain.ConfigError{Field: "zoho.services", Message: fmt.Sprintf("service %q is not configured", service)}
		}
		for _, s := range svc.Scopes {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	sort.Strings(scopes)
	return scopes, nil
}

// ExchangeCode completes the authorization started by AuthorizationURL and stores one
// token per requested service.
func (m *Manager) ExchangeCode(ctx context.Context, sessionID, code, state string) ([]*models.Token, error) {
	if state == "" || code == "" {
		return nil, &domain.AuthError{Reason: domain.AuthInvalidState, Err: errors.New("missing code or state")}
	}
	raw, ok, err := m.cache.Take(ctx, stateKeyPrefix+state)
	if err != nil {
		return nil, fmt.Errorf("load authorization state: %w", err)
	}
	if !ok {
		return nil, &domain.AuthError{Reason: domain.AuthInvalidState, Err: errors.New("unknown or expired state")}
	}
	var pending pendingAuthorization
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, &domain.AuthError{Reason: domain.AuthInvalidState, Err: err}
	}
	if pending.SessionID != sessionID {
		return nil, &domain.AuthError{Reason: domain.AuthInvalidState, Err: errors.New("state was issued to another session")}
	}

	tok, err := m.oauth.Exchange(m.oauthContext(ctx), code)
	if err != nil {
		aerr := classifyOAuthError(err, false)
		m.synclog.Error(ctx, logSource, "authorization code exchange failed", models.Payload{"error": err.Error()})
		return nil, aerr
	}

	var stored []*models.Token
	for _, service := range pending.Services {
		t := m.fromOAuth(service, tok, "")
		if err := m.store.PutToken(ctx, t); err != nil {
			return nil, err
		}
		stored = append(stored, t)
		m.synclog.Info(ctx, logSource, "service connected", models.Payload{"service": service, "scope": t.Scope})
	}
	return stored, nil
}

// GetValidToken returns a token for the service that is not within the refresh margin
// of its expiry, refreshing it first when needed. Concurrent callers share one refresh.
func (m *Manager) GetValidToken(ctx context.Context, service string) (*models.Token, error) {
	tok, err := m.load(ctx, service)
	if err != nil {
		return nil, err
	}
	if !tok.ExpiresWithin(m.now(), m.cfg.RefreshMargin) {
		return tok, nil
	}

	v, err, _ := m.group.Do(service, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.httpClient.Timeout+refreshLockTTL)
		defer cancel()
		return m.refresh(rctx, service)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Token), nil
}

func (m *Manager) load(ctx context.Context, service string) (*models.Token, error) {
	tok, err := m.store.GetToken(ctx, service, m.cfg.TokenType)
	if errors.Is(err, domain.ErrTokenNotFound) {
		return nil, &domain.AuthError{Reason: domain.AuthReauthorizationNeeded, Service: service, Err: err}
	}
	return tok, err
}

func (m *Manager) refresh(ctx context.Context, service string) (*models.Token, error) {
	// Another caller or process may have refreshed while we waited.
	tok, err := m.load(ctx, service)
	if err != nil {
		return nil, err
	}
	if !tok.ExpiresWithin(m.now(), m.cfg.RefreshMargin) {
		return tok, nil
	}
	if !tok.HasRefreshToken() {
		return nil, &domain.AuthError{Reason: domain.AuthReauthorizationNeeded, Service: service, Err: errors.New("token expired and no refresh token is stored")}
	}

	release, fresh, err := m.acquireRefreshLock(ctx, service)
	if err != nil {
		return nil, err
	}
	if fresh != nil {
		return fresh, nil
	}
	defer release()

	src := m.oauth.TokenSource(m.oauthContext(ctx), &oauth2.Token{
		RefreshToken: tok.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})
	next, err := src.Token()
	if err != nil {
		aerr := classifyOAuthError(err, true)
		aerr.Service = service
		metrics.IncTokenRefresh(service, "error")
		level := models.LevelWarning
		if aerr.Reason == domain.AuthReauthorizationNeeded {
			level = models.LevelError
		}
		m.synclog.Log(ctx, logging.Entry{
			Level:   level,
			Source:  logSource,
			Message: "token refresh failed",
			Details: models.Payload{"service": service, "reason": aerr.Reason, "error": err.Error()},
		})
		return nil, aerr
	}

	refreshed := m.fromOAuth(service, next, tok.RefreshToken)
	if refreshed.Scope == "" {
		refreshed.Scope = tok.Scope
	}
	if refreshed.APIDomain == "" {
		refreshed.APIDomain = tok.APIDomain
	}
	if err := m.store.PutToken(ctx, refreshed); err != nil {
		return nil, err
	}
	metrics.IncTokenRefresh(service, "ok")
	m.logger.Debug().Object("token", refreshed).Msg("Token refreshed")
	m.synclog.Info(ctx, logSource, "token refreshed", models.Payload{"service": service})
	return refreshed, nil
}

// acquireRefreshLock takes the cross-process refresh lock. When another holder finishes
// first and the stored token is fresh, that token is returned instead.
func (m *Manager) acquireRefreshLock(ctx context.Context, service string) (func(), *models.Token, error) {
	key := refreshLockKey + service
	owner := uuid.NewString()
	deadline := m.now().Add(refreshLockTTL)

	for {
		ok, err := m.cache.SetNX(ctx, key, owner, refreshLockTTL)
		if err != nil {
			m.logger.Warn().Err(err).Str("service", service).Msg("Refresh lock unavailable, refreshing without it")
			return func() {}, nil, nil
		}
		if ok {
			return func() {
				if v, held, err := m.cache.Get(context.WithoutCancel(ctx), key); err == nil && held && v == owner {
					_ = m.cache.Delete(context.WithoutCancel(ctx), key)
				}
			}, nil, nil
		}

		tok, err := m.load(ctx, service)
		if err != nil {
			return nil, nil, err
		}
		if !tok.ExpiresWithin(m.now(), m.cfg.RefreshMargin) {
			return nil, tok, nil
		}
		if m.now().After(deadline) {
			return nil, nil, &domain.AuthError{Reason: domain.AuthNetwork, Service: service, Err: errors.New("timed out waiting for concurrent token refresh")}
		}

		select {
		case <-ctx.Done():
			return nil, nil, &domain.AuthError{Reason: domain.AuthNetwork, Service: service, Err: ctx.Err()}
		case <-time.After(refreshWaitStep):
		}
	}
}

// Revoke asks Zoho to revoke the service token and deletes it locally. Remote failures
// are logged and do not prevent the local delete.
func (m *Manager) Revoke(ctx context.Context, service string) error {
	tok, err := m.store.GetToken(ctx, service, m.cfg.TokenType)
	if errors.Is(err, domain.ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	value := tok.RefreshToken
	if value == "" {
		value = tok.AccessToken
	}
	if err := m.revokeRemote(ctx, value); err != nil {
		m.synclog.Warning(ctx, logSource, "remote token revoke failed", models.Payload{"service": service, "error": err.Error()})
	}

	if err := m.store.DeleteToken(ctx, service, m.cfg.TokenType); err != nil {
		return err
	}
	m.synclog.Info(ctx, logSource, "service disconnected", models.Payload{"service": service})
	return nil
}

func (m *Manager) revokeRemote(ctx context.Context, token string) error {
	endpoint := strings.TrimRight(m.cfg.AccountsURL, "/") + "/oauth/v2/token/revoke?token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("revoke returned status %d", resp.StatusCode)
	}
	return nil
}

// Status reports the connection state of every configured service without secrets.
func (m *Manager) Status(ctx context.Context) ([]models.TokenStatus, error) {
	tokens, err := m.store.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	byService := map[string]*models.Token{}
	for _, t := range tokens {
		if t.TokenType == m.cfg.TokenType {
			byService[t.Service] = t
		}
	}

	out := make([]models.TokenStatus, 0, len(models.Services))
	for _, service := range models.Services {
		st := models.TokenStatus{Service: service}
		if t, ok := byService[service]; ok {
			updated := t.UpdatedAt
			st.Connected = true
			st.ExpiresAt = t.ExpiresAt
			st.Expired = t.ExpiresWithin(m.now(), 0)
			st.Scope = t.Scope
			st.UpdatedAt = &updated
		}
		out = append(out, st)
	}
	return out, nil
}

func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func (m *Manager) fromOAuth(service string, tok *oauth2.Token, previousRefresh string) *models.Token {
	t := &models.Token{
		Service:      service,
		TokenType:    m.cfg.TokenType,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		UpdatedAt:    m.now().UTC(),
	}
	if t.RefreshToken == "" {
		t.RefreshToken = previousRefresh
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		t.ExpiresAt = &exp
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	if domainURL, ok := tok.Extra("api_domain").(string); ok {
		t.APIDomain = domainURL
	}
	return t
}

// classifyOAuthError maps oauth2 failures onto AuthError reasons. A refresh grant the
// provider refuses can only be fixed by a new consent.
func classifyOAuthError(err error, refreshing bool) *domain.AuthError {
	rejected := domain.AuthProviderRejected
	if refreshing {
		rejected = domain.AuthReauthorizationNeeded
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		if status >= 500 || status == http.StatusTooManyRequests {
			return &domain.AuthError{Reason: domain.AuthNetwork, Err: err}
		}
		return &domain.AuthError{Reason: rejected, Err: err}
	}

	if strings.Contains(err.Error(), "missing access_token") {
		return &domain.AuthError{Reason: rejected, Err: err}
	}
	return &domain.AuthError{Reason: domain.AuthNetwork, Err: err}
}
