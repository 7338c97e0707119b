package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/metrics"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 10 * 1024 * 1024

// ErrDiscoveryUnsupported is returned by ListFields for services without a field
// metadata endpoint.
var ErrDiscoveryUnsupported = errors.New("zoho: field discovery is only available for CRM modules")

// Client calls the REST APIs of the Zoho services. CRM wraps records in a {"data": [...]}
// envelope; Books, Inventory and Campaigns send flat objects scoped by organization_id.
type Client struct {
	services   map[string]config.ZohoServiceConfig
	orgID      string
	httpClient *http.Client
	rps        rate.Limit
	burst      int
	logger     *zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewClient(cfg config.ZohoConfig, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := rate.Limit(cfg.RateLimitRPS)
	if cfg.RateLimitRPS <= 0 {
		rps = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		services:   cfg.Services,
		orgID:      cfg.OrganizationID,
		httpClient: &http.Client{Timeout: timeout},
		rps:        rps,
		burst:      burst,
		logger:     logger,
		limiters:   make(map[string]*rate.Limiter),
	}
}

func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

func (c *Client) limiter(service string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[service]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[service] = l
	}
	return l
}

func enveloped(service string) bool {
	return service == models.ServiceCRM
}

// Create inserts a record and returns its remote id.
func (c *Client) Create(ctx context.Context, token *models.Token, service, module string, fields map[string]interface{}) (string, error) {
	var body interface{} = fields
	if enveloped(service) {
		body = map[string]interface{}{"data": []interface{}{fields}}
	}
	raw, err := c.do(ctx, token, service, "create", http.MethodPost, module, body)
	if err != nil {
		return "", err
	}
	return recordID(service, module, raw)
}

func (c *Client) Update(ctx context.Context, token *models.Token, service, module, id string, fields map[string]interface{}) error {
	var body interface{} = fields
	if enveloped(service) {
		body = map[string]interface{}{"data": []interface{}{fields}}
	}
	_, err := c.do(ctx, token, service, "update", http.MethodPut, module+"/"+url.PathEscape(id), body)
	return err
}

func (c *Client) Delete(ctx context.Context, token *models.Token, service, module, id string) error {
	_, err := c.do(ctx, token, service, "delete", http.MethodDelete, module+"/"+url.PathEscape(id), nil)
	return err
}

// ListFields returns the field metadata of a CRM module.
func (c *Client) ListFields(ctx context.Context, token *models.Token, service, module string) ([]models.RemoteField, error) {
	if !enveloped(service) {
		return nil, ErrDiscoveryUnsupported
	}
	raw, err := c.do(ctx, token, service, "fields", http.MethodGet, "settings/fields?module="+url.QueryEscape(module), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Fields []models.RemoteField `json:"fields"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, &domain.TransportError{Op: "zoho fields", Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.Fields, nil
}

func (c *Client) endpoint(service, path string) (string, error) {
	svc, ok := c.services[service]
	if !ok || svc.BaseURL == "" {
		return "", &domain.ConfigError{Field: "zoho.services." + service + ".base_url", Message: "is not configured"}
	}
	endpoint := strings.TrimRight(svc.BaseURL, "/") + "/" + path
	if !enveloped(service) && c.orgID != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "organization_id=" + url.QueryEscape(c.orgID)
	}
	return endpoint, nil
}

func (c *Client) do(ctx context.Context, token *models.Token, service, op, method, path string, body interface{}) ([]byte, error) {
	opName := "zoho " + service + " " + op
	endpoint, err := c.endpoint(service, path)
	if err != nil {
		return nil, err
	}

	if err := c.limiter(service).Wait(ctx); err != nil {
		return nil, &domain.TransportError{Op: opName, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", opName, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opName, err)
	}
	req.Header.Set("Authorization", token.AuthorizationHeader())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncRemote(service, op, "error")
		return nil, &domain.TransportError{Op: opName, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		metrics.IncRemote(service, op, "error")
		return nil, &domain.TransportError{Op: opName, Status: resp.StatusCode, Err: err}
	}
	metrics.IncRemote(service, op, strconv.Itoa(resp.StatusCode))
	c.logger.Debug().
		Str("service", service).
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Zoho request")

	if err := classify(service, opName, resp.StatusCode, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// classify turns a response into nil or a typed error.
func classify(service, op string, status int, raw []byte) error {
	switch {
	case status >= 500 || status == http.StatusTooManyRequests:
		return &domain.TransportError{Op: op, Status: status, Err: errors.New(snippet(raw))}
	case status == http.StatusUnauthorized:
		return &domain.AuthError{Reason: domain.AuthProviderRejected, Service: service, Err: errors.New(snippet(raw))}
	case status >= 400:
		return &domain.RemoteRejection{Status: status, Code: errorCode(raw), Body: snippet(raw)}
	}

	if len(raw) == 0 {
		return nil
	}
	if enveloped(service) {
		var env struct {
			Data []struct {
				Status  string `json:"status"`
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && env.Data[0].Status == "error" {
			return &domain.RemoteRejection{Status: status, Code: env.Data[0].Code, Body: env.Data[0].Message}
		}
		return nil
	}

	var flat struct {
		Code    *json.Number `json:"code"`
		Message string       `json:"message"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil && flat.Code != nil && flat.Code.String() != "0" {
		return &domain.RemoteRejection{Status: status, Code: flat.Code.String(), Body: flat.Message}
	}
	return nil
}

func errorCode(raw []byte) string {
	var body struct {
		Code json.RawMessage `json:"code"`
		Data []struct {
			Code string `json:"code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if len(body.Data) > 0 && body.Data[0].Code != "" {
		return body.Data[0].Code
	}
	return strings.Trim(string(body.Code), `"`)
}

func snippet(raw []byte) string {
	const max = 512
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// recordID extracts the id of a created record. CRM answers
// {"data":[{"details":{"id":"..."}}]}; flat services answer {"<singular>":{"<singular>_id":"..."}}.
func recordID(service, module string, raw []byte) (string, error) {
	if enveloped(service) {
		var env struct {
			Data []struct {
				Details struct {
					ID json.Number `json:"id"`
				} `json:"details"`
			} `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return "", &domain.TransportError{Op: "zoho create", Err: fmt.Errorf("decode response: %w", err)}
		}
		if len(env.Data) == 0 || env.Data[0].Details.ID == "" {
			return "", &domain.TransportError{Op: "zoho create", Err: errors.New("response carries no record id")}
		}
		return env.Data[0].Details.ID.String(), nil
	}

	singular := strings.TrimSuffix(strings.ToLower(module), "s")
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		return "", &domain.TransportError{Op: "zoho create", Err: fmt.Errorf("decode response: %w", err)}
	}
	var record map[string]interface{}
	if err := json.Unmarshal(flat[singular], &record); err != nil || record == nil {
		return "", &domain.TransportError{Op: "zoho create", Err: fmt.Errorf("response has no %q object", singular)}
	}
	switch id := record[singular+"_id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	}
	return "", &domain.TransportError{Op: "zoho create", Err: fmt.Errorf("response has no %s_id", singular)}
}
