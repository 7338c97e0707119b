package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"

	"github.com/rs/zerolog"
)

const maxResponseSize = 10 * 1024 * 1024

// WooClient reads entities from the WooCommerce REST API (v3) and writes sync metadata back.
type WooClient struct {
	baseURL    string
	key        string
	secret     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

func NewWooClient(cfg config.WooCommerceConfig, logger *zerolog.Logger) *WooClient {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WooClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		key:        cfg.ConsumerKey,
		secret:     cfg.ConsumerSecret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *WooClient) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

func (c *WooClient) endpoint(objectType string, id int64) (string, error) {
	res, ok := resources[objectType]
	if !ok {
		return "", &domain.ConfigError{Field: "object_type", Message: fmt.Sprintf("unsupported object type %q", objectType)}
	}
	if c.baseURL == "" {
		return "", &domain.ConfigError{Field: "woocommerce.base_url", Message: "is not configured"}
	}
	return fmt.Sprintf("%s/wp-json/wc/v3/%s/%d", c.baseURL, res, id), nil
}

// Resolve loads the live entity. Missing or trashed objects yield domain.ErrEntityNotFound.
func (c *WooClient) Resolve(ctx context.Context, objectType string, id int64) (domain.Record, error) {
	endpoint, err := c.endpoint(objectType, id)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := c.do(ctx, "woocommerce get "+objectType, http.MethodGet, endpoint, nil, &data); err != nil {
		if domain.IsNotFound(err) {
			return nil, fmt.Errorf("%s %d: %w", objectType, id, domain.ErrEntityNotFound)
		}
		return nil, err
	}
	if status, _ := data["status"].(string); status == "trash" {
		return nil, fmt.Errorf("%s %d is trashed: %w", objectType, id, domain.ErrEntityNotFound)
	}
	return NewEntity(objectType, id, data), nil
}

type metaItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// WriteMeta stores key/value pairs in the entity's meta_data.
func (c *WooClient) WriteMeta(ctx context.Context, objectType string, id int64, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	endpoint, err := c.endpoint(objectType, id)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]metaItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, metaItem{Key: k, Value: meta[k]})
	}
	return c.do(ctx, "woocommerce update "+objectType, http.MethodPut, endpoint, map[string]interface{}{"meta_data": items}, nil)
}

func (c *WooClient) do(ctx context.Context, op, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &domain.TransportError{Op: op, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &domain.TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", truncate(raw))}
	case resp.StatusCode >= 400:
		var werr struct {
			Code string `json:"code"`
		}
		_ = json.Unmarshal(raw, &werr)
		return &domain.RemoteRejection{Status: resp.StatusCode, Code: werr.Code, Body: truncate(raw)}
	}

	c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("WooCommerce request")
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func truncate(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		return s[:512] + "..."
	}
	return s
}

