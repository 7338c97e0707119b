package zoho

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToken = &models.Token{Service: models.ServiceCRM, TokenType: "Zoho-oauthtoken", AccessToken: "abc"}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.ZohoConfig{
		OrganizationID: "org-1",
		HTTPTimeout:    2 * time.Second,
		Services: map[string]config.ZohoServiceConfig{
			models.ServiceCRM:       {BaseURL: srv.URL + "/crm/v2"},
			models.ServiceInventory: {BaseURL: srv.URL + "/inventory/v1/"},
			models.ServiceBooks:     {BaseURL: srv.URL + "/books/v3"},
		},
	}, nil)
}

func TestClient_CRMCreate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v2/Contacts", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("organization_id"))
		assert.Equal(t, "Zoho-oauthtoken abc", r.Header.Get("Authorization"))

		var body map[string][]map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body["data"], 1)
		assert.Equal(t, "Perez", body["data"][0]["Last_Name"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":[{"code":"SUCCESS","details":{"id":"4150868000000224005"},"status":"success"}]}`)
	})

	id, err := c.Create(context.Background(), testToken, models.ServiceCRM, "Contacts", map[string]interface{}{"Last_Name": "Perez"})
	require.NoError(t, err)
	assert.Equal(t, "4150868000000224005", id)
}

func TestClient_CRMUpdateAndDelete(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"code":"SUCCESS","status":"success"}]}`)
	})
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, testToken, models.ServiceCRM, "Contacts", "77", map[string]interface{}{"Email": "a@b.co"}))
	require.NoError(t, c.Delete(ctx, testToken, models.ServiceCRM, "Contacts", "77"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"PUT /crm/v2/Contacts/77", "DELETE /crm/v2/Contacts/77"}, calls)
}

func TestClient_FlatCreate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inventory/v1/items", r.URL.Path)
		assert.Equal(t, "org-1", r.URL.Query().Get("organization_id"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Mug", body["name"])

		_, _ = io.WriteString(w, `{"code":0,"message":"The item has been added.","item":{"item_id":"982000000030049","name":"Mug"}}`)
	})

	id, err := c.Create(context.Background(), testToken, models.ServiceInventory, "items", map[string]interface{}{"name": "Mug"})
	require.NoError(t, err)
	assert.Equal(t, "982000000030049", id)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		service string
		status  int
		body    string
		check   func(t *testing.T, err error)
	}{
		{"ServerError", models.ServiceCRM, http.StatusBadGateway, `oops`, func(t *testing.T, err error) {
			var te *domain.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, http.StatusBadGateway, te.Status)
			assert.True(t, domain.IsRecoverable(err))
		}},
		{"Throttled", models.ServiceBooks, http.StatusTooManyRequests, `{"code":1070}`, func(t *testing.T, err error) {
			assert.True(t, domain.IsRecoverable(err))
		}},
		{"Unauthorized", models.ServiceCRM, http.StatusUnauthorized, `{"code":"INVALID_TOKEN"}`, func(t *testing.T, err error) {
			var ae *domain.AuthError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, domain.AuthProviderRejected, ae.Reason)
			assert.False(t, domain.IsRecoverable(err))
		}},
		{"CRMInvalidData", models.ServiceCRM, http.StatusBadRequest,
			`{"data":[{"code":"INVALID_DATA","details":{"api_name":"Email"},"message":"invalid data","status":"error"}]}`,
			func(t *testing.T, err error) {
				var rr *domain.RemoteRejection
				require.ErrorAs(t, err, &rr)
				assert.Equal(t, "INVALID_DATA", rr.Code)
				assert.False(t, domain.IsRecoverable(err))
			}},
		{"NotFound", models.ServiceBooks, http.StatusNotFound, `{"code":1002,"message":"Invoice does not exist."}`, func(t *testing.T, err error) {
			assert.True(t, domain.IsNotFound(err))
		}},
		{"CRMErrorInSuccessEnvelope", models.ServiceCRM, http.StatusOK,
			`{"data":[{"code":"MANDATORY_NOT_FOUND","message":"required field not found","status":"error"}]}`,
			func(t *testing.T, err error) {
				var rr *domain.RemoteRejection
				require.ErrorAs(t, err, &rr)
				assert.Equal(t, "MANDATORY_NOT_FOUND", rr.Code)
			}},
		{"FlatErrorCode", models.ServiceBooks, http.StatusOK, `{"code":4,"message":"Invalid value passed for customer_id"}`, func(t *testing.T, err error) {
			var rr *domain.RemoteRejection
			require.ErrorAs(t, err, &rr)
			assert.Equal(t, "4", rr.Code)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			err := c.Update(context.Background(), testToken, tt.service, "invoices", "1", map[string]interface{}{"x": 1})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(config.ZohoConfig{Services: map[string]config.ZohoServiceConfig{
		models.ServiceCRM: {BaseURL: base},
	}}, nil)

	_, err := c.Create(context.Background(), testToken, models.ServiceCRM, "Contacts", map[string]interface{}{})
	assert.True(t, domain.IsRecoverable(err))
}

func TestClient_UnconfiguredService(t *testing.T) {
	c := NewClient(config.ZohoConfig{}, nil)
	err := c.Delete(context.Background(), testToken, models.ServiceCampaigns, "lists", "1")
	var ce *domain.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestClient_ListFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v2/settings/fields", r.URL.Path)
		assert.Equal(t, "Contacts", r.URL.Query().Get("module"))
		_, _ = io.WriteString(w, `{"fields":[{"api_name":"Last_Name","field_label":"Last Name","data_type":"text"},{"api_name":"Email","field_label":"Email","data_type":"email"}]}`)
	})
	ctx := context.Background()

	fields, err := c.ListFields(ctx, testToken, models.ServiceCRM, "Contacts")
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, models.RemoteField{APIName: "Last_Name", FieldLabel: "Last Name", DataType: "text"}, fields[0])

	_, err = c.ListFields(ctx, testToken, models.ServiceBooks, "invoices")
	assert.ErrorIs(t, err, ErrDiscoveryUnsupported)
}
