package mapping

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/database"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *repository.MemoryCache) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "mapping.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache := repository.NewMemoryCache()
	return NewEngine(db, cache, NewRegistry(), 0, &logger), cache
}

func contactMapping(wc, zoho string) *models.FieldMapping {
	return &models.FieldMapping{
		Module: models.ObjectCustomer, WCField: wc, ZohoModule: "Contacts", ZohoField: zoho,
		Direction: models.DirectionLocalToRemote, IsActive: true,
	}
}

func TestEngine_SaveMappingValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mapping *models.FieldMapping
		field   string
	}{
		{"NoModule", &models.FieldMapping{WCField: "email", ZohoModule: "Contacts", ZohoField: "Email"}, "module"},
		{"NoLocalSide", &models.FieldMapping{Module: "customer", ZohoModule: "Contacts", ZohoField: "Email"}, "wc_field"},
		{"SentinelWithoutKey", &models.FieldMapping{Module: "customer", WCField: models.CustomFieldSentinel, ZohoModule: "Contacts", ZohoField: "X"}, "custom_key"},
		{"NoRemoteField", &models.FieldMapping{Module: "customer", WCField: "email", ZohoModule: "Contacts"}, "zoho_field"},
		{"BadDirection", &models.FieldMapping{Module: "customer", WCField: "email", ZohoModule: "Contacts", ZohoField: "Email", Direction: "sideways"}, "direction"},
		{"UnknownTransform", &models.FieldMapping{Module: "customer", WCField: "email", ZohoModule: "Contacts", ZohoField: "Email", TransformFunction: "rot13"}, "transform_function"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.SaveMapping(ctx, tt.mapping)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
			assert.Zero(t, tt.mapping.ID)
		})
	}
}

func TestEngine_RoundTripAndCache(t *testing.T) {
	e, cache := newTestEngine(t)
	ctx := context.Background()

	first := contactMapping("email", "Email")
	first.TransformFunction = "lowercase"
	require.NoError(t, e.SaveMapping(ctx, first))
	require.NotZero(t, first.ID)

	got, err := e.GetMappings(ctx, models.ObjectCustomer, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "email", got[0].WCField)
	assert.Equal(t, "Contacts", got[0].ZohoModule)
	assert.Equal(t, "Email", got[0].ZohoField)
	assert.Equal(t, "lowercase", got[0].TransformFunction)

	_, cached, _ := cache.Get(ctx, "mappings:"+models.ObjectCustomer)
	assert.True(t, cached)

	t.Run("InvalidatedOnSave", func(t *testing.T) {
		second := contactMapping("last_name", "Last_Name")
		second.Direction = models.DirectionBidirectional
		require.NoError(t, e.SaveMapping(ctx, second))

		got, err := e.GetMappings(ctx, models.ObjectCustomer, "")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, second.ID, got[1].ID)
	})

	t.Run("DirectionFilter", func(t *testing.T) {
		got, err := e.GetMappings(ctx, models.ObjectCustomer, models.DirectionRemoteToLocal)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Last_Name", got[0].ZohoField)
	})

	t.Run("Duplicate", func(t *testing.T) {
		dup := contactMapping("email", "Email")
		err := e.SaveMapping(ctx, dup)
		var verr *domain.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("UpdateMovesModule", func(t *testing.T) {
		moved := *first
		moved.Module = "lead"
		require.NoError(t, e.SaveMapping(ctx, &moved))

		customer, err := e.GetMappings(ctx, models.ObjectCustomer, "")
		require.NoError(t, err)
		assert.Len(t, customer, 1)
		lead, err := e.GetMappings(ctx, "lead", "")
		require.NoError(t, err)
		assert.Len(t, lead, 1)
	})

	t.Run("InvalidatedOnDelete", func(t *testing.T) {
		require.NoError(t, e.DeleteMapping(ctx, first.ID))
		lead, err := e.GetMappings(ctx, "lead", "")
		require.NoError(t, err)
		assert.Empty(t, lead)

		assert.ErrorIs(t, e.DeleteMapping(ctx, first.ID), domain.ErrMappingNotFound)
	})
}

func TestEngine_SeedDefaults(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	defaults, err := LoadDefaults("")
	require.NoError(t, err)
	require.NotEmpty(t, defaults)

	n, err := e.SeedDefaults(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, len(defaults), n)

	again, err := LoadDefaults(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	n, err = e.SeedDefaults(ctx, again)
	require.NoError(t, err)
	assert.Zero(t, n)

	customers, err := e.GetMappings(ctx, models.ObjectCustomer, models.DirectionLocalToRemote)
	require.NoError(t, err)
	require.NotEmpty(t, customers)
	assert.Equal(t, "first_name", customers[0].WCField)
}

func TestEngine_ApplyLocalToRemote(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	mappings := []*models.FieldMapping{
		{WCField: "email", ZohoField: "Email", TransformFunction: "lowercase"},
		{WCField: "billing.phone", ZohoField: "Phone"},
		{WCField: "billing.company", ZohoField: "Account_Name"},
		{WCField: models.CustomFieldSentinel, CustomKey: "_vat", ZohoField: "VAT_Number"},
		{WCField: "meta_source", ZohoField: "Lead_Source", DefaultValue: "WooCommerce"},
		{WCField: "date_created", ZohoField: "Date_of_Birth", TransformFunction: "date"},
		{WCField: "name", ZohoModule: "Leads", ZohoField: "Last_Name"},
	}
	for _, m := range mappings {
		m.Module = models.ObjectCustomer
		if m.ZohoModule == "" {
			m.ZohoModule = "Contacts"
		}
		m.IsActive = true
		require.NoError(t, e.SaveMapping(ctx, m))
	}

	source := MapRecord{
		"email":        "Ana@Example.com",
		"billing":      map[string]interface{}{"phone": "600 123 456", "company": ""},
		"date_created": "garbage",
		"name":         "Perez",
		"unmapped":     "dropped",
		"meta_data": []interface{}{
			map[string]interface{}{"id": 1, "key": "_vat", "value": "ES123"},
		},
	}

	out, err := e.ApplyTo(ctx, models.DirectionLocalToRemote, models.ObjectCustomer, "Contacts", source)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "Date_of_Birth")

	assert.Equal(t, map[string]interface{}{
		"Email":       "ana@example.com",
		"Phone":       "600 123 456",
		"VAT_Number":  "ES123",
		"Lead_Source": "WooCommerce",
	}, out)

	all, err := e.Apply(ctx, models.DirectionLocalToRemote, models.ObjectCustomer, source)
	require.Error(t, err)
	assert.Equal(t, "Perez", all["Last_Name"])

	_, err = e.Apply(ctx, models.DirectionBidirectional, models.ObjectCustomer, source)
	assert.True(t, domain.IsValidation(err))
}

func TestEngine_ApplyRemoteToLocal(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, m := range []*models.FieldMapping{
		{WCField: "status", ZohoField: "Status", TransformFunction: "order_status_from_zoho", Direction: models.DirectionRemoteToLocal},
		{WCField: "total", ZohoField: "Grand_Total", TransformFunction: "price_round"},
		{WCField: models.CustomFieldSentinel, CustomKey: "_zoho_owner", ZohoField: "Owner", Direction: models.DirectionBidirectional},
	} {
		m.Module = models.ObjectOrder
		m.ZohoModule = "Sales_Orders"
		m.IsActive = true
		require.NoError(t, e.SaveMapping(ctx, m))
	}

	out, err := e.Apply(ctx, models.DirectionRemoteToLocal, models.ObjectOrder, MapRecord{
		"Status":      "Delivered",
		"Grand_Total": 10.5,
		"Owner":       "Luis",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"status": "completed", "_zoho_owner": "Luis"}, out)
}

func TestEngine_ApplyThenValidateIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	defaults, err := LoadDefaults("")
	require.NoError(t, err)
	_, err = e.SeedDefaults(ctx, defaults)
	require.NoError(t, err)

	order := MapRecord{
		"number":         "1001",
		"status":         "processing",
		"total":          "120.499",
		"discount_total": "0.00",
		"total_tax":      "20.9",
		"customer_note":  "Leave at the door",
		"billing":        map[string]interface{}{"city": "Madrid", "country": "ES"},
	}

	mapped, err := e.ApplyTo(ctx, models.DirectionLocalToRemote, models.ObjectOrder, "Sales_Orders", order)
	require.NoError(t, err)

	first := ValidateForTarget("sales_orders", mapped)
	require.True(t, first.Valid, first.Errors)
	second := ValidateForTarget("sales_orders", first.Sanitized)
	assert.Equal(t, first.Sanitized, second.Sanitized)
	assert.Equal(t, "Approved", first.Sanitized["Status"])
	assert.Equal(t, 120.5, first.Sanitized["Grand_Total"])
	assert.Equal(t, "Spain", first.Sanitized["Billing_Country"])
}

type fakeTokens struct {
	err error
}

func (f fakeTokens) GetValidToken(_ context.Context, service string) (*models.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Token{Service: service, AccessToken: "t"}, nil
}

type mockRemote struct {
	mock.Mock
	domain.RemoteClient
}

func (m *mockRemote) ListFields(ctx context.Context, token *models.Token, service, module string) ([]models.RemoteField, error) {
	args := m.Called(service, module)
	fields, _ := args.Get(0).([]models.RemoteField)
	return fields, args.Error(1)
}

func TestEngine_SchemaCheck(t *testing.T) {
	e, cache := newTestEngine(t)
	ctx := context.Background()

	remote := new(mockRemote)
	remote.On("ListFields", models.ServiceCRM, "Contacts").Return([]models.RemoteField{
		{APIName: "Email", FieldLabel: "Email", DataType: "email"},
		{APIName: "Last_Name", FieldLabel: "Last Name", DataType: "text"},
	}, nil).Once()

	schema := NewSchemaCache(fakeTokens{}, remote, cache, 0, nil)
	e.WithSchemaCheck(schema, func(module string) (string, bool) {
		return models.ServiceCRM, module == "Contacts"
	})

	ok := contactMapping("last_name", "Last_Name")
	require.NoError(t, e.SaveMapping(ctx, ok))
	assert.Equal(t, "Last Name", ok.ZohoFieldLabel)

	bad := contactMapping("nickname", "Nick_Name")
	err := e.SaveMapping(ctx, bad)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "zoho_field")

	// Second lookup came from the cache.
	remote.AssertExpectations(t)

	t.Run("NoTokenSkipsCheck", func(t *testing.T) {
		e2, cache2 := newTestEngine(t)
		e2.WithSchemaCheck(NewSchemaCache(fakeTokens{err: errors.New("not connected")}, new(mockRemote), cache2, 0, nil),
			func(string) (string, bool) { return models.ServiceCRM, true })
		assert.NoError(t, e2.SaveMapping(ctx, contactMapping("nickname", "Nick_Name")))
	})
}
