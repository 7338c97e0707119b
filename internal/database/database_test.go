package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/domain"
	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "sync.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTokens(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetToken(ctx, models.ServiceCRM, "Zoho-oauthtoken")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	tok := &models.Token{
		Service:      models.ServiceCRM,
		TokenType:    "Zoho-oauthtoken",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    &expires,
		Scope:        "ZohoCRM.modules.ALL",
	}
	require.NoError(t, db.PutToken(ctx, tok))

	got, err := db.GetToken(ctx, models.ServiceCRM, "Zoho-oauthtoken")
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))

	// Upsert keeps one row per (service, token_type).
	tok.AccessToken = "access-2"
	tok.UpdatedAt = time.Time{}
	require.NoError(t, db.PutToken(ctx, tok))
	list, err := db.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "access-2", list[0].AccessToken)

	require.NoError(t, db.DeleteToken(ctx, models.ServiceCRM, "Zoho-oauthtoken"))
	require.NoError(t, db.DeleteToken(ctx, models.ServiceCRM, "Zoho-oauthtoken"))
	_, err = db.GetToken(ctx, models.ServiceCRM, "Zoho-oauthtoken")
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestMappings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	m := &models.FieldMapping{
		Module:            models.ObjectCustomer,
		WCField:           "billing.email",
		ZohoModule:        "Contacts",
		ZohoField:         "Email",
		Direction:         models.DirectionBidirectional,
		TransformFunction: "lowercase",
		IsActive:          true,
	}
	require.NoError(t, db.SaveMapping(ctx, m))
	require.NotZero(t, m.ID)

	second := &models.FieldMapping{
		Module: models.ObjectCustomer, WCField: "last_name", ZohoModule: "Contacts", ZohoField: "Last_Name",
		Direction: models.DirectionLocalToRemote, IsActive: true,
	}
	require.NoError(t, db.SaveMapping(ctx, second))

	inactive := &models.FieldMapping{
		Module: models.ObjectCustomer, WCField: "first_name", ZohoModule: "Contacts", ZohoField: "First_Name",
		Direction: models.DirectionLocalToRemote, IsActive: false,
	}
	require.NoError(t, db.SaveMapping(ctx, inactive))

	list, err := db.ListMappings(ctx, models.ObjectCustomer)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Email", list[0].ZohoField)
	assert.Equal(t, "lowercase", list[0].TransformFunction)
	assert.Equal(t, "Last_Name", list[1].ZohoField)

	count, err := db.CountMappings(ctx, models.ObjectCustomer)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	dup := *m
	dup.ID = 0
	err = db.SaveMapping(ctx, &dup)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	m.DefaultValue = "unknown@example.com"
	require.NoError(t, db.SaveMapping(ctx, m))
	got, err := db.GetMapping(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "unknown@example.com", got.DefaultValue)

	require.NoError(t, db.DeleteMapping(ctx, m.ID))
	assert.ErrorIs(t, db.DeleteMapping(ctx, m.ID), domain.ErrMappingNotFound)
	_, err = db.GetMapping(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrMappingNotFound)
}

func TestLinks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetLink(ctx, models.ObjectOrder, 7, models.ServiceCRM, "Sales_Orders")
	assert.ErrorIs(t, err, domain.ErrLinkNotFound)

	link := &models.EntityLink{ObjectType: models.ObjectOrder, ObjectID: 7, Service: models.ServiceCRM, RemoteModule: "Sales_Orders", RemoteID: "100"}
	require.NoError(t, db.SaveLink(ctx, link))
	link.RemoteID = "200"
	require.NoError(t, db.SaveLink(ctx, link))

	got, err := db.GetLink(ctx, models.ObjectOrder, 7, models.ServiceCRM, "Sales_Orders")
	require.NoError(t, err)
	assert.Equal(t, "200", got.RemoteID)

	require.NoError(t, db.DeleteLink(ctx, models.ObjectOrder, 7, models.ServiceCRM, "Sales_Orders"))
	_, err = db.GetLink(ctx, models.ObjectOrder, 7, models.ServiceCRM, "Sales_Orders")
	assert.ErrorIs(t, err, domain.ErrLinkNotFound)
}

func TestLogs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	old := &models.SyncLogEntry{Timestamp: time.Now().Add(-48 * time.Hour), Level: models.LevelInfo, Source: "auth", Message: "old"}
	require.NoError(t, db.AppendLog(ctx, old))
	require.NoError(t, db.AppendLog(ctx, &models.SyncLogEntry{
		Level: models.LevelError, Source: "processor", ObjectType: models.ObjectOrder, ObjectID: 5,
		Message: "failed", Details: models.Payload{"attempts": 3},
	}))

	entries, err := db.ListLogs(ctx, LogFilter{Level: models.LevelError})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(5), entries[0].ObjectID)
	assert.Equal(t, int64(3), entries[0].Details.GetInt64("attempts"))

	n, err := db.PruneLogs(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err = db.ListLogs(ctx, LogFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()
	var serr *domain.StorageError

	_, err = db.GetToken(ctx, models.ServiceCRM, "Bearer")
	assert.ErrorAs(t, err, &serr)
	assert.NotErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = db.ListMappings(ctx, models.ObjectOrder)
	assert.ErrorAs(t, err, &serr)

	_, err = db.EnqueueTask(ctx, &models.SyncTask{ObjectType: models.ObjectOrder, ObjectID: 1, SyncType: models.SyncCreate})
	assert.Error(t, err)

	assert.ErrorAs(t, db.AppendLog(ctx, &models.SyncLogEntry{Level: "info", Source: "x", Message: "y"}), &serr)
}
