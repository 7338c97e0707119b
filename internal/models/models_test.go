package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_Helpers(t *testing.T) {
	now := time.Now()
	p := Payload{
		"int64":  int64(123),
		"int":    123,
		"float":  123.45,
		"string": "hello",
		"time":   "2025-01-01T10:00:00Z",
		"time_t": now,
	}

	t.Run("Nil", func(t *testing.T) {
		var nilPayload Payload
		assert.Equal(t, int64(0), nilPayload.GetInt64("any"))
		assert.Equal(t, "", nilPayload.GetString("any"))
		assert.True(t, nilPayload.GetTime("any").IsZero())
	})

	t.Run("GetInt64", func(t *testing.T) {
		assert.Equal(t, int64(123), p.GetInt64("int64"))
		assert.Equal(t, int64(123), p.GetInt64("int"))
		assert.Equal(t, int64(123), p.GetInt64("float"))
		assert.Equal(t, int64(0), p.GetInt64("string"))
	})

	t.Run("GetString", func(t *testing.T) {
		assert.Equal(t, "hello", p.GetString("string"))
		assert.Equal(t, "", p.GetString("int"))
	})

	t.Run("GetTime", func(t *testing.T) {
		assert.Equal(t, 2025, p.GetTime("time").Year())
		assert.Equal(t, now.Unix(), p.GetTime("time_t").Unix())
		assert.True(t, p.GetTime("string").IsZero())
	})

	t.Run("EncodeDecode", func(t *testing.T) {
		raw, err := Payload(nil).Encode()
		require.NoError(t, err)
		assert.Equal(t, "{}", raw)

		decoded, err := DecodePayload(`{"a":1}`)
		require.NoError(t, err)
		assert.Equal(t, int64(1), decoded.GetInt64("a"))

		empty, err := DecodePayload("")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestToken_ExpiresWithin(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(30 * time.Second)
	later := now.Add(time.Hour)

	assert.True(t, (&Token{ExpiresAt: &soon}).ExpiresWithin(now, time.Minute))
	assert.False(t, (&Token{ExpiresAt: &later}).ExpiresWithin(now, time.Minute))
	assert.False(t, (&Token{}).ExpiresWithin(now, time.Minute))
}

func TestToken_Redaction(t *testing.T) {
	tok := &Token{Service: ServiceCRM, TokenType: "Zoho-oauthtoken", AccessToken: "secret-a", RefreshToken: "secret-r"}
	assert.NotContains(t, tok.String(), "secret")
	assert.Equal(t, "Zoho-oauthtoken secret-a", tok.AuthorizationHeader())
	assert.Equal(t, "Bearer x", (&Token{AccessToken: "x"}).AuthorizationHeader())
}

func TestFieldMapping_LocalKey(t *testing.T) {
	custom := &FieldMapping{WCField: CustomFieldSentinel, CustomKey: "_vat_number"}
	assert.Equal(t, "_vat_number", custom.LocalKey())
	assert.True(t, custom.IsCustomField())

	plain := &FieldMapping{WCField: "billing.email", Direction: DirectionLocalToRemote}
	assert.Equal(t, "billing.email", plain.LocalKey())
	assert.True(t, plain.Matches(DirectionLocalToRemote))
	assert.False(t, plain.Matches(DirectionRemoteToLocal))
	assert.True(t, (&FieldMapping{Direction: DirectionBidirectional}).Matches(DirectionRemoteToLocal))
}
