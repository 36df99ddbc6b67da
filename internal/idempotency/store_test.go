package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	a := Key("client-1", "abc")
	assert.Equal(t, a, Key("client-1", "abc"))
	assert.NotEqual(t, a, Key("client-2", "abc"), "keys are scoped per client")
	assert.NotEqual(t, a, Key("client-1", "abd"))
	assert.Contains(t, a, keyPrefix)
}

func TestRecord(t *testing.T) {
	body := []byte(`{"success":true,"message":"Coupon applied successfully"}`)
	raw := encodeRecord("fp", Response{Status: 200, Body: body})

	got, fingerprint, err := decodeRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, "fp", fingerprint)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, body, got.Body)

	_, _, err = decodeRecord([]byte(pendingMarker("fp")))
	require.Error(t, err)
}
