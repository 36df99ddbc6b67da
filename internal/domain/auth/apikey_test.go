package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashHex(t *testing.T) {
	pepper := []byte("pepper")

	a := HashHex(pepper, "key-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashHex(pepper, "key-1"))
	assert.NotEqual(t, a, HashHex(pepper, "key-2"))
	assert.NotEqual(t, a, HashHex([]byte("other"), "key-1"))
}

func TestAPIKeyInfo_HasScope(t *testing.T) {
	assert.True(t, (&APIKeyInfo{}).HasScope(ScopeCouponsApply))
	assert.True(t, (&APIKeyInfo{Scopes: []string{"admin", ScopeCouponsApply}}).HasScope(ScopeCouponsApply))
	assert.False(t, (&APIKeyInfo{Scopes: []string{"admin"}}).HasScope(ScopeCouponsApply))
}

func TestKeyContext(t *testing.T) {
	_, ok := KeyFrom(context.Background())
	assert.False(t, ok)

	info := &APIKeyInfo{ID: "k1"}
	got, ok := KeyFrom(WithKey(context.Background(), info))
	require.True(t, ok)
	assert.Equal(t, "k1", got.ID)
}
