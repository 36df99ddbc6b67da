// Package auth identifies API clients by their API keys.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeCouponsApply allows evaluating and redeeming coupons.
const ScopeCouponsApply = "coupons:apply"

// ErrKeyNotFound is returned when no active key matches the hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permissions of an API client.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope. A key without scopes is
// unrestricted.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return len(k.Scopes) == 0 || slices.Contains(k.Scopes, scope)
}

// Repository looks up API keys by hash.
type Repository interface {
	// FindByHash returns ErrKeyNotFound for unknown or inactive keys.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Hash returns the HMAC-SHA256 of key under pepper. Only hashes are stored.
func Hash(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// HashHex is Hash encoded as lowercase hex, the form kept in storage.
func HashHex(pepper []byte, key string) string {
	return hex.EncodeToString(Hash(pepper, key))
}

type ctxKey struct{}

// WithKey returns a context carrying the authenticated key.
func WithKey(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

// KeyFrom returns the authenticated key stored in ctx, if any.
func KeyFrom(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(ctxKey{}).(*APIKeyInfo)
	return info, ok
}
