package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-coupons/internal/domain/auth"
)

// HeaderAPIKey carries the client's API key.
const HeaderAPIKey = "X-API-Key"

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Require returns a middleware admitting only requests whose API key grants
// scope. The authenticated key is stored in the request context.
func (s *SecurityHandler) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := r.Header.Get(HeaderAPIKey)
			if key == "" {
				failureResponse(http.StatusUnauthorized, "missing API key", "").write(w)
				return
			}

			hash := auth.Hash(s.pepper, key)
			info, err := s.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
			if err != nil {
				if errors.Is(err, auth.ErrKeyNotFound) {
					failureResponse(http.StatusUnauthorized, "invalid API key", "").write(w)
					return
				}
				zctx.From(ctx).Error("API key lookup failed", zap.Error(err))
				failureResponse(http.StatusInternalServerError, msgInternal, "").write(w)
				return
			}

			// The row was found by hash, compare anyway so a wrong row can
			// never authenticate.
			stored, err := hex.DecodeString(info.KeyHash)
			if err != nil || subtle.ConstantTimeCompare(hash, stored) != 1 {
				failureResponse(http.StatusUnauthorized, "invalid API key", "").write(w)
				return
			}
			if !info.HasScope(scope) {
				failureResponse(http.StatusForbidden, "API key is not allowed to perform this operation", "").write(w)
				return
			}

			ctx = auth.WithKey(ctx, info)
			ctx = zctx.With(ctx, zap.String("api_key_id", info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
