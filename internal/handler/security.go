package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xenking/storefront-api/internal/domain/auth"
)

// APIKeyHeader carries the admin API key on incoming requests.
const APIKeyHeader = "X-API-Key"

// APIKeyAuth guards a route tree with HMAC-SHA256 hashed API keys. The raw
// key never touches storage: its HMAC under the server pepper is looked up
// and the stored hash re-compared in constant time.
type APIKeyAuth struct {
	apikeys auth.Repository
	pepper  []byte
	lg      *zap.Logger
}

// NewAPIKeyAuth creates an APIKeyAuth middleware with the given API key
// repository and HMAC pepper.
func NewAPIKeyAuth(apikeys auth.Repository, pepper []byte, lg *zap.Logger) *APIKeyAuth {
	return &APIKeyAuth{apikeys: apikeys, pepper: pepper, lg: lg}
}

// Middleware rejects requests lacking a valid API key with 401.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := requestAPIKey(r)
		if key == "" {
			unauthorized(w)
			return
		}

		computed := auth.HashKey(a.pepper, key)
		info, err := a.apikeys.FindByHash(r.Context(), computed)
		if err != nil {
			unauthorized(w)
			return
		}

		// Constant-time comparison guards against timing side-channels even
		// though the lookup already succeeded. The stored hash could differ
		// from what we computed if the repository returns a stale row.
		computedBytes, err := hex.DecodeString(computed)
		if err != nil {
			unauthorized(w)
			return
		}
		storedBytes, err := hex.DecodeString(info.KeyHash)
		if err != nil {
			unauthorized(w)
			return
		}
		if subtle.ConstantTimeCompare(computedBytes, storedBytes) != 1 {
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	// Fall back to a bearer token for console clients.
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":401,"message":"unauthorized"}`))
}
