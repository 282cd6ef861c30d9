package controlapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"github.com/hostuk/visibility/internal/logger"
)

// APIKeyHeader carries the API key. "Authorization: Bearer <key>" is accepted too.
const APIKeyHeader = "X-API-Key"

// authenticateAPIKey rejects requests whose key does not hash to apiKeyHash.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := apiKeyFrom(r)
		if key == "" || !a.validKey(key) {
			logger.FromContext(r.Context()).Warn("rejected unauthenticated request")
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    codeUnauthorized,
				Message: "Missing or invalid API key",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) validKey(key string) bool {
	sum := sha256.Sum256([]byte(key))
	got := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(a.apiKeyHash))) == 1
}

func apiKeyFrom(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// limitBody caps request bodies at maxBodyBytes.
func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.maxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
