package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
)

func bearerToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}

// APIKeyAuth accepts the key as a Bearer token or in the apikey header,
// matching how the mobile clients send credentials. An empty configured
// key disables the check for local development.
func APIKeyAuth(apiKey string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(apiKey)
		if key == "" {
			next(w, r)
			return
		}

		if token := bearerToken(r); token == key {
			next(w, r)
			return
		}
		if header := strings.TrimSpace(r.Header.Get("apikey")); header == key {
			next(w, r)
			return
		}

		if bearerToken(r) == "" && r.Header.Get("apikey") == "" {
			writeUnauthorized(w, "Missing authentication token")
			return
		}
		writeUnauthorized(w, "Invalid authentication token")
	}
}
