package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth returns middleware that authenticates API callers against a shared
// key, presented either as a Bearer token or in the X-API-Key header. The
// treasury trusts the authenticated caller to assert the acting ledger
// account through X-Account-ID; that header is an assertion, not a
// credential, and handlers only read it after this check has passed. An
// empty apiKey disables authentication.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			cred := credential(r)
			if cred == "" {
				writeUnauthorized(w, "missing api credential")
				return
			}
			if subtle.ConstantTimeCompare([]byte(cred), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid api credential")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// credential extracts the shared key from "Authorization: Bearer <key>" or,
// failing that, from X-API-Key.
func credential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, rest, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
