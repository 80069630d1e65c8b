package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/ragstore-go/internal/logging"
)

// apiKeyHeader is accepted as an alternative to a Bearer token for clients
// that cannot set Authorization.
const apiKeyHeader = "X-API-Key"

// authMiddleware requires the configured key on every request through next.
// An empty apiKey disables the check. Rejections are 401 with a Bearer
// challenge and a JSON error; the presented key is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, source := presentedKey(r)

		reason := ""
		switch {
		case key == "":
			reason = "authorization required"
			w.Header().Set("WWW-Authenticate", `Bearer realm="ragstore"`)
		case subtle.ConstantTimeCompare([]byte(key), want) != 1:
			reason = "invalid token"
			w.Header().Set("WWW-Authenticate", `Bearer realm="ragstore" error="invalid_token"`)
		}
		if reason != "" {
			logging.FromContext(r.Context()).Warn("auth: request rejected",
				slog.String("path", r.URL.Path),
				slog.String("reason", reason),
				slog.String("credential_source", source),
			)
			writeError(w, http.StatusUnauthorized, reason)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// presentedKey returns the caller's key and where it came from. A Bearer
// token wins over X-API-Key.
func presentedKey(r *http.Request) (key, source string) {
	if tok := bearerToken(r); tok != "" {
		return tok, "bearer"
	}
	if k := strings.TrimSpace(r.Header.Get(apiKeyHeader)); k != "" {
		return k, "header"
	}
	return "", "none"
}

// bearerToken extracts <token> from "Authorization: Bearer <token>"; the
// scheme is case-insensitive.
func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
