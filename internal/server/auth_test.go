package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func Test_AuthMiddleware(t *testing.T) {
	t.Parallel()
	const key = "kb-secret"

	tests := []struct {
		name          string
		apiKey        string
		headers       map[string]string
		wantStatus    int
		wantChallenge string
	}{
		{"disabled", "", nil, http.StatusOK, ""},
		{"missing", key, nil, http.StatusUnauthorized, `Bearer realm="ragstore"`},
		{"bearer ok", key, map[string]string{"Authorization": "Bearer kb-secret"}, http.StatusOK, ""},
		{"scheme case-insensitive", key, map[string]string{"Authorization": "bEaReR kb-secret"}, http.StatusOK, ""},
		{"bearer wrong", key, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, "invalid_token"},
		{"basic scheme", key, map[string]string{"Authorization": "Basic a2Itc2VjcmV0"}, http.StatusUnauthorized, `Bearer realm="ragstore"`},
		{"no token after scheme", key, map[string]string{"Authorization": "Bearer"}, http.StatusUnauthorized, `Bearer realm="ragstore"`},
		{"api key header", key, map[string]string{"X-API-Key": "kb-secret"}, http.StatusOK, ""},
		{"api key header wrong", key, map[string]string{"X-API-Key": "kb-secre"}, http.StatusUnauthorized, "invalid_token"},
		{
			"bearer wins over header", key,
			map[string]string{"Authorization": "Bearer nope", "X-API-Key": "kb-secret"},
			http.StatusUnauthorized, "invalid_token",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.apiKey, okHandler).ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("status: want %d, got %d", tc.wantStatus, w.Code)
			}
			if tc.wantStatus == http.StatusOK {
				return
			}
			if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, tc.wantChallenge) {
				t.Errorf("WWW-Authenticate %q does not contain %q", got, tc.wantChallenge)
			}
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error == "" {
				t.Errorf("want JSON error body, got %v / %+v", err, body)
			}
		})
	}
}

func Test_BearerToken(t *testing.T) {
	t.Parallel()
	for hdr, want := range map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer  padded  ": "padded",
		"Token abc":        "",
		"Bearerabc":        "",
		"Bearer a b":       "a b",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		if got := bearerToken(req); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", hdr, got, want)
		}
	}
}
