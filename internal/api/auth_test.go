package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		provided   string
		configured string
		want       bool
	}{
		{"match", "k-123", "k-123", true},
		{"mismatch", "k-123", "k-124", false},
		{"length differs", "k-12", "k-123", false},
		{"empty provided", "", "k-123", false},
		{"server has no key", "k-123", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateAPIKey(tt.provided, tt.configured), tt.name)
	}
}

func TestExtractAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header  string
		want    string
		wantErr string
	}{
		{header: "Bearer sess-key", want: "sess-key"},
		{header: "Bearer  padded ", want: "padded"},
		{header: "", wantErr: "missing Authorization header"},
		{header: "token sess-key", wantErr: "invalid Authorization header format"},
		{header: "Bearer   ", wantErr: "missing API key"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/sessions/s1/execute", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		key, err := ExtractAPIKey(req)
		if tt.wantErr != "" {
			assert.EqualError(t, err, tt.wantErr, tt.header)
			continue
		}
		require.NoError(t, err, tt.header)
		assert.Equal(t, tt.want, key)
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	s := New(Config{APIKey: "sess-key"}, Deps{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reached := 0
	h := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		header  string
		status  int
		message string
	}{
		{"", http.StatusUnauthorized, "missing Authorization header"},
		{"Bearer wrong", http.StatusUnauthorized, "invalid API key"},
		{"Bearer sess-key", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/sessions/s1/files", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, tt.status, rec.Code, tt.header)
		if tt.message != "" {
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.message, body.Error)
		}
	}
	assert.Equal(t, 1, reached)
}
