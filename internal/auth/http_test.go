// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers header parsing, token validation and the super gate

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Success bool           `json:"success"`
		Error   map[string]any `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	code, _ := body.Error["code"].(string)
	return code
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer", wantErr: true},
		{header: "Bearer ", wantErr: true},
		{header: "Bearer abc", token: "abc"},
		{header: "bearer abc", token: "abc"},
	}

	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		if (errMsg != "") != tt.wantErr {
			t.Errorf("extractBearerToken(%q) errMsg = %q, wantErr %v", tt.header, errMsg, tt.wantErr)
		}
		if token != tt.token {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, token, tt.token)
		}
	}
}

func TestRequireAuth(t *testing.T) {
	clock := &testClock{now: time.Now()}
	codec := newTestCodec(t, clock)
	valid, err := codec.Issue(&Identity{PrincipalID: 7, Email: "a@example.com", Roles: []Role{RoleClient}, Tenants: []int64{42}}, time.Hour)
	require.NoError(t, err)

	var got *Identity
	handler := RequireAuth(codec, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		header   string
		status   int
		wantCode string
	}{
		{name: "valid", header: "Bearer " + valid, status: http.StatusOK},
		{name: "missing", header: "", status: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "bad scheme", header: "Token " + valid, status: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized, wantCode: "INVALID_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeErrorCode(t, rec))
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, int64(7), got.PrincipalID)
			assert.Equal(t, []int64{42}, got.Tenants)
		})
	}
}

func TestRequireSuper(t *testing.T) {
	handler := RequireSuper()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		id     *Identity
		status int
	}{
		{name: "anonymous", id: nil, status: http.StatusUnauthorized},
		{name: "admin", id: &Identity{Roles: []Role{RoleAdmin}}, status: http.StatusForbidden},
		{name: "super", id: &Identity{Roles: []Role{RoleAdmin, RoleSuper}}, status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/licenses/sweep", nil)
			if tt.id != nil {
				req = req.WithContext(WithIdentity(req.Context(), tt.id))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
