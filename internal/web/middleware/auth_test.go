package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/web/auth"
)

func principalHandler(seen *security.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = security.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth(t *testing.T) {
	service := auth.NewAuthService("test-secret", time.Hour)
	token, err := service.GenerateToken("user-1", []string{"Admin"})
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "no header runs anonymous", wantStatus: http.StatusOK},
		{name: "valid bearer token", header: "Bearer " + token, wantStatus: http.StatusOK, wantUser: "user-1"},
		{name: "scheme is case-insensitive", header: "bearer " + token, wantStatus: http.StatusOK, wantUser: "user-1"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "missing token", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not.a.token", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen security.Principal
			handler := Auth(service, nil)(principalHandler(&seen))

			req := httptest.NewRequest(http.MethodGet, "/person/list", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				if seen != nil {
					t.Error("handler should not run for rejected requests")
				}
				return
			}
			if seen.ID() != tt.wantUser {
				t.Errorf("principal = %q, want %q", seen.ID(), tt.wantUser)
			}
			if tt.wantUser != "" && !seen.IsInRole("Admin") {
				t.Error("principal lost its roles")
			}
		})
	}
}

func TestAuthWithDifferentSecretKeys(t *testing.T) {
	token, _ := auth.NewAuthService("secret-one", time.Hour).GenerateToken("user-1", nil)

	var seen security.Principal
	handler := Auth(auth.NewAuthService("secret-two", time.Hour), nil)(principalHandler(&seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
