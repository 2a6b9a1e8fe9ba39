// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, and the anonymous fallback

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var httpTestSecret = []byte("http-middleware-test-secret-32b!")

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)

	ownerID := "owner-123"
	token, err := verifier.Generate(ownerID, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	middleware := HTTPAuthMiddleware(verifier)

	// Create test handler that checks context
	var gotAuthCtx *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotAuthCtx == nil {
		t.Fatal("handler did not receive AuthContext")
	}
	if gotAuthCtx.OwnerID != ownerID {
		t.Errorf("OwnerID = %q, want %q", gotAuthCtx.OwnerID, ownerID)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	middleware := HTTPAuthMiddleware(verifier)

	expiredToken, _ := verifier.Generate("owner-123", -time.Hour)
	wrongSecret, _ := NewJWTVerifier([]byte("some-other-secret")).Generate("owner-123", time.Hour)

	tests := []struct {
		name       string
		authHeader string
		wantBody   string
	}{
		{
			name:       "missing header",
			authHeader: "",
			wantBody:   "missing authorization header",
		},
		{
			name:       "not bearer",
			authHeader: "Basic dXNlcjpwYXNz",
			wantBody:   "invalid authorization header format",
		},
		{
			name:       "empty token",
			authHeader: "Bearer ",
			wantBody:   "empty token",
		},
		{
			name:       "garbage token",
			authHeader: "Bearer not-a-jwt",
			wantBody:   "invalid token",
		},
		{
			name:       "expired token",
			authHeader: "Bearer " + expiredToken,
			wantBody:   "invalid token",
		},
		{
			name:       "wrong secret",
			authHeader: "Bearer " + wrongSecret,
			wantBody:   "invalid token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlerCalled := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
			})

			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()

			middleware(handler).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if handlerCalled {
				t.Error("handler should not run for rejected request")
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want mention of %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestAnonymousMiddleware(t *testing.T) {
	middleware := AnonymousMiddleware()

	var gotAuthCtx *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	// No Authorization header at all
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotAuthCtx == nil {
		t.Fatal("handler did not receive AuthContext")
	}
	if gotAuthCtx.OwnerID != AnonymousOwner {
		t.Errorf("OwnerID = %q, want %q", gotAuthCtx.OwnerID, AnonymousOwner)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   bool
	}{
		{
			name:      "valid bearer",
			header:    "Bearer abc123",
			wantToken: "abc123",
		},
		{
			name:    "missing",
			header:  "",
			wantErr: true,
		},
		{
			name:    "wrong scheme",
			header:  "Token abc123",
			wantErr: true,
		},
		{
			name:    "bearer with no token",
			header:  "Bearer ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, errMsg := extractBearerToken(tt.header)
			if tt.wantErr && errMsg == "" {
				t.Error("expected error message, got none")
			}
			if !tt.wantErr && errMsg != "" {
				t.Errorf("unexpected error message: %q", errMsg)
			}
			if token != tt.wantToken {
				t.Errorf("token = %q, want %q", token, tt.wantToken)
			}
		})
	}
}
