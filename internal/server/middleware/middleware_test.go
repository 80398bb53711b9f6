package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/service"
	"github.com/gatekeepd/gatekeep/internal/store"
	"github.com/gatekeepd/gatekeep/internal/token"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID == "" {
		t.Error("expected X-Request-ID in response header")
	}
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	id := GetRequestID(context.Background())
	if id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// BearerToken tests
// ---------------------------------------------------------------------------

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"well formed", "Bearer abc123", "abc123"},
		{"padded", "Bearer   abc123", "abc123"},
		{"missing", "", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"scheme only", "Bearer", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := BearerToken(req); got != tt.want {
				t.Errorf("BearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// RequireAdmin middleware tests
// ---------------------------------------------------------------------------

type fakeAdminStore struct {
	admin *model.Admin
}

func (f *fakeAdminStore) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	if f.admin == nil || f.admin.Email != email {
		return nil, store.ErrNotFound
	}
	return f.admin, nil
}

func (f *fakeAdminStore) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	return nil
}

func newTestAuthService(t *testing.T) *service.AuthService {
	t.Helper()
	st := &fakeAdminStore{admin: &model.Admin{
		ID:           7,
		Email:        "ops@example.com",
		PasswordHash: token.HashKey("hunter2"),
		IsActive:     true,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return service.NewAuthService(st, "test-secret", time.Hour, logger)
}

func TestRequireAdminAllowsValidToken(t *testing.T) {
	authSvc := newTestAuthService(t)
	jwtToken, _, err := authSvc.Login(context.Background(), "ops@example.com", "hunter2")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	var gotPrincipal *service.AdminPrincipal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal = GetAdminPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	handler := RequireAdmin(authSvc)(inner)

	req := httptest.NewRequest("GET", "/v1/system/games", nil)
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotPrincipal == nil {
		t.Fatal("expected principal in context")
	}
	if gotPrincipal.AdminID != 7 || gotPrincipal.Email != "ops@example.com" {
		t.Errorf("unexpected principal: %+v", gotPrincipal)
	}
}

func TestRequireAdminBlocksMissingToken(t *testing.T) {
	authSvc := newTestAuthService(t)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called without a token")
		w.WriteHeader(http.StatusOK)
	})

	handler := RequireAdmin(authSvc)(inner)

	req := httptest.NewRequest("GET", "/v1/system/games", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("response body is not valid JSON: %v", err)
	}
	if envelope.Error.Reason != "missing_token" {
		t.Errorf("expected reason missing_token, got %q", envelope.Error.Reason)
	}
	if envelope.Error.Code != http.StatusUnauthorized {
		t.Errorf("expected code 401, got %d", envelope.Error.Code)
	}
}

func TestRequireAdminBlocksGarbageToken(t *testing.T) {
	authSvc := newTestAuthService(t)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("inner handler should not be called for a garbage token")
		w.WriteHeader(http.StatusOK)
	})

	handler := RequireAdmin(authSvc)(inner)

	req := httptest.NewRequest("GET", "/v1/system/games", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_credentials") {
		t.Errorf("expected invalid_credentials reason, got body %s", rr.Body.String())
	}
}

func TestGetAdminPrincipalEmptyContext(t *testing.T) {
	if p := GetAdminPrincipal(context.Background()); p != nil {
		t.Errorf("expected nil principal from bare context, got %+v", p)
	}
}
