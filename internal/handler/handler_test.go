package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/gatekeepd/gatekeep/internal/cache"
	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/service"
	"github.com/gatekeepd/gatekeep/internal/store"
	"github.com/gatekeepd/gatekeep/internal/token"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
	testRawKey    = "gk_live_0123456789abcdef0123456789abcdef"
	testUniverse  = "universe-777"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *store.Store
	sessions *service.SessionService
	usage    *service.UsageService
	authSvc  *service.AuthService
	router   chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store, a
// miniredis-backed session cache, and a Chi router with all routes mounted
// (no auth middleware; handlers are exercised directly).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New(store.DriverSQLite, "") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	c := cache.NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessions := service.NewSessionService(st, c, service.DefaultSessionConfig(), logger)
	usage := service.NewUsageService(st, sessions, 64, logger)
	t.Cleanup(usage.Close)
	authSvc := service.NewAuthService(st, testJWTSecret, time.Hour, logger)

	authHandler := NewAuthHandler(sessions)
	usageHandler := NewUsageHandler(usage)
	sysHandler := NewSystemHandler(st, authSvc)
	openapiHandler := NewOpenAPIHandler("test")

	r := chi.NewRouter()
	r.Get("/openapi.json", openapiHandler.ServeSpec)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/validate", authHandler.Validate)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/revoke", authHandler.Revoke)
		})
		r.Post("/usage/report", usageHandler.Report)

		r.Route("/system", func(r chi.Router) {
			r.Post("/login", sysHandler.Login)
			r.Get("/games", sysHandler.ListGames)
			r.Post("/games", sysHandler.CreateGame)
			r.Post("/games/{gameID}/license", sysHandler.GrantLicense)
			r.Put("/games/{gameID}/license", sysHandler.UpdateLicenseStatus)
			r.Get("/licenses", sysHandler.ListLicenses)
			r.Get("/keys", sysHandler.ListAPIKeys)
			r.Post("/keys", sysHandler.CreateAPIKey)
			r.Delete("/keys/{keyID}", sysHandler.RevokeAPIKey)
		})
	})

	return &testEnv{
		store:    st,
		sessions: sessions,
		usage:    usage,
		authSvc:  authSvc,
		router:   r,
	}
}

// seedGame creates a game with an active API key and returns both.
func (e *testEnv) seedGame(t *testing.T) (*model.Game, *model.APIKey) {
	t.Helper()
	ctx := context.Background()

	game := &model.Game{Name: "Blockworld", UniverseID: testUniverse}
	if err := e.store.CreateGame(ctx, game); err != nil {
		t.Fatalf("seedGame: CreateGame: %v", err)
	}

	key := &model.APIKey{
		KeyHash:   token.HashKey(testRawKey),
		KeyPrefix: testRawKey[:16],
		Label:     "test key",
		GameID:    game.ID,
		IsActive:  true,
	}
	if err := e.store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("seedGame: CreateAPIKey: %v", err)
	}
	return game, key
}

// seedLicense attaches an active license to a game.
func (e *testEnv) seedLicense(t *testing.T, gameID int64, tier model.Tier) *model.License {
	t.Helper()
	lic := &model.License{
		GameID: gameID,
		Tier:   tier,
		Status: model.LicenseActive,
	}
	if err := e.store.CreateLicense(context.Background(), lic); err != nil {
		t.Fatalf("seedLicense: %v", err)
	}
	return lic
}

// seedAdmin creates a default operator account.
func (e *testEnv) seedAdmin(t *testing.T) *model.Admin {
	t.Helper()
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: token.HashKey(testPassword),
		Name:         "Test Admin",
		IsActive:     true,
		IsSuperAdmin: true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// issueSession runs the full validate path and returns the session token.
func (e *testEnv) issueSession(t *testing.T) string {
	t.Helper()
	rr := e.do(t, "POST", "/v1/auth/validate", toJSON(t, map[string]string{
		"apiKey":     testRawKey,
		"universeId": testUniverse,
	}), "")
	assertStatus(t, rr, 200)
	var resp model.ValidateResponse
	decodeJSON(t, rr, &resp)
	return resp.SessionToken
}

// do executes an HTTP request against the test router and returns the
// recorder. A non-empty bearer token is attached as an Authorization header.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

// assertReason decodes the error envelope and checks the machine-readable
// reason string.
func assertReason(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	if resp.Error.Reason != want {
		t.Errorf("error reason = %q, want %q; body = %s", resp.Error.Reason, want, rr.Body.String())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
