package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
)

// ---------------------------------------------------------------------------
// POST /v1/auth/validate
// ---------------------------------------------------------------------------

func TestValidate_Success(t *testing.T) {
	env := newTestEnv(t)
	game, _ := env.seedGame(t)
	env.seedLicense(t, game.ID, model.TierStandard)

	rr := env.do(t, "POST", "/v1/auth/validate", toJSON(t, map[string]string{
		"apiKey":     testRawKey,
		"universeId": testUniverse,
		"placeId":    "place-1",
		"jobId":      "job-abc",
	}), "")
	assertStatus(t, rr, http.StatusOK)

	var resp model.ValidateResponse
	decodeJSON(t, rr, &resp)

	if !strings.HasPrefix(resp.SessionToken, "gk_sess_") {
		t.Errorf("sessionToken = %q, want gk_sess_ prefix", resp.SessionToken)
	}
	if resp.Tier != model.TierStandard {
		t.Errorf("tier = %q, want %q", resp.Tier, model.TierStandard)
	}
	if resp.TTL <= 0 {
		t.Errorf("ttl = %d, want > 0", resp.TTL)
	}
	if resp.ExpiresAt <= time.Now().Unix() {
		t.Errorf("expiresAt = %d, want in the future", resp.ExpiresAt)
	}
	found := false
	for _, s := range resp.Scopes {
		if s == "datastore:write" {
			found = true
		}
	}
	if !found {
		t.Errorf("scopes = %v, want datastore:write for standard tier", resp.Scopes)
	}
}

func TestValidate_MissingFields(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing apiKey", map[string]string{"universeId": testUniverse}},
		{"missing universeId", map[string]string{"apiKey": testRawKey}},
		{"both empty", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/v1/auth/validate", toJSON(t, tt.body), "")
			assertStatus(t, rr, http.StatusBadRequest)
			assertReason(t, rr, "bad_request")
		})
	}
}

func TestValidate_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/v1/auth/validate", strings.NewReader("{not json"), "")
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestValidate_UnknownKey(t *testing.T) {
	env := newTestEnv(t)
	game, _ := env.seedGame(t)
	env.seedLicense(t, game.ID, model.TierFree)

	rr := env.do(t, "POST", "/v1/auth/validate", toJSON(t, map[string]string{
		"apiKey":     "gk_live_ffffffffffffffffffffffffffffffff",
		"universeId": testUniverse,
	}), "")
	assertStatus(t, rr, http.StatusUnauthorized)
	assertReason(t, rr, "invalid_api_key")
}

func TestValidate_RevokedKey(t *testing.T) {
	env := newTestEnv(t)
	game, key := env.seedGame(t)
	env.seedLicense(t, game.ID, model.TierFree)

	if err := env.store.RevokeAPIKey(context.Background(), key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	rr := env.do(t, "POST", "/v1/auth/validate", toJSON(t, map[string]string{
		"apiKey":     testRawKey,
		"universeId": testUniverse,
	}), "")
	assertStatus(t, rr, http.StatusUnauthorized)
	assertReason(t, rr, "api_key_revoked")
}

func TestValidate_UniverseMismatch(t *testing.T) {
	env := newTestEnv(t)
	game, _ := env.seedGame(t)
	env.seedLicense(t, game.ID, model.TierFree)

	rr := env.do(t, "POST", "/v1/auth/validate", toJSON(t, map[string]string{
		"apiKey":     testRawKey,
		"universeId": "universe-other",
	}), "")
	assertStatus(t, rr, http.StatusForbidden)
	assertReason(t, rr, "universe_mismatch")
}

func TestValidate_LicenseGates(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		wantStatus int
		wantReason string
	}{
		{"suspended", model.LicenseSuspended, http.StatusForbidden, "license_suspended"},
		{"expired", model.LicenseExpired, http.StatusForbidden, "license_expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			game, _ := env.seedGame(t)
			env.seedLicense(t, game.ID, model.TierFree)
			if err := env.store.UpdateLicenseStatus(context.Background(), game.ID, tt.status); err != nil {
				t.Fatalf("UpdateLicenseStatus: %v", err)
			}

			rr := env.do(t, "POST", "/v1/auth/validate", toJSON(t, map[string]string{
				"apiKey":     testRawKey,
				"universeId": testUniverse,
			}), "")
			assertStatus(t, rr, tt.wantStatus)
			assertReason(t, rr, tt.wantReason)
		})
	}
}

func TestValidate_NoLicense(t *testing.T) {
	env := newTestEnv(t)
	env.seedGame(t)

	rr := env.do(t, "POST", "/v1/auth/validate", toJSON(t, map[string]string{
		"apiKey":     testRawKey,
		"universeId": testUniverse,
	}), "")
	assertStatus(t, rr, http.StatusForbidden)
	assertReason(t, rr, "no_license")
}

// ---------------------------------------------------------------------------
// POST /v1/auth/refresh
// ---------------------------------------------------------------------------

func TestRefresh_Success(t *testing.T) {
	env := newTestEnv(t)
	game, _ := env.seedGame(t)
	env.seedLicense(t, game.ID, model.TierFree)
	tok := env.issueSession(t)

	rr := env.do(t, "POST", "/v1/auth/refresh", nil, tok)
	assertStatus(t, rr, http.StatusOK)

	var resp model.RefreshResponse
	decodeJSON(t, rr, &resp)
	if resp.SessionToken != tok {
		t.Errorf("refresh rotated the token: got %q, want %q", resp.SessionToken, tok)
	}
	if resp.ExpiresAt <= time.Now().Unix() {
		t.Errorf("expiresAt = %d, want in the future", resp.ExpiresAt)
	}
}

func TestRefresh_MissingToken(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/v1/auth/refresh", nil, "")
	assertStatus(t, rr, http.StatusUnauthorized)
	assertReason(t, rr, "missing_token")
}

func TestRefresh_UnknownToken(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/v1/auth/refresh", nil, "gk_sess_deadbeef")
	assertStatus(t, rr, http.StatusUnauthorized)
	assertReason(t, rr, "session_not_found_or_expired")
}

// ---------------------------------------------------------------------------
// POST /v1/auth/revoke
// ---------------------------------------------------------------------------

func TestRevoke_Success(t *testing.T) {
	env := newTestEnv(t)
	game, _ := env.seedGame(t)
	env.seedLicense(t, game.ID, model.TierFree)
	tok := env.issueSession(t)

	rr := env.do(t, "POST", "/v1/auth/revoke", nil, tok)
	assertStatus(t, rr, http.StatusOK)

	// The token is dead; a refresh now fails.
	rr = env.do(t, "POST", "/v1/auth/refresh", nil, tok)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestRevoke_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	game, _ := env.seedGame(t)
	env.seedLicense(t, game.ID, model.TierFree)
	tok := env.issueSession(t)

	for i := 0; i < 2; i++ {
		rr := env.do(t, "POST", "/v1/auth/revoke", nil, tok)
		assertStatus(t, rr, http.StatusOK)
	}
}

func TestRevoke_MissingToken(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/v1/auth/revoke", nil, "")
	assertStatus(t, rr, http.StatusUnauthorized)
	assertReason(t, rr, "missing_token")
}
