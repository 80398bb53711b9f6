package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gatekeepd/gatekeep/internal/cache"
	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/store"
	"github.com/gatekeepd/gatekeep/internal/token"
)

const (
	testRawKey   = "gk_live_0123456789abcdef0123456789abcdef"
	testUniverse = "universe-777"
)

type sessionEnv struct {
	svc   *SessionService
	store *store.Store
	cache *cache.Redis
	mr    *miniredis.Miniredis
	game  *model.Game
	key   *model.APIKey
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newSessionEnv builds a session service over an in-memory store and a
// miniredis cache, with one game + active key provisioned and no license.
func newSessionEnv(t *testing.T, cfg SessionConfig) *sessionEnv {
	t.Helper()

	st, err := store.New(store.DriverSQLite, "")
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

	ctx := context.Background()
	game := &model.Game{Name: "Blockworld", UniverseID: testUniverse}
	if err := st.CreateGame(ctx, game); err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	key := &model.APIKey{
		KeyHash:   token.HashKey(testRawKey),
		KeyPrefix: testRawKey[:15],
		GameID:    game.ID,
		IsActive:  true,
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	return &sessionEnv{
		svc:   NewSessionService(st, c, cfg, discardLogger()),
		store: st,
		cache: c,
		mr:    mr,
		game:  game,
		key:   key,
	}
}

func (e *sessionEnv) grantLicense(t *testing.T, tier model.Tier, status string, expiresAt *time.Time, internal bool) {
	t.Helper()
	lic := &model.License{
		GameID:     e.game.ID,
		Tier:       tier,
		Status:     status,
		IsInternal: internal,
		ExpiresAt:  expiresAt,
	}
	if err := e.store.CreateLicense(context.Background(), lic); err != nil {
		t.Fatalf("CreateLicense: %v", err)
	}
}

func wantReason(t *testing.T, err error, want *Error) {
	t.Helper()
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *service.Error %q", err, want.Reason)
	}
	if se.Reason != want.Reason {
		t.Errorf("reason = %q, want %q", se.Reason, want.Reason)
	}
}

func TestValidateSuccess(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{SessionTTL: 30 * time.Minute})
	env.grantLicense(t, model.TierPremium, model.LicenseActive, nil, false)
	ctx := context.Background()

	before := time.Now()
	issued, err := env.svc.Validate(ctx, testRawKey, testUniverse, nil, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if issued.Tier != model.TierPremium {
		t.Errorf("Tier = %q, want premium", issued.Tier)
	}
	want := model.ScopesFor(model.TierPremium, false)
	if len(issued.Scopes) != len(want) {
		t.Errorf("Scopes = %v, want %v", issued.Scopes, want)
	}
	if issued.TTL != 30*time.Minute {
		t.Errorf("TTL = %v, want 30m", issued.TTL)
	}
	wantExpiry := before.Add(30 * time.Minute)
	if d := issued.ExpiresAt.Sub(wantExpiry); d < 0 || d > 5*time.Second {
		t.Errorf("ExpiresAt = %v, want ~%v", issued.ExpiresAt, wantExpiry)
	}

	// The durable row must exist before the token is returned.
	row, err := env.store.GetSessionByToken(ctx, issued.Token)
	if err != nil {
		t.Fatalf("durable session row missing: %v", err)
	}
	if row.GameID != env.game.ID || row.APIKeyID != env.key.ID {
		t.Errorf("session row mis-attributed: %+v", row)
	}

	// And the projection should be in the cache.
	if _, err := env.cache.Get(ctx, issued.Token); err != nil {
		t.Errorf("cache projection missing: %v", err)
	}

	// The last-used touch is fire-and-forget; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		key, _ := env.store.GetAPIKeyByHash(ctx, token.HashKey(testRawKey))
		if key != nil && key.LastUsed != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Error("api key last_used never set")
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestValidateMissingInputs(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	ctx := context.Background()

	_, err := env.svc.Validate(ctx, "", testUniverse, nil, nil)
	wantReason(t, err, ErrBadRequest)

	_, err = env.svc.Validate(ctx, testRawKey, "", nil, nil)
	wantReason(t, err, ErrBadRequest)
}

func TestValidateUnknownKey(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	_, err := env.svc.Validate(context.Background(), "gk_live_never_provisioned", testUniverse, nil, nil)
	wantReason(t, err, ErrInvalidAPIKey)
}

func TestValidateRevokedKey(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	env.grantLicense(t, model.TierFree, model.LicenseActive, nil, false)
	if err := env.store.RevokeAPIKey(context.Background(), env.key.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	_, err := env.svc.Validate(context.Background(), testRawKey, testUniverse, nil, nil)
	wantReason(t, err, ErrAPIKeyRevoked)
}

func TestValidateUniverseMismatch(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	env.grantLicense(t, model.TierFree, model.LicenseActive, nil, false)

	_, err := env.svc.Validate(context.Background(), testRawKey, "some-other-universe", nil, nil)
	wantReason(t, err, ErrUniverseMismatch)
}

func TestValidateLicenseGates(t *testing.T) {
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name  string
		setup func(t *testing.T, env *sessionEnv)
		want  *Error
	}{
		{
			name:  "no license",
			setup: func(t *testing.T, env *sessionEnv) {},
			want:  ErrNoLicense,
		},
		{
			name: "suspended",
			setup: func(t *testing.T, env *sessionEnv) {
				env.grantLicense(t, model.TierFree, model.LicenseSuspended, nil, false)
			},
			want: ErrLicenseSuspended,
		},
		{
			name: "expired status",
			setup: func(t *testing.T, env *sessionEnv) {
				env.grantLicense(t, model.TierFree, model.LicenseExpired, nil, false)
			},
			want: ErrLicenseExpired,
		},
		{
			name: "time-expired while status still active",
			setup: func(t *testing.T, env *sessionEnv) {
				env.grantLicense(t, model.TierFree, model.LicenseActive, &past, false)
			},
			want: ErrLicenseExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newSessionEnv(t, SessionConfig{})
			tt.setup(t, env)
			_, err := env.svc.Validate(context.Background(), testRawKey, testUniverse, nil, nil)
			wantReason(t, err, tt.want)
		})
	}
}

func TestValidateInternalLicenseScopes(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	env.grantLicense(t, model.TierEnterprise, model.LicenseActive, nil, true)

	issued, err := env.svc.Validate(context.Background(), testRawKey, testUniverse, nil, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	found := false
	for _, s := range issued.Scopes {
		if s == "internal:debug" {
			found = true
		}
	}
	if !found {
		t.Errorf("internal license missing internal:debug scope: %v", issued.Scopes)
	}
}

func TestValidateSurvivesCacheOutage(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{CacheTimeout: 100 * time.Millisecond})
	env.grantLicense(t, model.TierStandard, model.LicenseActive, nil, false)
	env.mr.Close() // cache down before issuance

	issued, err := env.svc.Validate(context.Background(), testRawKey, testUniverse, nil, nil)
	if err != nil {
		t.Fatalf("Validate with cache down: %v", err)
	}

	// Resolution falls back to the durable row.
	sess, err := env.svc.Resolve(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Resolve with cache down: %v", err)
	}
	if sess.GameID != env.game.ID {
		t.Errorf("resolved wrong game: %d", sess.GameID)
	}
}

func TestResolveCacheAndDurableAgree(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	env.grantLicense(t, model.TierPremium, model.LicenseActive, nil, false)
	ctx := context.Background()

	issued, err := env.svc.Validate(ctx, testRawKey, testUniverse, nil, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	fromCache, err := env.svc.Resolve(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Resolve (cache path): %v", err)
	}

	// Evict the projection and resolve again through the durable fallback.
	env.mr.FlushAll()
	fromStore, err := env.svc.Resolve(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Resolve (durable path): %v", err)
	}

	if fromCache.GameID != fromStore.GameID ||
		fromCache.UniverseID != fromStore.UniverseID ||
		fromCache.Tier != fromStore.Tier {
		t.Errorf("identity differs by path: cache=%+v store=%+v", fromCache, fromStore)
	}

	// The durable hit should have repaired the projection.
	if _, err := env.cache.Get(ctx, issued.Token); err != nil {
		t.Errorf("cache not repaired after durable fallback: %v", err)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	_, err := env.svc.Resolve(context.Background(), "gk_sess_deadbeef")
	wantReason(t, err, ErrSessionNotFound)

	_, err = env.svc.Resolve(context.Background(), "")
	wantReason(t, err, ErrMissingToken)
}

func TestResolveExpiredProjection(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	ctx := context.Background()

	// Plant a projection that expires by its own field almost immediately;
	// the redis TTL in miniredis only moves on FastForward, so the entry
	// stays readable while the session itself is past expiry.
	sess := &model.Session{
		Token:      "gk_sess_shortlived",
		GameID:     env.game.ID,
		UniverseID: testUniverse,
		Tier:       model.TierFree,
		ExpiresAt:  time.Now().Add(50 * time.Millisecond),
	}
	sess.SetScopes(model.ScopesFor(model.TierFree, false))
	if err := env.cache.Set(ctx, sess); err != nil {
		t.Fatalf("cache.Set: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	// No durable row backs this token, so the fallback finds nothing.
	_, err := env.svc.Resolve(ctx, "gk_sess_shortlived")
	wantReason(t, err, ErrSessionNotFound)
}

func TestResolveStaleProjectionFallsBackToStore(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{SessionTTL: 30 * time.Minute})
	env.grantLicense(t, model.TierStandard, model.LicenseActive, nil, false)
	ctx := context.Background()

	issued, err := env.svc.Validate(ctx, testRawKey, testUniverse, nil, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Overwrite the projection with one that expires almost immediately
	// while the durable row stays valid, the state left behind when a
	// refresh extends the row but the cache extend fails.
	sess, err := env.store.GetSessionByToken(ctx, issued.Token)
	if err != nil {
		t.Fatalf("GetSessionByToken: %v", err)
	}
	stale := *sess
	stale.ExpiresAt = time.Now().Add(50 * time.Millisecond)
	if err := env.cache.Set(ctx, &stale); err != nil {
		t.Fatalf("cache.Set: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	got, err := env.svc.Resolve(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Resolve after stale projection: %v", err)
	}
	if got.GameID != sess.GameID || got.ExpiresAt.Before(time.Now()) {
		t.Errorf("Resolve = %+v, want the live durable identity", got)
	}

	// The fallback should also have replaced the stale projection.
	repaired, err := env.cache.Get(ctx, issued.Token)
	if err != nil {
		t.Fatalf("cache.Get after repair: %v", err)
	}
	if !repaired.ExpiresAt.After(time.Now()) {
		t.Errorf("projection not repaired, still expires at %v", repaired.ExpiresAt)
	}
}

func TestRefreshExtendsAndNeverShrinks(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{SessionTTL: 20 * time.Minute})
	env.grantLicense(t, model.TierFree, model.LicenseActive, nil, false)
	ctx := context.Background()

	issued, err := env.svc.Validate(ctx, testRawKey, testUniverse, nil, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	first, err := env.svc.Refresh(ctx, issued.Token)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if first.Token != issued.Token {
		t.Errorf("token rotated on refresh: %q -> %q", issued.Token, first.Token)
	}
	if first.ExpiresAt.Before(issued.ExpiresAt) {
		t.Errorf("refresh moved expiry backward: %v -> %v", issued.ExpiresAt, first.ExpiresAt)
	}

	second, err := env.svc.Refresh(ctx, issued.Token)
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if second.ExpiresAt.Before(first.ExpiresAt) {
		t.Errorf("expiry not monotonic: %v -> %v", first.ExpiresAt, second.ExpiresAt)
	}
}

func TestRefreshUnknownOrMissingToken(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	ctx := context.Background()

	_, err := env.svc.Refresh(ctx, "gk_sess_never_issued")
	wantReason(t, err, ErrSessionNotFoundOrExpired)

	_, err = env.svc.Refresh(ctx, "")
	wantReason(t, err, ErrMissingToken)
}

func TestRevokeThenResolve(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	env.grantLicense(t, model.TierStandard, model.LicenseActive, nil, false)
	ctx := context.Background()

	issued, err := env.svc.Validate(ctx, testRawKey, testUniverse, nil, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := env.svc.Revoke(ctx, issued.Token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// Gone from both sources, regardless of whether it was cached.
	_, err = env.svc.Resolve(ctx, issued.Token)
	wantReason(t, err, ErrSessionNotFound)

	// Revoking again is still success.
	if err := env.svc.Revoke(ctx, issued.Token); err != nil {
		t.Errorf("second Revoke: %v", err)
	}
}

func TestSweepRemovesExpiredRows(t *testing.T) {
	env := newSessionEnv(t, SessionConfig{})
	ctx := context.Background()

	stale := &model.Session{
		Token:      "gk_sess_stale",
		APIKeyID:   env.key.ID,
		GameID:     env.game.ID,
		UniverseID: testUniverse,
		Tier:       model.TierFree,
		ExpiresAt:  time.Now().Add(-time.Hour).UTC(),
	}
	stale.SetScopes(nil)
	if err := env.store.CreateSession(ctx, stale); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	env.svc.Sweep(ctx)

	if _, err := env.store.GetSessionByToken(ctx, "gk_sess_stale"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale row survived sweep: %v", err)
	}
}

// failingStore satisfies CredentialStore and fails every call, for
// exercising the fail-closed durable path.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	return nil, errStoreDown
}
func (failingStore) GetGame(ctx context.Context, id int64) (*model.Game, error) {
	return nil, errStoreDown
}
func (failingStore) GetLicenseByGame(ctx context.Context, gameID int64) (*model.License, error) {
	return nil, errStoreDown
}
func (failingStore) TouchAPIKey(ctx context.Context, id int64) error { return errStoreDown }
func (failingStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return errStoreDown
}
func (failingStore) GetSessionByToken(ctx context.Context, tok string) (*model.Session, error) {
	return nil, errStoreDown
}
func (failingStore) RefreshSession(ctx context.Context, tok string, newExpiry, now time.Time) (time.Time, error) {
	return time.Time{}, errStoreDown
}
func (failingStore) DeleteSessionByToken(ctx context.Context, tok string) error { return errStoreDown }
func (failingStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return 0, errStoreDown
}

func TestResolveFailsClosedWhenStoreDown(t *testing.T) {
	svc := NewSessionService(failingStore{}, cache.Nop{}, SessionConfig{}, discardLogger())

	_, err := svc.Resolve(context.Background(), "gk_sess_whatever")
	wantReason(t, err, ErrSessionNotFound)
}

func TestValidateFailsWhenStoreDown(t *testing.T) {
	svc := NewSessionService(failingStore{}, cache.Nop{}, SessionConfig{}, discardLogger())

	_, err := svc.Validate(context.Background(), testRawKey, testUniverse, nil, nil)
	wantReason(t, err, ErrInternal)
}
