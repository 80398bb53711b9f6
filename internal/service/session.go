package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gatekeepd/gatekeep/internal/cache"
	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/store"
	"github.com/gatekeepd/gatekeep/internal/token"
)

// CredentialStore is the slice of the durable store the session service
// depends on, abstracted so tests can substitute fakes for fault injection.
// *store.Store satisfies it.
type CredentialStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
	GetGame(ctx context.Context, id int64) (*model.Game, error)
	GetLicenseByGame(ctx context.Context, gameID int64) (*model.License, error)
	TouchAPIKey(ctx context.Context, id int64) error
	CreateSession(ctx context.Context, sess *model.Session) error
	GetSessionByToken(ctx context.Context, tok string) (*model.Session, error)
	RefreshSession(ctx context.Context, tok string, newExpiry, now time.Time) (time.Time, error)
	DeleteSessionByToken(ctx context.Context, tok string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// SessionConfig tunes the session service.
type SessionConfig struct {
	SessionTTL   time.Duration // lifetime of a freshly issued or refreshed session
	StoreTimeout time.Duration // bound on any single durable store call
	CacheTimeout time.Duration // bound on any single cache call
}

// DefaultSessionConfig returns production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SessionTTL:   30 * time.Minute,
		StoreTimeout: 5 * time.Second,
		CacheTimeout: 500 * time.Millisecond,
	}
}

// SessionService converts API keys into sessions and manages their
// lifecycle. Validation is cache-first but never cache-trusting: the
// durable store is authoritative, and an unreachable store fails closed.
type SessionService struct {
	store  CredentialStore
	cache  cache.SessionCache
	cfg    SessionConfig
	logger *slog.Logger
}

// NewSessionService wires the session service. Pass cache.Nop{} to run
// without a cache; resolution degrades to durable-only lookups.
func NewSessionService(st CredentialStore, c cache.SessionCache, cfg SessionConfig, logger *slog.Logger) *SessionService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionConfig().SessionTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultSessionConfig().StoreTimeout
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = DefaultSessionConfig().CacheTimeout
	}
	return &SessionService{store: st, cache: c, cfg: cfg, logger: logger}
}

// SessionTTL returns the configured session lifetime.
func (s *SessionService) SessionTTL() time.Duration {
	return s.cfg.SessionTTL
}

// IssuedSession is the result of a successful validation.
type IssuedSession struct {
	Token     string
	Tier      model.Tier
	Scopes    []string
	TTL       time.Duration
	ExpiresAt time.Time
}

func (s *SessionService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *SessionService) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CacheTimeout)
}

// Validate checks a raw API key against its game and license and mints a
// session. The durable session insert must succeed before the token is
// returned; the cache write and the key's last-used touch are best-effort.
func (s *SessionService) Validate(ctx context.Context, rawKey, universeID string, placeID, jobID *string) (*IssuedSession, error) {
	if rawKey == "" || universeID == "" {
		return nil, ErrBadRequest
	}

	digest := token.HashKey(rawKey)

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	key, err := s.store.GetAPIKeyByHash(sctx, digest)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		s.logger.Error("api key lookup failed", "error", err)
		return nil, ErrInternal
	}
	if !key.IsActive {
		return nil, ErrAPIKeyRevoked
	}

	game, err := s.store.GetGame(sctx, key.GameID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Provisioning inconsistency, not a security signal.
			return nil, ErrGameNotFound
		}
		s.logger.Error("game lookup failed", "game_id", key.GameID, "error", err)
		return nil, ErrInternal
	}
	if game.UniverseID != universeID {
		return nil, ErrUniverseMismatch
	}

	lic, err := s.store.GetLicenseByGame(sctx, game.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoLicense
		}
		s.logger.Error("license lookup failed", "game_id", game.ID, "error", err)
		return nil, ErrInternal
	}
	now := time.Now()
	if !lic.CanIssue(now) {
		switch {
		case lic.Status == model.LicenseSuspended:
			return nil, ErrLicenseSuspended
		case lic.Status == model.LicenseExpired || lic.TimeExpired(now):
			return nil, ErrLicenseExpired
		default:
			s.logger.Warn("license in unknown status", "game_id", game.ID, "status", lic.Status)
			return nil, ErrNoLicense
		}
	}

	scopes := model.ScopesFor(lic.Tier, lic.IsInternal)

	tok, err := token.NewSessionToken()
	if err != nil {
		s.logger.Error("session token generation failed", "error", err)
		return nil, ErrInternal
	}
	expiresAt := now.Add(s.cfg.SessionTTL).UTC()

	sess := &model.Session{
		Token:      tok,
		APIKeyID:   key.ID,
		GameID:     game.ID,
		UniverseID: game.UniverseID,
		PlaceID:    placeID,
		JobID:      jobID,
		Tier:       lic.Tier,
		ExpiresAt:  expiresAt,
	}
	sess.SetScopes(scopes)

	// The durable insert happens-before everything else; a client holding
	// a token is guaranteed the row exists.
	if err := s.store.CreateSession(sctx, sess); err != nil {
		s.logger.Error("session insert failed", "game_id", game.ID, "error", err)
		return nil, ErrInternal
	}

	// Cache projection is an accelerator. If the write fails the resolver's
	// durable fallback covers it.
	cctx, ccancel := s.cacheCtx(ctx)
	if err := s.cache.Set(cctx, sess); err != nil {
		s.logger.Warn("session cache write failed", "game_id", game.ID, "error", err)
	}
	ccancel()

	// Fire-and-forget: the key's last-used timestamp must never affect the
	// response path.
	go func() {
		tctx, tcancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		defer tcancel()
		if err := s.store.TouchAPIKey(tctx, key.ID); err != nil {
			s.logger.Warn("api key touch failed", "key_id", key.ID, "error", err)
		}
	}()

	return &IssuedSession{
		Token:     tok,
		Tier:      lic.Tier,
		Scopes:    scopes,
		TTL:       s.cfg.SessionTTL,
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve returns the session identity for a bearer token. The cache is
// tried first; a miss, a stale projection, an error, or a timeout falls
// back to the durable store and repairs the cache on a hit. A durable
// store failure resolves to nothing: resolution fails closed.
func (s *SessionService) Resolve(ctx context.Context, tok string) (*model.Session, error) {
	if tok == "" {
		return nil, ErrMissingToken
	}
	now := time.Now()

	cctx, ccancel := s.cacheCtx(ctx)
	cached, err := s.cache.Get(cctx, tok)
	ccancel()
	switch {
	case err == nil:
		if !cached.Expired(now) {
			return cached, nil
		}
		// A failed extend after a refresh leaves the projection carrying
		// an older expiry than the durable row. Drop it and consult the
		// store; the row decides.
		dctx, dcancel := s.cacheCtx(ctx)
		if derr := s.cache.Delete(dctx, tok); derr != nil {
			s.logger.Warn("stale session projection delete failed", "error", derr)
		}
		dcancel()
	case errors.Is(err, cache.ErrCacheMiss):
		// fall through to the store
	default:
		// Cache unavailability degrades to durable-only, never denies.
		s.logger.Warn("session cache read failed, falling back to store", "error", err)
	}

	sctx, scancel := s.storeCtx(ctx)
	defer scancel()
	sess, err := s.store.GetSessionByToken(sctx, tok)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		s.logger.Error("session lookup failed", "error", err)
		return nil, ErrSessionNotFound
	}
	if sess.Expired(now) {
		return nil, ErrSessionNotFound
	}

	// Repair the projection so the next resolve is a cache hit.
	rctx, rcancel := s.cacheCtx(ctx)
	if err := s.cache.Set(rctx, sess); err != nil {
		s.logger.Warn("session cache repair failed", "error", err)
	}
	rcancel()

	return sess, nil
}

// Refresh pushes a live session's expiry forward to now+TTL. The token is
// not rotated; only the expiry moves, and never backward. The cache TTL
// extension is best-effort.
func (s *SessionService) Refresh(ctx context.Context, tok string) (*IssuedSession, error) {
	if tok == "" {
		return nil, ErrMissingToken
	}
	now := time.Now()
	target := now.Add(s.cfg.SessionTTL).UTC()

	sctx, scancel := s.storeCtx(ctx)
	defer scancel()
	expiresAt, err := s.store.RefreshSession(sctx, tok, target, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFoundOrExpired
		}
		s.logger.Error("session refresh failed", "error", err)
		return nil, ErrInternal
	}

	cctx, ccancel := s.cacheCtx(ctx)
	if err := s.cache.Extend(cctx, tok, expiresAt); err != nil {
		s.logger.Warn("session cache extend failed", "error", err)
	}
	ccancel()

	return &IssuedSession{
		Token:     tok,
		TTL:       s.cfg.SessionTTL,
		ExpiresAt: expiresAt,
	}, nil
}

// Revoke destroys a session in both the store and the cache. Revoking a
// token that was never issued or is already gone still succeeds: the
// caller's goal is "this token must not work", and it already doesn't.
func (s *SessionService) Revoke(ctx context.Context, tok string) error {
	if tok == "" {
		return ErrMissingToken
	}

	sctx, scancel := s.storeCtx(ctx)
	defer scancel()
	if err := s.store.DeleteSessionByToken(sctx, tok); err != nil {
		s.logger.Error("session delete failed", "error", err)
		return ErrInternal
	}

	cctx, ccancel := s.cacheCtx(ctx)
	if err := s.cache.Delete(cctx, tok); err != nil {
		s.logger.Warn("session cache delete failed", "error", err)
	}
	ccancel()

	return nil
}

// Sweep removes durable session rows whose expiry has passed. The read
// path already treats them as invalid; this is hygiene, not correctness.
func (s *SessionService) Sweep(ctx context.Context) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	n, err := s.store.DeleteExpiredSessions(sctx, time.Now())
	if err != nil {
		s.logger.Warn("session sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("swept expired sessions", "count", n)
	}
}

// RunSweeper sweeps expired sessions at the given interval until ctx is
// canceled.
func (s *SessionService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
