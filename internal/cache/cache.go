// Package cache holds the session cache: a denormalized, TTL-bound
// projection of session rows keyed by token. It accelerates resolution;
// the store remains authoritative and the serving path must work with the
// cache gone entirely.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
)

// ErrCacheMiss is returned when a token has no cached projection.
var ErrCacheMiss = errors.New("cache miss")

// SessionCache is the contract the session service depends on. The redis
// implementation backs production; Nop backs cacheless deployments and the
// durable-fallback path in tests.
type SessionCache interface {
	// Get returns the cached projection for a token, or ErrCacheMiss.
	Get(ctx context.Context, token string) (*model.Session, error)
	// Set writes a projection with TTL equal to the session's remaining
	// lifetime at write time.
	Set(ctx context.Context, sess *model.Session) error
	// Extend pushes the projection's expiry and TTL forward after a refresh.
	Extend(ctx context.Context, token string, expiresAt time.Time) error
	// Delete drops the projection. Missing keys are not an error.
	Delete(ctx context.Context, token string) error
	// Ping verifies connectivity, for readiness checks.
	Ping(ctx context.Context) error
	Close() error
}

// Nop is a SessionCache that caches nothing. Every read is a miss and
// every write succeeds, which degrades the resolver to durable-only
// lookups without any special-casing.
type Nop struct{}

func (Nop) Get(ctx context.Context, token string) (*model.Session, error) { return nil, ErrCacheMiss }
func (Nop) Set(ctx context.Context, sess *model.Session) error            { return nil }
func (Nop) Extend(ctx context.Context, token string, expiresAt time.Time) error {
	return nil
}
func (Nop) Delete(ctx context.Context, token string) error { return nil }
func (Nop) Ping(ctx context.Context) error                 { return nil }
func (Nop) Close() error                                   { return nil }
