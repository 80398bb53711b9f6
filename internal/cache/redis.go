package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatekeepd/gatekeep/internal/model"
)

const keyPrefix = "sess:"

// sessionProjection is the denormalized copy of a session stored under its
// token. It carries its own expiresAt so a resolver can reject a projection
// that outlived its session even if the redis TTL lagged.
type sessionProjection struct {
	Token      string   `json:"token"`
	APIKeyID   int64    `json:"api_key_id"`
	GameID     int64    `json:"game_id"`
	UniverseID string   `json:"universe_id"`
	PlaceID    *string  `json:"place_id,omitempty"`
	JobID      *string  `json:"job_id,omitempty"`
	Tier       string   `json:"tier"`
	Scopes     []string `json:"scopes"`
	ExpiresAt  int64    `json:"expires_at"` // unix seconds
}

// Redis is the production SessionCache backed by a redis instance.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to redis and verifies the connection before returning.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client, for tests.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context, token string) (*model.Session, error) {
	data, err := c.client.Get(ctx, keyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var proj sessionProjection
	if err := json.Unmarshal(data, &proj); err != nil {
		// A corrupt projection is treated as a miss; the durable row
		// remains authoritative.
		return nil, ErrCacheMiss
	}

	sess := &model.Session{
		Token:      proj.Token,
		APIKeyID:   proj.APIKeyID,
		GameID:     proj.GameID,
		UniverseID: proj.UniverseID,
		PlaceID:    proj.PlaceID,
		JobID:      proj.JobID,
		Tier:       model.Tier(proj.Tier),
		ExpiresAt:  time.Unix(proj.ExpiresAt, 0).UTC(),
	}
	sess.SetScopes(proj.Scopes)
	return sess, nil
}

func (c *Redis) Set(ctx context.Context, sess *model.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		// Never cache an already-expired session.
		return nil
	}

	proj := sessionProjection{
		Token:      sess.Token,
		APIKeyID:   sess.APIKeyID,
		GameID:     sess.GameID,
		UniverseID: sess.UniverseID,
		PlaceID:    sess.PlaceID,
		JobID:      sess.JobID,
		Tier:       string(sess.Tier),
		Scopes:     sess.Scopes(),
		ExpiresAt:  sess.ExpiresAt.Unix(),
	}
	data, err := json.Marshal(proj)
	if err != nil {
		return fmt.Errorf("marshal session projection: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+sess.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Extend rewrites the projection's expiry and pushes the redis TTL to
// match. A token with no projection is left alone; the next resolve will
// repair it from the store.
func (c *Redis) Extend(ctx context.Context, token string, expiresAt time.Time) error {
	data, err := c.client.Get(ctx, keyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("cache extend read: %w", err)
	}

	var proj sessionProjection
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil
	}
	proj.ExpiresAt = expiresAt.Unix()

	updated, err := json.Marshal(proj)
	if err != nil {
		return fmt.Errorf("marshal session projection: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, keyPrefix+token, updated, ttl).Err(); err != nil {
		return fmt.Errorf("cache extend write: %w", err)
	}
	return nil
}

func (c *Redis) Delete(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, keyPrefix+token).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error {
	return c.client.Close()
}
