package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
)

// CreateAPIKey inserts a new API key record. The KeyHash must already be
// set (use token.HashKey). The ID and CreatedAt fields are populated after
// a successful insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(key_hash, key_prefix, label, game_id, is_active, created_at)
		VALUES
		(:key_hash, :key_prefix, :label, :game_id, :is_active, :created_at)`

	id, err := s.insertReturningID(ctx, q, key)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 digest.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.rebind("SELECT * FROM api_keys WHERE key_hash = ?")
	if err := s.db.GetContext(ctx, &key, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all API keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks an API key as inactive. Revoked keys stay in the
// table; they are never deleted.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	q := s.rebind("UPDATE api_keys SET is_active = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, false, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchAPIKey sets the last_used timestamp for an API key. Called
// fire-and-forget after every successful validation.
func (s *Store) TouchAPIKey(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	q := s.rebind("UPDATE api_keys SET last_used = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, now, id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
