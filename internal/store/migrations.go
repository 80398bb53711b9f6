package store

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	var migrations []string
	switch s.driver {
	case DriverPostgres:
		migrations = postgresMigrations
	default:
		migrations = sqliteMigrations
	}

	for i, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" style errors from re-running ALTERs.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		universe_id TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key_hash TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		game_id INTEGER NOT NULL REFERENCES games(id),
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used DATETIME
	)`,

	`CREATE TABLE IF NOT EXISTS licenses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER UNIQUE NOT NULL REFERENCES games(id),
		tier TEXT NOT NULL DEFAULT 'free',
		status TEXT NOT NULL DEFAULT 'active',
		is_internal INTEGER NOT NULL DEFAULT 0,
		expires_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		token TEXT UNIQUE NOT NULL,
		api_key_id INTEGER NOT NULL REFERENCES api_keys(id),
		game_id INTEGER NOT NULL REFERENCES games(id),
		universe_id TEXT NOT NULL,
		place_id TEXT,
		job_id TEXT,
		tier TEXT NOT NULL,
		scopes TEXT NOT NULL DEFAULT '[]',
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id),
		bucket_start DATETIME NOT NULL,
		api_calls INTEGER NOT NULL DEFAULT 0,
		transport_msgs INTEGER NOT NULL DEFAULT 0,
		peak_ccu INTEGER NOT NULL DEFAULT 0,
		UNIQUE(game_id, bucket_start)
	)`,

	`CREATE TABLE IF NOT EXISTS admins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		is_super_admin INTEGER NOT NULL DEFAULT 0,
		last_login_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		universe_id TEXT UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		key_hash TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		game_id BIGINT NOT NULL REFERENCES games(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS licenses (
		id BIGSERIAL PRIMARY KEY,
		game_id BIGINT UNIQUE NOT NULL REFERENCES games(id),
		tier TEXT NOT NULL DEFAULT 'free',
		status TEXT NOT NULL DEFAULT 'active',
		is_internal BOOLEAN NOT NULL DEFAULT FALSE,
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id BIGSERIAL PRIMARY KEY,
		token TEXT UNIQUE NOT NULL,
		api_key_id BIGINT NOT NULL REFERENCES api_keys(id),
		game_id BIGINT NOT NULL REFERENCES games(id),
		universe_id TEXT NOT NULL,
		place_id TEXT,
		job_id TEXT,
		tier TEXT NOT NULL,
		scopes TEXT NOT NULL DEFAULT '[]',
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		id BIGSERIAL PRIMARY KEY,
		game_id BIGINT NOT NULL REFERENCES games(id),
		bucket_start TIMESTAMPTZ NOT NULL,
		api_calls BIGINT NOT NULL DEFAULT 0,
		transport_msgs BIGINT NOT NULL DEFAULT 0,
		peak_ccu BIGINT NOT NULL DEFAULT 0,
		UNIQUE(game_id, bucket_start)
	)`,

	`CREATE TABLE IF NOT EXISTS admins (
		id BIGSERIAL PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_super_admin BOOLEAN NOT NULL DEFAULT FALSE,
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
}
