package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
)

// CreateSession inserts a new session row. The insert must complete before
// the token is handed to the caller; there is no best-effort path here.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	sess.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO sessions
		(token, api_key_id, game_id, universe_id, place_id, job_id, tier, scopes, expires_at, created_at)
		VALUES
		(:token, :api_key_id, :game_id, :universe_id, :place_id, :job_id, :tier, :scopes, :expires_at, :created_at)`

	id, err := s.insertReturningID(ctx, q, sess)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	sess.ID = id
	return nil
}

// GetSessionByToken looks up a session row by its token. Expiry is not
// filtered here; the caller decides how to treat a stale row.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	q := s.rebind("SELECT * FROM sessions WHERE token = ?")
	if err := s.db.GetContext(ctx, &sess, q, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return &sess, nil
}

// RefreshSession pushes a live session's expiry forward to newExpiry and
// returns the resulting expiry. The expiry never moves backward: if the row
// already expires later than newExpiry it is left as-is. ErrNotFound is
// returned when no non-expired row matches the token.
func (s *Store) RefreshSession(ctx context.Context, tok string, newExpiry, now time.Time) (time.Time, error) {
	q := s.rebind(`UPDATE sessions
		SET expires_at = CASE WHEN expires_at > ? THEN expires_at ELSE ? END
		WHERE token = ? AND expires_at > ?
		RETURNING expires_at`)

	var expiresAt time.Time
	err := s.db.QueryRowxContext(ctx, q, newExpiry.UTC(), newExpiry.UTC(), tok, now.UTC()).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("refresh session: %w", err)
	}
	return expiresAt, nil
}

// DeleteSessionByToken removes a session row. Deleting a token that does
// not exist is not an error; revocation is idempotent.
func (s *Store) DeleteSessionByToken(ctx context.Context, tok string) error {
	q := s.rebind("DELETE FROM sessions WHERE token = ?")
	if _, err := s.db.ExecContext(ctx, q, tok); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions sweeps rows whose expiry has passed. Expired rows
// are already treated as invalid on the read path; this keeps the table
// from growing without bound. Returns the number of rows removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	q := s.rebind("DELETE FROM sessions WHERE expires_at <= ?")
	result, err := s.db.ExecContext(ctx, q, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions rows affected: %w", err)
	}
	return n, nil
}
