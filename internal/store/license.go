package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
)

// CreateLicense inserts the license for a game. Each game has at most one
// license; granting a second one fails on the unique constraint.
func (s *Store) CreateLicense(ctx context.Context, lic *model.License) error {
	now := time.Now().UTC()
	lic.CreatedAt = now
	lic.UpdatedAt = now

	const q = `INSERT INTO licenses
		(game_id, tier, status, is_internal, expires_at, created_at, updated_at)
		VALUES
		(:game_id, :tier, :status, :is_internal, :expires_at, :created_at, :updated_at)`

	id, err := s.insertReturningID(ctx, q, lic)
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	lic.ID = id
	return nil
}

// GetLicenseByGame looks up a game's license.
func (s *Store) GetLicenseByGame(ctx context.Context, gameID int64) (*model.License, error) {
	var lic model.License
	q := s.rebind("SELECT * FROM licenses WHERE game_id = ?")
	if err := s.db.GetContext(ctx, &lic, q, gameID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license by game: %w", err)
	}
	return &lic, nil
}

// UpdateLicenseStatus transitions a license to the given status. Already-
// issued sessions are not revoked by a status change; they ride out their
// own expiry.
func (s *Store) UpdateLicenseStatus(ctx context.Context, gameID int64, status string) error {
	now := time.Now().UTC()
	q := s.rebind("UPDATE licenses SET status = ?, updated_at = ? WHERE game_id = ?")
	result, err := s.db.ExecContext(ctx, q, status, now, gameID)
	if err != nil {
		return fmt.Errorf("update license status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update license status rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLicenses returns all licenses, newest first.
func (s *Store) ListLicenses(ctx context.Context) ([]model.License, error) {
	var lics []model.License
	if err := s.db.SelectContext(ctx, &lics, "SELECT * FROM licenses ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return lics, nil
}
