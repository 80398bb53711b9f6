package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
)

// CreateAdmin inserts a new operator account.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	admin.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO admins
		(email, password_hash, name, is_active, is_super_admin, created_at)
		VALUES
		(:email, :password_hash, :name, :is_active, :is_super_admin, :created_at)`

	id, err := s.insertReturningID(ctx, q, admin)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	admin.ID = id
	return nil
}

// GetAdminByEmail looks up an admin account by email.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	q := s.rebind("SELECT * FROM admins WHERE email = ?")
	if err := s.db.GetContext(ctx, &admin, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns all operator accounts, oldest first.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	var admins []model.Admin
	if err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admins ORDER BY created_at ASC"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// UpdateAdminLastLogin records a successful login.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	q := s.rebind("UPDATE admins SET last_login_at = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, q, now, id); err != nil {
		return fmt.Errorf("update admin last login: %w", err)
	}
	return nil
}
