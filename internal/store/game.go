package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
)

// CreateGame inserts a new game (tenant). The ID and CreatedAt fields are
// populated after a successful insert.
func (s *Store) CreateGame(ctx context.Context, game *model.Game) error {
	game.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO games (name, universe_id, created_at)
		VALUES (:name, :universe_id, :created_at)`

	id, err := s.insertReturningID(ctx, q, game)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	game.ID = id
	return nil
}

// GetGame looks up a game by ID.
func (s *Store) GetGame(ctx context.Context, id int64) (*model.Game, error) {
	var game model.Game
	q := s.rebind("SELECT * FROM games WHERE id = ?")
	if err := s.db.GetContext(ctx, &game, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get game: %w", err)
	}
	return &game, nil
}

// GetGameByUniverse looks up a game by its external universe identifier.
func (s *Store) GetGameByUniverse(ctx context.Context, universeID string) (*model.Game, error) {
	var game model.Game
	q := s.rebind("SELECT * FROM games WHERE universe_id = ?")
	if err := s.db.GetContext(ctx, &game, q, universeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get game by universe: %w", err)
	}
	return &game, nil
}

// ListGames returns all games, newest first.
func (s *Store) ListGames(ctx context.Context) ([]model.Game, error) {
	var games []model.Game
	if err := s.db.SelectContext(ctx, &games, "SELECT * FROM games ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	return games, nil
}
