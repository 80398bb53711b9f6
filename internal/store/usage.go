package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gatekeepd/gatekeep/internal/model"
)

// UpsertUsage folds a usage report into the hourly bucket for a game.
// Counts accumulate; the CCU peak is a high-water mark. The write is
// atomic at the row level, which is all the report path needs.
func (s *Store) UpsertUsage(ctx context.Context, gameID int64, bucket time.Time, apiCalls, transportMsgs, peakCCU int64) error {
	q := s.rebind(`INSERT INTO usage_records
		(game_id, bucket_start, api_calls, transport_msgs, peak_ccu)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (game_id, bucket_start) DO UPDATE SET
			api_calls = usage_records.api_calls + excluded.api_calls,
			transport_msgs = usage_records.transport_msgs + excluded.transport_msgs,
			peak_ccu = CASE WHEN excluded.peak_ccu > usage_records.peak_ccu
				THEN excluded.peak_ccu ELSE usage_records.peak_ccu END`)

	if _, err := s.db.ExecContext(ctx, q, gameID, bucket.UTC(), apiCalls, transportMsgs, peakCCU); err != nil {
		return fmt.Errorf("upsert usage: %w", err)
	}
	return nil
}

// GetUsage reads the usage bucket for a game and hour. The serving path
// never reads usage; this exists for operator tooling and tests.
func (s *Store) GetUsage(ctx context.Context, gameID int64, bucket time.Time) (*model.UsageRecord, error) {
	var rec model.UsageRecord
	q := s.rebind("SELECT * FROM usage_records WHERE game_id = ? AND bucket_start = ?")
	if err := s.db.GetContext(ctx, &rec, q, gameID, bucket.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &rec, nil
}
