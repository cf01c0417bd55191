package postgres

import (
	"context"

	"github.com/dmitrymomot/meter/pkg/usage"
)

// CounterStore implements usage.Store on the usage_records table.
type CounterStore struct {
	db DB
}

// NewCounterStore creates a CounterStore.
func NewCounterStore(db DB) *CounterStore {
	return &CounterStore{db: db}
}

// The conflict branch only fires while the stored count is below the
// ceiling, so the row is either incremented or left untouched in one
// statement. No row returned means the ceiling was hit.
const incrementWithCeilingSQL = `
	INSERT INTO usage_records (user_id, feature_id, usage_date, count, updated_at)
	VALUES ($1, $2, $3, 1, now())
	ON CONFLICT (user_id, feature_id, usage_date) DO UPDATE
		SET count = usage_records.count + 1, updated_at = now()
		WHERE usage_records.count < $4::bigint
	RETURNING count`

func (s *CounterStore) Count(ctx context.Context, key usage.Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT count FROM usage_records WHERE user_id = $1 AND feature_id = $2 AND usage_date = $3`,
		key.UserID, string(key.Feature), key.Day).Scan(&count)
	if IsNotFoundError(err) {
		return 0, nil
	}
	return count, err
}

func (s *CounterStore) IncrementWithCeiling(ctx context.Context, key usage.Key, limit int64) (int64, bool, error) {
	if err := key.Validate(); err != nil {
		return 0, false, err
	}
	var count int64
	err := s.db.QueryRow(ctx, incrementWithCeilingSQL,
		key.UserID, string(key.Feature), key.Day, limit).Scan(&count)
	switch {
	case err == nil:
		return count, true, nil
	case IsNotFoundError(err):
		current, err := s.Count(ctx, key)
		return current, false, err
	default:
		return 0, false, err
	}
}

func (s *CounterStore) Reset(ctx context.Context, key usage.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`UPDATE usage_records SET count = 0, updated_at = now()
		 WHERE user_id = $1 AND feature_id = $2 AND usage_date = $3`,
		key.UserID, string(key.Feature), key.Day)
	return err
}
