package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

// GetProbeCache reads a memoized value from the metadata cache, honoring
// its expiry. It returns (nil, false, nil) on a miss or an expired entry
// — the cache is advisory, so a miss is never an error.
func (s *Store) GetProbeCache(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value pgtype.JSONB
	var expiresAt time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT value, expires_at FROM metadata_cache WHERE key = $1
	`, key).Scan(&value, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if time.Now().After(expiresAt) {
		return nil, false, nil
	}
	return json.RawMessage(value.Bytes), true, nil
}

// PutProbeCache memoizes value under key for ttl. Errors writing to the
// cache are the caller's to decide on; they must never fail the probe
// itself — its absence must not affect correctness.
func (s *Store) PutProbeCache(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	jsonb := pgtype.JSONB{}
	if err := jsonb.Set(value); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO metadata_cache (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $3
	`, key, jsonb, time.Now().Add(ttl))
	return err
}
