package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/guilherme-santos/smartcal"
	"github.com/guilherme-santos/smartcal/internal/cache"
)

// ParseCache persists parses in the parse_cache table so they survive restarts.
type ParseCache struct {
	s Storage
}

func (s Storage) ParseCache() *ParseCache {
	return &ParseCache{s: s}
}

func (c *ParseCache) Get(ctx context.Context, key string) (*smartcal.ParsedEvent, error) {
	var value string
	err := c.s.db.GetContext(ctx, &value, `
		SELECT value FROM parse_cache WHERE key = ? AND expires_at > ?
	`, key, c.s.now().Unix())
	if err != nil {
		if err = mapError(err); errors.Is(err, smartcal.ErrNotFound) {
			return nil, smartcal.ErrCacheMiss
		}
		return nil, err
	}
	var ev smartcal.ParsedEvent
	if err := json.Unmarshal([]byte(value), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *ParseCache) Set(ctx context.Context, key string, ev *smartcal.ParsedEvent, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = c.s.db.ExecContext(ctx, `
		INSERT INTO parse_cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at;
	`, key, string(value), c.s.now().Add(ttl).Unix())
	return err
}

// Purge deletes expired rows and returns how many were removed.
func (c *ParseCache) Purge(ctx context.Context) (int64, error) {
	res, err := c.s.db.ExecContext(ctx, `DELETE FROM parse_cache WHERE expires_at <= ?`, c.s.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
