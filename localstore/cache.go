package localstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rxtrust/rxtrust-api/types"
)

type cachedPayload struct {
	payload   []byte
	updatedAt time.Time
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats summarises the audit cache.
type CacheStats struct {
	Entries    int64 `json:"entries"`
	Expired    int64 `json:"expired"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

// Fingerprint is the cache key for a request: the hex SHA-256 of the
// lowercased "product|batch|manufacturer".
func Fingerprint(req types.AuditRequest) string {
	payload := strings.ToLower(req.ProductName + "|" + req.BatchNumber + "|" + req.Manufacturer)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for req if it was stored within the TTL.
// Expired rows are ignored, not deleted. The returned response has Cached set.
func (s *Store) Get(ctx context.Context, req types.AuditRequest) (*types.AuditResponse, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	key := Fingerprint(req)
	now := s.now()

	if s.hot != nil {
		if entry, ok := s.hot.Get(key); ok {
			fresh, err := s.memoryEntryCurrent(ctx, key, entry)
			if err != nil {
				return nil, err
			}
			if fresh && !s.expired(entry.updatedAt, now) {
				s.logger.Debug("LocalStore: memory cache hit", zap.String("key", key))
				return s.decodeHit(entry.payload)
			}
			s.hot.Remove(key)
		}
	}

	var payload, updatedAtStr string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT payload, updated_at FROM %s WHERE cache_key = ?", cacheTableName), key,
	).Scan(&payload, &updatedAtStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.stats.misses.Add(1)
			return nil, nil
		}
		return nil, fmt.Errorf("localstore: failed to read cache entry %s: %w", key, err)
	}

	updatedAt, err := parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("localstore: invalid updated_at for cache entry %s: %w", key, err)
	}
	if s.expired(updatedAt, now) {
		s.logger.Debug("LocalStore: cache entry expired", zap.String("key", key), zap.Time("updated_at", updatedAt))
		s.stats.misses.Add(1)
		return nil, nil
	}

	if s.hot != nil {
		s.hot.Add(key, cachedPayload{payload: []byte(payload), updatedAt: updatedAt})
	}
	return s.decodeHit([]byte(payload))
}

// memoryEntryCurrent reports whether the SQLite row still carries the version
// held in memory. Another process sharing the database may have cleared,
// purged or rewritten it.
func (s *Store) memoryEntryCurrent(ctx context.Context, key string, entry cachedPayload) (bool, error) {
	var updatedAtStr string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT updated_at FROM %s WHERE cache_key = ?", cacheTableName), key,
	).Scan(&updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("localstore: failed to check cache entry %s: %w", key, err)
	}
	return updatedAtStr == formatTime(entry.updatedAt), nil
}

func (s *Store) decodeHit(payload []byte) (*types.AuditResponse, error) {
	var resp types.AuditResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("localstore: failed to decode cached response: %w", err)
	}
	resp.Cached = true
	s.stats.hits.Add(1)
	return &resp, nil
}

func (s *Store) expired(updatedAt, now time.Time) bool {
	return now.Sub(updatedAt) > s.ttl
}

// Set upserts the response for req and refreshes its updated_at. Concurrent
// writers for the same key are last-writer-wins.
func (s *Store) Set(ctx context.Context, req types.AuditRequest, resp *types.AuditResponse) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	key := Fingerprint(req)

	stored := *resp
	stored.Cached = false
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("localstore: failed to encode response for %s: %w", key, err)
	}
	updatedAt := s.now().UTC()

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
	INSERT INTO %s (cache_key, payload, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at;
	`, cacheTableName), key, string(payload), formatTime(updatedAt))
	if err != nil {
		return fmt.Errorf("localstore: failed to upsert cache entry %s: %w", key, err)
	}

	if s.hot != nil {
		s.hot.Add(key, cachedPayload{payload: payload, updatedAt: updatedAt})
	}
	s.logger.Debug("LocalStore: cache entry stored", zap.String("key", key))
	return nil
}

// PurgeExpired deletes rows older than the TTL and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	cutoff := formatTime(s.now().Add(-s.ttl))
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE updated_at < ?", cacheTableName), cutoff)
	if err != nil {
		return 0, fmt.Errorf("localstore: failed to purge expired cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if s.hot != nil {
		s.hot.Purge()
	}
	s.logger.Info("LocalStore: purged expired cache entries", zap.Int64("count", n))
	return n, nil
}

// Clear deletes every cache row.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", cacheTableName))
	if err != nil {
		return 0, fmt.Errorf("localstore: failed to clear cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if s.hot != nil {
		s.hot.Purge()
	}
	return n, nil
}

// Stats reports row counts and the hit/miss counters of this process.
func (s *Store) Stats(ctx context.Context) (CacheStats, error) {
	if s.db == nil {
		return CacheStats{}, ErrNotInitialized
	}
	stats := CacheStats{
		Hits:       s.stats.hits.Load(),
		Misses:     s.stats.misses.Load(),
		TTLSeconds: int64(s.ttl / time.Second),
	}
	cutoff := formatTime(s.now().Add(-s.ttl))
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN updated_at < ? THEN 1 ELSE 0 END), 0) FROM %s", cacheTableName,
	), cutoff).Scan(&stats.Entries, &stats.Expired)
	if err != nil {
		return CacheStats{}, fmt.Errorf("localstore: failed to count cache entries: %w", err)
	}
	return stats, nil
}
