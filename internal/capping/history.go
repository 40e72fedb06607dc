package capping

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// History records per customer+channel send timestamps and counts them over
// rolling windows. Approved sends MUST be recorded or future checks will
// under-count.
type History interface {
	Record(ctx context.Context, customerID, channelID string, at time.Time) error
	CountSince(ctx context.Context, customerID, channelID string, since time.Time) (int, error)
}

// MemoryHistory is the single-process implementation.
type MemoryHistory struct {
	mu    sync.Mutex
	sends map[string][]time.Time
}

// NewMemoryHistory creates an empty in-memory send history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{sends: make(map[string][]time.Time)}
}

func historyKey(customerID, channelID string) string {
	return customerID + ":" + channelID
}

// Record appends a send timestamp.
func (h *MemoryHistory) Record(_ context.Context, customerID, channelID string, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := historyKey(customerID, channelID)
	h.sends[key] = append(h.sends[key], at)
	return nil
}

// CountSince counts recorded sends at or after the cutoff.
func (h *MemoryHistory) CountSince(_ context.Context, customerID, channelID string, since time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, at := range h.sends[historyKey(customerID, channelID)] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

// Prune drops entries older than the cutoff. Called from the hourly cleanup
// loop.
func (h *MemoryHistory) Prune(olderThan time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for key, times := range h.sends {
		kept := times[:0]
		for _, at := range times {
			if at.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, at)
		}
		if len(kept) == 0 {
			delete(h.sends, key)
		} else {
			h.sends[key] = kept
		}
	}
	return removed
}

// RedisHistory stores send timestamps in a sorted set per customer+channel,
// scored by unix nanos. Safe across multiple worker processes.
type RedisHistory struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
}

// NewRedisHistory creates a Redis-backed history. Retention bounds key TTL
// and should cover the longest capping window in use.
func NewRedisHistory(client *redis.Client, retention time.Duration) *RedisHistory {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisHistory{client: client, keyPrefix: "caphist", retention: retention}
}

// NewRedisHistoryFromURL connects to Redis and verifies the connection.
func NewRedisHistoryFromURL(redisURL string, retention time.Duration) (*RedisHistory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisHistory(client, retention), nil
}

func (h *RedisHistory) key(customerID, channelID string) string {
	return fmt.Sprintf("%s:%s:%s", h.keyPrefix, customerID, channelID)
}

// Record appends a send timestamp and refreshes the key TTL. Entries older
// than the retention window are trimmed on write.
func (h *RedisHistory) Record(ctx context.Context, customerID, channelID string, at time.Time) error {
	key := h.key(customerID, channelID)
	score := float64(at.UnixNano())

	pipe := h.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: strconv.FormatInt(at.UnixNano(), 10)})
	cutoff := at.Add(-h.retention).UnixNano()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
	pipe.Expire(ctx, key, h.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording send history: %w", err)
	}
	return nil
}

// CountSince counts sends at or after the cutoff.
func (h *RedisHistory) CountSince(ctx context.Context, customerID, channelID string, since time.Time) (int, error) {
	n, err := h.client.ZCount(ctx, h.key(customerID, channelID),
		strconv.FormatInt(since.UnixNano(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("counting send history: %w", err)
	}
	return int(n), nil
}
