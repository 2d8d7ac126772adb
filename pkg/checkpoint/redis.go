package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripflow/tripflow/internal/model"
)

// RedisConfig configures the Redis ledger backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379").
	Address string

	// Password for Redis authentication (optional).
	Password string

	// Database number to use (default: 0).
	Database int

	// Prefix is prepended to all ledger keys.
	Prefix string

	// TTL is the time-to-live for run entries (0 = keep forever).
	TTL time.Duration

	// Timeout bounds each Redis operation.
	Timeout time.Duration

	// PoolSize is the maximum number of connections.
	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "tripflow:runs:",
		TTL:      30 * 24 * time.Hour,
		Timeout:  5 * time.Second,
		PoolSize: 10,
	}
}

// RedisLedger stores run entries in Redis. Besides the per-run entry it
// keeps a set of run IDs per (category, period), so Find needs no SCAN.
type RedisLedger struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisLedger connects to Redis and verifies the connection.
func NewRedisLedger(cfg RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLedger{cfg: cfg, client: client}, nil
}

func (l *RedisLedger) key(runID string) string {
	return l.cfg.Prefix + runID
}

func (l *RedisLedger) indexKey(category model.Category, period string) string {
	return fmt.Sprintf("%sindex:%s:%s", l.cfg.Prefix, category, period)
}

// Save persists the entry and indexes it under its (category, period).
func (l *RedisLedger) Save(ctx context.Context, e *Entry) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	pipe := l.client.Pipeline()
	pipe.Set(ctx, l.key(e.RunID), data, l.cfg.TTL)
	pipe.SAdd(ctx, l.indexKey(e.Category, e.Period), e.RunID)
	if l.cfg.TTL > 0 {
		pipe.Expire(ctx, l.indexKey(e.Category, e.Period), l.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save ledger entry: %w", err)
	}
	return nil
}

// Load retrieves one entry by run ID.
func (l *RedisLedger) Load(ctx context.Context, runID string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	data, err := l.client.Get(ctx, l.key(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to load ledger entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("corrupt ledger entry %s: %w", runID, err)
	}
	return &e, nil
}

// Find returns all entries for a (category, period), newest first.
func (l *RedisLedger) Find(ctx context.Context, category model.Category, period model.Period) ([]*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	ids, err := l.client.SMembers(ctx, l.indexKey(category, period.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}

	var out []*Entry
	for _, id := range ids {
		e, err := l.Load(ctx, id)
		if err != nil {
			// Entry expired out from under the index.
			l.client.SRem(ctx, l.indexKey(category, period.String()), id)
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Latest returns the most recent entry for a (category, period), or nil.
func (l *RedisLedger) Latest(ctx context.Context, category model.Category, period model.Period) (*Entry, error) {
	entries, err := l.Find(ctx, category, period)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

// Ping checks the Redis connection.
func (l *RedisLedger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

var _ Ledger = (*RedisLedger)(nil)
