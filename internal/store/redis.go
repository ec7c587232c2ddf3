package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/greenhub/internal/metrics"
	"github.com/eldtechnologies/greenhub/internal/models"
)

const (
	telemetryTTL = 24 * time.Hour
	// MaxTelemetryHistory bounds RecentTelemetry.
	MaxTelemetryHistory = 500
)

// RedisStore handles Redis operations for telemetry history.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for the rate limiter. Safe on a nil store.
func (s *RedisStore) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.client.Ping(ctx).Err()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return err
}

// telemetryKey returns the key for a user's telemetry sorted set.
func telemetryKey(userID int64) string {
	return fmt.Sprintf("iot:%d:telemetry", userID)
}

// telemetryEntry is the stored member; the ULID keeps identical readings distinct.
type telemetryEntry struct {
	ID string `json:"id"`
	models.TelemetryReading
}

// AddTelemetry records a reading in the user's history.
func (s *RedisStore) AddTelemetry(ctx context.Context, userID int64, reading *models.TelemetryReading) error {
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(telemetryEntry{ID: ulid.Make().String(), TelemetryReading: *reading})
	if err != nil {
		return err
	}

	key := telemetryKey(userID)
	start := time.Now()
	defer func() { metrics.RedisLatency.Observe(time.Since(start).Seconds()) }()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(reading.CreatedAt.UnixMilli()),
		Member: string(data),
	})
	// Drop anything older than the retention window
	cutoff := reading.CreatedAt.Add(-telemetryTTL).UnixMilli()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", cutoff))
	pipe.Expire(ctx, key, telemetryTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentTelemetry returns the user's newest readings, optionally filtered by topic.
func (s *RedisStore) RecentTelemetry(ctx context.Context, userID int64, topic string, limit int) ([]models.TelemetryReading, error) {
	if limit <= 0 || limit > MaxTelemetryHistory {
		limit = MaxTelemetryHistory
	}

	start := time.Now()
	results, err := s.client.ZRevRange(ctx, telemetryKey(userID), 0, MaxTelemetryHistory-1).Result()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	readings := make([]models.TelemetryReading, 0, min(limit, len(results)))
	for _, data := range results {
		var entry telemetryEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		if topic != "" && entry.Topic != topic {
			continue
		}
		readings = append(readings, entry.TelemetryReading)
		if len(readings) >= limit {
			break
		}
	}

	return readings, nil
}
