package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/greenhub/internal/models"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client), mr
}

func TestTelemetryHistory(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	base := time.Now().UTC().Add(-time.Minute)
	readings := []struct {
		topic   string
		payload string
	}{
		{"soil", `{"moisture":31}`},
		{"air", `{"co2":410}`},
		{"soil", `{"moisture":29}`},
	}
	for i, r := range readings {
		require.NoError(t, s.AddTelemetry(ctx, 7, &models.TelemetryReading{
			Topic:     r.topic,
			Payload:   json.RawMessage(r.payload),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.RecentTelemetry(ctx, 7, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.JSONEq(t, `{"moisture":29}`, string(all[0].Payload))

	soil, err := s.RecentTelemetry(ctx, 7, "soil", 1)
	require.NoError(t, err)
	require.Len(t, soil, 1)
	assert.Equal(t, "soil", soil[0].Topic)
	assert.JSONEq(t, `{"moisture":29}`, string(soil[0].Payload))

	other, err := s.RecentTelemetry(ctx, 8, "", 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	assert.True(t, mr.Exists(telemetryKey(7)))
	assert.Greater(t, mr.TTL(telemetryKey(7)), time.Duration(0))
}

func TestTelemetryDuplicateReadingsKept(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	at := time.Now().UTC()
	for i := 0; i < 2; i++ {
		require.NoError(t, s.AddTelemetry(ctx, 1, &models.TelemetryReading{
			Topic:     "temp",
			Payload:   json.RawMessage(`21.5`),
			CreatedAt: at,
		}))
	}

	got, err := s.RecentTelemetry(ctx, 1, "temp", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestTelemetryDropsExpiredReadings(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.AddTelemetry(ctx, 1, &models.TelemetryReading{
		Topic:     "old",
		Payload:   json.RawMessage(`1`),
		CreatedAt: now.Add(-25 * time.Hour),
	}))
	require.NoError(t, s.AddTelemetry(ctx, 1, &models.TelemetryReading{
		Topic:     "new",
		Payload:   json.RawMessage(`2`),
		CreatedAt: now,
	}))

	got, err := s.RecentTelemetry(ctx, 1, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Topic)
}
