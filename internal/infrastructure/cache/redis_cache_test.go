package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/palmtrace/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a throwaway Redis container and returns its address
func startRedis(t *testing.T) (string, int) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return host, port.Int()
}

func TestRedisCache(t *testing.T) {
	host, port := startRedis(t)
	client, err := NewRedisClient(RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	c := NewRedisCache(client, "")
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	t.Run("get and set", func(t *testing.T) {
		_, ok, err := c.Get(ctx, "transparency:missing:v1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, c.Set(ctx, "transparency:po-1:v2", []byte(`{"transparency_to_mill":"1"}`), time.Minute))
		val, ok, err := c.Get(ctx, "transparency:po-1:v2")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"transparency_to_mill":"1"}`, string(val))

		raw, err := client.Get(ctx, "palmtrace:transparency:po-1:v2").Result()
		require.NoError(t, err, "keys carry the service prefix")
		assert.NotEmpty(t, raw)
	})

	t.Run("entries expire", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "transparency:po-ttl:v1", []byte("x"), 200*time.Millisecond))
		time.Sleep(400 * time.Millisecond)
		_, ok, err := c.Get(ctx, "transparency:po-ttl:v1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete prefix spans scan pages", func(t *testing.T) {
		for v := 1; v <= 3*defaultScanBatchSize; v++ {
			require.NoError(t, c.Set(ctx, "transparency:po-many:v"+strconv.Itoa(v), []byte("x"), time.Minute))
		}
		require.NoError(t, c.Set(ctx, "transparency:po-other:v1", []byte("keep"), time.Minute))

		require.NoError(t, c.DeletePrefix(ctx, "transparency:po-many:v"))

		n, err := client.Keys(ctx, "palmtrace:transparency:po-many:*").Result()
		require.NoError(t, err)
		assert.Empty(t, n)
		_, ok, err := c.Get(ctx, "transparency:po-other:v1")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestFactory_CreateCacheWithRedis(t *testing.T) {
	host, port := startRedis(t)

	cache, client, err := NewFactory(config.RedisConfig{Enabled: true, Host: host, Port: port}).CreateCache()
	require.NoError(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	_, isRedis := cache.(*RedisCache)
	assert.True(t, isRedis)
}
