package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"rpg-novel-server/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func TestRedisLocker_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("интеграционный тест пропущен в -short")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	l := NewRedisLocker(client, Config{Expiry: 10 * time.Second, Wait: 200 * time.Millisecond, RetryDelay: 50 * time.Millisecond}, zap.NewNop())

	unlock, err := l.Lock(ctx, "story-1")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "story-1")
	assert.ErrorIs(t, err, models.ErrStoryBusy)

	unlock()

	unlock, err = l.Lock(ctx, "story-1")
	require.NoError(t, err)
	unlock()
}
