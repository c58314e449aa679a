package infrastructure

import (
	"context"
	"testing"
	"time"

	"betledger/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *RedisLocker {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
			Labels: map[string]string{
				"test":      "betledger-infrastructure",
				"test-name": t.Name(),
				"cleanup":   "auto",
			},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb, err := NewRedisClient(ctx, RedisConfig{Addr: endpoint})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisLocker(rdb)
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	locker := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, locker.Ping(ctx))

	unlock, err := locker.Acquire(ctx, "stake:7:9", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "stake:7:9", time.Minute)
	assert.ErrorIs(t, err, service.ErrLockHeld)

	unlock()
	unlock()

	again, err := locker.Acquire(ctx, "stake:7:9", time.Minute)
	require.NoError(t, err)
	again()
}

func TestRedisLocker_StaleUnlockKeepsSuccessor(t *testing.T) {
	locker := setupRedis(t)
	ctx := context.Background()

	staleUnlock, err := locker.Acquire(ctx, "k", 100*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		unlock, err := locker.Acquire(ctx, "k", time.Minute)
		if err != nil {
			return false
		}
		// Keep the successor's lease and check the stale holder cannot drop it
		staleUnlock()
		_, heldErr := locker.Acquire(ctx, "k", time.Minute)
		assert.ErrorIs(t, heldErr, service.ErrLockHeld)
		unlock()
		return true
	}, 2*time.Second, 50*time.Millisecond)
}
