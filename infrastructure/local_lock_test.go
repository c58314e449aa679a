package infrastructure

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"betledger/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_AcquireAndRelease(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "stake:1:2", time.Minute)
	require.NoError(t, err)
	assert.True(t, locker.Held("stake:1:2"))

	_, err = locker.Acquire(ctx, "stake:1:2", time.Minute)
	assert.ErrorIs(t, err, service.ErrLockHeld)

	// Other keys are independent
	otherUnlock, err := locker.Acquire(ctx, "stake:1:3", time.Minute)
	require.NoError(t, err)
	otherUnlock()

	unlock()
	unlock()
	assert.False(t, locker.Held("stake:1:2"))

	again, err := locker.Acquire(ctx, "stake:1:2", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLocalLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	locker := NewLocalLocker()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	staleUnlock, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	assert.False(t, locker.Held("k"))

	freshUnlock, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// The stale holder must not release the new lease
	staleUnlock()
	assert.True(t, locker.Held("k"))

	freshUnlock()
	assert.False(t, locker.Held("k"))
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	locker := NewLocalLocker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := locker.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, locker.Held("k"))
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
		granted int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Acquire(ctx, "shared", time.Minute)
			if err != nil {
				return
			}
			atomic.AddInt32(&granted, 1)
			n := atomic.AddInt32(&inside, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&granted), int32(1))
}
