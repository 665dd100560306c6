package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupLease(t *testing.T) (*RedisLease, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLease(client, &RedisLeaseConfig{Key: "settlement", Ttl: time.Minute}, zap.NewNop()), mr
}

func Test_SingleFlight(t *testing.T) {
	ctx := context.Background()

	t.Run("Should reject an overlapping acquire", func(t *testing.T) {
		s := NewSingleFlight()

		release, err := s.Acquire(ctx)
		require.Nil(t, err)

		_, err = s.Acquire(ctx)
		assert.ErrorIs(t, err, ErrRunInProgress)

		release()
		release2, err := s.Acquire(ctx)
		require.Nil(t, err)
		release2()
	})
	t.Run("Should ignore a repeated release", func(t *testing.T) {
		s := NewSingleFlight()

		release, err := s.Acquire(ctx)
		require.Nil(t, err)
		release()

		other, err := s.Acquire(ctx)
		require.Nil(t, err)
		release()

		_, err = s.Acquire(ctx)
		assert.ErrorIs(t, err, ErrRunInProgress)
		other()
	})
	t.Run("Should admit exactly one of many concurrent callers", func(t *testing.T) {
		s := NewSingleFlight()
		var acquired atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})

		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := s.Acquire(ctx); err == nil {
					acquired.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), acquired.Load())
	})
}

func Test_RedisLease(t *testing.T) {
	ctx := context.Background()

	t.Run("Should not be acquired twice", func(t *testing.T) {
		lease, mr := setupLease(t)

		release, err := lease.Acquire(ctx)
		require.Nil(t, err)
		assert.True(t, mr.Exists("settlement"))

		_, err = lease.Acquire(ctx)
		assert.ErrorIs(t, err, ErrRunInProgress)

		release()
		assert.False(t, mr.Exists("settlement"))

		release2, err := lease.Acquire(ctx)
		require.Nil(t, err)
		release2()
	})
	t.Run("Should set the configured ttl", func(t *testing.T) {
		lease, mr := setupLease(t)

		release, err := lease.Acquire(ctx)
		require.Nil(t, err)
		defer release()

		assert.Equal(t, time.Minute, mr.TTL("settlement"))
	})
	t.Run("Should not release a lease held under another token", func(t *testing.T) {
		lease, mr := setupLease(t)

		_, err := lease.Acquire(ctx)
		require.Nil(t, err)
		holder, err := mr.Get("settlement")
		require.Nil(t, err)

		released, err := lease.release(ctx, "stale-token")
		require.Nil(t, err)
		assert.False(t, released)

		current, err := mr.Get("settlement")
		require.Nil(t, err)
		assert.Equal(t, holder, current)
	})
	t.Run("Should leave a newer holder alone after expiry", func(t *testing.T) {
		lease, mr := setupLease(t)

		staleRelease, err := lease.Acquire(ctx)
		require.Nil(t, err)

		mr.FastForward(2 * time.Minute)
		assert.False(t, mr.Exists("settlement"))

		freshRelease, err := lease.Acquire(ctx)
		require.Nil(t, err)

		staleRelease()
		assert.True(t, mr.Exists("settlement"))

		freshRelease()
		assert.False(t, mr.Exists("settlement"))
	})
}

func Test_Chain(t *testing.T) {
	ctx := context.Background()

	t.Run("Should release earlier lockers when a later one is busy", func(t *testing.T) {
		local := NewSingleFlight()
		lease, _ := setupLease(t)

		heldRelease, err := lease.Acquire(ctx)
		require.Nil(t, err)

		chain := Chain{local, lease}
		_, err = chain.Acquire(ctx)
		assert.ErrorIs(t, err, ErrRunInProgress)

		localRelease, err := local.Acquire(ctx)
		require.Nil(t, err)
		localRelease()
		heldRelease()

		release, err := chain.Acquire(ctx)
		require.Nil(t, err)
		release()
	})
}
