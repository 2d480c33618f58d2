package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock(t *testing.T) {
	t.Run("should serialize holders of the same key", func(t *testing.T) {
		table := New()
		var (
			wg      sync.WaitGroup
			inside  int32
			maxSeen int32
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := table.Lock(context.Background(), "s1")
				if !assert.NoError(t, err) {
					return
				}
				defer unlock()

				n := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxSeen)
					if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxSeen)
		assert.Zero(t, table.Len())
	})

	t.Run("should not block other keys", func(t *testing.T) {
		table := New()
		unlock, err := table.Lock(context.Background(), "s1")
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		other, err := table.Lock(ctx, "s2")
		require.NoError(t, err)
		other()
	})

	t.Run("should give up when the context is done", func(t *testing.T) {
		table := New()
		unlock, err := table.Lock(context.Background(), "s1")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = table.Lock(ctx, "s1")
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, table.Len())

		unlock()
		unlock()
		assert.Zero(t, table.Len())
	})

	t.Run("should try locks", func(t *testing.T) {
		table := New()
		unlock, ok := table.TryLock("s1")
		require.True(t, ok)

		_, ok = table.TryLock("s1")
		assert.False(t, ok)

		unlock()
		again, ok := table.TryLock("s1")
		require.True(t, ok)
		again()
	})
}
