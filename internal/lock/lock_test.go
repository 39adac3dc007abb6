package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rpg-novel-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_Serializes(t *testing.T) {
	l := NewLocalLocker(0)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		active  int32
		maxSeen int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "story-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
	assert.Empty(t, l.entries)
}

func TestLocalLocker_Busy(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "story-1")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "story-1")
	assert.ErrorIs(t, err, models.ErrStoryBusy)

	// Другая история не блокируется
	unlockOther, err := l.Lock(ctx, "story-2")
	require.NoError(t, err)
	unlockOther()

	unlock()
	// Повторный вызов unlock безопасен
	unlock()

	unlock, err = l.Lock(ctx, "story-1")
	require.NoError(t, err)
	unlock()
	assert.Empty(t, l.entries)
}

func TestLocalLocker_ContextCanceled(t *testing.T) {
	l := NewLocalLocker(0)
	unlock, err := l.Lock(context.Background(), "story-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Lock(ctx, "story-1")
	assert.ErrorIs(t, err, models.ErrStoryBusy)
}
