package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "event:1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.size())
}

func TestKeyedLocker_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewKeyedLocker()
	ctx := context.Background()

	unlock1, err := l.Lock(ctx, "event:1")
	require.NoError(t, err)
	defer unlock1()

	tctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlock2, err := l.Lock(tctx, "event:2")
	require.NoError(t, err)
	unlock2()
}

func TestKeyedLocker_ContextCancelled(t *testing.T) {
	l := NewKeyedLocker()

	unlock, err := l.Lock(context.Background(), "event:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "event:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, l.size())
}

func newTestRedisLocker(t *testing.T, cfg RedisConfig) (*RedisLocker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l := NewRedisLocker(db, cfg, nil)
	l.token = func() string { return "tok" }
	return l, mock
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	l, mock := newTestRedisLocker(t, RedisConfig{TTL: 5 * time.Second})

	mock.ExpectSetNX("lock:event:7", "tok", 5*time.Second).SetVal(true)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"lock:event:7"}, "tok").SetVal(int64(1))

	unlock, err := l.Lock(context.Background(), "event:7")
	require.NoError(t, err)
	unlock()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RetriesWhileHeld(t *testing.T) {
	l, mock := newTestRedisLocker(t, RedisConfig{TTL: time.Second, Wait: time.Minute, Retry: time.Millisecond})

	mock.ExpectSetNX("lock:event:7", "tok", time.Second).SetVal(false)
	mock.ExpectSetNX("lock:event:7", "tok", time.Second).SetVal(true)

	_, err := l.Lock(context.Background(), "event:7")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_GivesUpAfterWait(t *testing.T) {
	l, mock := newTestRedisLocker(t, RedisConfig{TTL: time.Second, Wait: time.Millisecond, Retry: time.Hour})

	mock.ExpectSetNX("lock:event:7", "tok", time.Second).SetVal(false)

	_, err := l.Lock(context.Background(), "event:7")
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RedisError(t *testing.T) {
	l, mock := newTestRedisLocker(t, RedisConfig{})

	mock.ExpectSetNX("lock:event:7", "tok", 10*time.Second).SetErr(errors.New("connection refused"))

	_, err := l.Lock(context.Background(), "event:7")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAcquired)
	assert.Contains(t, err.Error(), "connection refused")
}
