package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis runs the guard against an in-memory Redis.
func setupTestRedis(t *testing.T) (*Guard, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewGuard(client, time.Minute), mr
}

func TestAcquire_FirstClaimWins(t *testing.T) {
	guard, _ := setupTestRedis(t)
	ctx := context.Background()

	stored, err := guard.Acquire(ctx, "buy", "key-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	_, err = guard.Acquire(ctx, "buy", "key-1")
	assert.ErrorIs(t, err, ErrInProgress)

	stored, err = guard.Acquire(ctx, "purchase", "key-1")
	require.NoError(t, err, "scopes are independent")
	assert.Nil(t, stored)
}

func TestComplete_ReplaysResponse(t *testing.T) {
	guard, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := guard.Acquire(ctx, "buy", "key-2")
	require.NoError(t, err)

	body := json.RawMessage(`{"success":true}`)
	require.NoError(t, guard.Complete(ctx, "buy", "key-2", StoredResponse{Status: 201, Body: body}))

	stored, err := guard.Acquire(ctx, "buy", "key-2")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 201, stored.Status)
	assert.JSONEq(t, string(body), string(stored.Body))

	require.NoError(t, guard.Release(ctx, "buy", "key-2"))
	stored, err = guard.Acquire(ctx, "buy", "key-2")
	require.NoError(t, err)
	assert.NotNil(t, stored, "release keeps completed responses")
}

func TestRelease_AllowsRetry(t *testing.T) {
	guard, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := guard.Acquire(ctx, "buy", "key-3")
	require.NoError(t, err)
	require.NoError(t, guard.Release(ctx, "buy", "key-3"))

	stored, err := guard.Acquire(ctx, "buy", "key-3")
	require.NoError(t, err)
	assert.Nil(t, stored)

	require.NoError(t, guard.Release(ctx, "buy", "missing"))
}

func TestAcquire_ExpiresWithTTL(t *testing.T) {
	guard, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := guard.Acquire(ctx, "buy", "key-4")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	stored, err := guard.Acquire(ctx, "buy", "key-4")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestAcquire_ConcurrentClaimsOnlyOneWins(t *testing.T) {
	guard, _ := setupTestRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, err := guard.Acquire(ctx, "buy", "race")
			if err == nil && stored == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
