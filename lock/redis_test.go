package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/allocation-engine/core"
)

func newTestRedis(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	opts = append([]RedisOption{WithBackoff(5*time.Millisecond, 3)}, opts...)
	return NewRedis(client, opts...), mr
}

func TestRedis_HeldKeyIsConcurrentModification(t *testing.T) {
	// GIVEN: One holder has the lease on a stock key
	// WHEN: A second caller tries the same key and runs out of retries
	// THEN: The error is ErrConcurrentModification so the ledger can retry

	r, _ := newTestRedis(t)
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "stock:RM1:item")
	require.NoError(t, err)

	_, err = r.Lock(ctx, "stock:RM1:item")
	assert.ErrorIs(t, err, core.ErrConcurrentModification)
	assert.True(t, core.IsRetryable(err))

	other, err := r.Lock(ctx, "stock:RM2:item")
	require.NoError(t, err, "other keys are independent")
	other()

	unlock()
	again, err := r.Lock(ctx, "stock:RM1:item")
	require.NoError(t, err)
	again()
}

func TestRedis_LeaseExpiresWithoutRelease(t *testing.T) {
	r, mr := newTestRedis(t, WithTTL(time.Second))
	ctx := context.Background()

	_, err := r.Lock(ctx, "pool:item")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	unlock, err := r.Lock(ctx, "pool:item")
	require.NoError(t, err)
	unlock()
}

func TestRedis_UsesPrefix(t *testing.T) {
	r, mr := newTestRedis(t, WithPrefix("test:"))

	unlock, err := r.Lock(context.Background(), "stock:E1:item")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:stock:E1:item"))

	unlock()
	assert.False(t, mr.Exists("test:stock:E1:item"))
}
