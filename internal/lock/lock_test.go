package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_TryAcquire(t *testing.T) {
	l := NewLocal()
	release, ok, err := l.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	_, ok, _ = l.TryAcquire(context.Background())
	assert.True(t, ok)
}

func setupRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedis_TryAcquireAndRelease(t *testing.T) {
	client, mr := setupRedis(t)
	g := NewRedis(client, "sync:all", time.Minute)
	ctx := context.Background()

	release, ok, err := g.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("sync:all"))

	_, ok, err = g.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists("sync:all"))
}

func TestRedis_ExpiredLockCanBeRetaken(t *testing.T) {
	client, mr := setupRedis(t)
	g := NewRedis(client, "sync:all", time.Minute)
	ctx := context.Background()

	staleRelease, ok, err := g.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok, err = g.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// 过期持有者的 release 不能删除新锁
	staleRelease()
	assert.True(t, mr.Exists("sync:all"))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	_, err = NewRedisClient(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestRedis_RenewsWhileHeld(t *testing.T) {
	client, mr := setupRedis(t)
	g := NewRedis(client, "sync:all", time.Minute)
	g.renewEvery = 10 * time.Millisecond

	release, ok, err := g.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// 模拟长时间运行：剩余 TTL 被消耗后应被续回完整 TTL
	mr.FastForward(50 * time.Second)
	assert.Eventually(t, func() bool {
		return mr.TTL("sync:all") > 30*time.Second
	}, time.Second, 5*time.Millisecond)

	release()
	assert.False(t, mr.Exists("sync:all"))
	release()
}

func TestRedis_RenewStopsWhenLockLost(t *testing.T) {
	client, mr := setupRedis(t)
	g := NewRedis(client, "sync:all", time.Minute)
	g.renewEvery = 10 * time.Millisecond

	release, ok, err := g.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	require.NoError(t, mr.Set("sync:all", "someone-else"))
	mr.SetTTL("sync:all", 5*time.Second)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 5*time.Second, mr.TTL("sync:all"))
	got, _ := mr.Get("sync:all")
	assert.Equal(t, "someone-else", got)
}
