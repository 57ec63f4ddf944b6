package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard 防止全量同步重叠执行
type Guard interface {
	// TryAcquire 获取成功返回 release；已被占用时返回 ok=false
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// Local 进程内互斥
type Local struct {
	mu sync.Mutex
}

// NewLocal 创建进程内互斥
func NewLocal() *Local {
	return &Local{}
}

// TryAcquire 实现 Guard
func (l *Local) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 只续期自己持有的锁
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis 基于 SET NX EX 的跨实例互斥，持有期间按 ttl/3 续期
type Redis struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	renewEvery time.Duration
}

// NewRedis 创建 Redis 互斥；ttl 兜底异常退出的持有者
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, ttl: ttl, renewEvery: ttl / 3}
}

// TryAcquire 实现 Guard
func (r *Redis) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go r.renew(token, stop, stopped)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-stopped
			// 使用独立 context，调用方 context 可能已取消
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, r.client, []string{r.key}, token).Err()
		})
	}
	return release, true, nil
}

// renew 定期延长 TTL，锁已被他人持有时退出
func (r *Redis) renew(token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	if r.renewEvery <= 0 {
		return
	}
	ticker := time.NewTicker(r.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := renewScript.Run(ctx, r.client, []string{r.key}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

// NewRedisClient 解析 REDIS_URL 并检查连接
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
