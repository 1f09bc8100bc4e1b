package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard 同一用户同时只允许一个进行中的流式请求
type Guard interface {
	// Acquire 获取用户锁，已被占用时返回 false
	Acquire(ctx context.Context, userID, token string) (bool, error)
	// Release 仅在 token 匹配时释放
	Release(ctx context.Context, userID, token string) error
}

// ============ Redis 实现 ============

var releaseInflightScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

// RedisGuard 多实例共享的进行中标记，TTL 兜底防止进程崩溃后长期占用
type RedisGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisGuard 创建 Redis 用户锁
func NewRedisGuard(client redis.UniversalClient, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func inflightKey(userID string) string {
	return fmt.Sprintf("chatcoin:inflight:%s", userID)
}

func (g *RedisGuard) Acquire(ctx context.Context, userID, token string) (bool, error) {
	ok, err := g.client.SetNX(ctx, inflightKey(userID), token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取用户锁失败: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, userID, token string) error {
	if err := releaseInflightScript.Run(ctx, g.client, []string{inflightKey(userID)}, token).Err(); err != nil {
		return fmt.Errorf("释放用户锁失败: %w", err)
	}
	return nil
}

// ============ 内存实现（单实例或 Redis 不可用时） ============

// MemoryGuard 进程内用户锁
type MemoryGuard struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMemoryGuard 创建进程内用户锁
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{owners: make(map[string]string)}
}

func (g *MemoryGuard) Acquire(_ context.Context, userID, token string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.owners[userID]; busy {
		return false, nil
	}
	g.owners[userID] = token
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, userID, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.owners[userID] == token {
		delete(g.owners, userID)
	}
	return nil
}
