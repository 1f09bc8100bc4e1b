package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"chatcoin/internal/config"

	"github.com/gin-gonic/gin"
)

// bucket 单个用户的令牌桶
type bucket struct {
	tokens      float64
	lastUpdate  time.Time
	requests    int     // 当前分钟窗口内的请求数
	windowStart time.Time
}

// RateLimiter 按用户限制发起对话的频率（令牌桶 + 分钟窗口）
type RateLimiter struct {
	cfg     config.RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
	stopCh  chan struct{}
}

// NewRateLimiter 创建限流器并启动过期清理
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	rl := &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanup(5 * time.Minute)
	return rl
}

// Allow 消耗一个令牌，不足时返回 false
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.cfg.Burst), lastUpdate: now, windowStart: now}
		rl.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastUpdate).Seconds() * rl.cfg.RequestsPerSecond
	if b.tokens > float64(rl.cfg.Burst) {
		b.tokens = float64(rl.cfg.Burst)
	}
	b.lastUpdate = now

	if now.Sub(b.windowStart) >= time.Minute {
		b.requests = 0
		b.windowStart = now
	}
	if rl.cfg.RequestsPerMinute > 0 && b.requests >= rl.cfg.RequestsPerMinute {
		return false
	}
	if b.tokens < 1 {
		return false
	}

	b.tokens--
	b.requests++
	return true
}

func (rl *RateLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, b := range rl.buckets {
				if now.Sub(b.lastUpdate) > 10*time.Minute {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop 停止清理协程
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// RateLimitMiddleware 限流中间件，优先按用户，其次按 IP
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString("user_id")
		if key == "" {
			key = c.ClientIP()
		}

		if !limiter.Allow(key) {
			c.Header("Retry-After", strconv.Itoa(1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"code":    "RATE_LIMIT_EXCEEDED",
				"message": "请求过于频繁，请稍后重试",
			})
			return
		}

		c.Next()
	}
}
