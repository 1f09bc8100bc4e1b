package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedisConfig_Normalized(t *testing.T) {
	t.Run("空配置使用默认值", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "")
		got := RedisConfig{}.Normalized()
		assert.Equal(t, "standalone", got.Mode)
		assert.Equal(t, "localhost:6379", got.Addr())
		assert.Equal(t, 10, got.PoolSize)
		assert.Equal(t, 2, got.MinIdleConns)
	})

	t.Run("REDIS_ADDR 补全主机与端口", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "cache.internal:6380")
		got := RedisConfig{Mode: " Standalone "}.Normalized()
		assert.Equal(t, "standalone", got.Mode)
		assert.Equal(t, "cache.internal:6380", got.Addr())
	})

	t.Run("显式端口优先于 REDIS_ADDR", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "cache.internal:6380")
		got := RedisConfig{Port: 7000}.Normalized()
		assert.Equal(t, "cache.internal:7000", got.Addr())
	})

	t.Run("哨兵地址取自环境变量", func(t *testing.T) {
		t.Setenv("APP_REDIS_SENTINEL_ADDRS", "s1:26379, s2:26379,")
		got := RedisConfig{Mode: "sentinel", MasterName: "mymaster"}.Normalized()
		assert.Equal(t, []string{"s1:26379", "s2:26379"}, got.SentinelAddrs)
	})

	t.Run("已配置的集群地址不被覆盖", func(t *testing.T) {
		t.Setenv("APP_REDIS_CLUSTER_ADDRS", "x:1")
		got := RedisConfig{Mode: "cluster", ClusterAddrs: []string{"c1:7000"}}.Normalized()
		assert.Equal(t, []string{"c1:7000"}, got.ClusterAddrs)
	})
}
