package config

import (
	"net"
	"os"
	"strconv"
	"strings"
)

// Normalized 补全 Redis 连接配置
// host 为空时先取 REDIS_ADDR（host:port），再退回 localhost；
// 哨兵与集群地址未配置时读取 APP_REDIS_SENTINEL_ADDRS / APP_REDIS_CLUSTER_ADDRS（逗号分隔）
func (c RedisConfig) Normalized() RedisConfig {
	out := c
	out.Mode = strings.ToLower(strings.TrimSpace(out.Mode))
	if out.Mode == "" {
		out.Mode = "standalone"
	}

	out.Host = strings.TrimSpace(out.Host)
	if out.Host == "" {
		host, port := splitHostPort(os.Getenv("REDIS_ADDR"))
		out.Host = host
		if out.Port == 0 {
			out.Port = port
		}
	}
	if out.Host == "" {
		out.Host = "localhost"
	}
	if out.Port == 0 {
		out.Port = 6379
	}

	switch out.Mode {
	case "sentinel":
		if len(out.SentinelAddrs) == 0 {
			out.SentinelAddrs = splitList(os.Getenv("APP_REDIS_SENTINEL_ADDRS"))
		}
	case "cluster":
		if len(out.ClusterAddrs) == 0 {
			out.ClusterAddrs = splitList(os.Getenv("APP_REDIS_CLUSTER_ADDRS"))
		}
	}

	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns <= 0 {
		out.MinIdleConns = 2
	}
	return out
}

// Addr 单节点地址
func (c RedisConfig) Addr() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func splitHostPort(addr string) (string, int) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
