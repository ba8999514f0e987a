package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/msgvis/msgvis/pkg/config"
)

// connectTimeout bounds dialing and the initial PING.
const connectTimeout = 3 * time.Second

// Connect opens the explorer cache described by cfg and checks that Redis
// answers. A config without a host disables caching: Connect returns nil, nil.
func Connect(ctx context.Context, cfg *config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  connectTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach explorer cache at %s: %w", addr, err)
	}

	return NewRedisCache(client, time.Duration(cfg.TTLSeconds)*time.Second), nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
