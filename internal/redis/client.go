// Package redis backs submission idempotency, checkout locks and request
// rate limiting with Redis.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces keys when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "necrologia"

type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// ClientName shows up in CLIENT LIST.
	ClientName string
	// KeyPrefix lets several deployments share one Redis database.
	KeyPrefix string
	// OpTimeout bounds dials, reads and writes. Zero selects 3s.
	OpTimeout time.Duration
}

func (c Config) options() *redis.Options {
	timeout := c.OpTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &redis.Options{
		Addr:         net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Password:     c.Password,
		DB:           c.DB,
		ClientName:   c.ClientName,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  timeout + time.Second,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

// Client is the shared connection plus the key namespace every service in
// this package writes under.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// New connects and pings once; callers treat an error as "run without
// Redis".
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	opts := cfg.options()
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	c := Wrap(rdb, cfg.KeyPrefix, logger)
	logger.Info("redis connection established",
		zap.String("addr", opts.Addr),
		zap.Int("db", cfg.DB),
		zap.String("key_prefix", c.prefix),
	)
	return c, nil
}

// Wrap adopts an existing go-redis client.
func Wrap(rdb *redis.Client, prefix string, logger *zap.Logger) *Client {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Client{rdb: rdb, prefix: prefix, logger: logger}
}

// key joins parts under the client's namespace: "<prefix>:a:b".
func (c *Client) key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
