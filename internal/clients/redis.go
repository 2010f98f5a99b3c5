package clients

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/orchestrator"
)

const redisProbeName = "redis"

// redisPinger is implemented by the real go-redis client wrapper and by
// test doubles.
type redisPinger interface {
	PingResult(ctx context.Context) (string, error)
	Close() error
}

type realRedisPinger struct {
	client *redis.Client
}

func (r *realRedisPinger) PingResult(ctx context.Context) (string, error) {
	return r.client.Ping(ctx).Result()
}

func (r *realRedisPinger) Close() error {
	return r.client.Close()
}

// RedisClient probes the stack's Redis through its published port.
type RedisClient struct {
	opts   *redis.Options
	cb     *gobreaker.CircuitBreaker
	pinger redisPinger
}

// NewRedisClient creates a RedisClient. The go-redis client is built on
// each Probe call and closed afterwards.
func NewRedisClient(s config.StackConfig, cb *gobreaker.CircuitBreaker) *RedisClient {
	return &RedisClient{
		opts: &redis.Options{
			Addr:     net.JoinHostPort(s.Redis.Host, strconv.Itoa(s.Ports.Redis)),
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		},
		cb: cb,
	}
}

// Probe sends PING and expects PONG.
func (c *RedisClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	return guardedProbe(c.cb, redisProbeName, func() error {
		p := c.pinger
		if p == nil {
			p = &realRedisPinger{client: redis.NewClient(c.opts)}
			defer p.Close() //nolint:errcheck
		}

		val, err := p.PingResult(ctx)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if val != "PONG" {
			return fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil
	})
}
