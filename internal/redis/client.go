package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/bootgate/internal/probe"
)

// Options defines the Redis client settings. Retrying is the gate's job, so
// there is no connect loop here.
type Options struct {
	Addr         string        // Redis address (ex: "localhost:6379")
	User         string        // Optional username
	Password     string        // Optional password
	DB           int           // Redis DB number
	DialTimeout  time.Duration // Redis dial timeout
	ReadTimeout  time.Duration // Redis read timeout
	WriteTimeout time.Duration // Redis write timeout
	PoolSize     int           // Redis connection pool size
}

// Validate ensures all required configuration values are valid.
func (o Options) Validate() error {
	if o.Addr == "" {
		return errors.New("redis address must not be empty")
	}
	if o.DialTimeout < 0 || o.ReadTimeout < 0 || o.WriteTimeout < 0 {
		return fmt.Errorf("redis timeouts must be >= 0")
	}
	if o.PoolSize < 0 {
		return fmt.Errorf("PoolSize must be >= 0, got %d", o.PoolSize)
	}
	return nil
}

// New builds a lazily connecting client. No round trip is made.
func New(opts Options) (*redis.Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.User,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		MaxRetries:   -1, // one round trip per probe
	}), nil
}

// Checker probes Redis with PING.
type Checker struct {
	client redis.UniversalClient
}

// NewChecker wraps an existing client.
func NewChecker(client redis.UniversalClient) *Checker {
	return &Checker{client: client}
}

// Check returns nil on PONG. A server that is still loading its dataset or
// lost its master answers but cannot serve, which is reported as not ready.
func (c *Checker) Check(ctx context.Context) error {
	err := c.client.Ping(ctx).Err()
	if err == nil {
		return nil
	}
	if isWarmingUp(err) {
		return fmt.Errorf("%w: %v", probe.ErrNotReady, err)
	}
	return fmt.Errorf("redis ping failed: %w", err)
}

func isWarmingUp(err error) bool {
	var redisErr redis.Error
	if !errors.As(err, &redisErr) {
		return false
	}
	msg := redisErr.Error()
	return strings.HasPrefix(msg, "LOADING") ||
		strings.HasPrefix(msg, "MASTERDOWN") ||
		strings.HasPrefix(msg, "BUSY")
}
