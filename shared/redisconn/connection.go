// Package redisconn builds the Redis connection used by the job queue.
package redisconn

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// UnauthenticatedHosts are hosts that always get a password-less connection,
	// whatever Password says.
	UnauthenticatedHosts []string
}

// Connection is the resolved connection descriptor
type Connection struct {
	Addr     string
	Password string
	DB       int
	// PasswordDropped is set when a configured password was ignored because
	// the host is listed as unauthenticated.
	PasswordDropped bool
}

// New resolves cfg into a Connection
func New(cfg Config) Connection {
	conn := Connection{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	if slices.Contains(cfg.UnauthenticatedHosts, cfg.Host) {
		conn.PasswordDropped = conn.Password != ""
		conn.Password = ""
	}

	return conn
}

// Authenticated reports whether the connection sends a password
func (c Connection) Authenticated() bool {
	return c.Password != ""
}

// URL returns the redis:// form of the connection
func (c Connection) URL() string {
	if c.Password != "" {
		return fmt.Sprintf("redis://:%s@%s", c.Password, c.Addr)
	}
	return fmt.Sprintf("redis://%s", c.Addr)
}

// Redacted returns URL with the password masked, safe for logs
func (c Connection) Redacted() string {
	if c.Password != "" {
		return fmt.Sprintf("redis://:****@%s", c.Addr)
	}
	return c.URL()
}

// AsynqOpt returns the asynq client options for this connection
func (c Connection) AsynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
}

// NewClient opens a go-redis client for this connection
func (c Connection) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
}

// Ping checks that Redis answers within timeout
func Ping(ctx context.Context, client *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
