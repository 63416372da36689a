// Package presence records which users hold at least one live connection.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chathub/pkg/types"
)

// DefaultTTL bounds how long a presence set survives without a refresh,
// so a crashed process does not leave users online forever.
const DefaultTTL = 2 * time.Minute

// Tracker marks connections online and offline
type Tracker interface {
	Online(ctx context.Context, identity types.Identity, connID string) error
	Offline(ctx context.Context, identity types.Identity, connID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Nop is used when no presence backend is configured
type Nop struct{}

func (Nop) Online(context.Context, types.Identity, string) error  { return nil }
func (Nop) Offline(context.Context, types.Identity, string) error { return nil }
func (Nop) IsOnline(context.Context, string) (bool, error)        { return false, nil }

// Config selects the Redis server
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis keeps one set of connection ids per user:
// key chathub:presence:<userId>, members are connection ids, TTL renewed on every change.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings the server
func NewRedis(ctx context.Context, c Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", c.Addr, err)
	}
	return NewRedisWithClient(client, c.TTL), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func presenceKey(userID string) string { return "chathub:presence:" + userID }

// Online adds the connection to the user's set and renews the TTL
func (r *Redis) Online(ctx context.Context, identity types.Identity, connID string) error {
	key := presenceKey(identity.UserID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, connID)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence online %s: %w", identity.UserID, err)
	}
	return nil
}

// Offline removes the connection; an empty set expires with the key
func (r *Redis) Offline(ctx context.Context, identity types.Identity, connID string) error {
	key := presenceKey(identity.UserID)
	if err := r.client.SRem(ctx, key, connID).Err(); err != nil {
		return fmt.Errorf("presence offline %s: %w", identity.UserID, err)
	}
	return nil
}

// IsOnline reports whether the user has any live connection
func (r *Redis) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.SCard(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup %s: %w", userID, err)
	}
	return n > 0, nil
}

// Close releases the client
func (r *Redis) Close() error {
	return r.client.Close()
}
