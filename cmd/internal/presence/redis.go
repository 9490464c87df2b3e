// Package presence mirrors who is online into Redis so other services can read it.
// The relay itself never reads it back; fan-out stays in-process.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the hash that maps user id -> live connection id.
const DefaultKey = "relay:presence"

// Offline removes the entry only when it still belongs to the disconnecting
// connection, so a late disconnect of a replaced connection cannot erase the newer one.
var offlineScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
  return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

// Redis writes presence transitions to a Redis hash.
type Redis struct {
	rdb *redis.Client
	key string
}

// Options configures NewRedis.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	if opts.Addr == "" {
		return nil, errors.New("presence: redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewRedisWithClient(rdb, opts.Key), nil
}

// NewRedisWithClient wraps an existing client. An empty key selects DefaultKey.
func NewRedisWithClient(rdb *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{rdb: rdb, key: key}
}

// Online records connID as the live connection of userID.
func (r *Redis) Online(ctx context.Context, userID, connID string) error {
	return r.rdb.HSet(ctx, r.key, userID, connID).Err()
}

// Offline clears userID if connID is still its recorded connection.
func (r *Redis) Offline(ctx context.Context, userID, connID string) error {
	return offlineScript.Run(ctx, r.rdb, []string{r.key}, userID, connID).Err()
}

// Count returns the number of users currently marked online.
func (r *Redis) Count(ctx context.Context) (int64, error) {
	return r.rdb.HLen(ctx, r.key).Result()
}

// ConnectionOf returns the recorded connection id of userID, or "" when offline.
func (r *Redis) ConnectionOf(ctx context.Context, userID string) (string, error) {
	v, err := r.rdb.HGet(ctx, r.key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
