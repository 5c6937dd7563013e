// Package dedupe remembers which inbound message IDs have already been accepted.
package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const (
	DefaultPrefix = "docfetch:seen:"
	DefaultTTL    = 72 * time.Hour
)

// Store claims message IDs. Claim returns false when the ID was seen within the TTL.
type Store interface {
	Claim(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

// Redis claims IDs with SET NX and a TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "invalid redis url")
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "redis connection failed")
	}
	return client, nil
}

func (r *Redis) Claim(ctx context.Context, messageID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(messageID), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, eris.Wrap(err, "claim message id")
	}
	return ok, nil
}

// Release forgets a claim so a redelivered webhook call is accepted again.
func (r *Redis) Release(ctx context.Context, messageID string) error {
	if err := r.client.Del(ctx, r.key(messageID)).Err(); err != nil {
		return eris.Wrap(err, "release message id")
	}
	return nil
}

// Message IDs are hashed so arbitrary header values produce bounded keys.
func (r *Redis) key(messageID string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(messageID)))
	return r.prefix + hex.EncodeToString(sum[:16])
}

// Disabled accepts every message.
type Disabled struct{}

func (Disabled) Claim(context.Context, string) (bool, error) { return true, nil }

func (Disabled) Release(context.Context, string) error { return nil }
