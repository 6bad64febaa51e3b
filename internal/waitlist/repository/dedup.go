package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const emailKeyPrefix = "waitlist:email:" // waitlist:email:{email}

// DedupGuard remembers recently seen emails so the same address is not
// appended to the sheet twice.
type DedupGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupGuard(client *redis.Client, ttl time.Duration) *DedupGuard {
	return &DedupGuard{client: client, ttl: ttl}
}

// Reserve claims email. It returns false if the email was already claimed.
func (g *DedupGuard) Reserve(ctx context.Context, email string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(email), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve email: %w", err)
	}
	return ok, nil
}

// Release drops a claim, used when the signup could not be stored.
func (g *DedupGuard) Release(ctx context.Context, email string) error {
	if err := g.client.Del(ctx, g.key(email)).Err(); err != nil {
		return fmt.Errorf("failed to release email: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (g *DedupGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *DedupGuard) key(email string) string {
	return emailKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}
