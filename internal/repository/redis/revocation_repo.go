package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationRepository reads the token blacklist written by the auth service
type RevocationRepository struct {
	client *redis.Client
}

// NewRevocationRepository creates a new RevocationRepository
func NewRevocationRepository(client *redis.Client) *RevocationRepository {
	return &RevocationRepository{client: client}
}

// IsRevoked reports whether the token with the given jti is blacklisted
func (r *RevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	exists, err := r.client.Exists(ctx, fmt.Sprintf("blacklist:%s", jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return exists > 0, nil
}

// Revoke blacklists jti for ttl. Used by tests and admin tooling.
func (r *RevocationRepository) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if err := r.client.Set(ctx, fmt.Sprintf("blacklist:%s", jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}
