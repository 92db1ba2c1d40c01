package stepauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// stepUpLimiter bounds failed verification attempts per identity. It is
// optional hardening: the engine runs without it when no redis client is
// configured, matching the observed product behavior of no throttling.
type stepUpLimiter struct {
	redis       *redis.Client
	maxAttempts int
	cooldown    time.Duration
}

func newStepUpLimiter(client *redis.Client, cfg StepUpConfig) *stepUpLimiter {
	if client == nil || cfg.MaxAttempts <= 0 {
		return nil
	}
	return &stepUpLimiter{
		redis:       client,
		maxAttempts: cfg.MaxAttempts,
		cooldown:    cfg.AttemptCooldown,
	}
}

func (l *stepUpLimiter) key(identityID string) string {
	return "sfa:" + identityID
}

func (l *stepUpLimiter) Check(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(identityID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if count >= int64(l.maxAttempts) {
		return ErrTooManyAttempts
	}
	return nil
}

func (l *stepUpLimiter) RecordFailure(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	count, err := l.redis.Incr(ctx, l.key(identityID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(identityID), l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	if count >= int64(l.maxAttempts) {
		return ErrTooManyAttempts
	}
	return nil
}

func (l *stepUpLimiter) Reset(ctx context.Context, identityID string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(identityID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
