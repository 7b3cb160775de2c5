package ratelimit

import (
	"context"
	"fmt"

	"github.com/learnitin/api/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyVerifyUser = "subscription:verify:user:%d"

// VerifyLimiter throttles per-user calls that reach the Play Developer API.
// A nil limiter allows everything.
type VerifyLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewVerifyLimiter(cfg config.Config, client *redis.Client) *VerifyLimiter {
	limitCfg := cfg.RateLimit
	if client == nil || limitCfg.VerifyRate <= 0 || limitCfg.VerifyBurst <= 0 {
		return nil
	}
	return &VerifyLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.VerifyRate,
		burst:  limitCfg.VerifyBurst,
	}
}

func (l *VerifyLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *VerifyLimiter) AllowUser(ctx context.Context, userID int64) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyVerifyUser, userID), l.rate, l.burst)
}
