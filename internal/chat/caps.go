package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// CapResult is the outcome of a rate cap lookup.
type CapResult struct {
	Allowed    bool
	RetryAfter time.Duration

	// Degraded is set when Redis was unreachable and the caps failed open.
	Degraded bool
}

// RateCaps meters patient sends with Redis counters: a per-pair daily cap
// and a per-patient burst cap. Lookups fail open on a Redis outage; the
// DB-backed policy checks still gate every send.
type RateCaps struct {
	redis    *redis.Client
	dailyCap int
	burstCap int
	logger   *logging.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewRateCaps(redisClient *redis.Client, dailyCap, burstCap int, logger *logging.Logger) *RateCaps {
	if dailyCap <= 0 {
		dailyCap = 50
	}
	if burstCap <= 0 {
		burstCap = 10
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RateCaps{
		redis:    redisClient,
		dailyCap: dailyCap,
		burstCap: burstCap,
		logger:   logger,
		now:      time.Now,
	}
}

func (c *RateCaps) dailyKey(patientID, clinicianID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("chat:daily:%s:%s:%s", patientID, clinicianID, now.UTC().Format("2006-01-02"))
}

func (c *RateCaps) burstKey(patientID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("chat:burst:%s:%d", patientID, now.Unix()/60)
}

// Check reads the counters without consuming quota.
func (c *RateCaps) Check(ctx context.Context, patientID, clinicianID uuid.UUID) (*CapResult, error) {
	now := c.now()

	daily, err := c.redis.Get(ctx, c.dailyKey(patientID, clinicianID, now)).Int()
	if err != nil && err != redis.Nil {
		c.logger.Error("chat: daily cap lookup failed", "error", err)
		return &CapResult{Allowed: true, Degraded: true}, nil
	}
	if daily >= c.dailyCap {
		midnight := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
		return &CapResult{Allowed: false, RetryAfter: midnight.Sub(now)}, nil
	}

	burst, err := c.redis.Get(ctx, c.burstKey(patientID, now)).Int()
	if err != nil && err != redis.Nil {
		c.logger.Error("chat: burst cap lookup failed", "error", err)
		return &CapResult{Allowed: true, Degraded: true}, nil
	}
	if burst >= c.burstCap {
		nextMinute := time.Unix((now.Unix()/60+1)*60, 0)
		return &CapResult{Allowed: false, RetryAfter: nextMinute.Sub(now)}, nil
	}

	return &CapResult{Allowed: true}, nil
}

// Consume increments both counters. Called only after a send passed policy
// and inserted a new row, so replays and denied sends never burn quota.
func (c *RateCaps) Consume(ctx context.Context, patientID, clinicianID uuid.UUID) {
	now := c.now()

	dailyKey := c.dailyKey(patientID, clinicianID, now)
	if count, err := c.redis.Incr(ctx, dailyKey).Result(); err != nil {
		c.logger.Error("chat: daily cap increment failed", "error", err)
	} else if count == 1 {
		c.redis.Expire(ctx, dailyKey, 25*time.Hour)
	}

	burstKey := c.burstKey(patientID, now)
	if count, err := c.redis.Incr(ctx, burstKey).Result(); err != nil {
		c.logger.Error("chat: burst cap increment failed", "error", err)
	} else if count == 1 {
		c.redis.Expire(ctx, burstKey, 2*time.Minute)
	}
}
