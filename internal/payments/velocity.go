package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"github.com/medpoint/telecare-platform/pkg/logging"
)

// VelocityChecker rate limits checkout attempts for fraud prevention.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

// VelocityConfig contains velocity check configuration.
type VelocityConfig struct {
	// Max checkout attempts per patient per window
	MaxCheckoutsPerPatient int
	CheckoutWindowHours    int

	EnableCheckoutCheck bool
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{
		MaxCheckoutsPerPatient: 5,
		CheckoutWindowHours:    24,
		EnableCheckoutCheck:    true,
	}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// NewVelocityChecker creates a new velocity checker.
func NewVelocityChecker(redisClient *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	return &VelocityChecker{
		redis:  redisClient,
		logger: logger,
		config: config,
	}
}

// CheckCheckoutVelocity checks if the patient may start another checkout.
func (v *VelocityChecker) CheckCheckoutVelocity(ctx context.Context, patientID uuid.UUID) (*VelocityResult, error) {
	ctx, span := checkoutTracer.Start(ctx, "velocity.check_checkout")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.patient_id", patientID.String()),
	)

	if !v.config.EnableCheckoutCheck {
		return &VelocityResult{Allowed: true}, nil
	}

	key := fmt.Sprintf("velocity:checkout:%s", patientID)
	windowDuration := time.Duration(v.config.CheckoutWindowHours) * time.Hour

	count, expiry, err := v.incrementAndGet(ctx, key, windowDuration)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		// Fail open - allow the checkout if Redis is down
		return &VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}

	result := &VelocityResult{
		Allowed:      count <= v.config.MaxCheckoutsPerPatient,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxCheckoutsPerPatient,
		WindowExpiry: expiry,
	}

	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d checkout attempts in %d hours", v.config.MaxCheckoutsPerPatient, v.config.CheckoutWindowHours)
		v.logger.Warn("checkout velocity exceeded",
			"patient_id", patientID,
			"count", count,
			"max", v.config.MaxCheckoutsPerPatient,
		)
		span.SetAttributes(attribute.Bool("velocity.exceeded", true))
	}

	return result, nil
}

// incrementAndGet increments a counter and returns the new value with expiry time.
func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	// Set expiry only on first increment
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}

	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil {
		ttl = window
	}

	return int(count), time.Now().Add(ttl), nil
}

// ResetCheckoutVelocity resets the checkout counter for a patient (admin use).
func (v *VelocityChecker) ResetCheckoutVelocity(ctx context.Context, patientID uuid.UUID) error {
	return v.redis.Del(ctx, fmt.Sprintf("velocity:checkout:%s", patientID)).Err()
}
