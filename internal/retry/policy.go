// Package retry runs fallible actions under a fixed-attempt, fixed-delay policy.
package retry

import (
	"context"
	"fmt"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// Policy describes how an action is retried. Only errors accepted by
// Retryable are retried; everything else fails fast on the first attempt.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(err error) bool
	// OnRetry, when set, is invoked before each sleep with the attempt that failed.
	OnRetry func(action string, attempt int, err error)
}

// Validate rejects policies that could never run the action.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be > 0")
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must be >= 0")
	}
	return nil
}

func (p Policy) retryable(err error) bool {
	return p.Retryable != nil && p.Retryable(err)
}

// Do executes action until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last action error is returned unchanged; if
// ctx ends while waiting between attempts, the context error is returned.
func Do[T any](
	ctx context.Context,
	policy Policy,
	name string,
	logger *zap.Logger,
	action func(ctx context.Context) (T, error),
) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := max(policy.MaxAttempts, 1)

	return retrygo.DoWithData(
		func() (T, error) { return action(ctx) },
		retrygo.Context(ctx),
		retrygo.Attempts(uint(attempts)),
		retrygo.Delay(max(policy.Delay, 0)),
		retrygo.DelayType(retrygo.FixedDelay),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(policy.retryable),
		retrygo.OnRetry(func(n uint, err error) {
			attempt := int(n) + 1
			// The hook may fire for the final attempt; only report real retries.
			if attempt >= attempts {
				return
			}
			logger.Warn("action failed, retrying",
				zap.String("action", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if policy.OnRetry != nil {
				policy.OnRetry(name, attempt, err)
			}
		}),
	)
}
