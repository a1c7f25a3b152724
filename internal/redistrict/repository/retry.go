package repository

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	log "github.com/sirupsen/logrus"

	"github.com/giants/redistrict/internal/common/redistricterrors"
)

// RetryPolicy controls how often a failed write is attempted again.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

// WithRetry runs op until it succeeds, attempts run out or ctx is done. Only persistence failures are retried;
// not-found and stale-status answers are returned straight away. The error of the last attempt is returned.
func WithRetry(ctx context.Context, policy RetryPolicy, operation string, op func() error) error {
	attempts := policy.Attempts
	if attempts == 0 {
		attempts = 1
	}
	var lastErr error
	err := retry.Do(
		func() error {
			lastErr = op()
			return lastErr
		},
		retry.Attempts(attempts),
		retry.Delay(policy.Delay),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && redistricterrors.IsPersistence(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("%s failed on attempt %d; retrying", operation, n+1)
		}),
	)
	if err != nil {
		return lastErr
	}
	return nil
}
