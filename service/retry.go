package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

func newStoreBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// withStoreRetry runs op, retrying only transient storage failures up to
// attempts times. Exhausted retries surface as an unavailable error; business
// errors are returned on first sight.
func withStoreRetry[T any](ctx context.Context, attempts uint, op func() (T, error)) (T, error) {
	if attempts == 0 {
		attempts = 1
	}

	try := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		try++
		res, err := op()
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrTransient) {
			log.WithFields(log.Fields{
				"attempt":     try,
				"maxAttempts": attempts,
			}).WithError(err).Warn("Transient storage failure, retrying")
			return res, err
		}
		return res, backoff.Permanent(err)
	},
		backoff.WithBackOff(newStoreBackOff()),
		backoff.WithMaxTries(attempts),
	)
	if err == nil {
		return result, nil
	}

	if errors.Is(err, ErrTransient) {
		return result, wrapError(KindUnavailable, err, "storage unavailable after %d attempts", try)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return result, wrapError(KindUnavailable, err, "operation aborted")
	}
	return result, err
}

// withStoreRetryErr is withStoreRetry for operations without a result
func withStoreRetryErr(ctx context.Context, attempts uint, op func() error) error {
	_, err := withStoreRetry(ctx, attempts, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
