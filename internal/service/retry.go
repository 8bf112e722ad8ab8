package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iliyamo/seat-arbiter/internal/errs"
)

// retryPolicy retries only errors classified as errs.ErrStoreUnavailable.
// Everything else, including lock conflicts and CAS losses, is returned
// on the first attempt.
type retryPolicy struct {
	attempts uint64
	initial  time.Duration
}

func (p retryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initial
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = 0
	var retries uint64
	if p.attempts > 1 {
		retries = p.attempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx)
}

func (p retryPolicy) do(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errs.IsUnavailable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx))
}

func retryValue[T any](ctx context.Context, p retryPolicy, op func() (T, error)) (T, error) {
	var out T
	err := p.do(ctx, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
