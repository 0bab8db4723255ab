// Package retry runs remote calls with exponential backoff and serializes
// queued writes behind a single worker.
package retry

import (
	"context"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"

	"github.com/sadopc/blockr/internal/backoff"
)

// Info describes a failed attempt that is about to be retried.
type Info struct {
	Attempt    int
	MaxRetries int
	Delay      time.Duration
	Err        error
}

type Config struct {
	MaxRetries int
	Backoff    backoff.Config
	// RetryIf decides whether an error is transient. Nil means IsRetryable.
	RetryIf func(error) bool
	OnRetry func(Info)
	// Timer overrides the sleep between attempts. Nil uses wall-clock time.
	Timer backoff.Timer
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Backoff:    backoff.DefaultConfig(),
	}
}

// Do calls op until it succeeds, returns an error RetryIf rejects, or has
// been retried MaxRetries times. It invokes op at most MaxRetries+1 times.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	policy := cbackoff.WithContext(
		cbackoff.WithMaxRetries(backoff.NewPolicy(cfg.Backoff, nil), uint64(maxRetries)),
		ctx,
	)

	operation := func() (T, error) {
		v, err := op(ctx)
		if err != nil && !retryIf(err) {
			return v, cbackoff.Permanent(err)
		}
		return v, err
	}

	attempt := 0
	notify := func(err error, d time.Duration) {
		attempt++
		if cfg.OnRetry != nil {
			cfg.OnRetry(Info{Attempt: attempt, MaxRetries: maxRetries, Delay: d, Err: err})
		}
	}

	return cbackoff.RetryNotifyWithTimerAndData(operation, policy, notify, cfg.Timer)
}

// Run is Do for operations without a result.
func Run(ctx context.Context, cfg Config, op func(context.Context) error) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
