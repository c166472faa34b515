package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   15 * time.Second,
		Jitter:     true,
	}
}

// SleepFunc lets tests replace the real backoff sleep.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry invokes fn until it succeeds, returns a non-retryable error, or the
// policy's attempt budget runs out. A provider-supplied Retry-After takes
// precedence over the computed backoff delay.
func Retry(ctx context.Context, policy RetryPolicy, sleep SleepFunc, onRetry func(attempt int, err error), fn func() (Response, error)) (Response, error) {
	if sleep == nil {
		sleep = defaultSleep
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var le Error
		if !errors.As(err, &le) || !le.Retryable() {
			return Response{}, err
		}
		if attempt >= policy.MaxRetries {
			return Response{}, err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		delay := backoffDelay(policy, attempt)
		if ra := le.RetryAfter(); ra != nil && *ra > 0 {
			delay = *ra
		}
		if serr := sleep(ctx, delay); serr != nil {
			return Response{}, lastErr
		}
	}
}

func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	d := policy.BaseDelay << uint(attempt)
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d <= 0 {
		d = policy.BaseDelay
	}
	if policy.Jitter {
		// Full jitter: anywhere in (0, d].
		d = time.Duration(rand.Int63n(int64(d)) + 1)
	}
	return d
}
