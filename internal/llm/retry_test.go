package llm

import (
	"context"
	"testing"
	"time"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestRetry_SucceedsAfterRetryableErrors(t *testing.T) {
	attempts := 0
	resp, err := Retry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, noSleep, nil, func() (Response, error) {
		attempts++
		if attempts < 3 {
			return Response{}, ErrorFromHTTPStatus("p", 429, "rate limited", nil)
		}
		return Response{Message: Assistant("ok")}, nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if resp.Text() != "ok" {
		t.Fatalf("text: %q", resp.Text())
	}
	if attempts != 3 {
		t.Fatalf("attempts: %d", attempts)
	}
}

func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), DefaultRetryPolicy(), noSleep, nil, func() (Response, error) {
		attempts++
		return Response{}, ErrorFromHTTPStatus("p", 401, "bad key", nil)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts: %d want 1", attempts)
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, noSleep, nil, func() (Response, error) {
		attempts++
		return Response{}, ErrorFromHTTPStatus("p", 503, "down", nil)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 3 { // initial try + 2 retries
		t.Fatalf("attempts: %d want 3", attempts)
	}
}

func TestRetry_HonorsRetryAfter(t *testing.T) {
	ra := 5 * time.Second
	var slept []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	attempts := 0
	_, err := Retry(context.Background(), RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}, sleep, nil, func() (Response, error) {
		attempts++
		if attempts == 1 {
			return Response{}, ErrorFromHTTPStatus("p", 429, "rate limited", &ra)
		}
		return Response{Message: Assistant("ok")}, nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if len(slept) != 1 || slept[0] != ra {
		t.Fatalf("slept %v, want [5s]", slept)
	}
}
