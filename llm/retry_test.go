package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), DefaultRetryPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         0.001,
		MaxDelay:          0.01,
		BackoffMultiplier: 2.0,
	}
	calls := 0
	result, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls < 4 {
			return 0, &ServerError{ProviderError: ProviderError{
				ClientError: ClientError{Message: "transient"},
				Retryable:   true,
			}}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (initial + 3 retries)", calls)
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         0.001,
		MaxDelay:          0.01,
		BackoffMultiplier: 2.0,
	}
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, &ConnectionError{ClientError: ClientError{Message: "refused"}}
	})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("err = %T, want *ConnectionError", err)
	}
}

func TestRetryDoesNotRetryNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), DefaultRetryPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, &AuthenticationError{ProviderError: ProviderError{
			ClientError: ClientError{Message: "bad key"},
			StatusCode:  401,
		}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryOnRetryHook(t *testing.T) {
	var attempts []int
	var delays []time.Duration
	policy := RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         0.001,
		MaxDelay:          0.01,
		BackoffMultiplier: 2.0,
		OnRetry: func(err error, attempt int, delay time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		},
	}
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &ServerError{ProviderError: ProviderError{
				ClientError: ClientError{Message: "500"},
				Retryable:   true,
			}}
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("OnRetry called %d times, want 2", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("attempts = %v, want [1 2]", attempts)
	}
	for i, d := range delays {
		if d <= 0 {
			t.Errorf("delay[%d] = %v, want positive", i, d)
		}
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	retryAfter := 0.002
	policy := RetryPolicy{
		MaxRetries:        1,
		BaseDelay:         10.0, // would be far too slow without Retry-After
		MaxDelay:          30.0,
		BackoffMultiplier: 2.0,
	}
	calls := 0
	start := time.Now()
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &RateLimitError{ProviderError: ProviderError{
				ClientError: ClientError{Message: "429"},
				StatusCode:  429,
				Retryable:   true,
				RetryAfter:  &retryAfter,
			}}
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry took %v, Retry-After hint was not honored", elapsed)
	}
}

func TestRetryFailsFastWhenRetryAfterExceedsMax(t *testing.T) {
	retryAfter := 120.0
	policy := RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         0.001,
		MaxDelay:          30.0,
		BackoffMultiplier: 2.0,
	}
	calls := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, &RateLimitError{ProviderError: ProviderError{
			ClientError: ClientError{Message: "429"},
			StatusCode:  429,
			Retryable:   true,
			RetryAfter:  &retryAfter,
		}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (fail fast on oversized Retry-After)", calls)
	}
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{
		MaxRetries:        3,
		BaseDelay:         1.0,
		MaxDelay:          30.0,
		BackoffMultiplier: 2.0,
	}
	calls := 0
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = Retry(ctx, policy, func(ctx context.Context) (int, error) {
			calls++
			return 0, &ServerError{ProviderError: ProviderError{
				ClientError: ClientError{Message: "500"},
				Retryable:   true,
			}}
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	if err == nil {
		t.Fatal("expected error")
	}
	var abortErr *AbortError
	if !errors.As(err, &abortErr) {
		t.Errorf("err = %T, want *AbortError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDelayBackoffGrowth(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         1.0,
		MaxDelay:          30.0,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := policy.Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
	// Capped at MaxDelay.
	if got := policy.Delay(10); got != 30*time.Second {
		t.Errorf("Delay(10) = %v, want 30s", got)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         2.0,
		MaxDelay:          30.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	for i := 0; i < 100; i++ {
		d := policy.Delay(0)
		if d < 1*time.Second || d >= 3*time.Second {
			t.Fatalf("jittered delay %v outside [1s, 3s)", d)
		}
	}
}
