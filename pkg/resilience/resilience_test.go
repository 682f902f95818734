package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/barrel-search/pkg/errors"
)

var errBoom = errors.New("boom")

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 4, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("Retry() = %v after %d calls, want nil after 3", err, calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) || calls != 3 {
		t.Fatalf("Retry() = %v after %d calls", err, calls)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, "op", RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errBoom
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("Retry() = %v after %d calls, want Canceled after 1", err, calls)
	}
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     20 * time.Millisecond,
		OnStateChange:    func(_ string, to State) { transitions = append(transitions, to) },
	})
	fail := func() error { return errBoom }
	ok := func() error { return nil }

	cb.Execute(fail)
	cb.Execute(fail)
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
	if err := cb.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute() while open = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(30 * time.Millisecond)
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("half-open trial = %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.GetState())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("reset", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	cb.Execute(func() error { return errBoom })
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
	cb.Reset()
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute() after Reset = %v", err)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return Permanent(errBoom)
	})
	if !errors.Is(err, errBoom) || calls != 1 {
		t.Fatalf("Retry() = %v after %d calls, want %v after 1", err, calls, errBoom)
	}
	if IsPermanent(err) {
		t.Error("Retry() should unwrap the permanent marker")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) != nil")
	}
}

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		fn      func(ctx context.Context) error
		check   func(error) bool
	}{
		{
			name:    "deadline becomes ErrTimeout",
			timeout: 10 * time.Millisecond,
			fn: func(ctx context.Context) error {
				<-ctx.Done()
				return fmt.Errorf("loading: %w", ctx.Err())
			},
			check: func(err error) bool {
				return errors.Is(err, apperrors.ErrTimeout) && apperrors.HTTPStatusCode(err) == http.StatusServiceUnavailable
			},
		},
		{
			name:    "other errors pass through",
			timeout: time.Second,
			fn:      func(context.Context) error { return errBoom },
			check:   func(err error) bool { return errors.Is(err, errBoom) },
		},
		{
			name:    "zero timeout leaves ctx without deadline",
			timeout: 0,
			fn: func(ctx context.Context) error {
				if _, ok := ctx.Deadline(); ok {
					return errBoom
				}
				return nil
			},
			check: func(err error) bool { return err == nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := WithTimeout(context.Background(), tt.timeout, "fetch", tt.fn); !tt.check(err) {
				t.Errorf("WithTimeout() = %v", err)
			}
		})
	}
}

func TestWithTimeout_ParentCancelIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, time.Second, "fetch", func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) || errors.Is(err, apperrors.ErrTimeout) {
		t.Errorf("WithTimeout() = %v, want context.Canceled", err)
	}
}
