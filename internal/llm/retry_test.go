package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func retryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 1 * time.Millisecond,
		MaxWait:     10 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	mock := NewMockProvider(MockResponse{Text: "ok"})
	p := WithRetry(mock, retryConfig())

	out, err := p.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected output: %s", out)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", mock.CallCount())
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Err: unreachable("test", errors.New("down"))},
		MockResponse{Text: "ok"},
	)
	p := WithRetry(mock, retryConfig())

	out, err := p.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected output: %s", out)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", mock.CallCount())
	}
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Err: unreachable("test", errors.New("down"))},
		MockResponse{Err: unreachable("test", errors.New("down"))},
		MockResponse{Err: unreachable("test", errors.New("down"))},
	)
	p := WithRetry(mock, retryConfig())

	_, err := p.Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if mock.CallCount() != 3 {
		t.Fatalf("expected 3 calls, got %d", mock.CallCount())
	}
}

func TestRetry_EmptyReplyRetriedOnce(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Err: emptyReply("test", "empty")},
		MockResponse{Err: emptyReply("test", "empty")},
		MockResponse{Text: "never reached"},
	)
	p := WithRetry(mock, retryConfig())

	_, err := p.Complete(context.Background(), Request{})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Failure != FailEmptyReply {
		t.Fatalf("expected empty reply error, got %v", err)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("expected 2 calls, got %d", mock.CallCount())
	}
}

func TestRetry_ContextErrorsNotRetried(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Err: context.DeadlineExceeded},
		MockResponse{Text: "never reached"},
	)
	p := WithRetry(mock, retryConfig())

	_, err := p.Complete(context.Background(), Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", mock.CallCount())
	}
}

func TestRetry_RateLimitUsesRetryAfter(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Err: &ProviderError{Provider: "test", Failure: FailRateLimited, Status: 429, RetryAfter: 5 * time.Millisecond}},
		MockResponse{Text: "ok"},
	)
	p := WithRetry(mock, retryConfig())

	start := time.Now()
	if _, err := p.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("expected to wait RetryAfter, waited %s", elapsed)
	}
}

func TestRetry_RejectedNotRetried(t *testing.T) {
	for _, status := range []int{400, 401, 404} {
		mock := NewMockProvider(
			MockResponse{Err: statusError("test", status, errors.New("no"))},
			MockResponse{Text: "never reached"},
		)
		p := WithRetry(mock, retryConfig())

		_, err := p.Complete(context.Background(), Request{})
		var pe *ProviderError
		if !errors.As(err, &pe) || pe.Failure != FailRejected {
			t.Fatalf("status %d: expected rejected error, got %v", status, err)
		}
		if mock.CallCount() != 1 {
			t.Fatalf("status %d: expected 1 call, got %d", status, mock.CallCount())
		}
	}
}

func TestRetry_UnparsableVerdictNotRetried(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Err: ErrUnparsableVerdict},
		MockResponse{Text: "never reached"},
	)
	p := WithRetry(mock, retryConfig())

	if _, err := p.Complete(context.Background(), Request{}); !errors.Is(err, ErrUnparsableVerdict) {
		t.Fatalf("expected ErrUnparsableVerdict, got %v", err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", mock.CallCount())
	}
}

// stallingProvider blocks until its context ends on the first n calls.
type stallingProvider struct {
	stalls int
	calls  int
}

func (s *stallingProvider) Complete(ctx context.Context, _ Request) (string, error) {
	s.calls++
	if s.calls <= s.stalls {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "ok", nil
}

func (s *stallingProvider) ModelID() string { return "stalling" }

func TestRetry_AttemptTimeoutRetriesHungCall(t *testing.T) {
	inner := &stallingProvider{stalls: 1}
	cfg := retryConfig()
	cfg.AttemptTimeout = 10 * time.Millisecond
	p := WithRetry(inner, cfg)

	out, err := p.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" || inner.calls != 2 {
		t.Fatalf("expected ok after 2 calls, got %q after %d", out, inner.calls)
	}
}

func TestRetry_StopsWhenDeadlineBeforeNextWait(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Err: &ProviderError{Provider: "test", Failure: FailRateLimited, RetryAfter: time.Hour}},
		MockResponse{Text: "never reached"},
	)
	p := WithRetry(mock, retryConfig())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	_, err := p.Complete(ctx, Request{})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Failure != FailRateLimited {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("waited past the point of no return: %s", time.Since(start))
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", mock.CallCount())
	}
}

func TestRetryConfigBudget(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, MaxWait: 5 * time.Second, AttemptTimeout: 30 * time.Second}
	if got, want := cfg.Budget(), 90*time.Second+12*time.Second; got != want {
		t.Errorf("Budget() = %s, want %s", got, want)
	}
	if got := (RetryConfig{AttemptTimeout: time.Second}).Budget(); got != time.Second {
		t.Errorf("zero attempts Budget() = %s, want 1s", got)
	}
}

func TestRetry_ZeroAttemptsStillCallsOnce(t *testing.T) {
	mock := NewMockProvider(MockResponse{Text: "ok"})
	p := WithRetry(mock, RetryConfig{})

	if _, err := p.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", mock.CallCount())
	}
}

func TestMockProvider_EmptyQueue(t *testing.T) {
	mock := NewMockProvider()
	_, err := mock.Complete(context.Background(), Request{})
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Failure != FailUnreachable {
		t.Fatalf("expected unreachable error, got %v", err)
	}

	mock.AddResponse(MockResponse{Text: "late"})
	out, err := mock.Complete(context.Background(), Request{})
	if err != nil || out != "late" {
		t.Fatalf("expected queued response, got %q, %v", out, err)
	}
}
