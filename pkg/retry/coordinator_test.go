package retry

import (
	"context"
	"testing"
	"time"

	"github.com/agentsnap/persist-core/pkg/persisterr"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	c := NewCoordinator(Options{})
	calls := 0

	got, err := Do(context.Background(), c, "local:save", func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Do() = %q, want %q", got, "ok")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	c := NewCoordinator(Options{BaseInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond})
	attempts := 0

	got, err := Do(context.Background(), c, "s3:load", func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, persisterr.New(persisterr.Transient, "connection reset")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != 42 {
		t.Errorf("Do() = %d, want 42", got)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_NonTransientShortCircuits(t *testing.T) {
	c := NewCoordinator(Options{BaseInterval: time.Millisecond})
	attempts := 0

	_, err := Do(context.Background(), c, "gcs:save", func(ctx context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, persisterr.New(persisterr.Validation, "escaping key")
	})
	if err == nil {
		t.Fatal("Do() with a non-Transient error should fail")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retries for non-Transient errors)", attempts)
	}
	if kind, _ := persisterr.KindOf(err); kind != persisterr.Validation {
		t.Errorf("kind = %v, want %v", kind, persisterr.Validation)
	}
}

func TestDo_OnRetryObservesAttemptAndKind(t *testing.T) {
	c := NewCoordinator(Options{
		BaseInterval: time.Millisecond,
		MaxInterval:  5 * time.Millisecond,
	})
	var seenAttempts []int
	var seenKinds []persisterr.Kind
	var seenLabels []string
	c.opts.OnRetry = func(ctx context.Context, label string, attempt int, err error) {
		seenLabels = append(seenLabels, label)
		seenAttempts = append(seenAttempts, attempt)
		if k, ok := persisterr.KindOf(err); ok {
			seenKinds = append(seenKinds, k)
		}
	}

	attempts := 0
	_, err := Do(context.Background(), c, "local:load", func(ctx context.Context) (struct{}, error) {
		attempts++
		if attempts < 3 {
			return struct{}{}, persisterr.New(persisterr.Transient, "timeout")
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(seenAttempts) != 2 {
		t.Fatalf("OnRetry called %d times, want 2", len(seenAttempts))
	}
	for _, k := range seenKinds {
		if k != persisterr.Transient {
			t.Errorf("observed kind = %v, want %v", k, persisterr.Transient)
		}
	}
	for _, l := range seenLabels {
		if l != "local:load" {
			t.Errorf("observed label = %q, want %q", l, "local:load")
		}
	}
}

func TestDo_BudgetExhaustion(t *testing.T) {
	c := NewCoordinator(Options{
		BaseInterval: time.Millisecond,
		MaxInterval:  2 * time.Millisecond,
		MaxElapsed:   20 * time.Millisecond,
	})
	attempts := 0

	_, err := Do(context.Background(), c, "s3:save", func(ctx context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, persisterr.New(persisterr.Transient, "still failing")
	})
	if err == nil {
		t.Fatal("Do() should fail once the elapsed budget is exhausted")
	}
	if attempts < 2 {
		t.Errorf("attempts = %d, want at least 2 before the budget ran out", attempts)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	c := NewCoordinator(Options{
		BaseInterval: time.Millisecond,
		MaxInterval:  2 * time.Millisecond,
		MaxAttempts:  3,
	})
	attempts := 0

	_, err := Do(context.Background(), c, "gcs:load", func(ctx context.Context) (struct{}, error) {
		attempts++
		return struct{}{}, persisterr.New(persisterr.Transient, "still failing")
	})
	if err == nil {
		t.Fatal("Do() should fail once MaxAttempts is exhausted")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	c := NewCoordinator(Options{BaseInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, c, "local:save", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, persisterr.New(persisterr.Transient, "timeout")
	})
	if err == nil {
		t.Fatal("Do() with a cancelled context should fail")
	}
}
