package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFallbackGroup_PrimaryFirst(t *testing.T) {
	fg := NewFallbackGroup("a", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "b")

	var tried []string
	err := fg.Execute(context.Background(), func(_ context.Context, v string) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tried) != 1 || tried[0] != "a" {
		t.Errorf("tried = %v, want [a]", tried)
	}
	if names := fg.Names(); len(names) != 2 || names[1] != "secondary" {
		t.Errorf("Names = %v", names)
	}
}

func TestFallbackGroup_FailsOver(t *testing.T) {
	fg := NewFallbackGroup("a", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "b")

	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, v string) (string, error) {
		if v == "a" {
			return "", errTest
		}
		return "ok from " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok from b" {
		t.Errorf("result = %q", got)
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{})
	fg.AddFallback("two", 2)

	err := fg.Execute(context.Background(), func(context.Context, int) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err should wrap the provider errors: %v", err)
	}
	if !strings.Contains(err.Error(), "one:") || !strings.Contains(err.Error(), "two:") {
		t.Errorf("err should name each provider: %v", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup("a", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fg.AddFallback("secondary", "b")
	ctx := context.Background()

	calls := map[string]int{}
	fn := func(_ context.Context, v string) error {
		calls[v]++
		if v == "a" {
			return errTest
		}
		return nil
	}
	_ = fg.Execute(ctx, fn)
	_ = fg.Execute(ctx, fn)

	if calls["a"] != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should open)", calls["a"])
	}
	if calls["b"] != 2 {
		t.Errorf("secondary called %d times, want 2", calls["b"])
	}
	if st := fg.States()["primary"]; st != StateOpen {
		t.Errorf("primary state = %v, want open", st)
	}
}

func TestFallbackGroup_CancelStopsWalk(t *testing.T) {
	fg := NewFallbackGroup("a", "primary", FallbackConfig{})
	fg.AddFallback("secondary", "b")
	ctx, cancel := context.WithCancel(context.Background())

	var tried []string
	err := fg.Execute(ctx, func(ctx context.Context, v string) error {
		tried = append(tried, v)
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
}
