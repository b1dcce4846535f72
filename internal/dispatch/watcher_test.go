package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "commands.yaml")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	touch(t, path, yamlRules, base)

	var reloads []int
	e := New()
	w := NewWatcher(e, path, WithOnReload(func(n int) { reloads = append(reloads, n) }))
	ctx := context.Background()

	changed, err := w.check(ctx)
	if err != nil || !changed {
		t.Fatalf("initial check = %v, %v; want true, nil", changed, err)
	}
	if e.Len() != 2 {
		t.Fatalf("Len = %d; want 2", e.Len())
	}

	// Same mtime: not re-read.
	changed, err = w.check(ctx)
	if err != nil || changed {
		t.Errorf("unchanged check = %v, %v; want false, nil", changed, err)
	}

	// New mtime, identical content.
	touch(t, path, yamlRules, base.Add(time.Minute))
	changed, err = w.check(ctx)
	if err != nil || changed {
		t.Errorf("touched check = %v, %v; want false, nil", changed, err)
	}

	touch(t, path, jsonRules, base.Add(2*time.Minute))
	changed, err = w.check(ctx)
	if err != nil || !changed {
		t.Fatalf("changed check = %v, %v; want true, nil", changed, err)
	}
	if e.Len() != 3 {
		t.Errorf("Len = %d; want 3", e.Len())
	}

	if len(reloads) != 2 || reloads[0] != 2 || reloads[1] != 3 {
		t.Errorf("onReload calls = %v; want [2 3]", reloads)
	}
}

func TestWatcher_BadEditKeepsTable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "commands.yaml")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	touch(t, path, yamlRules, base)

	e := New()
	w := NewWatcher(e, path)
	ctx := context.Background()
	if _, err := w.check(ctx); err != nil {
		t.Fatalf("initial check: %v", err)
	}

	touch(t, path, "commands:\n  - pattern: '[a-'\n", base.Add(time.Minute))
	if _, err := w.check(ctx); err == nil {
		t.Fatal("check of invalid edit succeeded")
	}
	if e.Len() != 2 {
		t.Errorf("Len = %d; want previous 2", e.Len())
	}

	// A valid edit recovers.
	touch(t, path, jsonRules, base.Add(2*time.Minute))
	if changed, err := w.check(ctx); err != nil || !changed {
		t.Errorf("check after fix = %v, %v", changed, err)
	}
}

func TestWatcher_RunReturnsInitialError(t *testing.T) {
	t.Parallel()
	e := New()
	w := NewWatcher(e, filepath.Join(t.TempDir(), "absent.yaml"), WithInterval(time.Millisecond))
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("Run with missing source returned nil")
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "commands.yaml")
	touch(t, path, yamlRules, time.Now().Add(-time.Hour))

	e := New()
	w := NewWatcher(e, path, WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for e.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if e.Len() != 2 {
		t.Fatalf("Len = %d; want 2", e.Len())
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v; want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
