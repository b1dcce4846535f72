package eventbus_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/castvox/pkg/eventbus"
	"github.com/google/go-cmp/cmp"
)

func TestEmit_NoListeners(t *testing.T) {
	t.Parallel()
	b := eventbus.New()
	if b.Emit("nothing", 1) {
		t.Error("Emit returned true with no listeners")
	}
}

func TestEmit_RegistrationOrder(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	var got []string
	b.On("ev", func(any) { got = append(got, "first") })
	b.On("ev", func(any) { got = append(got, "second") })
	b.On("other", func(any) { got = append(got, "other") })
	b.On("ev", func(any) { got = append(got, "third") })

	if !b.Emit("ev", nil) {
		t.Fatal("Emit returned false")
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, got); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestEmit_PassesPayload(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	var got any
	b.On("ev", func(p any) { got = p })
	b.Emit("ev", 42)
	if got != 42 {
		t.Errorf("payload = %v; want 42", got)
	}
}

func TestOnce_FiresOnlyOnce(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	calls := 0
	b.Once("ev", func(any) { calls++ })

	if !b.Emit("ev", nil) {
		t.Error("first Emit returned false")
	}
	if b.Emit("ev", nil) {
		t.Error("second Emit returned true; once handler should be gone")
	}
	if calls != 1 {
		t.Errorf("calls = %d; want 1", calls)
	}
	if n := b.ListenerCount("ev"); n != 0 {
		t.Errorf("ListenerCount = %d; want 0", n)
	}
}

func TestOff_RemovesSpecificHandler(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	var got []string
	subA := b.On("ev", func(any) { got = append(got, "a") })
	b.On("ev", func(any) { got = append(got, "b") })

	if !b.Off(subA) {
		t.Fatal("Off returned false for an active subscription")
	}
	if b.Off(subA) {
		t.Error("second Off returned true")
	}
	b.Emit("ev", nil)
	if diff := cmp.Diff([]string{"b"}, got); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscription_ZeroValue(t *testing.T) {
	t.Parallel()
	var s eventbus.Subscription
	if s.Unsubscribe() {
		t.Error("zero Subscription.Unsubscribe returned true")
	}
}

func TestOff_ForeignSubscription(t *testing.T) {
	t.Parallel()
	a, b := eventbus.New(), eventbus.New()
	sub := a.On("ev", func(any) {})
	if b.Off(sub) {
		t.Error("Off removed a subscription belonging to another bus")
	}
	if a.ListenerCount("ev") != 1 {
		t.Error("listener was removed from the owning bus")
	}
}

func TestEmit_PanicIsolation(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	ran := false
	b.On("ev", func(any) { panic("boom") })
	b.On("ev", func(any) { ran = true })

	if !b.Emit("ev", nil) {
		t.Error("Emit returned false")
	}
	if !ran {
		t.Error("handler after a panicking handler did not run")
	}
}

func TestEmit_HandlerRemovesItself(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	var sub eventbus.Subscription
	calls := 0
	sub = b.On("ev", func(any) {
		calls++
		sub.Unsubscribe()
	})
	second := 0
	b.On("ev", func(any) { second++ })

	b.Emit("ev", nil)
	b.Emit("ev", nil)
	if calls != 1 {
		t.Errorf("self-removing handler ran %d times; want 1", calls)
	}
	if second != 2 {
		t.Errorf("second handler ran %d times; want 2", second)
	}
}

func TestSubscribe_Typed(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	var got string
	eventbus.Subscribe(b, "ev", func(s string) { got = s })

	b.Emit("ev", 123) // wrong type, skipped
	if got != "" {
		t.Errorf("typed handler ran for wrong payload type; got %q", got)
	}
	b.Emit("ev", "hello")
	if got != "hello" {
		t.Errorf("got %q; want hello", got)
	}
}

func TestSubscribeOnce_Typed(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	calls := 0
	eventbus.SubscribeOnce(b, "ev", func(int) { calls++ })
	b.Emit("ev", 1)
	b.Emit("ev", 2)
	if calls != 1 {
		t.Errorf("calls = %d; want 1", calls)
	}
}

func TestRemoveAll(t *testing.T) {
	t.Parallel()
	b := eventbus.New()
	b.On("ev", func(any) {})
	b.On("ev", func(any) {})
	b.RemoveAll("ev")
	if b.ListenerCount("ev") != 0 {
		t.Error("RemoveAll left listeners behind")
	}
}

func TestOnce_ConcurrentEmit(t *testing.T) {
	t.Parallel()
	b := eventbus.New()

	var mu sync.Mutex
	calls := 0
	b.Once("ev", func(any) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit("ev", nil)
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("once handler ran %d times under concurrent Emit; want 1", calls)
	}
}
