package resilience

import (
	"errors"
	"testing"
	"time"
)

var errProviderDown = errors.New("provider down")

// testClock returns a breaker clock starting at a fixed instant and a
// function to advance it, so cooldown expiry never depends on real sleeps.
func testClock() (now func() time.Time, advance func(time.Duration)) {
	t := time.Unix(1000, 0)
	return func() time.Time { return t }, func(d time.Duration) { t = t.Add(d) }
}

func tripBreaker(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(func() error { return errProviderDown })
	}
}

func TestBreakerDefaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "whisper"})
	if b.maxFailures != 5 || b.cooldown != 30*time.Second || b.probeBudget != 3 {
		t.Fatalf("defaults = %d/%v/%d, want 5/30s/3",
			b.maxFailures, b.cooldown, b.probeBudget)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("initial state = %v, want closed", b.State())
	}
}

func TestBreakerClosedForwardsCalls(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "whisper", MaxFailures: 3})
	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("closed breaker must forward the call")
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "whisper", MaxFailures: 3, Cooldown: time.Hour})
	tripBreaker(b, 3)

	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	err := b.Execute(func() error {
		t.Fatal("open breaker must not forward calls")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "whisper", MaxFailures: 3})

	// Two failures, a success, two more failures: never reaches the limit.
	tripBreaker(b, 2)
	_ = b.Execute(func() error { return nil })
	tripBreaker(b, 2)

	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "whisper", MaxFailures: 2, Cooldown: time.Minute})
	now, advance := testClock()
	b.now = now

	tripBreaker(b, 2)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	advance(time.Minute)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", b.State())
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		Name: "whisper", MaxFailures: 2, Cooldown: time.Minute, ProbeBudget: 2,
	})
	now, advance := testClock()
	b.now = now

	tripBreaker(b, 2)
	advance(time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: unexpected error: %v", i, err)
		}
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after probes", b.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		Name: "whisper", MaxFailures: 2, Cooldown: time.Minute, ProbeBudget: 3,
	})
	now, advance := testClock()
	b.now = now

	tripBreaker(b, 2)
	advance(time.Minute)

	if err := b.Execute(func() error { return errProviderDown }); err == nil {
		t.Fatal("expected the probe error")
	}
	// The failed probe restarts the cooldown, so the breaker is fully open.
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen after failed probe", err)
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "whisper", MaxFailures: 2, Cooldown: time.Hour})
	tripBreaker(b, 2)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	b.Reset()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestBreakerStateString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("BreakerState(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
