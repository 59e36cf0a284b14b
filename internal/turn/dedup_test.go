package turn

import (
	"testing"
	"time"
)

// fixedClock returns a controllable now func for deduper tests.
func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	t := start
	return func() time.Time { return t }, func(d time.Duration) { t = t.Add(d) }
}

func TestDeduperExactRepeat(t *testing.T) {
	t.Parallel()

	d := newDeduper(0.92, 2*time.Second)
	d.now, _ = fixedClock(time.Unix(1000, 0))

	if d.isDuplicate("turn on the lights") {
		t.Fatal("first transcript can never be a duplicate")
	}
	if !d.isDuplicate("turn on the lights") {
		t.Fatal("exact repeat within the window must be suppressed")
	}
}

func TestDeduperNearDuplicate(t *testing.T) {
	t.Parallel()

	d := newDeduper(0.92, 2*time.Second)
	d.now, _ = fixedClock(time.Unix(1000, 0))

	d.isDuplicate("Turn on the lights")
	// Case and punctuation jitter from the transcriber.
	if !d.isDuplicate("turn on the lights.") {
		t.Fatal("near-identical transcript must be suppressed")
	}
}

func TestDeduperOutsideWindow(t *testing.T) {
	t.Parallel()

	now, advance := fixedClock(time.Unix(1000, 0))
	d := newDeduper(0.92, 2*time.Second)
	d.now = now

	d.isDuplicate("hello there")
	advance(3 * time.Second)
	if d.isDuplicate("hello there") {
		t.Fatal("repeat outside the window is a legitimate new turn")
	}
}

func TestDeduperDifferentText(t *testing.T) {
	t.Parallel()

	d := newDeduper(0.92, 2*time.Second)
	d.now, _ = fixedClock(time.Unix(1000, 0))

	d.isDuplicate("what time is it")
	if d.isDuplicate("set a timer for five minutes") {
		t.Fatal("unrelated transcript must not be suppressed")
	}
}

func TestDeduperReset(t *testing.T) {
	t.Parallel()

	d := newDeduper(0.92, 2*time.Second)
	d.now, _ = fixedClock(time.Unix(1000, 0))

	d.isDuplicate("hello")
	d.reset()
	if d.isDuplicate("hello") {
		t.Fatal("reset must forget the fingerprint")
	}
}

func TestNormalizeTranscript(t *testing.T) {
	t.Parallel()

	got := normalizeTranscript("  Hello   THERE\n friend ")
	if got != "hello there friend" {
		t.Fatalf("got %q", got)
	}
}
