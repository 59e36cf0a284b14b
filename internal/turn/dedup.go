package turn

import (
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// deduper suppresses near-duplicate transcripts. STT occasionally fires twice
// for one utterance (trailing-silence retriggers, echo of the agent's own
// voice); processing the duplicate would answer the user twice.
//
// A transcript counts as a duplicate when its Jaro-Winkler similarity to the
// last accepted transcript meets the threshold and the last acceptance was
// within the window. Comparison is case- and whitespace-insensitive.
//
// A deduper is owned by one session goroutine and is not safe for concurrent
// use.
type deduper struct {
	threshold float64
	window    time.Duration

	lastText string
	lastAt   time.Time

	now func() time.Time // stubbed in tests
}

func newDeduper(threshold float64, window time.Duration) *deduper {
	return &deduper{
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// isDuplicate reports whether text duplicates the previously accepted
// transcript. On a non-duplicate, text becomes the new fingerprint.
func (d *deduper) isDuplicate(text string) bool {
	norm := normalizeTranscript(text)
	t := d.now()

	if d.lastText != "" && t.Sub(d.lastAt) <= d.window {
		if matchr.JaroWinkler(norm, d.lastText, false) >= d.threshold {
			return true
		}
	}

	d.lastText = norm
	d.lastAt = t
	return false
}

// reset forgets the stored fingerprint.
func (d *deduper) reset() {
	d.lastText = ""
	d.lastAt = time.Time{}
}

// normalizeTranscript lowercases and collapses whitespace so that
// punctuation-level STT jitter does not defeat the similarity check.
func normalizeTranscript(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
