// Package playback turns a generated reply into interruptible speech.
//
// A reply is split into sentence-sized chunks which are synthesized one at a
// time and emitted to the session's [audio.Sink] in millisecond-scale
// sub-frames. Cancellation is checked before each synthesis call, after each
// synthesis returns, and before every sub-frame emission, so the worst-case
// reaction time to a barge-in is one sub-frame plus one sink write — not the
// length of the remaining reply.
package playback

import (
	"strings"
	"unicode/utf8"
)

// sentence terminators recognised by the chunker, covering Latin and CJK
// punctuation.
const terminators = ".!?。！？"

// Chunks splits text into sentence-sized synthesis chunks. A chunk ends at a
// sentence terminator (which stays attached) or a newline. Fragments shorter
// than minRunes are merged into the following chunk so the synthesizer is not
// fed one-word requests like "Dr." or "Oh."; a short trailing fragment is
// merged into the previous chunk instead.
//
// Whitespace-only input yields no chunks.
func Chunks(text string, minRunes int) []string {
	var (
		chunks  []string
		pending string // undersized fragment waiting to merge forward
		current strings.Builder
	)

	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s == "" {
			return
		}
		if pending != "" {
			s = pending + " " + s
			pending = ""
		}
		if utf8.RuneCountInString(s) < minRunes {
			pending = s
			return
		}
		chunks = append(chunks, s)
	}

	for _, r := range text {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		if strings.ContainsRune(terminators, r) {
			flush()
		}
	}
	flush()

	// A short leftover joins the last chunk rather than standing alone.
	if pending != "" {
		if len(chunks) > 0 {
			chunks[len(chunks)-1] += " " + pending
		} else {
			chunks = append(chunks, pending)
		}
	}
	return chunks
}
