// Package llm defines the Replier interface for Large Language Model backends.
//
// A replier wraps a remote or local model API (e.g., OpenAI GPT-4, Anthropic
// Claude, or a local Ollama instance) and turns one conversational turn into a
// spoken reply, without coupling the turn engine to any specific SDK.
//
// Implementations must be safe for concurrent use; one Replier typically
// serves every session in the process.
package llm

import (
	"context"
	"fmt"

	"github.com/voxloop/voxloop/pkg/types"
)

// TurnContext carries everything the model needs to produce a reply to one
// user turn. At minimum UserText must be non-empty.
type TurnContext struct {
	// SystemPrompt is the high-priority instruction describing the agent's
	// persona and constraints.
	SystemPrompt string

	// History is the recent conversation window, oldest first. Entries use the
	// "user" and "assistant" roles; the current utterance is NOT included.
	History []types.Message

	// UserText is the transcript of the utterance being replied to.
	UserText string

	// SpeakerName optionally names the speaker for multi-participant rooms.
	SpeakerName string

	// InterruptedReply is the text of an agent reply that was cut off by a
	// barge-in, or empty if the previous reply completed. When set, the model
	// is told what it was saying when interrupted so it can decide whether to
	// resume, rephrase, or drop the thought.
	InterruptedReply string

	// Recalled holds memory snippets retrieved for this turn, most relevant
	// first. They are surfaced to the model as background context.
	Recalled []string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use the
	// backend default.
	Temperature float64

	// MaxTokens caps the reply length in tokens. Zero means backend default.
	MaxTokens int
}

// Messages flattens the turn context into an ordered message list ready for a
// chat-completion backend. Recalled memory and the interrupted-reply note are
// folded into the system message so every backend renders them identically.
func (tc TurnContext) Messages() []types.Message {
	var msgs []types.Message

	system := tc.SystemPrompt
	for _, snippet := range tc.Recalled {
		system += "\n\nRelevant memory: " + snippet
	}
	if tc.InterruptedReply != "" {
		system += fmt.Sprintf(
			"\n\nYour previous reply was interrupted by the user while you were saying: %q. "+
				"Do not repeat it verbatim; respond to what the user says next.",
			tc.InterruptedReply)
	}
	if system != "" {
		msgs = append(msgs, types.Message{Role: "system", Content: system})
	}

	msgs = append(msgs, tc.History...)
	msgs = append(msgs, types.Message{
		Role:    "user",
		Content: tc.UserText,
		Name:    tc.SpeakerName,
	})
	return msgs
}

// Usage holds token accounting information returned by the backend. All
// counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the reply.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Replier is the abstraction over any LLM backend.
type Replier interface {
	// Generate produces the agent's reply to the turn described by tc. The
	// returned text is plain prose ready for sentence chunking and synthesis.
	//
	// Generate must honour ctx cancellation: when the engine abandons a turn
	// (e.g., the user barged in before synthesis started), the request should
	// be aborted rather than left to complete in the background.
	Generate(ctx context.Context, tc TurnContext) (string, error)
}
