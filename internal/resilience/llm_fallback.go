package resilience

import (
	"context"

	"github.com/voxloop/voxloop/pkg/provider/llm"
)

// LLMFallback implements [llm.Replier] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary
// fails or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Replier]
}

// Compile-time interface assertion.
var _ llm.Replier = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Replier, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional replier as a fallback.
func (f *LLMFallback) AddFallback(name string, replier llm.Replier) {
	f.group.AddFallback(name, replier)
}

// Generate sends the turn to the first healthy backend and returns its reply.
// Context cancellation (the user barged in or left) aborts the whole chain
// rather than marching through fallbacks with a dead context.
func (f *LLMFallback) Generate(ctx context.Context, tc llm.TurnContext) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(r llm.Replier) (string, error) {
		return r.Generate(ctx, tc)
	})
}
