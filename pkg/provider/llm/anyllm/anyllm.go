// Package anyllm provides a universal LLM replier backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	r, err := anyllm.New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-..."))
//	r, err := anyllm.NewAnthropic("claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxloop/voxloop/pkg/provider/llm"
	"github.com/voxloop/voxloop/pkg/types"
)

// Ensure Replier implements the llm.Replier interface.
var _ llm.Replier = (*Replier)(nil)

// Replier implements llm.Replier by wrapping github.com/mozilla-ai/any-llm-go.
type Replier struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Replier backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// model is the specific model to use (e.g., "gpt-4o-mini", "claude-3-5-haiku-latest").
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the backend falls
// back to the relevant environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, …).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Replier, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Replier{backend: backend, model: model}, nil
}

// NewOpenAI creates a Replier backed by OpenAI.
// Without options, it reads the OPENAI_API_KEY environment variable.
func NewOpenAI(model string, opts ...anyllmlib.Option) (*Replier, error) {
	return New("openai", model, opts...)
}

// NewAnthropic creates a Replier backed by Anthropic.
// Without options, it reads the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Replier, error) {
	return New("anthropic", model, opts...)
}

// NewOllama creates a Replier backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Replier, error) {
	return New("ollama", model, opts...)
}

// Generate implements llm.Replier.
func (r *Replier) Generate(ctx context.Context, tc llm.TurnContext) (string, error) {
	params := r.buildParams(tc)

	resp, err := r.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if text == "" {
		return "", fmt.Errorf("anyllm: empty completion text")
	}
	return text, nil
}

// ModelID returns the configured model.
func (r *Replier) ModelID() string {
	return r.model
}

// buildParams converts a TurnContext into backend completion parameters.
func (r *Replier) buildParams(tc llm.TurnContext) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	for _, m := range tc.Messages() {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    r.model,
		Messages: messages,
	}
	if tc.Temperature != 0 {
		t := tc.Temperature
		params.Temperature = &t
	}
	if tc.MaxTokens > 0 {
		mt := tc.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// convertMessage maps a types.Message to an any-llm-go message.
func convertMessage(m types.Message) anyllmlib.Message {
	role := anyllmlib.RoleUser
	switch m.Role {
	case "system":
		role = anyllmlib.RoleSystem
	case "assistant":
		role = anyllmlib.RoleAssistant
	}
	return anyllmlib.Message{
		Role:    role,
		Content: m.Content,
		Name:    m.Name,
	}
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}
