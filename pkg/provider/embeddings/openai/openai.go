// Package openai implements [embeddings.Provider] on the OpenAI embeddings
// API. Pointing [WithBaseURL] at any OpenAI-compatible endpoint (a local
// Ollama instance, for example) makes this the single embeddings backend for
// the memory layer.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/voxloop/voxloop/pkg/provider/embeddings"
)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// maxInputRunes bounds the text sent per embedding request. Turn transcripts
// are normally a sentence or two, but a long uninterrupted monologue can
// exceed the model's input ceiling; clipping the tail loses a little recall
// precision instead of failing the whole memory append.
const maxInputRunes = 6000

// modelDims maps known OpenAI embedding models to their vector width. The
// memory layer sizes its pgvector column from this, so an unknown model
// falls back to 1536 rather than zero.
var modelDims = map[string]int{
	oai.EmbeddingModelTextEmbedding3Small: 1536,
	oai.EmbeddingModelTextEmbedding3Large: 3072,
	oai.EmbeddingModelTextEmbeddingAda002: 1536,
}

const fallbackDims = 1536

var _ embeddings.Provider = (*Provider)(nil)

// Provider calls the OpenAI embeddings endpoint.
type Provider struct {
	client oai.Client
	model  string
	dims   int
	// reqDims is non-zero only when the caller asked for a projection; the
	// request then carries an explicit dimensions parameter.
	reqDims int
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	dims         int
}

// Option configures a [Provider].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions asks the model to project vectors down to n dimensions and
// reports n from [Provider.Dimensions]. The text-embedding-3 models support
// this; the memory layer uses it to keep the pgvector column narrow when
// full-width vectors are overkill for turn recall.
func WithDimensions(n int) Option {
	return func(c *config) { c.dims = n }
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.dims < 0 {
		return nil, fmt.Errorf("openai embeddings: dimensions must be positive, got %d", cfg.dims)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	dims := cfg.dims
	if dims == 0 {
		if d, ok := modelDims[model]; ok {
			dims = d
		} else {
			dims = fallbackDims
		}
	}
	return &Provider{
		client:  oai.NewClient(reqOpts...),
		model:   model,
		dims:    dims,
		reqDims: cfg.dims,
	}, nil
}

// Embed computes the vector for one text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{
		OfString: param.NewOpt(clip(text)),
	}))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return toFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch computes vectors for several texts in one request, preserving
// input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	clipped := make([]string, len(texts))
	for i, t := range texts {
		clipped[i] = clip(t)
	}

	resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: clipped,
	}))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	result := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
		}
		result[e.Index] = toFloat32(e.Embedding)
	}
	return result, nil
}

// Dimensions returns the width of every vector this provider produces.
func (p *Provider) Dimensions() int {
	return p.dims
}

// ModelID returns the configured model identifier.
func (p *Provider) ModelID() string {
	return p.model
}

func (p *Provider) params(input oai.EmbeddingNewParamsInputUnion) oai.EmbeddingNewParams {
	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: input,
	}
	if p.reqDims > 0 {
		params.Dimensions = param.NewOpt(int64(p.reqDims))
	}
	return params
}

// clip truncates text to maxInputRunes.
func clip(text string) string {
	runes := []rune(text)
	if len(runes) <= maxInputRunes {
		return text
	}
	return string(runes[:maxInputRunes])
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
