// Package mock provides a test double for the embeddings.Provider interface.
//
// The zero value is usable: Embed derives a deterministic unit-ish vector
// from the text so identical texts land on identical vectors and recall
// ranking behaves sensibly without a live model. Set Vec to force one fixed
// vector instead:
//
//	e := &mock.Provider{Dim: 4, Model: "test-embed-v1"}
//	vec, _ := e.Embed(ctx, "hello world")
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/voxloop/voxloop/pkg/provider/embeddings"
)

const defaultDim = 4

// EmbedCall records a single invocation of Provider.Embed.
type EmbedCall struct {
	// Text is the string passed to Embed.
	Text string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vec, when set, is returned verbatim by Embed and for every element of
	// EmbedBatch. When nil, vectors are derived from the text.
	Vec []float32

	// Err, if non-nil, is returned as the error from Embed and EmbedBatch.
	Err error

	// Dim is the vector width reported by Dimensions and used for derived
	// vectors. Zero means 4.
	Dim int

	// Model is returned by ModelID.
	Model string

	// EmbedCalls records every call to Embed in order. Batch calls record
	// one entry per text.
	EmbedCalls []EmbedCall
}

// Embed records the call and returns the scripted or derived vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Text: text})
	if p.Err != nil {
		return nil, p.Err
	}
	return p.vector(text), nil
}

// EmbedBatch records one call per text and returns one vector per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Text: text})
		if p.Err == nil {
			out[i] = p.vector(text)
		}
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return out, nil
}

// vector returns Vec or a deterministic vector for text. Caller holds p.mu.
func (p *Provider) vector(text string) []float32 {
	if p.Vec != nil {
		cp := make([]float32, len(p.Vec))
		copy(cp, p.Vec)
		return cp
	}
	dim := p.Dim
	if dim <= 0 {
		dim = defaultDim
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33))/float32(1<<30) - 1
	}
	return vec
}

// Dimensions returns Dim, defaulting to 4.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Dim <= 0 {
		return defaultDim
	}
	return p.Dim
}

// ModelID returns Model.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Model
}

// CallCount returns the number of recorded Embed calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
