package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxloop/voxloop/internal/observe"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] fails or
// sits behind an open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Kind names the pipeline stage the group serves ("stt", "llm", "tts").
	// It labels log lines and the provider request metrics.
	Kind string

	// Metrics, when set, receives one provider request record per attempted
	// backend and an error record per failed one.
	Metrics *observe.Metrics

	// Breaker is the per-backend breaker configuration; the backend's name
	// overrides BreakerConfig.Name.
	Breaker BreakerConfig
}

// backend pairs one provider value with its dedicated breaker.
type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup chains a primary and zero or more fallback instances of one
// provider type. Calls go to the first backend whose breaker admits them and
// whose call succeeds, in registration order.
//
// FallbackGroup is safe for concurrent use once assembled; AddFallback is not
// safe to race with Execute.
type FallbackGroup[T any] struct {
	kind     string
	metrics  *observe.Metrics
	breaker  BreakerConfig
	backends []backend[T]
}

// NewFallbackGroup creates a group with primary as the first backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Kind == "" {
		cfg.Kind = "provider"
	}
	g := &FallbackGroup[T]{
		kind:    cfg.Kind,
		metrics: cfg.Metrics,
		breaker: cfg.Breaker,
	}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a backend. Fallbacks are tried in the order added,
// after the primary.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	g.add(name, fallback)
}

func (g *FallbackGroup[T]) add(name string, value T) {
	bc := g.breaker
	bc.Name = name
	g.backends = append(g.backends, backend[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(bc),
	})
}

// Execute tries fn against each backend until one succeeds. Backends behind
// an open breaker are skipped. A cancelled ctx aborts the chain immediately;
// a reply nobody is waiting for is not worth a second provider call. Returns
// [ErrAllFailed] wrapping the last error when every backend fails.
func (g *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a package-level function because Go methods cannot introduce
// type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.backends {
		be := &g.backends[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var result R
		err := be.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(be.value)
			return callErr
		})
		if err == nil {
			g.record(ctx, be.name, "ok")
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			g.record(ctx, be.name, "skipped")
			slog.Debug("resilience: breaker open, skipping",
				"kind", g.kind, "provider", be.name)
			continue
		}
		g.record(ctx, be.name, "error")
		if g.metrics != nil {
			g.metrics.RecordProviderError(ctx, be.name, g.kind)
		}
		slog.Warn("resilience: provider failed, trying next",
			"kind", g.kind, "provider", be.name, "error", err)
	}
	return zero, fmt.Errorf("%w: %s: %v", ErrAllFailed, g.kind, lastErr)
}

func (g *FallbackGroup[T]) record(ctx context.Context, provider, status string) {
	if g.metrics != nil {
		g.metrics.RecordProviderRequest(ctx, provider, g.kind, status)
	}
}
