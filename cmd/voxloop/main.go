// Command voxloop is the main entry point for the voxloop voice agent server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/events"
	"github.com/voxloop/voxloop/internal/health"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/playback"
	"github.com/voxloop/voxloop/internal/resilience"
	"github.com/voxloop/voxloop/internal/turn"
	"github.com/voxloop/voxloop/internal/vad"
	"github.com/voxloop/voxloop/pkg/audio/wsbridge"
	"github.com/voxloop/voxloop/pkg/memory"
	"github.com/voxloop/voxloop/pkg/memory/postgres"
	"github.com/voxloop/voxloop/pkg/provider/embeddings"
	oaembed "github.com/voxloop/voxloop/pkg/provider/embeddings/openai"
	"github.com/voxloop/voxloop/pkg/provider/llm"
	"github.com/voxloop/voxloop/pkg/provider/llm/anyllm"
	"github.com/voxloop/voxloop/pkg/provider/stt"
	oastt "github.com/voxloop/voxloop/pkg/provider/stt/openai"
	"github.com/voxloop/voxloop/pkg/provider/tts"
	oatts "github.com/voxloop/voxloop/pkg/provider/tts/openai"
	"github.com/voxloop/voxloop/pkg/types"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxloop: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		}
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("voxloop starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"transport_addr", cfg.Transport.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry first so everything downstream can record metrics.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxloop",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	transcriber, err := buildSTT(cfg.Providers.STT, metrics)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	replier, err := buildLLM(cfg.Providers.LLM, metrics)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	synth, err := buildTTS(cfg.Providers.TTS, metrics)
	if err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}

	// Long-term memory is optional; without a DSN the agent runs stateless.
	var store memory.Store
	if cfg.Memory.PostgresDSN != "" {
		embedder, err := buildEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			slog.Error("failed to build embeddings provider", "err", err)
			return 1
		}
		pg, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN, embedder)
		if err != nil {
			slog.Error("failed to connect to memory store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		slog.Info("memory store connected")
	} else {
		slog.Info("no postgres_dsn configured — running without long-term memory")
	}

	bus := events.NewBus()
	defer bus.Close()

	pipeline := playback.New(synth, metrics, playback.Config{
		SubFrame:           cfg.Playback.SubFrame.Std(),
		SilenceFlushFrames: cfg.Playback.SilenceFlushFrames,
		MinChunkRunes:      cfg.Playback.MinChunkRunes,
	})

	registry := turn.NewRegistry(turnConfig(cfg), turn.Deps{
		STT:      transcriber,
		LLM:      replier,
		Playback: pipeline,
		Memory:   store,
		Bus:      bus,
		Metrics:  metrics,
	})
	defer registry.Shutdown()

	bridge := wsbridge.New()
	roomConn, err := bridge.Connect(ctx, cfg.Transport.Room)
	if err != nil {
		slog.Error("failed to open transport room", "err", err)
		return 1
	}
	defer roomConn.Disconnect()
	registry.Attach(ctx, roomConn)

	// Hot reload: log level applies immediately, engine tuning applies to new
	// sessions, everything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.TurnChanged || d.PlaybackChanged || d.AgentChanged {
			slog.Info("engine tuning changed — applies from the next session")
		}
		if d.RequiresRestart {
			slog.Warn("provider, transport, or memory config changed — restart required to apply")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// Admin surface: health, metrics, live event stream.
	checks := []health.Checker{}
	if pg, ok := store.(*postgres.Store); ok {
		checks = append(checks, health.Ping("memory", pg.Ping))
	}
	healthHandler := health.New(checks...)

	adminMux := http.NewServeMux()
	healthHandler.Register(adminMux)
	adminMux.Handle("GET /metrics", promhttp.Handler())
	adminMux.Handle("GET /events", events.NewBroadcaster(bus))

	adminSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(adminMux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Client-facing audio surface.
	audioMux := http.NewServeMux()
	audioMux.Handle("/ws", bridge)
	audioSrv := &http.Server{
		Addr:              cfg.Transport.ListenAddr,
		Handler:           audioMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("admin server listening", "addr", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("audio transport listening", "addr", audioSrv.Addr, "room", cfg.Transport.Room)
		if err := audioSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("audio server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := adminSrv.Shutdown(sctx)
		return errors.Join(err, audioSrv.Shutdown(sctx))
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// turnConfig maps the YAML config onto the session engine's tuning knobs.
func turnConfig(cfg *config.Config) turn.Config {
	return turn.Config{
		SampleRate:   cfg.Transport.SampleRate,
		Language:     cfg.Providers.STT.Language,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Voice: types.VoiceProfile{
			ID:          cfg.Agent.Voice.ID,
			Provider:    cfg.Providers.TTS.Name,
			SpeedFactor: cfg.Agent.Voice.SpeedFactor,
		},
		FallbackUtterance: cfg.Agent.FallbackUtterance,
		TurnProfile:       vadProfile(cfg.Turn.TurnVAD),
		InterruptProfile:  vadProfile(cfg.Turn.InterruptVAD),
		MinUtterance:      cfg.Turn.MinUtterance.Std(),
		CaptureWindow:     cfg.Turn.CaptureWindow.Std(),
		DedupWindow:       cfg.Turn.DedupWindow.Std(),
		DedupThreshold:    cfg.Turn.DedupThreshold,
		Cooldown:          cfg.Turn.Cooldown.Std(),
		HistoryWindow:     cfg.Turn.HistoryWindow.Std(),
		HistoryLimit:      cfg.Turn.HistoryLimit,
		RecallTopK:        cfg.Turn.RecallTopK,
	}
}

func vadProfile(v config.VADConfig) vad.Profile {
	return vad.Profile{
		SpeechThreshold:  v.SpeechThreshold,
		SilenceThreshold: v.SilenceThreshold,
		TriggerFrames:    v.TriggerFrames,
		HangFrames:       v.HangFrames,
	}
}

// buildSTT constructs the transcriber named in entry, wrapped in a fallback
// group when the entry declares fallbacks.
func buildSTT(entry config.ProviderEntry, m *observe.Metrics) (stt.Transcriber, error) {
	primary, err := newSTT(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	group := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{Metrics: m})
	for _, fb := range entry.Fallbacks {
		p, err := newSTT(fb)
		if err != nil {
			return nil, fmt.Errorf("stt fallback %q: %w", fb.Name, err)
		}
		group.AddFallback(fb.Name, p)
	}
	return group, nil
}

func newSTT(entry config.ProviderEntry) (stt.Transcriber, error) {
	switch entry.Name {
	case "openai":
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildLLM constructs the replier named in entry. All backends go through
// any-llm; ollama and llamacpp are local servers addressed via base_url.
func buildLLM(entry config.ProviderEntry, m *observe.Metrics) (llm.Replier, error) {
	primary, err := newLLM(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	group := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{Metrics: m})
	for _, fb := range entry.Fallbacks {
		p, err := newLLM(fb)
		if err != nil {
			return nil, fmt.Errorf("llm fallback %q: %w", fb.Name, err)
		}
		group.AddFallback(fb.Name, p)
	}
	return group, nil
}

func newLLM(entry config.ProviderEntry) (llm.Replier, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

func buildTTS(entry config.ProviderEntry, m *observe.Metrics) (tts.Synthesizer, error) {
	primary, err := newTTS(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	group := resilience.NewTTSFallback(primary, entry.Name, resilience.FallbackConfig{Metrics: m})
	for _, fb := range entry.Fallbacks {
		p, err := newTTS(fb)
		if err != nil {
			return nil, fmt.Errorf("tts fallback %q: %w", fb.Name, err)
		}
		group.AddFallback(fb.Name, p)
	}
	return group, nil
}

func newTTS(entry config.ProviderEntry) (tts.Synthesizer, error) {
	switch entry.Name {
	case "openai":
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
