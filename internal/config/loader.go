package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"openai"},
	"tts":        {"openai"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; conditions
// that are suspicious but workable are logged as warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers: the cascade needs all three stages.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	for kind, entry := range map[string]ProviderEntry{
		"stt":        cfg.Providers.STT,
		"llm":        cfg.Providers.LLM,
		"tts":        cfg.Providers.TTS,
		"embeddings": cfg.Providers.Embeddings,
	} {
		validateProviderName(kind, entry.Name)
		for _, fb := range entry.Fallbacks {
			validateProviderName(kind, fb.Name)
		}
	}

	// Voice
	if sf := cfg.Agent.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("agent.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	// VAD profiles
	errs = append(errs, validateVAD("turn.turn_vad", cfg.Turn.TurnVAD)...)
	errs = append(errs, validateVAD("turn.interrupt_vad", cfg.Turn.InterruptVAD)...)

	if th := cfg.Turn.DedupThreshold; th != 0 && (th <= 0 || th > 1) {
		errs = append(errs, fmt.Errorf("turn.dedup_threshold %.2f is out of range (0, 1]", th))
	}

	// Memory
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; sessions will run without history or recall")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Memory.PostgresDSN != "" && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is set but providers.embeddings is not configured"))
	}

	// Transport
	if cfg.Transport.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("transport.sample_rate %d must be positive", cfg.Transport.SampleRate))
	}

	return errors.Join(errs...)
}

// validateVAD checks one detection profile for internally consistent values.
func validateVAD(prefix string, v VADConfig) []error {
	var errs []error
	if v.SpeechThreshold < 0 || v.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("%s.speech_threshold %.3f is out of range [0, 1]", prefix, v.SpeechThreshold))
	}
	if v.SilenceThreshold < 0 || v.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("%s.silence_threshold %.3f is out of range [0, 1]", prefix, v.SilenceThreshold))
	}
	if v.SpeechThreshold != 0 && v.SilenceThreshold > v.SpeechThreshold {
		errs = append(errs, fmt.Errorf("%s.silence_threshold %.3f must not exceed speech_threshold %.3f (the gap provides hysteresis)",
			prefix, v.SilenceThreshold, v.SpeechThreshold))
	}
	if v.TriggerFrames < 0 {
		errs = append(errs, fmt.Errorf("%s.trigger_frames %d must not be negative", prefix, v.TriggerFrames))
	}
	if v.HangFrames < 0 {
		errs = append(errs, fmt.Errorf("%s.hang_frames %d must not be negative", prefix, v.HangFrames))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
