// Package config provides the configuration schema, loader, and file watcher
// for the voxloop server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the voxloop server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration with YAML decoding from strings like "300ms"
// or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"300ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voxloop.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Turn      TurnConfig      `yaml:"turn"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// ServerConfig holds network and logging settings for the HTTP side of the
// server (health, metrics, event stream).
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz, /metrics, and
	// /events (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TransportConfig configures the WebSocket audio bridge that participants
// connect to.
type TransportConfig struct {
	// ListenAddr is the TCP address the audio bridge listens on (e.g., ":9090").
	ListenAddr string `yaml:"listen_addr"`

	// Room is the room identifier sessions are grouped under.
	Room string `yaml:"room"`

	// SampleRate is the working sample rate for inbound mono PCM, in Hz.
	// Opus input is decoded and resampled to this rate. Default: 48000.
	SampleRate int `yaml:"sample_rate"`
}

// ProvidersConfig declares the external speech and language services.
type ProvidersConfig struct {
	STT        ProviderEntry `yaml:"stt"`
	LLM        ProviderEntry `yaml:"llm"`
	TTS        ProviderEntry `yaml:"tts"`
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the provider implementation. For llm it is the backend
	// name (e.g., "openai", "anthropic", "ollama"); for stt, tts, and
	// embeddings currently "openai" (any OpenAI-compatible endpoint via
	// base_url).
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Language is a language hint for transcription (ISO-639-1), empty for
	// auto-detect. Only meaningful for stt.
	Language string `yaml:"language"`

	// Fallbacks lists secondary providers tried in order when this one fails.
	// Each fallback is guarded by its own circuit breaker.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AgentConfig describes the spoken agent's persona and voice.
type AgentConfig struct {
	// Name is the agent's display name used in events and logs.
	Name string `yaml:"name"`

	// SystemPrompt is the persona description injected into every generation.
	SystemPrompt string `yaml:"system_prompt"`

	// FallbackUtterance is spoken when reply generation fails.
	FallbackUtterance string `yaml:"fallback_utterance"`

	// Voice configures the TTS voice.
	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// ID is the provider-specific voice identifier (e.g., "alloy").
	ID string `yaml:"id"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means
	// provider default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// VADConfig holds one voice-activity-detection profile. All thresholds are
// normalized RMS levels in [0, 1].
type VADConfig struct {
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	TriggerFrames    int     `yaml:"trigger_frames"`
	HangFrames       int     `yaml:"hang_frames"`
}

// TurnConfig exposes every turn-taking tuning knob. These are tuning
// parameters rather than design constants; zero values fall back to the
// engine defaults.
type TurnConfig struct {
	// TurnVAD drives utterance boundary detection.
	TurnVAD VADConfig `yaml:"turn_vad"`

	// InterruptVAD drives barge-in detection while the agent speaks.
	InterruptVAD VADConfig `yaml:"interrupt_vad"`

	// MinUtterance is the floor below which recorded audio is discarded as
	// noise.
	MinUtterance Duration `yaml:"min_utterance"`

	// CaptureWindow sizes the ring that records participant audio during
	// agent speech.
	CaptureWindow Duration `yaml:"capture_window"`

	// DedupWindow and DedupThreshold control duplicate transcript
	// suppression.
	DedupWindow    Duration `yaml:"dedup_window"`
	DedupThreshold float64  `yaml:"dedup_threshold"`

	// Cooldown suppresses speech onset detection after agent playback ends.
	Cooldown Duration `yaml:"cooldown"`

	// HistoryWindow and HistoryLimit bound the recent-turn context window.
	HistoryWindow Duration `yaml:"history_window"`
	HistoryLimit  int      `yaml:"history_limit"`

	// RecallTopK is the number of long-term memory snippets per generation.
	RecallTopK int `yaml:"recall_top_k"`
}

// PlaybackConfig exposes the playback pipeline knobs.
type PlaybackConfig struct {
	// SubFrame is the duration of each emitted audio slice.
	SubFrame Duration `yaml:"sub_frame"`

	// SilenceFlushFrames is how many silence sub-frames clear the downstream
	// buffer after a cancelled playback.
	SilenceFlushFrames int `yaml:"silence_flush_frames"`

	// MinChunkRunes is the minimum synthesis chunk length.
	MinChunkRunes int `yaml:"min_chunk_runes"`
}

// MemoryConfig holds settings for the session log and semantic recall layer.
type MemoryConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector store.
	// Empty disables persistent memory; sessions then run without history or
	// recall.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension of the embeddings column.
	// Must match the configured embeddings model. Default: 1536.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}
