package config

// ConfigDiff describes what changed between two configs, split into changes
// that can be hot-applied and changes that need a restart.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level changed; the new value is
	// in NewLogLevel. Hot-appliable.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TurnChanged is true when any turn-taking tuning knob changed
	// (thresholds, windows, cooldown). New sessions pick the values up;
	// existing sessions keep their current tuning.
	TurnChanged bool

	// PlaybackChanged is true when a playback pipeline knob changed.
	PlaybackChanged bool

	// AgentChanged is true when the persona, fallback utterance, or voice
	// changed. Takes effect from the next generated reply.
	AgentChanged bool

	// RequiresRestart is true when providers, transport, or memory settings
	// changed; these are wired at startup and cannot be swapped live.
	RequiresRestart bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Turn != new.Turn {
		d.TurnChanged = true
	}
	if old.Playback != new.Playback {
		d.PlaybackChanged = true
	}
	if old.Agent != new.Agent {
		d.AgentChanged = true
	}

	if !providersEqual(old.Providers, new.Providers) ||
		old.Transport != new.Transport ||
		old.Memory != new.Memory ||
		old.Server.ListenAddr != new.Server.ListenAddr {
		d.RequiresRestart = true
	}

	return d
}

// providersEqual compares provider blocks including their fallback chains.
func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) &&
		entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.TTS, b.TTS) &&
		entryEqual(a.Embeddings, b.Embeddings)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Language != b.Language {
		return false
	}
	if len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}
