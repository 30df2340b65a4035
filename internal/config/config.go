// Package config provides the configuration schema, loader, and provider
// registry for dubforge.
package config

// Config is the root configuration structure for dubforge. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`

	// MaxConcurrentTasks bounds how many task pipelines may run at once
	// (internal/scheduler). Defaults to scheduler.DefaultMaxConcurrentTasks.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// PerSegmentParallelism bounds concurrent per-segment work inside
	// stages 6 and 7 (extract_references, clone_voices). Defaults to 2.
	PerSegmentParallelism int `yaml:"per_segment_parallelism"`

	// EventQueueCapacity is the number of buffered envelopes kept per
	// eventbus subscriber before the slowest one starts dropping events.
	// Defaults to eventbus.DefaultQueueCapacity.
	EventQueueCapacity int `yaml:"event_queue_capacity"`

	Merger      MergerConfig      `yaml:"merger"`
	Translator  TranslatorConfig  `yaml:"translator"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
}

// ServerConfig holds network and logging settings for the dubforge server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls slog verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// DataDir is the root directory internal/taskstore uses for task state,
	// segment tables, and stage artifacts. Defaults to "./data" when empty.
	DataDir string `yaml:"data_dir"`
}

// LogLevel is a validated slog verbosity level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognized LogLevel values.
// The empty value is not itself valid; callers that treat "unset" as
// acceptable check for emptiness separately, the way [Validate] does.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// ProvidersConfig declares which registered provider implementation to use
// for each of the seven internal/engine pipeline stages. Each field selects
// a named provider looked up in the [Registry].
type ProvidersConfig struct {
	AudioExtractor ProviderEntry `yaml:"audio_extractor"`
	VocalSeparator ProviderEntry `yaml:"vocal_separator"`
	SpeakerTracker ProviderEntry `yaml:"speaker_tracker"`
	Transcriber    ProviderEntry `yaml:"transcriber"`
	Translator     ProviderEntry `yaml:"translator"`
	VoiceCloner    ProviderEntry `yaml:"voice_cloner"`
	Muxer          ProviderEntry `yaml:"muxer"`
}

// ProviderEntry is the common configuration block shared by all provider
// types, reused verbatim from the teacher's schema.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "ffmpeg", "whispercpp").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, when it
	// talks to a hosted service rather than a local binary.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., a whisper.cpp
	// model path, or an anyllm model name).
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above. Values may be strings, numbers, booleans,
	// or nested maps.
	Options map[string]any `yaml:"options"`
}

// MergerConfig tunes internal/merger's final audio assembly (stage 8).
type MergerConfig struct {
	// MaxStretch bounds how much a cloned segment's duration may be
	// time-compressed to fit its allotted span. Defaults to 2.0.
	MaxStretch float64 `yaml:"max_stretch"`

	// AccompanimentGainDB is applied to the separated accompaniment track
	// before mixing it under the dubbed voice. Defaults to -6.
	AccompanimentGainDB float64 `yaml:"accompaniment_gain_db"`
}

// TranslatorConfig tunes stage 5's batching and retry behavior.
type TranslatorConfig struct {
	// BatchSize is the number of source texts sent to Translator.Translate
	// per call. Defaults to 20.
	BatchSize int `yaml:"batch_size"`

	// MaxRetries is the number of attempts (including the first) made for
	// a single batch before the task fails. Defaults to 3.
	MaxRetries int `yaml:"max_retries"`
}

// TranscriberConfig tunes stage 4's segmentation.
type TranscriberConfig struct {
	// SilenceSplitGapSeconds is the minimum silence gap required between
	// two transcribed utterances to keep them as separate segments.
	// Defaults to 1.5.
	SilenceSplitGapSeconds float64 `yaml:"silence_split_gap_s"`
}
