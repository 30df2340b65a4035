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

// ValidProviderNames lists known provider names per internal/engine kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio_extractor": {"ffmpeg"},
	"vocal_separator": {"httpengine"},
	"speaker_tracker": {"httpengine"},
	"transcriber":     {"whispercpp"},
	"translator":      {"anyllm"},
	"voice_cloner":    {"coqui"},
	"muxer":           {"ffmpeg"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.MaxConcurrentTasks < 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_tasks %d must not be negative", cfg.MaxConcurrentTasks))
	}
	if cfg.PerSegmentParallelism < 0 {
		errs = append(errs, fmt.Errorf("per_segment_parallelism %d must not be negative", cfg.PerSegmentParallelism))
	}
	if cfg.EventQueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("event_queue_capacity %d must not be negative", cfg.EventQueueCapacity))
	}

	if cfg.Merger.MaxStretch != 0 && cfg.Merger.MaxStretch < 1.0 {
		errs = append(errs, fmt.Errorf("merger.max_stretch %.2f must be >= 1.0", cfg.Merger.MaxStretch))
	}

	if cfg.Translator.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("translator.batch_size %d must not be negative", cfg.Translator.BatchSize))
	}
	if cfg.Translator.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("translator.max_retries %d must not be negative", cfg.Translator.MaxRetries))
	}

	if cfg.Transcriber.SilenceSplitGapSeconds < 0 {
		errs = append(errs, fmt.Errorf("transcriber.silence_split_gap_s %.2f must not be negative", cfg.Transcriber.SilenceSplitGapSeconds))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("audio_extractor", cfg.Providers.AudioExtractor.Name)
	validateProviderName("vocal_separator", cfg.Providers.VocalSeparator.Name)
	validateProviderName("speaker_tracker", cfg.Providers.SpeakerTracker.Name)
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	validateProviderName("translator", cfg.Providers.Translator.Name)
	validateProviderName("voice_cloner", cfg.Providers.VoiceCloner.Name)
	validateProviderName("muxer", cfg.Providers.Muxer.Name)

	// Required-provider warnings: a task can always be created, but it
	// will fail at the first stage missing an engine.
	if cfg.Providers.AudioExtractor.Name == "" {
		slog.Warn("providers.audio_extractor is not configured; stage 1 (extract_audio) will fail for every task")
	}
	if cfg.Providers.Transcriber.Name == "" {
		slog.Warn("providers.transcriber is not configured; stage 4 (transcribe) will fail for every task")
	}
	if cfg.Providers.VoiceCloner.Name == "" {
		slog.Warn("providers.voice_cloner is not configured; stages 6/7 will fail for every task")
	}
	if cfg.Providers.Muxer.Name == "" {
		slog.Warn("providers.muxer is not configured; stage 9 (mux) will fail for every task")
	}

	return errors.Join(errs...)
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
