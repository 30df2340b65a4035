package config_test

import (
	"testing"

	"github.com/MrWong99/dubforge/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogLevelInfo},
		Merger:     config.MergerConfig{MaxStretch: 2.0},
		Translator: config.TranslatorConfig{BatchSize: 20, MaxRetries: 3},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.TuningChanged {
		t.Error("expected TuningChanged=false for identical configs")
	}
	if d.ProvidersChanged {
		t.Error("expected ProvidersChanged=false for identical configs")
	}
	if d.RestartRequired {
		t.Error("expected RestartRequired=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogLevelDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogLevelDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.TuningChanged {
		t.Error("a log level change alone should not mark TuningChanged")
	}
}

func TestDiff_MergerTuningChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Merger: config.MergerConfig{MaxStretch: 2.0}}
	new := &config.Config{Merger: config.MergerConfig{MaxStretch: 1.5}}

	d := config.Diff(old, new)
	if !d.TuningChanged {
		t.Error("expected TuningChanged=true for a merger.max_stretch change")
	}
}

func TestDiff_TranslatorTuningChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Translator: config.TranslatorConfig{MaxRetries: 3}}
	new := &config.Config{Translator: config.TranslatorConfig{MaxRetries: 5}}

	d := config.Diff(old, new)
	if !d.TuningChanged {
		t.Error("expected TuningChanged=true for a translator.max_retries change")
	}
}

func TestDiff_TranscriberTuningChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Transcriber: config.TranscriberConfig{SilenceSplitGapSeconds: 1.5}}
	new := &config.Config{Transcriber: config.TranscriberConfig{SilenceSplitGapSeconds: 0.8}}

	d := config.Diff(old, new)
	if !d.TuningChanged {
		t.Error("expected TuningChanged=true for a transcriber.silence_split_gap_s change")
	}
}

func TestDiff_PerSegmentParallelismChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{PerSegmentParallelism: 2}
	new := &config.Config{PerSegmentParallelism: 4}

	d := config.Diff(old, new)
	if !d.TuningChanged {
		t.Error("expected TuningChanged=true for a per_segment_parallelism change")
	}
}

func TestDiff_ProvidersChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Providers: config.ProvidersConfig{
		Transcriber: config.ProviderEntry{Name: "whispercpp"},
	}}
	new := &config.Config{Providers: config.ProvidersConfig{
		Transcriber: config.ProviderEntry{Name: "whispercpp", Options: map[string]any{"beam_size": 5}},
	}}

	d := config.Diff(old, new)
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true for a providers.* change, including nested Options")
	}
	if d.TuningChanged {
		t.Error("a providers.* change alone should not mark TuningChanged")
	}
}

func TestDiff_MaxConcurrentTasksRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{MaxConcurrentTasks: 1}
	new := &config.Config{MaxConcurrentTasks: 4}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for a max_concurrent_tasks change")
	}
}

func TestDiff_EventQueueCapacityRequiresRestart(t *testing.T) {
	t.Parallel()
	old := &config.Config{EventQueueCapacity: 64}
	new := &config.Config{EventQueueCapacity: 256}

	d := config.Diff(old, new)
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true for an event_queue_capacity change")
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:             config.ServerConfig{LogLevel: config.LogLevelInfo},
		Merger:             config.MergerConfig{MaxStretch: 2.0},
		Providers:          config.ProvidersConfig{Translator: config.ProviderEntry{Name: "anyllm"}},
		MaxConcurrentTasks: 1,
	}
	new := &config.Config{
		Server:             config.ServerConfig{LogLevel: config.LogLevelWarn},
		Merger:             config.MergerConfig{MaxStretch: 1.2},
		Providers:          config.ProvidersConfig{Translator: config.ProviderEntry{Name: "anyllm", APIKey: "new-key"}},
		MaxConcurrentTasks: 2,
	}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.TuningChanged {
		t.Error("expected TuningChanged=true")
	}
	if !d.ProvidersChanged {
		t.Error("expected ProvidersChanged=true")
	}
	if !d.RestartRequired {
		t.Error("expected RestartRequired=true")
	}
}
