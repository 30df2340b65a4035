package config

import "reflect"

// ConfigDiff describes what changed between two configs when a [Watcher]
// reloads the file. Fields are split by whether dubforge can apply the
// change to the running process or whether it only takes effect on
// restart, mirroring the teacher's config.Diff split between safely
// hot-reloadable fields (log level, NPC personality/voice/budget tier) and
// everything else.
type ConfigDiff struct {
	// LogLevelChanged reports a changed server.log_level. Hot-reloadable:
	// the caller can repoint its slog handler's level at NewLogLevel
	// immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TuningChanged reports a change to any of per_segment_parallelism,
	// merger.*, translator.*, or transcriber.*. These values are copied
	// into the executor, merger and engine adapters when internal/app
	// builds them at startup, and nothing re-reads them after a reload, so
	// such a change takes effect only after a restart.
	TuningChanged bool

	// ProvidersChanged reports a change to any providers.* entry.
	// Not hot-reloadable: concrete engine adapters are constructed once by
	// the composition root from the [Registry] at process startup, so a
	// provider change only takes effect after a restart.
	ProvidersChanged bool

	// RestartRequired reports a change to max_concurrent_tasks or
	// event_queue_capacity. Not hot-reloadable: both size a fixed-capacity
	// channel (the scheduler's semaphore, the eventbus's per-subscriber
	// buffer) that is allocated once at construction.
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.PerSegmentParallelism != new.PerSegmentParallelism ||
		old.Merger != new.Merger ||
		old.Translator != new.Translator ||
		old.Transcriber != new.Transcriber {
		d.TuningChanged = true
	}

	// ProviderEntry.Options is a map, so ProvidersConfig is not comparable
	// with ==.
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.ProvidersChanged = true
	}

	if old.MaxConcurrentTasks != new.MaxConcurrentTasks || old.EventQueueCapacity != new.EventQueueCapacity {
		d.RestartRequired = true
	}

	return d
}
