// Package app wires every dubforge subsystem into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Handler returns the HTTP mux ready to serve, and Shutdown
// tears everything down in order. This is the same shape as the teacher's
// internal/app.App: a functional-options constructor that does all
// initialisation synchronously, a closers slice run in registration order
// during Shutdown, and a sync.Once guarding that teardown against being
// run twice.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/dubforge/internal/boundary"
	"github.com/MrWong99/dubforge/internal/config"
	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/internal/engine/anyllm"
	"github.com/MrWong99/dubforge/internal/engine/coqui"
	"github.com/MrWong99/dubforge/internal/engine/ffmpeg"
	"github.com/MrWong99/dubforge/internal/engine/httpengine"
	"github.com/MrWong99/dubforge/internal/engine/whispercpp"
	"github.com/MrWong99/dubforge/internal/eventbus"
	"github.com/MrWong99/dubforge/internal/executor"
	"github.com/MrWong99/dubforge/internal/health"
	"github.com/MrWong99/dubforge/internal/merger"
	"github.com/MrWong99/dubforge/internal/observe"
	"github.com/MrWong99/dubforge/internal/resilience"
	"github.com/MrWong99/dubforge/internal/scheduler"
	"github.com/MrWong99/dubforge/internal/taskstore"
)

// Engines holds one constructed engine.* value per pipeline stage, each
// already wrapped in its internal/resilience fallback/circuit-breaker type
// where the teacher's fallback package has one. Nil fields are permitted —
// a task simply fails at the first stage missing its engine, per
// internal/config/loader.go's Validate warnings.
type Engines struct {
	AudioExtractor engine.AudioExtractor
	VocalSeparator engine.VocalSeparator
	SpeakerTracker engine.SpeakerTracker
	Transcriber    engine.Transcriber
	Translator     engine.Translator
	VoiceCloner    engine.VoiceCloner
	Muxer          engine.Muxer
}

// App owns every subsystem's lifetime and serves the dubforge HTTP API.
type App struct {
	cfg *config.Config

	store     *taskstore.Store
	bus       *eventbus.Bus
	scheduler *scheduler.Scheduler
	executor  *executor.Executor
	metrics   *observe.Metrics
	mux       *http.ServeMux

	// otelShutdown tears down the OpenTelemetry SDK providers. Nil if
	// InitProvider was never called (e.g. WithMetrics was used instead).
	otelShutdown func(context.Context) error

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTaskStore injects a task store instead of creating one from
// cfg.Server.DataDir.
func WithTaskStore(s *taskstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithEventBus injects an event bus instead of creating one from
// cfg.EventQueueCapacity.
func WithEventBus(b *eventbus.Bus) Option {
	return func(a *App) { a.bus = b }
}

// WithMetrics injects a pre-built *observe.Metrics instead of calling
// observe.InitProvider. Tests use this to point metrics at a ManualReader
// without standing up the real OTel SDK.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: observability,
// task store, event bus, provider registry lookups (wrapped in resilience
// fallback groups), merger, executor, scheduler, and the HTTP boundary — in
// that order.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Observability ─────────────────────────────────────────────────
	if a.metrics == nil {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "dubforge"})
		if err != nil {
			return nil, fmt.Errorf("app: init observability: %w", err)
		}
		a.otelShutdown = shutdown
		a.metrics = observe.DefaultMetrics()
	}

	// ── 2. Task store ─────────────────────────────────────────────────────
	if a.store == nil {
		dataDir := cfg.Server.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		store, err := taskstore.Open(dataDir)
		if err != nil {
			return nil, fmt.Errorf("app: open task store: %w", err)
		}
		a.store = store
	}

	// ── 3. Event bus ──────────────────────────────────────────────────────
	if a.bus == nil {
		capacity := cfg.EventQueueCapacity
		if capacity <= 0 {
			capacity = eventbus.DefaultQueueCapacity
		}
		a.bus = eventbus.New(capacity)
	}

	// ── 4. Engines (provider registry + resilience fallback wrapping) ────
	engines, closers, err := buildEngines(cfg, reg)
	if err != nil {
		return nil, fmt.Errorf("app: build engines: %w", err)
	}
	a.closers = append(a.closers, closers...)

	// ── 5. Merger ─────────────────────────────────────────────────────────
	mgr := merger.New(merger.Config{
		MaxStretchFactor:    cfg.Merger.MaxStretch,
		AccompanimentGainDB: cfg.Merger.AccompanimentGainDB,
	})

	// ── 6. Executor ───────────────────────────────────────────────────────
	a.executor = executor.New(a.store, a.bus, executor.Engines(engines), mgr, executor.Config{
		PerSegmentParallelism: cfg.PerSegmentParallelism,
		TranslatorBatchSize:   cfg.Translator.BatchSize,
		TranslatorMaxRetries:  cfg.Translator.MaxRetries,
	})
	a.executor.SetMetrics(a.metrics)

	// ── 7. Scheduler ──────────────────────────────────────────────────────
	a.scheduler = scheduler.New(a.store, a.executor, cfg.MaxConcurrentTasks)
	a.scheduler.SetMetrics(a.metrics)

	// ── 8. HTTP boundary ──────────────────────────────────────────────────
	a.mux = http.NewServeMux()
	boundary.New(a.store, a.bus, a.scheduler, engines.Translator).Register(a.mux)
	health.New(a.healthCheckers()...).Register(a.mux)

	return a, nil
}

// healthCheckers returns the readiness checks dubforge exposes on /readyz.
// The task store is the only dependency with a filesystem to probe; engine
// providers are intentionally not checked here since a missing provider is
// a per-task failure (internal/config's Validate warnings), not a process
// readiness failure.
func (a *App) healthCheckers() []health.Checker {
	return []health.Checker{
		{
			Name: "taskstore",
			Check: func(ctx context.Context) error {
				_, err := a.store.List(ctx)
				return err
			},
		},
	}
}

// buildEngines instantiates one engine per pipeline stage from reg using
// cfg.Providers, wrapping each in its internal/resilience fallback type
// where one exists (Transcriber, Translator, VoiceCloner). AudioExtractor,
// VocalSeparator, SpeakerTracker, and Muxer have no fallback wrapper since
// the example pack's resilience package only covers the three stages the
// teacher's own provider packages (stt, llm, tts) have multi-backend
// equivalents for; see DESIGN.md.
func buildEngines(cfg *config.Config, reg *config.Registry) (Engines, []func() error, error) {
	var engines Engines
	var closers []func() error

	if name := cfg.Providers.AudioExtractor.Name; name != "" {
		e, err := reg.CreateAudioExtractor(cfg.Providers.AudioExtractor)
		if err != nil {
			return engines, nil, fmt.Errorf("create audio_extractor provider %q: %w", name, err)
		}
		engines.AudioExtractor = e
		slog.Info("provider created", "kind", "audio_extractor", "name", name)
	}

	if name := cfg.Providers.VocalSeparator.Name; name != "" {
		e, err := reg.CreateVocalSeparator(cfg.Providers.VocalSeparator)
		if err != nil {
			return engines, nil, fmt.Errorf("create vocal_separator provider %q: %w", name, err)
		}
		engines.VocalSeparator = e
		slog.Info("provider created", "kind", "vocal_separator", "name", name)
	}

	if name := cfg.Providers.SpeakerTracker.Name; name != "" {
		e, err := reg.CreateSpeakerTracker(cfg.Providers.SpeakerTracker)
		if err != nil {
			return engines, nil, fmt.Errorf("create speaker_tracker provider %q: %w", name, err)
		}
		engines.SpeakerTracker = e
		slog.Info("provider created", "kind", "speaker_tracker", "name", name)
	}

	if name := cfg.Providers.Transcriber.Name; name != "" {
		primary, err := reg.CreateTranscriber(cfg.Providers.Transcriber)
		if err != nil {
			return engines, nil, fmt.Errorf("create transcriber provider %q: %w", name, err)
		}
		if closer, ok := primary.(interface{ Close() error }); ok {
			closers = append(closers, closer.Close)
		}
		engines.Transcriber = resilience.NewTranscriberFallback(primary, name, resilience.FallbackConfig{})
		slog.Info("provider created", "kind", "transcriber", "name", name)
	}

	if name := cfg.Providers.Translator.Name; name != "" {
		primary, err := reg.CreateTranslator(cfg.Providers.Translator)
		if err != nil {
			return engines, nil, fmt.Errorf("create translator provider %q: %w", name, err)
		}
		engines.Translator = resilience.NewTranslatorFallback(primary, name, resilience.FallbackConfig{})
		slog.Info("provider created", "kind", "translator", "name", name)
	}

	if name := cfg.Providers.VoiceCloner.Name; name != "" {
		primary, err := reg.CreateVoiceCloner(cfg.Providers.VoiceCloner)
		if err != nil {
			return engines, nil, fmt.Errorf("create voice_cloner provider %q: %w", name, err)
		}
		engines.VoiceCloner = resilience.NewVoiceClonerFallback(primary, name, resilience.FallbackConfig{})
		slog.Info("provider created", "kind", "voice_cloner", "name", name)
	}

	if name := cfg.Providers.Muxer.Name; name != "" {
		e, err := reg.CreateMuxer(cfg.Providers.Muxer)
		if err != nil {
			return engines, nil, fmt.Errorf("create muxer provider %q: %w", name, err)
		}
		engines.Muxer = e
		slog.Info("provider created", "kind", "muxer", "name", name)
	}

	return engines, closers, nil
}

// RegisterBuiltinProviders registers the one built-in adapter dubforge
// ships for each of the seven internal/engine interfaces against reg,
// under the names internal/config/loader.go's ValidProviderNames expects.
// cmd/dubforge/main.go calls this before loading cfg.Providers entries.
// cfg.Transcriber tunes the whispercpp factory's post-processing; the other
// six factories take every setting they need from the ProviderEntry itself.
func RegisterBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterAudioExtractor("ffmpeg", func(entry config.ProviderEntry) (engine.AudioExtractor, error) {
		return ffmpeg.New(ffmpegConfigFrom(entry)), nil
	})
	reg.RegisterMuxer("ffmpeg", func(entry config.ProviderEntry) (engine.Muxer, error) {
		return ffmpeg.New(ffmpegConfigFrom(entry)), nil
	})
	reg.RegisterVocalSeparator("httpengine", func(entry config.ProviderEntry) (engine.VocalSeparator, error) {
		return httpengine.NewSeparator(entry.BaseURL)
	})
	reg.RegisterSpeakerTracker("httpengine", func(entry config.ProviderEntry) (engine.SpeakerTracker, error) {
		return httpengine.NewTracker(entry.BaseURL)
	})
	reg.RegisterTranscriber("whispercpp", func(entry config.ProviderEntry) (engine.Transcriber, error) {
		return whispercpp.New(entry.Model, whispercpp.Config{
			SilenceSplitGapSeconds: cfg.Transcriber.SilenceSplitGapSeconds,
		})
	})
	reg.RegisterTranslator("anyllm", func(entry config.ProviderEntry) (engine.Translator, error) {
		backend, _ := entry.Options["backend"].(string)
		return anyllm.New(backend, entry.Model)
	})
	reg.RegisterVoiceCloner("coqui", func(entry config.ProviderEntry) (engine.VoiceCloner, error) {
		return coqui.New(entry.BaseURL)
	})
}

// ffmpegConfigFrom maps the generic ProviderEntry.Options bag onto
// ffmpeg.Config's typed fields. Only "bin_path" is recognized; anything
// else in Options is silently ignored, matching ffmpeg.New's own
// zero-value-means-default behavior.
func ffmpegConfigFrom(entry config.ProviderEntry) ffmpeg.Config {
	cfg := ffmpeg.Config{}
	if v, ok := entry.Options["bin_path"].(string); ok {
		cfg.BinPath = v
	}
	return cfg
}

// Handler returns the HTTP mux serving the dubforge API, wrapped in the
// observability middleware (correlation IDs, tracing, request-duration
// metrics).
func (a *App) Handler() http.Handler {
	return observe.Middleware(a.metrics)(a.mux)
}

// Shutdown runs the closers in registration order, then shuts down the
// OpenTelemetry providers. It respects
// the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		if a.otelShutdown != nil {
			if err := a.otelShutdown(ctx); err != nil {
				slog.Warn("observability shutdown error", "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
