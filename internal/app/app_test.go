package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/dubforge/internal/app"
	"github.com/MrWong99/dubforge/internal/config"
	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/internal/engine/mock"
	"github.com/MrWong99/dubforge/internal/eventbus"
	"github.com/MrWong99/dubforge/internal/observe"
	"github.com/MrWong99/dubforge/internal/taskstore"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":0",
			LogLevel:   config.LogLevelInfo,
		},
		MaxConcurrentTasks: 2,
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// newTestApp builds an App with a scratch task store, an in-process event
// bus, and test-scoped metrics — no provider registry entries, matching a
// freshly installed dubforge with no engines configured yet.
func newTestApp(t *testing.T) *app.App {
	t.Helper()
	store, err := taskstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("taskstore.Open: %v", err)
	}
	a, err := app.New(
		context.Background(),
		testConfig(),
		config.NewRegistry(),
		app.WithTaskStore(store),
		app.WithEventBus(eventbus.New(8)),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a
}

func TestNew_NoProvidersConfigured(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	if a == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestNew_RegistersBuiltinProviders(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Providers.AudioExtractor.Name = "ffmpeg"
	cfg.Providers.Muxer.Name = "ffmpeg"

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg, cfg)

	store, err := taskstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("taskstore.Open: %v", err)
	}
	a, err := app.New(
		context.Background(),
		cfg,
		reg,
		app.WithTaskStore(store),
		app.WithEventBus(eventbus.New(8)),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if a == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestNew_UnregisteredProviderNameFails(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Providers.Translator.Name = "nonexistent"

	store, err := taskstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("taskstore.Open: %v", err)
	}
	_, err = app.New(
		context.Background(),
		cfg,
		config.NewRegistry(),
		app.WithTaskStore(store),
		app.WithEventBus(eventbus.New(8)),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil {
		t.Fatal("New() with an unregistered provider name should fail")
	}
}

func TestHandler_ServesHealthAndTasksRoutes(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /healthz = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/tasks/nonexistent", nil)
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /tasks/nonexistent = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	// Shutdown is idempotent.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() call returned error: %v", err)
	}
}

// TestNew_ClosesTranscriberOnShutdown registers a mock.Transcriber that also
// implements io.Closer (a closing wrapper) and checks buildEngines picks up
// Close via the optional interface{ Close() error } assertion, and that
// Shutdown runs it.
func TestNew_ClosesTranscriberOnShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Providers.Transcriber.Name = "closing"

	closeCalls := 0
	reg := config.NewRegistry()
	reg.RegisterTranscriber("closing", func(config.ProviderEntry) (engine.Transcriber, error) {
		return &closingTranscriber{Transcriber: &mock.Transcriber{}, onClose: func() { closeCalls++ }}, nil
	})

	store, err := taskstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("taskstore.Open: %v", err)
	}
	a, err := app.New(
		context.Background(),
		cfg,
		reg,
		app.WithTaskStore(store),
		app.WithEventBus(eventbus.New(8)),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if closeCalls != 1 {
		t.Errorf("transcriber Close call count = %d, want 1", closeCalls)
	}
}

// closingTranscriber wraps *mock.Transcriber with a Close method so
// buildEngines's optional io.Closer assertion has something to find.
type closingTranscriber struct {
	*mock.Transcriber
	onClose func()
}

func (c *closingTranscriber) Close() error {
	c.onClose()
	return nil
}
