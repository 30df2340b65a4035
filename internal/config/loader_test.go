package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/dubforge/internal/config"
)

func TestValidate_MissingAudioExtractorWarnsNotErrors(t *testing.T) {
	t.Parallel()
	// Missing required providers only warns via slog; it must not make
	// Validate return an error, since a task can still be created and
	// paused before ever reaching an unconfigured stage.
	yaml := `
server:
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_UnknownProviderNameWarnsNotErrors(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  transcriber:
    name: some-third-party-engine
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error for an unrecognized (but non-empty) provider name: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
max_concurrent_tasks: -1
merger:
  max_stretch: 0.1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "max_concurrent_tasks") {
		t.Errorf("error should mention max_concurrent_tasks, got: %v", err)
	}
	if !strings.Contains(errStr, "max_stretch") {
		t.Errorf("error should mention max_stretch, got: %v", err)
	}
}

func TestValidate_ZeroValuesAreValid(t *testing.T) {
	t.Parallel()
	// Zero is "unset, use the package default" for every tunable, not
	// an invalid value in itself — the constructors' defaulting (executor's
	// withDefaults, merger.New, scheduler.New) fills these in, config.Validate
	// only rejects values that are actively out of range (negative counts,
	// a sub-1.0 stretch factor).
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error for all-zero config: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	transcriberNames := config.ValidProviderNames["transcriber"]
	if len(transcriberNames) == 0 {
		t.Fatal(`ValidProviderNames["transcriber"] should not be empty`)
	}
	found := false
	for _, n := range transcriberNames {
		if n == "whispercpp" {
			found = true
			break
		}
	}
	if !found {
		t.Error(`ValidProviderNames["transcriber"] should contain "whispercpp"`)
	}
}
