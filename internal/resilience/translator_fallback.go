package resilience

import (
	"context"

	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/pkg/types"
)

// TranslatorFallback implements [engine.Translator] with automatic failover
// across multiple translation backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type TranslatorFallback struct {
	group *FallbackGroup[engine.Translator]
}

// Compile-time interface assertion.
var _ engine.Translator = (*TranslatorFallback)(nil)

// NewTranslatorFallback creates a [TranslatorFallback] with primary as the
// preferred backend.
func NewTranslatorFallback(primary engine.Translator, primaryName string, cfg FallbackConfig) *TranslatorFallback {
	return &TranslatorFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translation backend as a fallback.
func (f *TranslatorFallback) AddFallback(name string, provider engine.Translator) {
	f.group.AddFallback(name, provider)
}

// Translate sends the batch to the first healthy backend and returns its
// response. If the primary fails, subsequent fallbacks are tried in order.
func (f *TranslatorFallback) Translate(ctx context.Context, sourceTexts []string, sourceLang, targetLang types.LanguageCode) ([]string, error) {
	return ExecuteWithResult(f.group, func(p engine.Translator) ([]string, error) {
		return p.Translate(ctx, sourceTexts, sourceLang, targetLang)
	})
}
