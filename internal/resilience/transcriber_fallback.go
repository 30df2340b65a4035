package resilience

import (
	"context"

	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/internal/segment"
	"github.com/MrWong99/dubforge/pkg/types"
)

// TranscriberFallback implements [engine.Transcriber] with automatic
// failover across multiple transcription backends. Each backend has its
// own circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[engine.Transcriber]
}

// Compile-time interface assertion.
var _ engine.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary engine.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription backend as a fallback.
func (f *TranscriberFallback) AddFallback(name string, provider engine.Transcriber) {
	f.group.AddFallback(name, provider)
}

// transcribeResult bundles Transcribe's two return values so it can travel
// through ExecuteWithResult's single-value generic.
type transcribeResult struct {
	segments     []segment.Segment
	detectedLang types.LanguageCode
}

// Transcribe runs the request against the first healthy provider. If the
// primary fails, subsequent fallbacks are tried in order.
func (f *TranscriberFallback) Transcribe(ctx context.Context, vocalsPath string, langHint types.LanguageCode) ([]segment.Segment, types.LanguageCode, error) {
	res, err := ExecuteWithResult(f.group, func(p engine.Transcriber) (transcribeResult, error) {
		segs, lang, err := p.Transcribe(ctx, vocalsPath, langHint)
		return transcribeResult{segments: segs, detectedLang: lang}, err
	})
	if err != nil {
		return nil, "", err
	}
	return res.segments, res.detectedLang, nil
}
