package resilience

import (
	"context"

	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/pkg/types"
)

// VoiceClonerFallback implements [engine.VoiceCloner] with automatic
// failover across multiple voice-cloning backends. Each backend has its own
// circuit breaker.
type VoiceClonerFallback struct {
	group *FallbackGroup[engine.VoiceCloner]
}

// Compile-time interface assertion.
var _ engine.VoiceCloner = (*VoiceClonerFallback)(nil)

// NewVoiceClonerFallback creates a [VoiceClonerFallback] with primary as the
// preferred backend.
func NewVoiceClonerFallback(primary engine.VoiceCloner, primaryName string, cfg FallbackConfig) *VoiceClonerFallback {
	return &VoiceClonerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional voice-cloning backend as a fallback.
func (f *VoiceClonerFallback) AddFallback(name string, provider engine.VoiceCloner) {
	f.group.AddFallback(name, provider)
}

// ExtractReference extracts a reference clip using the first healthy
// backend.
func (f *VoiceClonerFallback) ExtractReference(ctx context.Context, vocalsPath string, start, end float64, outPath string) error {
	_, err := ExecuteWithResult(f.group, func(p engine.VoiceCloner) (struct{}, error) {
		return struct{}{}, p.ExtractReference(ctx, vocalsPath, start, end, outPath)
	})
	return err
}

// CloneVoice synthesizes targetText in the reference speaker's voice using
// the first healthy backend. If the primary fails, subsequent fallbacks are
// tried in order.
func (f *VoiceClonerFallback) CloneVoice(ctx context.Context, referencePath, targetText string, langHint types.LanguageCode, outPath string) error {
	_, err := ExecuteWithResult(f.group, func(p engine.VoiceCloner) (struct{}, error) {
		return struct{}{}, p.CloneVoice(ctx, referencePath, targetText, langHint, outPath)
	})
	return err
}
