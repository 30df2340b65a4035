// Package mock provides in-memory mock implementations of every interface
// in [engine] for use in unit tests. Each mock records every call and
// allows the test to configure return values via exported fields. All mocks
// are safe for concurrent use.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    TranscribeResult: []segment.Segment{{ID: 0, Start: 0, End: 1, SourceText: "hi"}},
//	}
//	segs, _, err := tr.Transcribe(ctx, "vocals.wav", types.AutoLanguage)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/internal/segment"
	"github.com/MrWong99/dubforge/pkg/types"
)

// Compile-time interface assertions.
var (
	_ engine.AudioExtractor = (*AudioExtractor)(nil)
	_ engine.VocalSeparator = (*VocalSeparator)(nil)
	_ engine.SpeakerTracker = (*SpeakerTracker)(nil)
	_ engine.Transcriber    = (*Transcriber)(nil)
	_ engine.Translator     = (*Translator)(nil)
	_ engine.VoiceCloner    = (*VoiceCloner)(nil)
	_ engine.Muxer          = (*Muxer)(nil)
)

// AudioExtractor is a mock implementation of [engine.AudioExtractor].
type AudioExtractor struct {
	mu sync.Mutex

	// SampleRateHz and Err are returned by ExtractAudio.
	SampleRateHz int
	Err          error

	// Calls records every (mediaPath, outPath) pair passed to ExtractAudio.
	Calls [][2]string
}

func (a *AudioExtractor) ExtractAudio(_ context.Context, mediaPath, outPath string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = append(a.Calls, [2]string{mediaPath, outPath})
	return a.SampleRateHz, a.Err
}

// VocalSeparator is a mock implementation of [engine.VocalSeparator].
type VocalSeparator struct {
	mu  sync.Mutex
	Err error

	Calls [][3]string // audioPath, vocalsOutPath, accompanimentOutPath
}

func (v *VocalSeparator) SeparateVocals(_ context.Context, audioPath, vocalsOutPath, accompanimentOutPath string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls = append(v.Calls, [3]string{audioPath, vocalsOutPath, accompanimentOutPath})
	return v.Err
}

// SpeakerTracker is a mock implementation of [engine.SpeakerTracker].
type SpeakerTracker struct {
	mu sync.Mutex

	Result []engine.SpeakerSegment
	Err    error

	Calls []string // vocalsPath values
}

func (s *SpeakerTracker) TrackSpeakers(_ context.Context, vocalsPath string) ([]engine.SpeakerSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, vocalsPath)
	return s.Result, s.Err
}

// TranscribeCall records the arguments of a single Transcribe invocation.
type TranscribeCall struct {
	VocalsPath string
	LangHint   types.LanguageCode
}

// Transcriber is a mock implementation of [engine.Transcriber].
type Transcriber struct {
	mu sync.Mutex

	TranscribeResult []segment.Segment
	DetectedLang     types.LanguageCode
	Err              error

	Calls []TranscribeCall
}

func (t *Transcriber) Transcribe(_ context.Context, vocalsPath string, langHint types.LanguageCode) ([]segment.Segment, types.LanguageCode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, TranscribeCall{VocalsPath: vocalsPath, LangHint: langHint})
	return t.TranscribeResult, t.DetectedLang, t.Err
}

// TranslateCall records the arguments of a single Translate invocation.
type TranslateCall struct {
	SourceTexts            []string
	SourceLang, TargetLang types.LanguageCode
}

// Translator is a mock implementation of [engine.Translator].
type Translator struct {
	mu sync.Mutex

	// TranslateFunc, when non-nil, overrides Result/Err for each call —
	// useful for tests that need the output to depend on the input (e.g.
	// echoing each source text with a marker suffix).
	TranslateFunc func(sourceTexts []string) ([]string, error)

	Result []string
	Err    error

	Calls []TranslateCall
}

func (t *Translator) Translate(_ context.Context, sourceTexts []string, sourceLang, targetLang types.LanguageCode) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, TranslateCall{SourceTexts: sourceTexts, SourceLang: sourceLang, TargetLang: targetLang})
	if t.TranslateFunc != nil {
		return t.TranslateFunc(sourceTexts)
	}
	return t.Result, t.Err
}

// VoiceCloner is a mock implementation of [engine.VoiceCloner].
type VoiceCloner struct {
	mu sync.Mutex

	ExtractReferenceErr error
	CloneVoiceErr       error

	// ExtractReferenceFunc and CloneVoiceFunc, when non-nil, override the
	// Err fields and run instead — useful for tests that need a real file
	// written at outPath (e.g. for a downstream stage to read back).
	ExtractReferenceFunc func(outPath string) error
	CloneVoiceFunc       func(targetText, outPath string) error

	ExtractReferenceCalls []string // vocalsPath values
	CloneVoiceCalls       []string // targetText values
}

func (c *VoiceCloner) ExtractReference(_ context.Context, vocalsPath string, start, end float64, outPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ExtractReferenceCalls = append(c.ExtractReferenceCalls, vocalsPath)
	if c.ExtractReferenceFunc != nil {
		return c.ExtractReferenceFunc(outPath)
	}
	return c.ExtractReferenceErr
}

func (c *VoiceCloner) CloneVoice(_ context.Context, referencePath, targetText string, langHint types.LanguageCode, outPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloneVoiceCalls = append(c.CloneVoiceCalls, targetText)
	if c.CloneVoiceFunc != nil {
		return c.CloneVoiceFunc(targetText, outPath)
	}
	return c.CloneVoiceErr
}

// Muxer is a mock implementation of [engine.Muxer].
type Muxer struct {
	mu  sync.Mutex
	Err error

	Calls [][3]string // originalMediaPath, mixedAudioPath, outPath
}

func (m *Muxer) Mux(_ context.Context, originalMediaPath, mixedAudioPath, outPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, [3]string{originalMediaPath, mixedAudioPath, outPath})
	return m.Err
}
