// Package engine defines the seven narrow interfaces that the pipeline calls
// out to for the work it does not do itself: extracting and muxing audio,
// separating vocals from accompaniment, tracking speakers, transcribing
// speech, translating text, and cloning a voice. Each interface is
// intentionally single-purpose and blocking — no streaming, no internal
// retry — so that the composition root in internal/app can wrap any of
// them uniformly in a
// [resilience.FallbackGroup] without the interface itself needing to know
// about circuit breakers or provider fallback chains.
//
// Implementations are provided by provider-specific packages under
// internal/engine/<name>. The interfaces here are what the pipeline depends
// on; nothing outside this package should import a concrete adapter
// directly except the composition root in internal/app.
//
// This package lives under internal/ because it encapsulates
// application-private processing logic and is not intended to be imported
// by external code.
package engine

import (
	"context"

	"github.com/MrWong99/dubforge/internal/segment"
	"github.com/MrWong99/dubforge/pkg/types"
)

// AudioExtractor pulls a single mono PCM/WAV audio track out of an arbitrary
// input media container (stage 1).
type AudioExtractor interface {
	// ExtractAudio reads the media file at mediaPath and writes a decoded
	// audio track to outPath. Returns the sample rate of the written
	// file so downstream stages that need it don't have to re-probe.
	ExtractAudio(ctx context.Context, mediaPath, outPath string) (sampleRateHz int, err error)
}

// VocalSeparator splits a mixed audio track into a vocals-only stem and an
// accompaniment (music/effects/background) stem (stage 2).
type VocalSeparator interface {
	// SeparateVocals reads audioPath and writes two files: vocalsOutPath
	// (isolated speech) and accompanimentOutPath (everything else). The
	// accompaniment stem is mixed back under the dubbed vocals at stage 8.
	SeparateVocals(ctx context.Context, audioPath, vocalsOutPath, accompanimentOutPath string) error
}

// SpeakerSegment is one contiguous span of audio attributed to a single
// speaker, as produced by diarization.
type SpeakerSegment struct {
	SpeakerID string
	Start     float64
	End       float64
}

// SpeakerTracker performs speaker diarization over the vocals stem (stage 3,
// optional — skipped entirely when the task disables diarization).
type SpeakerTracker interface {
	// TrackSpeakers returns the ordered list of speaker-attributed spans
	// found in the audio at vocalsPath.
	TrackSpeakers(ctx context.Context, vocalsPath string) ([]SpeakerSegment, error)
}

// Transcriber converts speech audio into timed text (stage 4). It also
// performs the segmentation that turns a continuous transcript into the
// discrete utterance [segment.Segment]s the rest of the pipeline operates
// on.
type Transcriber interface {
	// Transcribe reads vocalsPath and returns segments ordered by Start,
	// each with SourceText and Words populated. langHint is a BCP-47 tag
	// or [types.AutoLanguage] to request automatic language detection;
	// implementations that detect a language return it in detectedLang.
	Transcribe(ctx context.Context, vocalsPath string, langHint types.LanguageCode) (segments []segment.Segment, detectedLang types.LanguageCode, err error)
}

// Translator renders source-language text into the target language (stage
// 5), one batch call per invocation so implementations can exploit
// cross-segment context (speaker continuity, terminology consistency)
// within the batch.
type Translator interface {
	// Translate returns one target-language string per input string, in
	// the same order. len(result) == len(sourceTexts) on success.
	Translate(ctx context.Context, sourceTexts []string, sourceLang, targetLang types.LanguageCode) ([]string, error)
}

// VoiceCloner extracts clean speaker-reference audio (stage 6) and
// synthesizes target-language speech in that speaker's voice (stage 7).
// The two are one interface because most cloning backends (e.g. Coqui
// XTTS) couple reference-embedding extraction to the same client session
// that performs synthesis.
type VoiceCloner interface {
	// ExtractReference reads the clean speaker span at
	// [start,end] seconds from vocalsPath and writes a short reference
	// clip to outPath suitable for a later CloneVoice call.
	ExtractReference(ctx context.Context, vocalsPath string, start, end float64, outPath string) error

	// CloneVoice synthesizes targetText in the voice captured by
	// referencePath, writing the rendered clip to outPath. langHint tells
	// the backend which phoneme set/language model to use for synthesis.
	CloneVoice(ctx context.Context, referencePath, targetText string, langHint types.LanguageCode, outPath string) error
}

// Muxer recombines a final mixed audio track with the original video (stage
// 9), or returns the audio track unchanged for audio-only inputs.
type Muxer interface {
	// Mux writes a new media file at outPath combining the video stream
	// (if any) from originalMediaPath with the audio stream at
	// mixedAudioPath.
	Mux(ctx context.Context, originalMediaPath, mixedAudioPath, outPath string) error
}
