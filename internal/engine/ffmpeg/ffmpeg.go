// Package ffmpeg implements [engine.AudioExtractor] and [engine.Muxer] by
// shelling out to the ffmpeg binary. ffmpeg has no Go client library in the
// example pack (or, to our knowledge, a maintained one in the broader
// ecosystem) — every pack repo that talks to ffmpeg does so via os/exec,
// so that is the grounded, idiomatic choice here too; see DESIGN.md.
package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/internal/mediatool"
)

// Compile-time interface assertions.
var (
	_ engine.AudioExtractor = (*Tool)(nil)
	_ engine.Muxer          = (*Tool)(nil)
)

// Config configures the ffmpeg adapter.
type Config struct {
	// BinPath is the path to the ffmpeg executable. Defaults to "ffmpeg"
	// (resolved via PATH) when empty.
	BinPath string

	// SampleRateHz is the sample rate ExtractAudio resamples to. Defaults
	// to 16000, the rate whisper.cpp expects.
	SampleRateHz int

	// Timeout bounds every ffmpeg invocation. Defaults to 5 minutes.
	Timeout time.Duration
}

// Tool is an ffmpeg-backed [engine.AudioExtractor] and [engine.Muxer].
type Tool struct {
	binPath      string
	sampleRateHz int
	timeout      time.Duration
}

// New constructs a Tool, applying defaults for zero-valued Config fields.
func New(cfg Config) *Tool {
	t := &Tool{
		binPath:      cfg.BinPath,
		sampleRateHz: cfg.SampleRateHz,
		timeout:      cfg.Timeout,
	}
	if t.binPath == "" {
		t.binPath = "ffmpeg"
	}
	if t.sampleRateHz == 0 {
		t.sampleRateHz = 16000
	}
	if t.timeout == 0 {
		t.timeout = 5 * time.Minute
	}
	return t
}

// CheckAvailable verifies the ffmpeg binary can be invoked.
func (t *Tool) CheckAvailable(ctx context.Context) error {
	if err := mediatool.CheckAvailable(ctx, t.binPath, "-version", 10*time.Second); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "ffmpeg.CheckAvailable", "ffmpeg not usable", err)
	}
	return nil
}

// ExtractAudio implements [engine.AudioExtractor] by decoding mediaPath's
// audio stream to mono PCM WAV at t.sampleRateHz.
func (t *Tool) ExtractAudio(ctx context.Context, mediaPath, outPath string) (int, error) {
	args := []string{
		"-y",
		"-i", mediaPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(t.sampleRateHz),
		"-acodec", "pcm_s16le",
		outPath,
	}
	if err := mediatool.Run(ctx, t.binPath, t.timeout, args...); err != nil {
		return 0, dubterr.Wrap(dubterr.KindEngineFailure, "ffmpeg.ExtractAudio", fmt.Sprintf("extract audio from %s", mediaPath), err)
	}
	return t.sampleRateHz, nil
}

// Mux implements [engine.Muxer]. When originalMediaPath carries a video
// stream it is copied unchanged (-c:v copy) while the audio stream is
// replaced entirely by mixedAudioPath; audio-only inputs fall back to
// simply re-encoding the new audio track.
func (t *Tool) Mux(ctx context.Context, originalMediaPath, mixedAudioPath, outPath string) error {
	args := []string{
		"-y",
		"-i", originalMediaPath,
		"-i", mixedAudioPath,
		"-map", "0:v?",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-shortest",
		outPath,
	}
	if err := mediatool.Run(ctx, t.binPath, t.timeout, args...); err != nil {
		return dubterr.Wrap(dubterr.KindEngineFailure, "ffmpeg.Mux", fmt.Sprintf("mux %s with %s", originalMediaPath, mixedAudioPath), err)
	}
	return nil
}
