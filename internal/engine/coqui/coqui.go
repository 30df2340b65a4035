// Package coqui implements [engine.VoiceCloner] against a Coqui XTTS v2
// API server, reusing the teacher's two load-bearing XTTS endpoints from
// pkg/provider/tts/coqui: POST /clone_speaker (upload reference audio,
// get back a speaker id) and POST /tts_to_audio/ (synthesize text in a
// named speaker's voice). The teacher's sentence-lookahead streaming
// machinery has no counterpart here — ExtractReference/CloneVoice are
// each one blocking call per segment — and the RIFF/WAVE parsing is
// delegated to internal/wavutil (itself grounded on
// pkg/provider/tts/coqui.parseWAV) since dubforge reads reference spans
// out of an existing WAV file instead of receiving one over HTTP.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/internal/wavutil"
	"github.com/MrWong99/dubforge/pkg/types"
)

// Compile-time interface assertion.
var _ engine.VoiceCloner = (*Cloner)(nil)

const (
	ttsEndpoint          = "/tts_to_audio/"
	cloneSpeakerEndpoint = "/clone_speaker"
	defaultTimeout       = 60 * time.Second
)

// Cloner is a Coqui XTTS-backed [engine.VoiceCloner].
type Cloner struct {
	serverURL  string
	httpClient *http.Client
}

// Option configures a Cloner.
type Option func(*Cloner)

// WithTimeout sets the per-request HTTP timeout. Defaults to 60s — XTTS
// synthesis of a full segment is slower than the short-sentence synthesis
// the teacher's streaming TTS provider performs.
func WithTimeout(d time.Duration) Option {
	return func(c *Cloner) { c.httpClient.Timeout = d }
}

// New creates a Cloner targeting the XTTS server at serverURL (e.g.
// "http://localhost:8002").
func New(serverURL string, opts ...Option) (*Cloner, error) {
	if serverURL == "" {
		return nil, dubterr.New(dubterr.KindInvalidRequest, "coqui.New", "serverURL must not be empty")
	}
	c := &Cloner{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ExtractReference slices the PCM samples in [start,end] seconds out of
// the WAV file at vocalsPath and writes them as a standalone WAV file to
// outPath, suitable for upload via CloneVoice.
func (c *Cloner) ExtractReference(ctx context.Context, vocalsPath string, start, end float64, outPath string) error {
	if err := ctx.Err(); err != nil {
		return dubterr.Wrap(dubterr.KindCancelled, "coqui.ExtractReference", "context already cancelled", err)
	}
	data, err := os.ReadFile(vocalsPath)
	if err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "coqui.ExtractReference", fmt.Sprintf("read %s", vocalsPath), err)
	}
	info, err := wavutil.Parse(data)
	if err != nil {
		return dubterr.Wrap(dubterr.KindCorrupt, "coqui.ExtractReference", "parse source WAV", err)
	}

	bytesPerSample := info.BytesPerSample()
	startByte := info.DataOffset + int(start*float64(info.SampleRate))*bytesPerSample
	endByte := info.DataOffset + int(end*float64(info.SampleRate))*bytesPerSample
	if startByte < info.DataOffset {
		startByte = info.DataOffset
	}
	if endByte > len(data) {
		endByte = len(data)
	}
	if endByte <= startByte {
		return dubterr.New(dubterr.KindInvalidRequest, "coqui.ExtractReference", "reference span is empty after clamping to source length")
	}

	clip := wavutil.Encode(data[startByte:endByte], info.SampleRate, info.Channels)
	if err := os.WriteFile(outPath, clip, 0o644); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "coqui.ExtractReference", fmt.Sprintf("write %s", outPath), err)
	}
	return nil
}

// CloneVoice uploads the reference clip to POST /clone_speaker to obtain a
// speaker id, then synthesizes targetText in that speaker's voice via
// POST /tts_to_audio/, writing the resulting WAV to outPath.
func (c *Cloner) CloneVoice(ctx context.Context, referencePath, targetText string, langHint types.LanguageCode, outPath string) error {
	speakerID, err := c.cloneSpeaker(ctx, referencePath)
	if err != nil {
		return err
	}
	wav, err := c.synthesize(ctx, targetText, speakerID, string(langHint))
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, wav, 0o644); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "coqui.CloneVoice", fmt.Sprintf("write %s", outPath), err)
	}
	return nil
}

type cloneSpeakerResponse struct {
	Name string `json:"name"`
}

func (c *Cloner) cloneSpeaker(ctx context.Context, referencePath string) (string, error) {
	sample, err := os.ReadFile(referencePath)
	if err != nil {
		return "", dubterr.Wrap(dubterr.KindIOFailure, "coqui.cloneSpeaker", fmt.Sprintf("read %s", referencePath), err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("wav_files", filepath.Base(referencePath))
	if err != nil {
		return "", dubterr.Wrap(dubterr.KindIOFailure, "coqui.cloneSpeaker", "create form file", err)
	}
	if _, err := fw.Write(sample); err != nil {
		return "", dubterr.Wrap(dubterr.KindIOFailure, "coqui.cloneSpeaker", "write form file", err)
	}
	if err := mw.Close(); err != nil {
		return "", dubterr.Wrap(dubterr.KindIOFailure, "coqui.cloneSpeaker", "close multipart writer", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+cloneSpeakerEndpoint, &body)
	if err != nil {
		return "", dubterr.Wrap(dubterr.KindIOFailure, "coqui.cloneSpeaker", "build request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", dubterr.Wrap(dubterr.KindEngineFailure, "coqui.cloneSpeaker", "POST "+cloneSpeakerEndpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", dubterr.New(dubterr.KindEngineFailure, "coqui.cloneSpeaker", fmt.Sprintf("POST %s returned status %d", cloneSpeakerEndpoint, resp.StatusCode))
	}

	var cr cloneSpeakerResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", dubterr.Wrap(dubterr.KindEngineFailure, "coqui.cloneSpeaker", "decode response", err)
	}
	if cr.Name == "" {
		return "", dubterr.New(dubterr.KindEngineFailure, "coqui.cloneSpeaker", "response missing speaker name")
	}
	return cr.Name, nil
}

type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (c *Cloner) synthesize(ctx context.Context, text, speakerID, lang string) ([]byte, error) {
	body, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: speakerID, Language: lang})
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindInvalidRequest, "coqui.synthesize", "marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+ttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "coqui.synthesize", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindEngineFailure, "coqui.synthesize", "POST "+ttsEndpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, dubterr.New(dubterr.KindEngineFailure, "coqui.synthesize", fmt.Sprintf("POST %s returned status %d", ttsEndpoint, resp.StatusCode))
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindEngineFailure, "coqui.synthesize", "read response body", err)
	}
	return wav, nil
}
