// Package httpengine implements [engine.VocalSeparator] and
// [engine.SpeakerTracker] against plain HTTP microservices — a Demucs-style
// source-separation server and a pyannote-style diarization server. Neither
// has a Go client anywhere in the example pack, so both adapters follow the
// same "upload audio, decode JSON/binary response" idiom the teacher uses
// in pkg/provider/tts/coqui for its own XTTS HTTP calls: a multipart or raw
// file upload in, a typed response out, wrapped in dubterr.
package httpengine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/engine"
)

const defaultTimeout = 5 * time.Minute

// Separator is an [engine.VocalSeparator] backed by an HTTP source
// separation service (e.g. a Demucs server) that accepts a raw audio
// upload and returns two WAV files: isolated vocals and everything else.
type Separator struct {
	serverURL  string
	httpClient *http.Client
}

// Compile-time interface assertion.
var _ engine.VocalSeparator = (*Separator)(nil)

// NewSeparator creates a Separator targeting the source-separation server
// at serverURL (e.g. "http://localhost:8003").
func NewSeparator(serverURL string, opts ...func(*Separator)) (*Separator, error) {
	if serverURL == "" {
		return nil, dubterr.New(dubterr.KindInvalidRequest, "httpengine.NewSeparator", "serverURL must not be empty")
	}
	s := &Separator{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// WithSeparatorTimeout overrides the default per-request timeout.
func WithSeparatorTimeout(d time.Duration) func(*Separator) {
	return func(s *Separator) { s.httpClient.Timeout = d }
}

type separateResponse struct {
	VocalsBase64        string `json:"vocals_wav_base64"`
	AccompanimentBase64 string `json:"accompaniment_wav_base64"`
}

// SeparateVocals uploads the audio at audioPath and decodes the JSON
// response into two WAV files: isolated vocals and the
// instrumental/background accompaniment.
func (s *Separator) SeparateVocals(ctx context.Context, audioPath, vocalsOutPath, accompanimentOutPath string) error {
	req, err := newUploadRequest(ctx, s.serverURL+"/separate", "audio", audioPath)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return dubterr.Wrap(dubterr.KindEngineFailure, "httpengine.SeparateVocals", "POST /separate", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return dubterr.New(dubterr.KindEngineFailure, "httpengine.SeparateVocals", fmt.Sprintf("POST /separate returned status %d", resp.StatusCode))
	}

	var sr separateResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return dubterr.Wrap(dubterr.KindEngineFailure, "httpengine.SeparateVocals", "decode response", err)
	}
	if sr.VocalsBase64 == "" || sr.AccompanimentBase64 == "" {
		return dubterr.New(dubterr.KindEngineFailure, "httpengine.SeparateVocals", "response missing vocals or accompaniment audio")
	}
	if err := decodeBase64ToFile(sr.VocalsBase64, vocalsOutPath); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "httpengine.SeparateVocals", "write vocals output", err)
	}
	if err := decodeBase64ToFile(sr.AccompanimentBase64, accompanimentOutPath); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "httpengine.SeparateVocals", "write accompaniment output", err)
	}
	return nil
}

// Tracker is an [engine.SpeakerTracker] backed by an HTTP diarization
// service (e.g. a pyannote.audio server) that accepts a raw audio upload
// and returns a list of speaker-labeled time spans.
type Tracker struct {
	serverURL  string
	httpClient *http.Client
}

// Compile-time interface assertion.
var _ engine.SpeakerTracker = (*Tracker)(nil)

// NewTracker creates a Tracker targeting the diarization server at
// serverURL (e.g. "http://localhost:8004").
func NewTracker(serverURL string, opts ...func(*Tracker)) (*Tracker, error) {
	if serverURL == "" {
		return nil, dubterr.New(dubterr.KindInvalidRequest, "httpengine.NewTracker", "serverURL must not be empty")
	}
	t := &Tracker{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// WithTrackerTimeout overrides the default per-request timeout.
func WithTrackerTimeout(d time.Duration) func(*Tracker) {
	return func(t *Tracker) { t.httpClient.Timeout = d }
}

type diarizeResponse struct {
	Segments []struct {
		Speaker string  `json:"speaker"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
	} `json:"segments"`
}

// TrackSpeakers uploads the audio at vocalsPath and returns the diarized
// speaker segments in the order the server lists them; they are not
// re-sorted.
func (t *Tracker) TrackSpeakers(ctx context.Context, vocalsPath string) ([]engine.SpeakerSegment, error) {
	req, err := newUploadRequest(ctx, t.serverURL+"/diarize", "audio", vocalsPath)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindEngineFailure, "httpengine.TrackSpeakers", "POST /diarize", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, dubterr.New(dubterr.KindEngineFailure, "httpengine.TrackSpeakers", fmt.Sprintf("POST /diarize returned status %d", resp.StatusCode))
	}

	var dr diarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, dubterr.Wrap(dubterr.KindEngineFailure, "httpengine.TrackSpeakers", "decode response", err)
	}

	out := make([]engine.SpeakerSegment, 0, len(dr.Segments))
	for _, s := range dr.Segments {
		out = append(out, engine.SpeakerSegment{SpeakerID: s.Speaker, Start: s.Start, End: s.End})
	}
	return out, nil
}

// newUploadRequest builds a multipart/form-data POST request uploading the
// file at filePath under the given form field name.
func newUploadRequest(ctx context.Context, url, fieldName, filePath string) (*http.Request, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "httpengine.newUploadRequest", fmt.Sprintf("read %s", filePath), err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(fieldName, filepath.Base(filePath))
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "httpengine.newUploadRequest", "create form file", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "httpengine.newUploadRequest", "write form file", err)
	}
	if err := mw.Close(); err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "httpengine.newUploadRequest", "close multipart writer", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "httpengine.newUploadRequest", "build request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func decodeBase64ToFile(b64 string, outPath string) error {
	dec, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("httpengine: decode base64 audio: %w", err)
	}
	return os.WriteFile(outPath, dec, 0o644)
}
