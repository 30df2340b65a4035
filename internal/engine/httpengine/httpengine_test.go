package httpengine

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestSeparateVocals_WritesBothFiles(t *testing.T) {
	vocals := []byte("vocals-audio")
	accomp := []byte("accompaniment-audio")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"vocals_wav_base64":"` + base64.StdEncoding.EncodeToString(vocals) +
			`","accompaniment_wav_base64":"` + base64.StdEncoding.EncodeToString(accomp) + `"}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(in, []byte("source"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	sep, err := NewSeparator(srv.URL)
	if err != nil {
		t.Fatalf("NewSeparator: %v", err)
	}
	vocalsOut := filepath.Join(dir, "vocals.wav")
	accompOut := filepath.Join(dir, "accomp.wav")
	if err := sep.SeparateVocals(context.Background(), in, vocalsOut, accompOut); err != nil {
		t.Fatalf("SeparateVocals: %v", err)
	}

	gotVocals, err := os.ReadFile(vocalsOut)
	if err != nil || string(gotVocals) != string(vocals) {
		t.Fatalf("vocals output = %q, err %v", gotVocals, err)
	}
	gotAccomp, err := os.ReadFile(accompOut)
	if err != nil || string(gotAccomp) != string(accomp) {
		t.Fatalf("accompaniment output = %q, err %v", gotAccomp, err)
	}
}

func TestTrackSpeakers_ParsesSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"segments":[{"speaker":"spk-1","start":0.0,"end":1.5},{"speaker":"spk-2","start":1.5,"end":3.0}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	in := filepath.Join(dir, "vocals.wav")
	if err := os.WriteFile(in, []byte("vocals"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	tr, err := NewTracker(srv.URL)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	segs, err := tr.TrackSpeakers(context.Background(), in)
	if err != nil {
		t.Fatalf("TrackSpeakers: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	if segs[0].SpeakerID != "spk-1" || segs[0].Start != 0.0 || segs[0].End != 1.5 {
		t.Fatalf("segs[0] = %+v", segs[0])
	}
	if segs[1].SpeakerID != "spk-2" {
		t.Fatalf("segs[1] = %+v", segs[1])
	}
}

func TestSeparateVocals_ErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	in := filepath.Join(dir, "in.wav")
	if err := os.WriteFile(in, []byte("source"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	sep, err := NewSeparator(srv.URL)
	if err != nil {
		t.Fatalf("NewSeparator: %v", err)
	}
	err = sep.SeparateVocals(context.Background(), in, filepath.Join(dir, "v.wav"), filepath.Join(dir, "a.wav"))
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
}
