package coqui

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/dubforge/internal/wavutil"
)

func writeTestWAV(t *testing.T, sampleRate, channels int, samples []int16) string {
	t.Helper()
	buf := wavutil.Encode(wavutil.EncodeSamples(samples), sampleRate, channels)
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestExtractReference_SlicesRequestedSpan(t *testing.T) {
	// 1 second of audio at 10 samples/sec for easy math: sample i == i.
	samples := make([]int16, 10)
	for i := range samples {
		samples[i] = int16(i)
	}
	path := writeTestWAV(t, 10, 1, samples)

	c, err := New("http://example.invalid")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out := filepath.Join(t.TempDir(), "ref.wav")
	if err := c.ExtractReference(context.Background(), path, 0.2, 0.5, out); err != nil {
		t.Fatalf("ExtractReference: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read out: %v", err)
	}
	info, err := wavutil.Parse(data)
	if err != nil {
		t.Fatalf("Parse(out): %v", err)
	}
	gotSamples := info.DataSize / 2
	wantSamples := 3 // samples at t=0.2..0.5s -> indices 2,3,4
	if gotSamples != wantSamples {
		t.Fatalf("gotSamples = %d, want %d", gotSamples, wantSamples)
	}
}
