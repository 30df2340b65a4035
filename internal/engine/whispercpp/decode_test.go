package whispercpp

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// writeTestWAV builds a minimal 16-bit mono PCM WAV file containing samples.
func writeTestWAV(t *testing.T, samples []int16) string {
	t.Helper()
	dataSize := len(samples) * 2
	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], 16000)
	binary.LittleEndian.PutUint32(buf[28:32], 16000*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:46+i*2], uint16(s))
	}

	path := filepath.Join(t.TempDir(), "test.wav")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestDecodeWAVMono16kFloat32(t *testing.T) {
	path := writeTestWAV(t, []int16{0, 16384, -16384, 32767})
	samples, err := decodeWAVMono16kFloat32(path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 4 {
		t.Fatalf("len(samples) = %d, want 4", len(samples))
	}
	if samples[0] != 0 {
		t.Errorf("samples[0] = %f, want 0", samples[0])
	}
	if samples[1] <= 0.49 || samples[1] >= 0.51 {
		t.Errorf("samples[1] = %f, want ~0.5", samples[1])
	}
	if samples[3] <= 0.99 || samples[3] > 1.0 {
		t.Errorf("samples[3] = %f, want ~1.0", samples[3])
	}
}

func TestExtractWAVDataChunk_RejectsNonRIFF(t *testing.T) {
	if _, err := extractWAVDataChunk([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}
