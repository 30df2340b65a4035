package whispercpp

import (
	"encoding/binary"
	"fmt"
	"os"
)

// decodeWAVMono16kFloat32 reads a canonical 16-bit PCM WAV file (as written
// by internal/engine/ffmpeg, always mono 16 kHz) and returns its samples as
// float32 normalised to [-1.0, 1.0] — the format whisper.cpp's Process
// expects. The PCM-to-float32 conversion mirrors the teacher's
// pkg/provider/stt/whisper.pcmToFloat32Mono.
func decodeWAVMono16kFloat32(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pcm, err := extractWAVDataChunk(data)
	if err != nil {
		return nil, err
	}
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples, nil
}

// extractWAVDataChunk walks a RIFF/WAVE file's chunk headers to locate the
// "data" chunk, skipping "fmt " and any other chunks present (e.g. "LIST").
func extractWAVDataChunk(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("whispercpp: not a RIFF/WAVE file")
	}
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		bodyStart := offset + 8
		bodyEnd := bodyStart + chunkSize
		if bodyEnd > len(data) {
			return nil, fmt.Errorf("whispercpp: truncated %q chunk", chunkID)
		}
		if chunkID == "data" {
			return data[bodyStart:bodyEnd], nil
		}
		offset = bodyEnd
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}
	return nil, fmt.Errorf("whispercpp: no data chunk found")
}
