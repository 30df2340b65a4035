// Package wavutil provides the minimal RIFF/WAVE chunk-walking needed
// elsewhere in dubforge to slice, inspect, and re-encode 16-bit PCM WAV
// files without shelling out to ffmpeg for operations cheap enough to do
// in process. Grounded on pkg/provider/tts/coqui.parseWAV in the teacher
// repo — the same linear chunk scan, generalized into a shared package
// since both internal/engine/coqui (reference-clip extraction) and
// internal/merger (placement, level matching) need it.
package wavutil

import (
	"encoding/binary"
	"fmt"
)

// Info describes the layout of a parsed WAV file's "data" chunk.
type Info struct {
	DataOffset int
	DataSize   int
	SampleRate int
	Channels   int
}

// BytesPerSample returns the frame size in bytes for one sample across all
// channels, assuming 16-bit PCM.
func (i Info) BytesPerSample() int { return 2 * i.Channels }

// Duration returns the data chunk's length in seconds.
func (i Info) Duration() float64 {
	bps := i.BytesPerSample()
	if bps == 0 || i.SampleRate == 0 {
		return 0
	}
	frames := i.DataSize / bps
	return float64(frames) / float64(i.SampleRate)
}

// Parse walks wav's RIFF chunks and returns the format and data chunk
// location. It does not copy the PCM payload; callers slice it out of wav
// directly using the returned offsets.
func Parse(wav []byte) (Info, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Info{}, fmt.Errorf("wavutil: not a RIFF/WAVE file")
	}
	var info Info
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			}
		case "data":
			info.DataOffset = offset + 8
			info.DataSize = chunkSize
			if info.DataOffset+info.DataSize > len(wav) {
				info.DataSize = len(wav) - info.DataOffset
			}
			return info, nil
		}
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Info{}, fmt.Errorf("wavutil: WAV missing data chunk")
}

// Data returns the raw PCM payload described by info, sliced out of wav.
func (i Info) Data(wav []byte) []byte {
	return wav[i.DataOffset : i.DataOffset+i.DataSize]
}

// Encode wraps pcm (raw 16-bit PCM samples) in a minimal canonical WAV
// header.
func Encode(pcm []byte, sampleRate, channels int) []byte {
	if channels == 0 {
		channels = 1
	}
	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2
	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// Samples reinterprets 16-bit little-endian PCM bytes as signed sample
// values. Multi-channel audio is left interleaved; callers that need
// per-channel RMS should de-interleave first.
func Samples(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return out
}

// EncodeSamples is the inverse of Samples.
func EncodeSamples(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(s))
	}
	return buf
}
