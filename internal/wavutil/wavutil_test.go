package wavutil

import "testing"

func TestParse_FindsDataChunk(t *testing.T) {
	pcm := EncodeSamples([]int16{1, 2, 3, 4, 5})
	wav := Encode(pcm, 16000, 1)

	info, err := Parse(wav)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Fatalf("info = %+v", info)
	}
	if len(info.Data(wav)) != len(pcm) {
		t.Fatalf("Data length = %d, want %d", len(info.Data(wav)), len(pcm))
	}
}

func TestParse_RejectsNonRIFF(t *testing.T) {
	if _, err := Parse([]byte("not a wav at all")); err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}

func TestDuration(t *testing.T) {
	pcm := EncodeSamples(make([]int16, 1000)) // 1000 samples @ 1000Hz = 1s
	wav := Encode(pcm, 1000, 1)
	info, err := Parse(wav)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if d := info.Duration(); d < 0.99 || d > 1.01 {
		t.Fatalf("Duration = %f, want ~1.0", d)
	}
}

func TestSamples_RoundTrips(t *testing.T) {
	want := []int16{-32768, -1, 0, 1, 32767}
	got := Samples(EncodeSamples(want))
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
