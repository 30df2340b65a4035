package merger

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/dubforge/internal/segment"
	"github.com/MrWong99/dubforge/internal/wavutil"
)

func writeWAV(t *testing.T, dir, name string, sampleRate int, samples []int16) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := wavutil.Encode(wavutil.EncodeSamples(samples), sampleRate, 1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func constSamples(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMerge_PlacesSegmentOnSilentTimeline(t *testing.T) {
	dir := t.TempDir()
	const sr = 100 // 100 Hz keeps sample counts small and exact

	// Accompaniment: 2 seconds of silence.
	accompPath := writeWAV(t, dir, "accomp.wav", sr, constSamples(2*sr, 0))
	// Vocals: loud for the whole span so level-matching doesn't attenuate.
	vocalsPath := writeWAV(t, dir, "vocals.wav", sr, constSamples(2*sr, 10000))
	// Dubbed render: exactly 1 second, matching its segment's duration.
	dubbedPath := writeWAV(t, dir, "seg1.wav", sr, constSamples(1*sr, 10000))

	tbl := &segment.Table{Segments: []segment.Segment{
		{ID: 0, Start: 0.5, End: 1.5, DubbedAudioPath: dubbedPath},
	}}

	m := New(Config{SampleRateHz: sr})
	outPath := filepath.Join(dir, "out.wav")
	if err := m.Merge(context.Background(), tbl, vocalsPath, accompPath, 2.0, outPath); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read out: %v", err)
	}
	info, err := wavutil.Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	samples := wavutil.Samples(info.Data(out))
	if len(samples) != 2*sr {
		t.Fatalf("len(samples) = %d, want %d", len(samples), 2*sr)
	}
	// Before the segment: silence.
	if samples[0] != 0 {
		t.Fatalf("samples[0] = %d, want 0 (silence before segment)", samples[0])
	}
	// Inside the segment: non-zero (voice mixed in).
	mid := int(1.0 * sr)
	if samples[mid] == 0 {
		t.Fatalf("samples[%d] = 0, want non-zero inside placed segment", mid)
	}
}

func TestMerge_OverlapRepairShiftsLaterSegmentForward(t *testing.T) {
	dir := t.TempDir()
	const sr = 100

	accompPath := writeWAV(t, dir, "accomp.wav", sr, constSamples(3*sr, 0))
	vocalsPath := writeWAV(t, dir, "vocals.wav", sr, constSamples(3*sr, 10000))
	dubbed1 := writeWAV(t, dir, "seg1.wav", sr, constSamples(int(1.2*sr), 10000))
	dubbed2 := writeWAV(t, dir, "seg2.wav", sr, constSamples(int(0.8*sr), 10000))

	// Segment 0 and 1's raw spans overlap by 0.2s (a manual edit that
	// skipped segment.Table.Validate could produce this). Segment 1's
	// dubbed render already matches the 0.8s remaining once segment 0's
	// repair shifts its placement forward, so no stretching occurs;
	// placement alone must resolve the overlap.
	tbl := &segment.Table{Segments: []segment.Segment{
		{ID: 0, Start: 0, End: 1.2, DubbedAudioPath: dubbed1},
		{ID: 1, Start: 1.0, End: 2.0, DubbedAudioPath: dubbed2},
	}}

	m := New(Config{SampleRateHz: sr})
	outPath := filepath.Join(dir, "out.wav")
	if err := m.Merge(context.Background(), tbl, vocalsPath, accompPath, 3.0, outPath); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	// Segment 1 should have been shifted to start at 1.2s (where segment 0
	// ends) rather than overlapping segment 0's tail at 1.0s.
	out, _ := os.ReadFile(outPath)
	info, _ := wavutil.Parse(out)
	samples := wavutil.Samples(info.Data(out))

	// At 1.1s, still inside segment 0's un-truncated placement, audio
	// should be present (segment 0's voice), confirming it was not cut
	// short by the repair.
	idx := sr * 11 / 10
	if samples[idx] == 0 {
		t.Fatalf("samples[%d] = 0, want segment 0 still playing (overlap repair should not truncate it)", idx)
	}
}

func TestLevelMatchGain_CapsAtTolerance(t *testing.T) {
	m := New(Config{SampleRateHz: 100, LevelMatchToleranceDB: 3.0})
	vocals := wavSamples{samples: constSamples(100, 20000)} // very loud reference
	fitted := constSamples(100, 100)                        // very quiet dubbed render

	gain := m.levelMatchGain(vocals, 0, 1.0, fitted)
	gainDB := 20 * math.Log10(gain)
	if gainDB > 3.01 {
		t.Fatalf("gainDB = %f, want <= 3.0 (capped)", gainDB)
	}
}

func TestFitDuration_ExactFitReturnedUnchanged(t *testing.T) {
	m := New(Config{SampleRateHz: 100})
	dubbed := wavSamples{
		info:    wavutil.Info{SampleRate: 100, Channels: 1, DataSize: 100 * 2},
		samples: constSamples(100, 5000),
	}
	seg := segment.Segment{ID: 0, Start: 0, End: 1.0}
	fitted, err := m.fitDuration(context.Background(), seg, dubbed)
	if err != nil {
		t.Fatalf("fitDuration: %v", err)
	}
	if len(fitted) != 100 {
		t.Fatalf("len(fitted) = %d, want 100", len(fitted))
	}
}

func TestFitDuration_ShortRenderLeftUnstretched(t *testing.T) {
	m := New(Config{SampleRateHz: 100})
	dubbed := wavSamples{
		info:    wavutil.Info{SampleRate: 100, Channels: 1, DataSize: 50 * 2},
		samples: constSamples(50, 5000),
	}
	// A render shorter than its nominal span is not stretched or padded —
	// it is placed as-is; whatever follows in the timeline (accompaniment
	// or silence) fills the remainder.
	seg := segment.Segment{ID: 0, Start: 0, End: 1.0}
	fitted, err := m.fitDuration(context.Background(), seg, dubbed)
	if err != nil {
		t.Fatalf("fitDuration: %v", err)
	}
	if len(fitted) != 50 {
		t.Fatalf("len(fitted) = %d, want 50 (unmodified)", len(fitted))
	}
}

func TestFitDuration_ModerateOverrunLeftUnstretched(t *testing.T) {
	// A render that overruns its nominal span but stays within
	// MaxStretchFactor is placed as-is; the Merger algorithm only
	// compresses overruns beyond that factor, relying on overlap repair
	// to absorb smaller ones.
	m := New(Config{SampleRateHz: 100, MaxStretchFactor: 2.0})
	dubbed := wavSamples{
		info:    wavutil.Info{SampleRate: 100, Channels: 1, DataSize: 150 * 2},
		samples: constSamples(150, 5000),
	}
	seg := segment.Segment{ID: 0, Start: 0, End: 1.0} // target 1.0s, actual 1.5s, within 2x
	fitted, err := m.fitDuration(context.Background(), seg, dubbed)
	if err != nil {
		t.Fatalf("fitDuration: %v", err)
	}
	if len(fitted) != 150 {
		t.Fatalf("len(fitted) = %d, want 150 (unmodified)", len(fitted))
	}
}

func TestFitDuration_LargeOverrunStretchedThenTruncatedToSpan(t *testing.T) {
	// Target span 2.0s, clone 5.0s, MaxStretchFactor 2.0: factor = 5/2 = 2.5
	// caps to 2.0, so the clone is compressed to 2.5s. 2.5s still overruns
	// the 2.0s span, so the result must be truncated to exactly the span —
	// not to span*MaxStretchFactor, which would leave it at 2.5s untouched.
	const sr = 100
	m := New(Config{SampleRateHz: sr, MaxStretchFactor: 2.0})
	m.stretch = func(_ context.Context, _ string, tempo float64) ([]int16, error) {
		if tempo != 2.0 {
			t.Fatalf("stretch tempo = %f, want 2.0 (capped factor)", tempo)
		}
		return constSamples(int(2.5*sr), 5000), nil // simulates ffmpeg's atempo output
	}

	dubbed := wavSamples{
		info:    wavutil.Info{SampleRate: sr, Channels: 1, DataSize: 5 * sr * 2},
		samples: constSamples(5*sr, 5000),
	}
	seg := segment.Segment{ID: 0, Start: 0, End: 2.0}
	fitted, err := m.fitDuration(context.Background(), seg, dubbed)
	if err != nil {
		t.Fatalf("fitDuration: %v", err)
	}
	if want := int(2.0 * sr); len(fitted) != want {
		t.Fatalf("len(fitted) = %d, want %d (truncated to the 2.0s span, not span*MaxStretchFactor)", len(fitted), want)
	}
}

func TestBuildAccompanimentTimeline_AppliesGain(t *testing.T) {
	dir := t.TempDir()
	const sr = 100
	accompPath := writeWAV(t, dir, "accomp.wav", sr, constSamples(sr, 10000))

	m := New(Config{SampleRateHz: sr, AccompanimentGainDB: -6.0})
	timeline, err := m.buildAccompanimentTimeline(accompPath, 1.0)
	if err != nil {
		t.Fatalf("buildAccompanimentTimeline: %v", err)
	}
	want := int16(10000 * dbToLinear(-6.0))
	if math.Abs(float64(timeline[0]-want)) > 1 {
		t.Fatalf("timeline[0] = %d, want ~%d", timeline[0], want)
	}
}
