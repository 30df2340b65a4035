// Package merger implements stage 8 of the pipeline: placing every
// segment's cloned-voice render onto a single timeline alongside the
// separated accompaniment track, producing one mixed-down audio file ready
// for Mux.
//
// The scheduling shape is grounded on
// pkg/audio/mixer.PriorityMixer/heap.go in the teacher repo: a
// container/heap-ordered set of spans driving sequential placement onto an
// output timeline. The teacher's heap orders live playback requests by
// priority (with FIFO tie-break) and feeds a background dispatch
// goroutine; this one orders the known, finite set of segments by Start
// time and runs once, synchronously, since the whole segment set — unlike
// the teacher's continuously arriving NPC utterances — is known up front
// and there is nothing to dispatch concurrently. Time-stretching and
// truncation are delegated to ffmpeg via internal/mediatool, the same
// exec-with-timeout contract internal/engine/ffmpeg already uses; no DSP
// is implemented in process beyond 16-bit PCM gain and summation.
package merger

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/mediatool"
	"github.com/MrWong99/dubforge/internal/segment"
	"github.com/MrWong99/dubforge/internal/wavutil"
)

// DefaultLevelMatchToleranceDB caps how far the Merger will adjust a
// cloned segment's gain when matching it to the original vocal's loudness.
// A segment that would need a larger correction is left at the capped gain
// rather than matched exactly, since large corrections usually indicate a
// cloning artifact rather than a genuine loudness mismatch worth erasing.
const DefaultLevelMatchToleranceDB = 3.0

// DefaultAccompanimentGainDB is the default gain applied to the
// accompaniment track before mixing (merger.accompaniment_gain_db's
// configuration default). It scales the accompaniment samples directly and
// is not referenced to the voice level.
const DefaultAccompanimentGainDB = -6.0

// DefaultMaxStretchFactor is the maximum time-compression factor the
// Merger will apply to a clone before falling back to truncation
// (merger.max_stretch's configuration default).
const DefaultMaxStretchFactor = 2.0

// Config configures a Merger.
type Config struct {
	// SampleRateHz is the PCM sample rate of every input and the output
	// timeline. Defaults to 16000, matching internal/engine/ffmpeg's
	// extraction rate.
	SampleRateHz int

	// MaxStretchFactor bounds how much a cloned segment's duration may be
	// time-compressed to fit its allotted span (merger.max_stretch). A
	// segment needing more correction than this is stretched to the cap
	// and then truncated from the tail. Defaults to
	// DefaultMaxStretchFactor.
	MaxStretchFactor float64

	// AccompanimentGainDB is applied to the separated accompaniment track
	// before mixing it under the dubbed voice (merger.accompaniment_gain_db).
	// The gain scales the accompaniment samples as they are; it is not
	// measured against the peak voice level. Defaults to
	// DefaultAccompanimentGainDB (-6 dB).
	AccompanimentGainDB float64

	// LevelMatchToleranceDB caps the per-segment loudness-matching gain
	// correction. Defaults to DefaultLevelMatchToleranceDB.
	LevelMatchToleranceDB float64

	// BinPath is the ffmpeg binary used for time-stretching. Defaults to
	// "ffmpeg".
	BinPath string

	// Timeout bounds each ffmpeg stretch invocation. Defaults to 2 minutes.
	Timeout time.Duration

	// WorkDir is where intermediate stretched WAV files are written.
	// Defaults to os.TempDir().
	WorkDir string
}

// Merger places cloned-voice segments onto a timeline and mixes them with
// the original accompaniment.
type Merger struct {
	cfg Config

	// stretch defaults to ffmpegStretch; tests override it to exercise
	// fitDuration's stretch-then-truncate arithmetic without shelling out.
	stretch func(ctx context.Context, inPath string, tempo float64) ([]int16, error)
}

// New constructs a Merger, applying defaults for zero-valued Config fields.
func New(cfg Config) *Merger {
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = 16000
	}
	if cfg.MaxStretchFactor == 0 {
		cfg.MaxStretchFactor = DefaultMaxStretchFactor
	}
	if cfg.LevelMatchToleranceDB == 0 {
		cfg.LevelMatchToleranceDB = DefaultLevelMatchToleranceDB
	}
	if cfg.AccompanimentGainDB == 0 {
		cfg.AccompanimentGainDB = DefaultAccompanimentGainDB
	}
	if cfg.BinPath == "" {
		cfg.BinPath = "ffmpeg"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	m := &Merger{cfg: cfg}
	m.stretch = m.ffmpegStretch
	return m
}

// placedSpan is one segment's slot on the output timeline, ordered by
// Start for heap-driven sequential placement.
type placedSpan struct {
	seg segment.Segment
	seq int // insertion order, for FIFO tie-break on equal Start
}

type spanHeap []placedSpan

func (h spanHeap) Len() int { return len(h) }
func (h spanHeap) Less(i, j int) bool {
	if h[i].seg.Start != h[j].seg.Start {
		return h[i].seg.Start < h[j].seg.Start
	}
	return h[i].seq < h[j].seq
}
func (h spanHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *spanHeap) Push(x any)        { *h = append(*h, x.(placedSpan)) }
func (h *spanHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Merge places every segment with a non-empty DubbedAudioPath onto a
// timeline of totalDuration seconds, time-stretching or truncating each to
// fit, repairing any overlap against the previously placed segment,
// level-matching its loudness against the corresponding span of
// vocalsPath, and mixing the result with accompanimentPath. The mixed-down
// result is written to outPath as a WAV file.
func (m *Merger) Merge(ctx context.Context, tbl *segment.Table, vocalsPath, accompanimentPath string, totalDuration float64, outPath string) error {
	if err := ctx.Err(); err != nil {
		return dubterr.Wrap(dubterr.KindCancelled, "merger.Merge", "context already cancelled", err)
	}

	vocals, err := readWAV(vocalsPath)
	if err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "merger.Merge", "read vocals track", err)
	}

	timeline, err := m.buildAccompanimentTimeline(accompanimentPath, totalDuration)
	if err != nil {
		return err
	}

	h := &spanHeap{}
	heap.Init(h)
	for i, seg := range tbl.Segments {
		if seg.DubbedAudioPath == "" {
			continue
		}
		heap.Push(h, placedSpan{seg: seg, seq: i})
	}

	var placedUntil float64
	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return dubterr.Wrap(dubterr.KindCancelled, "merger.Merge", "context cancelled during placement", err)
		}
		span := heap.Pop(h).(placedSpan)
		if err := m.placeSegment(ctx, span.seg, vocals, timeline, &placedUntil); err != nil {
			return err
		}
	}

	out := wavutil.Encode(wavutil.EncodeSamples(timeline), m.cfg.SampleRateHz, 1)
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "merger.Merge", fmt.Sprintf("write %s", outPath), err)
	}
	return nil
}

type wavSamples struct {
	info    wavutil.Info
	samples []int16
}

func readWAV(path string) (wavSamples, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return wavSamples{}, err
	}
	info, err := wavutil.Parse(data)
	if err != nil {
		return wavSamples{}, err
	}
	return wavSamples{info: info, samples: wavutil.Samples(info.Data(data))}, nil
}

// buildAccompanimentTimeline returns a silence timeline of totalDuration
// seconds, length-matched, with the accompaniment track (attenuated by
// AccompanimentGainDB) laid under it. Voice segments are mixed in on top
// by placeSegment. accompanimentPath may be empty — VocalSeparator leaves
// no accompaniment stem when it detects no music above its threshold —
// in which case the timeline starts as pure silence.
func (m *Merger) buildAccompanimentTimeline(accompanimentPath string, totalDuration float64) ([]int16, error) {
	totalSamples := int(totalDuration * float64(m.cfg.SampleRateHz))
	timeline := make([]int16, totalSamples)

	if accompanimentPath == "" {
		return timeline, nil
	}

	acc, err := readWAV(accompanimentPath)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "merger.buildAccompanimentTimeline", "read accompaniment track", err)
	}
	gain := dbToLinear(m.cfg.AccompanimentGainDB)
	n := len(acc.samples)
	if n > totalSamples {
		n = totalSamples
	}
	for i := 0; i < n; i++ {
		timeline[i] = scaleClip(acc.samples[i], gain)
	}
	return timeline, nil
}

// placeSegment fits seg's dubbed render to its nominal span (time-
// compressing only when it overruns by more than MaxStretchFactor, per
// the Merger algorithm), repairs overlap against the previous placement,
// level-matches it against the original vocal's loudness over seg's
// nominal span, and mixes it into timeline.
func (m *Merger) placeSegment(ctx context.Context, seg segment.Segment, vocals wavSamples, timeline []int16, placedUntil *float64) error {
	dubbed, err := readWAV(seg.DubbedAudioPath)
	if err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "merger.placeSegment", fmt.Sprintf("read dubbed render for segment %d", seg.ID), err)
	}

	fitted, err := m.fitDuration(ctx, seg, dubbed)
	if err != nil {
		return err
	}

	start := seg.Start
	if start < *placedUntil {
		// Overlap repair: shift this segment's placement to begin right
		// after the previously placed one rather than stepping on it.
		start = *placedUntil
	}

	totalSamples := len(timeline)
	startSample := int(start * float64(m.cfg.SampleRateHz))
	if startSample+len(fitted) > totalSamples {
		// The placement would run past the track's end; truncate from
		// the tail to fit.
		if startSample >= totalSamples {
			return nil
		}
		fitted = fitted[:totalSamples-startSample]
	}

	gain := m.levelMatchGain(vocals, seg.Start, seg.End, fitted)
	for i, s := range fitted {
		idx := startSample + i
		timeline[idx] = mixClip(timeline[idx], scaleClip(s, gain))
	}

	*placedUntil = start + float64(len(fitted))/float64(m.cfg.SampleRateHz)
	return nil
}

// fitDuration returns dubbed's samples, time-compressed only when they
// overrun seg's nominal span by more than MaxStretchFactor: the clone is
// then compressed by the minimum factor that fits, capped at
// MaxStretchFactor, and truncated from the tail if it is still too long
// afterward. A clone that fits within MaxStretchFactor of its nominal
// span — including one shorter than its span — is returned unmodified;
// overlap with whatever follows it is resolved by placeSegment's overlap
// repair, not by stretching or silence-padding here.
func (m *Merger) fitDuration(ctx context.Context, seg segment.Segment, dubbed wavSamples) ([]int16, error) {
	target := seg.End - seg.Start
	actual := dubbed.info.Duration()
	samples := dubbed.samples
	if target <= 0 || actual <= target*m.cfg.MaxStretchFactor {
		return samples, nil
	}

	factor := actual / target
	if factor > m.cfg.MaxStretchFactor {
		factor = m.cfg.MaxStretchFactor
	}
	stretched, err := m.stretch(ctx, seg.DubbedAudioPath, factor)
	if err != nil {
		return nil, err
	}
	samples = stretched

	maxSamples := int(target * float64(m.cfg.SampleRateHz))
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	return samples, nil
}

// ffmpegStretch runs ffmpeg's atempo filter against inPath at the given
// tempo factor (inPath's duration divided by the target duration; >1
// speeds up, <1 slows down) and returns the resulting PCM samples. atempo
// supports only [0.5, 2.0] per invocation; callers must clamp to that range
// via MaxStretchFactor before calling. This is Merger's default stretch
// implementation; assigned to the stretch field in New.
func (m *Merger) ffmpegStretch(ctx context.Context, inPath string, tempo float64) ([]int16, error) {
	outPath := filepath.Join(m.cfg.WorkDir, fmt.Sprintf("stretch-%d.wav", time.Now().UnixNano()))
	defer os.Remove(outPath)

	args := []string{
		"-y",
		"-i", inPath,
		"-filter:a", fmt.Sprintf("atempo=%f", tempo),
		"-ar", fmt.Sprintf("%d", m.cfg.SampleRateHz),
		"-ac", "1",
		outPath,
	}
	if err := mediatool.Run(ctx, m.cfg.BinPath, m.cfg.Timeout, args...); err != nil {
		return nil, dubterr.Wrap(dubterr.KindEngineFailure, "merger.stretch", fmt.Sprintf("ffmpeg atempo=%f on %s", tempo, inPath), err)
	}
	out, err := readWAV(outPath)
	if err != nil {
		return nil, dubterr.Wrap(dubterr.KindIOFailure, "merger.stretch", "read stretched output", err)
	}
	return out.samples, nil
}

// levelMatchGain returns the linear gain to apply to fitted so its RMS
// matches the original vocal's RMS over [start,end], capped at
// LevelMatchToleranceDB in either direction.
func (m *Merger) levelMatchGain(vocals wavSamples, start, end float64, fitted []int16) float64 {
	startSample := int(start * float64(m.cfg.SampleRateHz))
	endSample := int(end * float64(m.cfg.SampleRateHz))
	if startSample < 0 {
		startSample = 0
	}
	if endSample > len(vocals.samples) {
		endSample = len(vocals.samples)
	}
	if endSample <= startSample {
		return 1.0
	}
	targetRMS := rms(vocals.samples[startSample:endSample])
	currentRMS := rms(fitted)
	if targetRMS <= 0 || currentRMS <= 0 {
		return 1.0
	}

	gainDB := 20 * math.Log10(targetRMS/currentRMS)
	if gainDB > m.cfg.LevelMatchToleranceDB {
		gainDB = m.cfg.LevelMatchToleranceDB
	}
	if gainDB < -m.cfg.LevelMatchToleranceDB {
		gainDB = -m.cfg.LevelMatchToleranceDB
	}
	return dbToLinear(gainDB)
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

func scaleClip(s int16, gain float64) int16 {
	v := float64(s) * gain
	return clip16(v)
}

func mixClip(a, b int16) int16 {
	return clip16(float64(a) + float64(b))
}

func clip16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
