// Package executor drives one task through the nine pipeline stages
// defined in internal/pipeline, calling out to the Engines bundle for the
// work this package does not do itself and persisting every stage
// transition through internal/taskstore before it publishes the
// corresponding internal/eventbus event, so a crash mid-stage never leaves
// a subscriber's view ahead of disk.
//
// One Executor is shared by every task; Run holds no per-task state beyond
// the local variables of a single call, so a task can be resumed by a
// fresh call to Run (or Continue) after a process restart with no warm
// in-memory cache to rebuild. Concurrency across tasks and serialization
// within a task are the caller's job (internal/scheduler); Executor
// assumes it is the only goroutine driving a given task id at a time.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/internal/eventbus"
	"github.com/MrWong99/dubforge/internal/merger"
	"github.com/MrWong99/dubforge/internal/observe"
	"github.com/MrWong99/dubforge/internal/segment"
	"github.com/MrWong99/dubforge/internal/taskstore"
	"github.com/MrWong99/dubforge/internal/wavutil"
	"github.com/MrWong99/dubforge/pkg/types"
)

func marshalSpeakerTracks(tracks []engine.SpeakerSegment) ([]byte, error) {
	return json.MarshalIndent(tracks, "", "  ")
}

func unmarshalSpeakerTracks(data []byte) ([]engine.SpeakerSegment, error) {
	var tracks []engine.SpeakerSegment
	if err := json.Unmarshal(data, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// Artifact file names. All stage outputs live flat under a task's
// artifacts/ directory — taskstore.Store.ArtifactPath rejects any name
// containing a path separator, so per-segment artifacts are disambiguated
// by segment id in the file name rather than by subdirectory.
const (
	artifactAudio         = "audio.wav"
	artifactVocals        = "vocals.wav"
	artifactAccompaniment = "accompaniment.wav"
	artifactSpeakerTracks = "speaker_tracks.json"
	artifactFinalVoice    = "final_voice.wav"
	artifactTranslated    = "translated.mp4"
)

func referenceArtifact(segID int) string { return fmt.Sprintf("ref_seg_%03d.wav", segID) }
func clonedArtifact(segID int) string    { return fmt.Sprintf("cloned_seg_%03d.wav", segID) }

// Engines bundles the seven provider-facing interfaces a run needs. Each
// field is expected to already be wrapped in whatever resilience
// (internal/resilience fallback group / circuit breaker) the composition
// root wants — Executor calls them directly with no retry of its own,
// except for Translator, whose batch/retry policy is spec-mandated and
// lives here rather than behind the interface.
type Engines struct {
	AudioExtractor engine.AudioExtractor
	VocalSeparator engine.VocalSeparator
	SpeakerTracker engine.SpeakerTracker
	Transcriber    engine.Transcriber
	Translator     engine.Translator
	VoiceCloner    engine.VoiceCloner
	Muxer          engine.Muxer
}

// Config tunes executor behavior. Zero-valued fields are replaced with
// defaults by New.
type Config struct {
	// PerSegmentParallelism bounds concurrent per-segment work inside
	// stages 6 and 7 (extract_references, clone_voices). Defaults to 2.
	PerSegmentParallelism int

	// EngineTimeout bounds any single call into an Engines member.
	// Defaults to 10 minutes. Zero disables the per-call timeout
	// entirely (not recommended outside tests).
	EngineTimeout time.Duration

	// TranslatorBatchSize is the number of source texts sent to
	// Translator.Translate per call. Defaults to 20.
	TranslatorBatchSize int

	// TranslatorMaxRetries is the number of attempts (including the
	// first) made for a single batch before the task fails. Defaults
	// to 3.
	TranslatorMaxRetries int

	// TranslatorRetryBaseDelay is the base of the exponential backoff
	// between translator batch retries (delay = base * 2^(attempt-1)).
	// Defaults to 2 seconds.
	TranslatorRetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.PerSegmentParallelism <= 0 {
		c.PerSegmentParallelism = 2
	}
	if c.EngineTimeout == 0 {
		c.EngineTimeout = 10 * time.Minute
	}
	if c.TranslatorBatchSize <= 0 {
		c.TranslatorBatchSize = 20
	}
	if c.TranslatorMaxRetries <= 0 {
		c.TranslatorMaxRetries = 3
	}
	if c.TranslatorRetryBaseDelay == 0 {
		c.TranslatorRetryBaseDelay = 2 * time.Second
	}
	return c
}

// Executor runs tasks stage-by-stage against a TaskStore, publishing
// progress through an eventbus.Bus.
type Executor struct {
	store   *taskstore.Store
	bus     *eventbus.Bus
	engines Engines
	merger  *merger.Merger
	cfg     Config

	// metrics is nil unless SetMetrics is called; every metrics.* call
	// below guards on this so an Executor built without a composition
	// root (as every test in this package does) records nothing instead
	// of panicking on a nil *observe.Metrics.
	metrics *observe.Metrics
}

// New constructs an Executor. engines must have every field populated;
// New does not validate this since a nil interface field simply panics on
// first use of the stage that needs it, which is loud enough to catch in
// development.
func New(store *taskstore.Store, bus *eventbus.Bus, engines Engines, mgr *merger.Merger, cfg Config) *Executor {
	return &Executor{
		store:   store,
		bus:     bus,
		engines: engines,
		merger:  mgr,
		cfg:     cfg.withDefaults(),
	}
}

// SetMetrics attaches m so subsequent stage runs and task outcomes are
// recorded to it. Optional: an Executor with no metrics attached runs
// identically, just without emitting any of the dubforge.stage.* or
// dubforge.tasks.* instruments.
func (e *Executor) SetMetrics(m *observe.Metrics) {
	e.metrics = m
}

// Run drives taskID forward from its current NextRunnable stage until the
// task completes, pauses at a configured checkpoint, fails, or ctx is
// cancelled. Safe to call again on a task Run previously paused or that
// was interrupted by process restart; all resumption state lives in
// taskstore, not in the caller's goroutine.
func (e *Executor) Run(ctx context.Context, taskID string) error {
	task, err := e.store.Open(ctx, taskID)
	if err != nil {
		return err
	}
	task.Status = taskstore.TaskRunning
	task.Message = ""
	if err := e.store.Save(ctx, task); err != nil {
		return err
	}
	e.publishStatus(task)

	for {
		if err := ctx.Err(); err != nil {
			return e.fail(task, dubterr.Wrap(dubterr.KindCancelled, "executor.Run", "cancelled", err))
		}
		stage, ok := task.NextRunnable()
		if !ok {
			return e.complete(ctx, task)
		}
		if err := e.runStage(ctx, task, stage); err != nil {
			return e.fail(task, err)
		}
		if e.checkpointAfter(task, stage) {
			return e.pause(ctx, task, stage)
		}
	}
}

// Continue resumes a task paused at a checkpoint. Rejected with
// dubterr.ErrTaskNotPaused unless the task's current status is
// paused_step4 or paused_step5.
func (e *Executor) Continue(ctx context.Context, taskID string) error {
	task, err := e.store.Open(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != taskstore.TaskPausedStep4 && task.Status != taskstore.TaskPausedStep5 {
		return dubterr.ErrTaskNotPaused
	}
	return e.Run(ctx, taskID)
}

// checkpointAfter reports whether the task should pause now that stage has
// just succeeded, per its configured PauseAfter.
func (e *Executor) checkpointAfter(task *taskstore.Task, stage taskstore.StageName) bool {
	switch task.PauseAfter {
	case taskstore.PauseStep4:
		return stage == taskstore.StageTranscribe
	case taskstore.PauseStep5:
		return stage == taskstore.StageTranslate
	}
	return false
}

func (e *Executor) pause(ctx context.Context, task *taskstore.Task, stage taskstore.StageName) error {
	switch task.PauseAfter {
	case taskstore.PauseStep4:
		task.Status = taskstore.TaskPausedStep4
	case taskstore.PauseStep5:
		task.Status = taskstore.TaskPausedStep5
	}
	task.Message = fmt.Sprintf("paused after %s; call continue to resume", stage)
	if err := e.store.Save(ctx, task); err != nil {
		return err
	}
	e.publishStatus(task)
	return nil
}

func (e *Executor) complete(ctx context.Context, task *taskstore.Task) error {
	task.Status = taskstore.TaskCompleted
	task.Progress = 100
	// task.Message is left as-is: a non-fatal warning recorded by a stage
	// (e.g. runCloneVoices reporting per-segment clone failures) should
	// still be visible on a completed task, not erased by completion.
	if err := e.store.Save(ctx, task); err != nil {
		return err
	}
	e.publishStatus(task)
	if e.metrics != nil {
		e.metrics.TasksCompleted.Add(ctx, 1)
	}
	return nil
}

// fail marks the task Failed and persists it using a fresh background
// context, since ctx itself may be the very thing that just got cancelled.
func (e *Executor) fail(task *taskstore.Task, cause error) error {
	task.Status = taskstore.TaskFailed
	if dubterr.KindOf(cause) == dubterr.KindCancelled {
		task.LastError = "cancelled"
	} else {
		task.LastError = cause.Error()
	}
	task.Message = task.LastError
	if err := e.store.Save(context.Background(), task); err != nil {
		slog.Error("executor: failed to persist failed task status", "task_id", task.ID, "err", err)
	}
	e.bus.Publish(eventbus.Envelope{
		TaskID:  task.ID,
		Type:    eventbus.EventStageFailed,
		Status:  string(taskstore.TaskFailed),
		Message: task.LastError,
	})
	if e.metrics != nil {
		e.metrics.RecordTaskFailed(context.Background(), task.StepName)
	}
	return cause
}

func (e *Executor) publishStatus(task *taskstore.Task) {
	e.bus.Publish(eventbus.Envelope{
		TaskID:   task.ID,
		Type:     eventbus.EventTaskStatus,
		Status:   string(task.Status),
		Stage:    task.StepName,
		Message:  task.Message,
		Progress: float64(task.Progress) / 100,
		Current:  task.CurrentSegment,
		Total:    task.TotalSegments,
	})
}

// withTimeout bounds a single engine call by cfg.EngineTimeout. A
// non-positive timeout (only reachable via a zero-value Config bypassing
// withDefaults, e.g. in a test) disables the bound.
func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.EngineTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.EngineTimeout)
}

// stageOrderIndex maps a stage to its 1-based position in taskstore.StageOrder,
// for Task.CurrentStep reporting.
var stageOrderIndex = func() map[taskstore.StageName]int {
	m := make(map[taskstore.StageName]int, len(taskstore.StageOrder))
	for i, s := range taskstore.StageOrder {
		m[s] = i + 1
	}
	return m
}()

// runStage executes one stage, persisting StageState transitions and
// publishing stage_started/stage_succeeded/stage_failed around the call.
func (e *Executor) runStage(ctx context.Context, task *taskstore.Task, stage taskstore.StageName) error {
	st := task.Stages[stage]
	started := time.Now().UTC()
	st.Status = taskstore.StatusRunning
	st.StartedAt = &started
	st.Attempts++
	task.StepName = string(stage)
	task.Progress = 0
	if err := e.store.Save(ctx, task); err != nil {
		return err
	}
	e.bus.Publish(eventbus.Envelope{TaskID: task.ID, Type: eventbus.EventStageStarted, Stage: string(stage)})

	var runErr error
	switch stage {
	case taskstore.StageExtractAudio:
		runErr = e.runExtractAudio(ctx, task)
	case taskstore.StageSeparateVocals:
		runErr = e.runSeparateVocals(ctx, task)
	case taskstore.StageSpeakerTracks:
		runErr = e.runSpeakerTracks(ctx, task)
	case taskstore.StageTranscribe:
		runErr = e.runTranscribe(ctx, task)
	case taskstore.StageTranslate:
		runErr = e.runTranslate(ctx, task)
	case taskstore.StageExtractReferences:
		runErr = e.runExtractReferences(ctx, task)
	case taskstore.StageCloneVoices:
		runErr = e.runCloneVoices(ctx, task)
	case taskstore.StageMergeVoice:
		runErr = e.runMergeVoice(ctx, task)
	case taskstore.StageMux:
		runErr = e.runMux(ctx, task)
	default:
		runErr = dubterr.New(dubterr.KindInvalidRequest, "executor.runStage", fmt.Sprintf("unknown stage %q", stage))
	}

	finished := time.Now().UTC()
	st.FinishedAt = &finished
	if e.metrics != nil {
		e.metrics.RecordStageDuration(ctx, string(stage), finished.Sub(started).Seconds())
	}
	if runErr != nil {
		st.Status = taskstore.StatusFailed
		st.LastError = runErr.Error()
		if err := e.store.Save(ctx, task); err != nil {
			slog.Error("executor: failed to persist stage failure", "task_id", task.ID, "stage", stage, "err", err)
		}
		e.bus.Publish(eventbus.Envelope{TaskID: task.ID, Type: eventbus.EventStageFailed, Stage: string(stage), Message: runErr.Error()})
		return runErr
	}

	st.Status = taskstore.StatusSucceeded
	st.Dirty = false
	st.LastError = ""
	task.CurrentStep = stageOrderIndex[stage]
	task.Progress = 100
	if err := e.store.Save(ctx, task); err != nil {
		return err
	}
	e.bus.Publish(eventbus.Envelope{TaskID: task.ID, Type: eventbus.EventStageSucceeded, Stage: string(stage)})
	return nil
}

// --- stage 1: extract_audio ---

func (e *Executor) runExtractAudio(ctx context.Context, task *taskstore.Task) error {
	outPath, err := e.store.ArtifactPath(task.ID, artifactAudio)
	if err != nil {
		return err
	}
	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	if _, err := e.engines.AudioExtractor.ExtractAudio(callCtx, task.SourceMediaPath, outPath); err != nil {
		return dubterr.Wrap(dubterr.KindEngineFailure, "executor.ExtractAudio", "extract audio from source media", err)
	}
	return nil
}

// --- stage 2: separate_vocals ---

func (e *Executor) runSeparateVocals(ctx context.Context, task *taskstore.Task) error {
	audioPath, err := e.store.ArtifactPath(task.ID, artifactAudio)
	if err != nil {
		return err
	}
	vocalsPath, err := e.store.ArtifactPath(task.ID, artifactVocals)
	if err != nil {
		return err
	}
	accompanimentPath, err := e.store.ArtifactPath(task.ID, artifactAccompaniment)
	if err != nil {
		return err
	}
	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.engines.VocalSeparator.SeparateVocals(callCtx, audioPath, vocalsPath, accompanimentPath); err != nil {
		return dubterr.Wrap(dubterr.KindEngineFailure, "executor.SeparateVocals", "separate vocals from accompaniment", err)
	}
	return nil
}

// --- stage 3: speaker_tracks (optional) ---

func (e *Executor) runSpeakerTracks(ctx context.Context, task *taskstore.Task) error {
	vocalsPath, err := e.store.ArtifactPath(task.ID, artifactVocals)
	if err != nil {
		return err
	}
	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	tracks, err := e.engines.SpeakerTracker.TrackSpeakers(callCtx, vocalsPath)
	if err != nil {
		return dubterr.Wrap(dubterr.KindEngineFailure, "executor.SpeakerTracks", "track speakers", err)
	}
	data, err := marshalSpeakerTracks(tracks)
	if err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "executor.SpeakerTracks", "marshal speaker tracks", err)
	}
	if err := e.store.WriteArtifact(task.ID, artifactSpeakerTracks, data); err != nil {
		return err
	}
	return nil
}

// --- stage 4: transcribe ---

func (e *Executor) runTranscribe(ctx context.Context, task *taskstore.Task) error {
	vocalsPath, err := e.store.ArtifactPath(task.ID, artifactVocals)
	if err != nil {
		return err
	}
	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	segs, detected, err := e.engines.Transcriber.Transcribe(callCtx, vocalsPath, task.SourceLang)
	if err != nil {
		return dubterr.Wrap(dubterr.KindEngineFailure, "executor.Transcribe", "transcribe vocals", err)
	}
	if task.SourceLang.IsAuto() && detected != "" {
		task.SourceLang = detected
	}
	if task.DiarizationOn {
		e.assignSpeakers(task, segs)
	}
	task.TotalSegments = len(segs)
	tbl := &segment.Table{Segments: segs}
	if err := e.store.WriteSegments(ctx, task.ID, tbl); err != nil {
		return dubterr.Wrap(dubterr.KindIOFailure, "executor.Transcribe", "persist segment table", err)
	}
	return nil
}

// assignSpeakers labels each segment with the speaker whose tracked span
// contains its midpoint, using the diagnostic artifact written by
// runSpeakerTracks. A segment whose midpoint falls in a gap between
// tracked spans is left unlabeled rather than guessed at.
func (e *Executor) assignSpeakers(task *taskstore.Task, segs []segment.Segment) {
	data, err := e.store.ReadArtifact(task.ID, artifactSpeakerTracks)
	if err != nil {
		return
	}
	tracks, err := unmarshalSpeakerTracks(data)
	if err != nil {
		return
	}
	for i := range segs {
		mid := (segs[i].Start + segs[i].End) / 2
		for _, tr := range tracks {
			if mid >= tr.Start && mid < tr.End {
				segs[i].SpeakerID = tr.SpeakerID
				break
			}
		}
	}
}

// --- stage 5: translate ---

func (e *Executor) runTranslate(ctx context.Context, task *taskstore.Task) error {
	tbl, err := e.store.ReadSegments(ctx, task.ID)
	if err != nil {
		return err
	}

	if task.SourceLang == task.TargetLang {
		// Same source and target language: nothing to translate, the
		// target text is the source text verbatim.
		for i := range tbl.Segments {
			tbl.Segments[i].TargetText = tbl.Segments[i].SourceText
		}
		return e.store.WriteSegments(ctx, task.ID, tbl)
	}

	total := len(tbl.Segments)
	for start := 0; start < total; start += e.cfg.TranslatorBatchSize {
		if err := ctx.Err(); err != nil {
			return dubterr.Wrap(dubterr.KindCancelled, "executor.Translate", "cancelled mid-batch", err)
		}
		end := start + e.cfg.TranslatorBatchSize
		if end > total {
			end = total
		}
		batch := tbl.Segments[start:end]
		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.SourceText
		}

		translated, err := e.translateBatchWithRetry(ctx, texts, task.SourceLang, task.TargetLang)
		if err != nil {
			return dubterr.Wrap(dubterr.KindEngineFailure, "executor.Translate",
				fmt.Sprintf("batch [%d,%d) failed after %d attempts", start, end, e.cfg.TranslatorMaxRetries), err)
		}
		for i := range batch {
			tbl.Segments[start+i].TargetText = translated[i]
		}
		e.bus.Publish(eventbus.Envelope{
			TaskID: task.ID, Type: eventbus.EventStageProgress,
			Stage: string(taskstore.StageTranslate), Current: end, Total: total,
		})
	}
	return e.store.WriteSegments(ctx, task.ID, tbl)
}

// translateBatchWithRetry makes up to cfg.TranslatorMaxRetries attempts
// (the first one included) at a single batch, with exponential backoff
// (base * 2^(attempt-1)) between attempts, before giving up.
func (e *Executor) translateBatchWithRetry(ctx context.Context, texts []string, src, tgt types.LanguageCode) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.TranslatorMaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.TranslatorRetryBaseDelay * time.Duration(uint(1)<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		callCtx, cancel := e.withTimeout(ctx)
		out, err := e.engines.Translator.Translate(callCtx, texts, src, tgt)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err
		slog.Warn("executor: translator batch attempt failed", "attempt", attempt+1, "err", err)
	}
	return nil, lastErr
}

func (e *Executor) runExtractReferences(ctx context.Context, task *taskstore.Task) error {
	tbl, err := e.store.ReadSegments(ctx, task.ID)
	if err != nil {
		return err
	}
	vocalsPath, err := e.store.ArtifactPath(task.ID, artifactVocals)
	if err != nil {
		return err
	}

	total := len(tbl.Segments)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PerSegmentParallelism)
	for i := range tbl.Segments {
		i := i
		seg := tbl.Segments[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return dubterr.Wrap(dubterr.KindCancelled, "executor.ExtractReferences", "cancelled", err)
			}
			outPath, err := e.store.ArtifactPath(task.ID, referenceArtifact(seg.ID))
			if err != nil {
				return err
			}
			callCtx, cancel := e.withTimeout(gctx)
			defer cancel()
			if err := e.engines.VoiceCloner.ExtractReference(callCtx, vocalsPath, seg.Start, seg.End, outPath); err != nil {
				return dubterr.Wrap(dubterr.KindEngineFailure, "executor.ExtractReferences", fmt.Sprintf("segment %d", seg.ID), err)
			}
			tbl.Segments[i].ReferenceAudioPath = outPath
			e.bus.Publish(eventbus.Envelope{
				TaskID: task.ID, Type: eventbus.EventStageProgress,
				Stage: string(taskstore.StageExtractReferences), Current: i + 1, Total: total,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return e.store.WriteSegments(ctx, task.ID, tbl)
}

// runCloneVoices clones every segment's dubbed render. Unlike every other
// stage, a single segment's cloning failure does not fail the stage: it is
// recorded on that segment's CloneError and left with an empty
// DubbedAudioPath, so stage 8 substitutes silence for it rather than
// aborting the whole task (only a cancelled context aborts this stage).
func (e *Executor) runCloneVoices(ctx context.Context, task *taskstore.Task) error {
	tbl, err := e.store.ReadSegments(ctx, task.ID)
	if err != nil {
		return err
	}

	total := len(tbl.Segments)
	var (
		mu       sync.Mutex
		warnings []string
	)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.PerSegmentParallelism)
	for i := range tbl.Segments {
		i := i
		seg := tbl.Segments[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return dubterr.Wrap(dubterr.KindCancelled, "executor.CloneVoices", "cancelled", err)
			}
			if seg.ReferenceAudioPath == "" {
				mu.Lock()
				tbl.Segments[i].CloneError = "no reference audio available"
				tbl.Segments[i].DubbedAudioPath = ""
				warnings = append(warnings, fmt.Sprintf("segment %d: no reference audio", seg.ID))
				mu.Unlock()
				return nil
			}
			outPath, perr := e.store.ArtifactPath(task.ID, clonedArtifact(seg.ID))
			if perr != nil {
				return perr
			}
			callCtx, cancel := e.withTimeout(ctx)
			cloneErr := e.engines.VoiceCloner.CloneVoice(callCtx, seg.ReferenceAudioPath, seg.TargetText, task.TargetLang, outPath)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if cloneErr != nil {
				tbl.Segments[i].CloneError = cloneErr.Error()
				tbl.Segments[i].DubbedAudioPath = ""
				warnings = append(warnings, fmt.Sprintf("segment %d: %v", seg.ID, cloneErr))
			} else {
				tbl.Segments[i].CloneError = ""
				tbl.Segments[i].DubbedAudioPath = outPath
			}
			e.bus.Publish(eventbus.Envelope{
				TaskID: task.ID, Type: eventbus.EventStageProgress,
				Stage: string(taskstore.StageCloneVoices), Current: i + 1, Total: total,
			})
			return nil
		})
	}
	// Only cancellation propagates as a hard stage error; individual
	// clone failures are recorded per-segment above.
	if err := g.Wait(); err != nil {
		return err
	}
	if err := e.store.WriteSegments(ctx, task.ID, tbl); err != nil {
		return err
	}
	if len(warnings) > 0 {
		task.Message = fmt.Sprintf("%d segment(s) failed to clone and will be silent: %s", len(warnings), strings.Join(warnings, "; "))
	}
	return nil
}

// --- stage 8: merge_voice ---

func (e *Executor) runMergeVoice(ctx context.Context, task *taskstore.Task) error {
	tbl, err := e.store.ReadSegments(ctx, task.ID)
	if err != nil {
		return err
	}
	vocalsPath, err := e.store.ArtifactPath(task.ID, artifactVocals)
	if err != nil {
		return err
	}
	accompanimentPath, err := e.store.ArtifactPath(task.ID, artifactAccompaniment)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(accompanimentPath); statErr != nil {
		// VocalSeparator skips writing this file when it detects no
		// music above its threshold; Merger treats "" as silence.
		accompanimentPath = ""
	}
	outPath, err := e.store.ArtifactPath(task.ID, artifactFinalVoice)
	if err != nil {
		return err
	}

	totalDuration, err := e.mediaDuration(vocalsPath)
	if err != nil {
		return err
	}

	if err := e.merger.Merge(ctx, tbl, vocalsPath, accompanimentPath, totalDuration, outPath); err != nil {
		return err
	}
	return nil
}

// mediaDuration reports a WAV file's duration. The vocals stem spans the
// full length of the extracted source audio, so it is also the timeline
// length the merged output and final mux must match.
func (e *Executor) mediaDuration(wavPath string) (float64, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return 0, dubterr.Wrap(dubterr.KindIOFailure, "executor.mediaDuration", "read vocals track", err)
	}
	info, err := wavutil.Parse(data)
	if err != nil {
		return 0, dubterr.Wrap(dubterr.KindCorrupt, "executor.mediaDuration", "parse vocals track", err)
	}
	return info.Duration(), nil
}

// --- stage 9: mux ---

func (e *Executor) runMux(ctx context.Context, task *taskstore.Task) error {
	finalVoicePath, err := e.store.ArtifactPath(task.ID, artifactFinalVoice)
	if err != nil {
		return err
	}
	outPath, err := e.store.ArtifactPath(task.ID, artifactTranslated)
	if err != nil {
		return err
	}
	callCtx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := e.engines.Muxer.Mux(callCtx, task.SourceMediaPath, finalVoicePath, outPath); err != nil {
		return dubterr.Wrap(dubterr.KindEngineFailure, "executor.Mux", "mux final voice with source media", err)
	}
	return nil
}

// ResynthesizeSegment re-runs ExtractReference and CloneVoice (stages 6
// and 7) for a single segment, independent of the rest of the pipeline.
// It does not touch task.Status: a failure here is reported on the
// segment and via a stage_failed event, leaving the task's overall state
// (e.g. completed) unchanged, matching the per-segment operation surface
// resynthesize_segment exposes.
func (e *Executor) ResynthesizeSegment(ctx context.Context, taskID string, segID int) error {
	task, err := e.store.Open(ctx, taskID)
	if err != nil {
		return err
	}
	tbl, err := e.store.ReadSegments(ctx, taskID)
	if err != nil {
		return err
	}
	idx := indexOfSegment(tbl, segID)
	if idx < 0 {
		return dubterr.ErrSegmentNotFound
	}
	seg := tbl.Segments[idx]

	vocalsPath, err := e.store.ArtifactPath(taskID, artifactVocals)
	if err != nil {
		return err
	}
	refPath, err := e.store.ArtifactPath(taskID, referenceArtifact(seg.ID))
	if err != nil {
		return err
	}
	clonedPath, err := e.store.ArtifactPath(taskID, clonedArtifact(seg.ID))
	if err != nil {
		return err
	}

	resynthErr := func() error {
		callCtx, cancel := e.withTimeout(ctx)
		defer cancel()
		if err := e.engines.VoiceCloner.ExtractReference(callCtx, vocalsPath, seg.Start, seg.End, refPath); err != nil {
			return dubterr.Wrap(dubterr.KindEngineFailure, "executor.ResynthesizeSegment", "extract reference", err)
		}
		callCtx2, cancel2 := e.withTimeout(ctx)
		defer cancel2()
		if err := e.engines.VoiceCloner.CloneVoice(callCtx2, refPath, seg.TargetText, task.TargetLang, clonedPath); err != nil {
			return dubterr.Wrap(dubterr.KindEngineFailure, "executor.ResynthesizeSegment", "clone voice", err)
		}
		return nil
	}()

	if resynthErr != nil {
		tbl.Segments[idx].CloneError = resynthErr.Error()
		tbl.Segments[idx].DubbedAudioPath = ""
		if err := e.store.WriteSegments(ctx, taskID, tbl); err != nil {
			return err
		}
		e.bus.Publish(eventbus.Envelope{
			TaskID: taskID, Type: eventbus.EventStageFailed,
			Stage: string(taskstore.StageCloneVoices), Message: fmt.Sprintf("resynthesize segment %d: %v", segID, resynthErr),
		})
		return resynthErr
	}

	tbl.Segments[idx].ReferenceAudioPath = refPath
	tbl.Segments[idx].DubbedAudioPath = clonedPath
	tbl.Segments[idx].CloneError = ""
	if err := e.store.WriteSegments(ctx, taskID, tbl); err != nil {
		return err
	}
	e.bus.Publish(eventbus.Envelope{
		TaskID: taskID, Type: eventbus.EventResynthesizeComplete,
		Message: fmt.Sprintf("segment %d resynthesized", segID),
	})
	return nil
}

// RegenerateFinal re-runs merge_voice and mux (stages 8 and 9) against
// whatever segment state currently exists, without re-running any earlier
// stage. Used after a batch of resynthesize_segment calls, or after a
// manual segment edit that only changed timing/text of already-cloned
// segments.
func (e *Executor) RegenerateFinal(ctx context.Context, taskID string) error {
	task, err := e.store.Open(ctx, taskID)
	if err != nil {
		return err
	}
	for _, stage := range []taskstore.StageName{taskstore.StageMergeVoice, taskstore.StageMux} {
		if err := e.runStage(ctx, task, stage); err != nil {
			return e.fail(task, err)
		}
	}
	task.Status = taskstore.TaskCompleted
	task.Message = ""
	if err := e.store.Save(ctx, task); err != nil {
		return err
	}
	e.bus.Publish(eventbus.Envelope{TaskID: taskID, Type: eventbus.EventRegenerateComplete, Message: "final output regenerated"})
	return nil
}

func indexOfSegment(tbl *segment.Table, id int) int {
	for i, s := range tbl.Segments {
		if s.ID == id {
			return i
		}
	}
	return -1
}
