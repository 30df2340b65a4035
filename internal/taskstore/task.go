// Package taskstore is the durable, filesystem-backed record of dubbing
// tasks. Every task's metadata, per-stage status, and stage artifacts live
// under a single directory tree so that a task can be resumed after a
// process restart with no in-memory-only state. Writes are atomic
// (temp file + rename) so a crash mid-write never leaves task.json
// truncated or half-written.
package taskstore

import (
	"time"

	"github.com/MrWong99/dubforge/pkg/types"
)

// StageName identifies one of the nine pipeline stages.
type StageName string

const (
	StageExtractAudio      StageName = "extract_audio"
	StageSeparateVocals    StageName = "separate_vocals"
	StageSpeakerTracks     StageName = "speaker_tracks"
	StageTranscribe        StageName = "transcribe"
	StageTranslate         StageName = "translate"
	StageExtractReferences StageName = "extract_references"
	StageCloneVoices       StageName = "clone_voices"
	StageMergeVoice        StageName = "merge_voice"
	StageMux               StageName = "mux"
)

// StageOrder is the fixed dependency order of the nine stages. SpeakerTracks
// is optional (skipped when diarization is disabled) but still occupies a
// slot so dirty-propagation logic doesn't need a special case for it.
var StageOrder = []StageName{
	StageExtractAudio,
	StageSeparateVocals,
	StageSpeakerTracks,
	StageTranscribe,
	StageTranslate,
	StageExtractReferences,
	StageCloneVoices,
	StageMergeVoice,
	StageMux,
}

// StageStatus is the lifecycle state of a single stage within a task.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusSucceeded StageStatus = "succeeded"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// StageState is the persisted state of one stage. A task's workflow must be
// restartable at any point with no in-memory assumptions: every field the
// scheduler needs to decide "run this stage next" lives here, not in a
// goroutine's local variables.
type StageState struct {
	Status     StageStatus `json:"status"`
	Attempts   int         `json:"attempts"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	LastError  string      `json:"last_error,omitempty"`

	// Dirty marks a stage whose upstream input changed (e.g. a manual
	// segment edit) since it last succeeded, so it must be re-run before
	// its output can be trusted even though Status is still Succeeded.
	Dirty bool `json:"dirty"`
}

// TaskStatus is the coarse overall status of a task, derived from its
// stages but also independently settable for pause/cancel.
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskRunning     TaskStatus = "processing"
	TaskPausedStep4 TaskStatus = "paused_step4"
	TaskPausedStep5 TaskStatus = "paused_step5"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
)

// schemaVersion is bumped whenever Task's on-disk shape changes
// incompatibly. Open rejects files with a newer version than it understands.
const schemaVersion = 1

// PauseAfter names the checkpoint, if any, at which a task should stop and
// wait for continue() rather than running straight through to completion.
type PauseAfter string

const (
	PauseNone  PauseAfter = ""
	PauseStep4 PauseAfter = "step4" // pause after Transcribe
	PauseStep5 PauseAfter = "step5" // pause after Translate
)

// Task is the full persisted record for one dubbing job.
type Task struct {
	ID            string     `json:"id"`
	SchemaVersion int        `json:"schema_version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Status        TaskStatus `json:"status"`

	SourceMediaPath string             `json:"source_media_path"`
	SourceLang      types.LanguageCode `json:"source_lang"`
	TargetLang      types.LanguageCode `json:"target_lang"`
	DiarizationOn   bool               `json:"diarization_on"`
	PauseAfter      PauseAfter         `json:"pause_after,omitempty"`

	// CurrentStep reflects the stage most recently completed or in
	// progress, 0-9, for status reporting.
	CurrentStep int `json:"current_step"`
	// Progress is 0-100, monotonic within a stage but not necessarily
	// across stage transitions.
	Progress int `json:"progress"`
	// Message, StepName, CurrentSegment, TotalSegments mirror the most
	// recent progress event published for this task, so status() reflects
	// the same information a live subscriber would see.
	Message        string `json:"message,omitempty"`
	StepName       string `json:"step_name,omitempty"`
	CurrentSegment int    `json:"current_segment,omitempty"`
	TotalSegments  int    `json:"total_segments,omitempty"`

	Stages map[StageName]*StageState `json:"stages"`

	// LastError is the most recent fatal error for the task as a whole,
	// distinct from a single stage's LastError.
	LastError string `json:"last_error,omitempty"`
}

// NewTask constructs a Task in its initial state: every stage pending,
// SpeakerTracks pre-skipped when diarization is off.
func NewTask(id, sourceMediaPath string, sourceLang, targetLang types.LanguageCode, diarizationOn bool, pauseAfter PauseAfter) *Task {
	now := time.Now().UTC()
	t := &Task{
		ID:              id,
		SchemaVersion:   schemaVersion,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          TaskPending,
		SourceMediaPath: sourceMediaPath,
		SourceLang:      sourceLang,
		TargetLang:      targetLang,
		DiarizationOn:   diarizationOn,
		PauseAfter:      pauseAfter,
		Stages:          make(map[StageName]*StageState, len(StageOrder)),
	}
	for _, name := range StageOrder {
		st := &StageState{Status: StatusPending}
		if name == StageSpeakerTracks && !diarizationOn {
			st.Status = StatusSkipped
		}
		t.Stages[name] = st
	}
	return t
}

// MarkDirty flags stage and every stage downstream of it as Dirty, so the
// scheduler re-runs them even though their Status is still Succeeded. Used
// after a manual segment edit invalidates everything from Translate onward.
// downstream is the dependency-ordered stage list to propagate through —
// callers pass pipeline.Dirties(from) so the dependency graph lives in one
// place (internal/pipeline), not duplicated here.
func (t *Task) MarkDirty(downstream []StageName) {
	for _, name := range downstream {
		st, ok := t.Stages[name]
		if !ok || st.Status == StatusSkipped {
			continue
		}
		st.Dirty = true
	}
}

// NextRunnable returns the first stage that is not Succeeded (or is
// Succeeded-but-Dirty) and not Skipped, in StageOrder. Returns "" if every
// stage is Succeeded-and-clean or Skipped.
func (t *Task) NextRunnable() (StageName, bool) {
	for _, name := range StageOrder {
		st := t.Stages[name]
		if st.Status == StatusSkipped {
			continue
		}
		if st.Status != StatusSucceeded || st.Dirty {
			return name, true
		}
	}
	return "", false
}
