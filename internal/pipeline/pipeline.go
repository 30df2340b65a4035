// Package pipeline holds the *definitions* of dubforge's nine-stage
// dubbing workflow — static metadata (dependency order, which stages are
// atomic/all-or-nothing, where a task is allowed to checkpoint) — as
// distinct from internal/taskstore, which holds each task's *persisted
// state*, and internal/executor, which holds the *engine that runs them*.
// This split mirrors the "state is data, not behavior" principle in
// yungbote-neurobridge's job orchestrator: taskstore.Task.Stages is a pure
// snapshot, and this package is the one place that knows what the
// dependency graph between stages actually looks like.
package pipeline

import "github.com/MrWong99/dubforge/internal/taskstore"

// StageID identifies one of the nine pipeline stages. It is the same
// concrete type taskstore uses to key a Task's per-stage state, so the two
// packages never need a translation layer between them.
type StageID = taskstore.StageName

// StageDef describes one stage's place in the pipeline: what it consumes,
// whether it must run start-to-finish with no partial success, and whether
// a task may checkpoint (pause) immediately after it completes.
type StageDef struct {
	ID StageID

	// Atomic stages either fully succeed or fully fail — no partial
	// progress is persisted, so a retry always starts the stage from
	// scratch rather than resuming mid-stage.
	Atomic bool

	// CheckpointAllowed marks a stage after which a task may pause
	// (pause_after ∈ {step4, step5} in the operation surface): only
	// Transcribe (step 4) and Translate (step 5) allow a human edit window
	// before downstream stages run.
	CheckpointAllowed bool

	Description string
}

// Stages is the fixed, ordered definition of the nine-stage pipeline.
var Stages = []StageDef{
	{ID: taskstore.StageExtractAudio, Atomic: true, Description: "demux source media to mono PCM WAV via the external media tool"},
	{ID: taskstore.StageSeparateVocals, Atomic: true, Description: "split extracted audio into isolated vocals and accompaniment"},
	{ID: taskstore.StageSpeakerTracks, Atomic: false, Description: "diarize vocals into per-speaker time spans (optional)"},
	{ID: taskstore.StageTranscribe, Atomic: true, CheckpointAllowed: true, Description: "transcribe vocals into a segment table with source text and word timing"},
	{ID: taskstore.StageTranslate, Atomic: false, CheckpointAllowed: true, Description: "translate each segment's source text into the target language"},
	{ID: taskstore.StageExtractReferences, Atomic: false, Description: "cut a short reference clip per segment/speaker from the vocals track"},
	{ID: taskstore.StageCloneVoices, Atomic: false, Description: "synthesize each segment's translated text in the reference speaker's voice"},
	{ID: taskstore.StageMergeVoice, Atomic: true, Description: "place, stretch, and mix dubbed segments against the accompaniment into one track"},
	{ID: taskstore.StageMux, Atomic: true, Description: "remux the mixed audio track against the original video"},
}

// byID indexes Stages for O(1) position lookups.
var byID = func() map[StageID]int {
	m := make(map[StageID]int, len(Stages))
	for i, s := range Stages {
		m[s.ID] = i
	}
	return m
}()

// Dirties returns from and every stage downstream of it, in pipeline
// order — the set of stages that must be re-run when a manual edit
// invalidates "from"'s output. Callers pass its result to
// taskstore.Task.MarkDirty, so the dependency graph is defined in exactly
// one place.
func Dirties(from StageID) []StageID {
	idx, ok := byID[from]
	if !ok {
		return nil
	}
	out := make([]StageID, 0, len(Stages)-idx)
	for _, s := range Stages[idx:] {
		out = append(out, s.ID)
	}
	return out
}

// CheckpointStages returns the stages after which a task may pause for
// manual review, in pipeline order.
func CheckpointStages() []StageID {
	var out []StageID
	for _, s := range Stages {
		if s.CheckpointAllowed {
			out = append(out, s.ID)
		}
	}
	return out
}
