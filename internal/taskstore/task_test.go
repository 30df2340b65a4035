package taskstore

import (
	"testing"

	"github.com/MrWong99/dubforge/pkg/types"
)

func TestNewTask_AllStagesPending(t *testing.T) {
	task := NewTask("task-1", "in.mp4", types.LanguageCode("en"), types.LanguageCode("es"), true, PauseNone)
	if task.Status != TaskPending {
		t.Fatalf("Status = %q, want %q", task.Status, TaskPending)
	}
	for _, name := range StageOrder {
		st, ok := task.Stages[name]
		if !ok {
			t.Fatalf("missing stage %q", name)
		}
		if st.Status != StatusPending {
			t.Fatalf("stage %q status = %q, want pending", name, st.Status)
		}
	}
}

func TestNewTask_SkipsSpeakerTracksWhenDiarizationOff(t *testing.T) {
	task := NewTask("task-1", "in.mp4", types.LanguageCode("en"), types.LanguageCode("es"), false, PauseNone)
	if task.Stages[StageSpeakerTracks].Status != StatusSkipped {
		t.Fatalf("SpeakerTracks status = %q, want skipped", task.Stages[StageSpeakerTracks].Status)
	}
	if task.Stages[StageExtractAudio].Status != StatusPending {
		t.Fatalf("ExtractAudio status = %q, want pending", task.Stages[StageExtractAudio].Status)
	}
}

func TestNextRunnable_ReturnsFirstPending(t *testing.T) {
	task := NewTask("task-1", "in.mp4", types.LanguageCode("en"), types.LanguageCode("es"), true, PauseNone)
	name, ok := task.NextRunnable()
	if !ok || name != StageExtractAudio {
		t.Fatalf("NextRunnable = (%q, %v), want (%q, true)", name, ok, StageExtractAudio)
	}
}

func TestNextRunnable_SkipsSkippedStages(t *testing.T) {
	task := NewTask("task-1", "in.mp4", types.LanguageCode("en"), types.LanguageCode("es"), false, PauseNone)
	for _, name := range []StageName{StageExtractAudio, StageSeparateVocals} {
		task.Stages[name].Status = StatusSucceeded
	}
	name, ok := task.NextRunnable()
	if !ok || name != StageTranscribe {
		t.Fatalf("NextRunnable = (%q, %v), want (%q, true)", name, ok, StageTranscribe)
	}
}

func TestNextRunnable_AllDoneReturnsFalse(t *testing.T) {
	task := NewTask("task-1", "in.mp4", types.LanguageCode("en"), types.LanguageCode("es"), false, PauseNone)
	for _, name := range StageOrder {
		if task.Stages[name].Status != StatusSkipped {
			task.Stages[name].Status = StatusSucceeded
		}
	}
	if _, ok := task.NextRunnable(); ok {
		t.Fatal("NextRunnable should return false when every stage is succeeded or skipped")
	}
}

func TestNextRunnable_DirtyStageIsRunnableAgain(t *testing.T) {
	task := NewTask("task-1", "in.mp4", types.LanguageCode("en"), types.LanguageCode("es"), false, PauseNone)
	for _, name := range StageOrder {
		if task.Stages[name].Status != StatusSkipped {
			task.Stages[name].Status = StatusSucceeded
		}
	}
	task.Stages[StageTranslate].Dirty = true

	name, ok := task.NextRunnable()
	if !ok || name != StageTranslate {
		t.Fatalf("NextRunnable = (%q, %v), want (%q, true)", name, ok, StageTranslate)
	}
}

func TestMarkDirty_PropagatesDownstreamOnly(t *testing.T) {
	task := NewTask("task-1", "in.mp4", types.LanguageCode("en"), types.LanguageCode("es"), false, PauseNone)
	downstream := []StageName{StageTranslate, StageExtractReferences, StageCloneVoices, StageMergeVoice, StageMux}
	task.MarkDirty(downstream)

	if task.Stages[StageExtractAudio].Dirty {
		t.Fatal("upstream stage ExtractAudio should not be marked dirty")
	}
	for _, name := range downstream {
		if !task.Stages[name].Dirty {
			t.Fatalf("stage %q should be marked dirty", name)
		}
	}
}

func TestMarkDirty_SkipsSkippedStage(t *testing.T) {
	task := NewTask("task-1", "in.mp4", types.LanguageCode("en"), types.LanguageCode("es"), false, PauseNone)
	task.MarkDirty(StageOrder)
	if task.Stages[StageSpeakerTracks].Dirty {
		t.Fatal("skipped stage should never be marked dirty")
	}
}
