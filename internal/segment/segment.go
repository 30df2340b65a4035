// Package segment holds the mutable transcript/translation unit that flows
// through the middle of the pipeline: one Segment per spoken utterance,
// ordered and non-overlapping inside a Table. Manual edits (split, merge,
// delete, retime, retext) operate on a Table and return a new, validated
// Table rather than mutating in place, so the caller always has the choice
// of discarding an edit that fails validation.
package segment

import (
	"fmt"

	"github.com/MrWong99/dubforge/pkg/types"
)

// Segment is one speech unit: a time interval, the detected/edited source
// text, its translation, an optional speaker label, and the reference audio
// used to clone that speaker's voice for this utterance.
//
// ID is dense, 0-based, and positional: it always equals the segment's index
// within its owning Table. Table's mutators (Split, Merge, Delete,
// UpdateTiming) renumber every segment after changing the table's shape or
// order, so an id is stable only until the next structural edit — a split
// shifts every trailing id by one, exactly as the operation surface
// documents.
type Segment struct {
	ID      int     `json:"id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`

	SpeakerID string `json:"speaker_id,omitempty"`

	SourceText string           `json:"source_text"`
	Words      []types.WordSpan `json:"words,omitempty"`

	TargetText string `json:"target_text,omitempty"`

	// ReferenceAudioPath points at the clean speaker-reference clip
	// extracted for this segment's speaker (stage 6). Several segments
	// from the same speaker typically share one reference.
	ReferenceAudioPath string `json:"reference_audio_path,omitempty"`

	// DubbedAudioPath points at this segment's cloned-voice render
	// (stage 7), valid once CloneVoices has succeeded and not since
	// invalidated.
	DubbedAudioPath string `json:"dubbed_audio_path,omitempty"`

	// CloneError holds the error message from the most recent failed
	// clone attempt for this segment. A per-segment clone failure does
	// not fail the whole task (stage 7 continues, stage 8 substitutes
	// silence); this field surfaces the failure without stopping the
	// pipeline. Cleared on the next successful clone.
	CloneError string `json:"clone_error,omitempty"`

	// ManuallyEdited marks a segment whose text or timing was changed by
	// a user after automatic processing, so downstream merge logic knows
	// not to silently overwrite it on stage re-run.
	ManuallyEdited bool `json:"manually_edited,omitempty"`
}

// Duration returns End - Start.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Validate checks structural invariants for a single segment in isolation
// (ordering and id contiguity against neighbours is checked by
// Table.Validate).
func (s Segment) Validate() error {
	if s.ID < 0 {
		return fmt.Errorf("segment: id must not be negative, got %d", s.ID)
	}
	if s.End <= s.Start {
		return fmt.Errorf("segment %d: end (%f) must be greater than start (%f)", s.ID, s.End, s.Start)
	}
	for _, w := range s.Words {
		if w.Start < s.Start-1e-6 || w.End > s.End+1e-6 {
			return fmt.Errorf("segment %d: word %q span [%f,%f] outside segment bounds [%f,%f]",
				s.ID, w.Word, w.Start, w.End, s.Start, s.End)
		}
	}
	return nil
}
