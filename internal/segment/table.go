package segment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/dubforge/pkg/types"
)

// Table is an ordered, non-overlapping collection of Segments for one task.
// All mutating methods return a new Table; callers persist the result via
// taskstore.Store.WriteSegments only after it passes Validate.
type Table struct {
	Segments []Segment `json:"segments"`
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{Segments: []Segment{}}
}

// Validate checks that segments are sorted by Start, non-overlapping,
// individually well-formed, and that ids are dense, 0-based, and positional
// (Segments[i].ID == i for every i).
func (t *Table) Validate() error {
	for i, s := range t.Segments {
		if err := s.Validate(); err != nil {
			return err
		}
		if s.ID != i {
			return fmt.Errorf("segment table: segment at position %d has id %d, want %d (ids must be dense, 0-based, and positional)", i, s.ID, i)
		}
		if i > 0 {
			prev := t.Segments[i-1]
			if s.Start < prev.End-1e-6 {
				return fmt.Errorf("segment table: %d [%f,%f] overlaps preceding %d [%f,%f]",
					s.ID, s.Start, s.End, prev.ID, prev.Start, prev.End)
			}
			if s.Start < prev.Start {
				return fmt.Errorf("segment table: %d out of order (starts before preceding %d)", s.ID, prev.ID)
			}
		}
	}
	return nil
}

// clone returns a deep-enough copy of t for copy-on-write mutation:
// the Segments slice header is copied but individual Segment values are
// copied by value (they contain no pointers except the Words slice, which
// mutators that don't touch it leave aliased — safe since it's replace-only).
func (t *Table) clone() *Table {
	out := make([]Segment, len(t.Segments))
	copy(out, t.Segments)
	return &Table{Segments: out}
}

func (t *Table) indexOf(id int) int {
	for i, s := range t.Segments {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// renumber reassigns every segment's ID to its position in the table. Called
// at the end of every mutator that changes the table's length or order, so
// ids stay dense, 0-based, and positional — a split renumbers every trailing
// id by construction rather than by special-casing the shift.
func (t *Table) renumber() {
	for i := range t.Segments {
		t.Segments[i].ID = i
	}
}

// Split divides the segment with id into two at textOffset, a byte offset
// into its SourceText. The word whose character span extends past
// textOffset becomes the first word of the right half; the boundary between
// that word and its predecessor is where both the text and the timing are
// split. textOffset therefore only needs to land inside the intended
// boundary word or in the space just before it, not exactly on a word edge,
// matching how a caller's imprecise click position still resolves to a
// clean word boundary. Returns an error if the segment carries no
// word-level timing to split on, or if textOffset resolves to the first
// word (no word left of the boundary).
func (t *Table) Split(id, textOffset int) (*Table, error) {
	idx := t.indexOf(id)
	if idx < 0 {
		return nil, fmt.Errorf("segment table: split: %d not found", id)
	}
	orig := t.Segments[idx]
	if len(orig.Words) == 0 {
		return nil, fmt.Errorf("segment table: split: %d has no word timings to split on", id)
	}
	if textOffset <= 0 || textOffset >= len(orig.SourceText) {
		return nil, fmt.Errorf("segment table: split: text offset %d outside segment %d bounds [0,%d]", textOffset, id, len(orig.SourceText))
	}

	splitWordIdx := -1
	for i, w := range orig.Words {
		if w.TextOffset+len(w.Word) > textOffset {
			splitWordIdx = i
			break
		}
	}
	if splitWordIdx <= 0 || splitWordIdx >= len(orig.Words) {
		return nil, fmt.Errorf("segment table: split: %d has no interior word boundary at text offset %d", id, textOffset)
	}

	leftWords := orig.Words[:splitWordIdx]
	rightWords := orig.Words[splitWordIdx:]
	textBoundary := rightWords[0].TextOffset
	timeBoundaryLeft := leftWords[len(leftWords)-1].End
	timeBoundaryRight := rightWords[0].Start

	out := t.clone()
	left := Segment{
		Start:          orig.Start,
		End:            timeBoundaryLeft,
		SpeakerID:      orig.SpeakerID,
		Words:          leftWords,
		SourceText:     strings.TrimSpace(orig.SourceText[:textBoundary]),
		ManuallyEdited: true,
	}
	right := Segment{
		Start:          timeBoundaryRight,
		End:            orig.End,
		SpeakerID:      orig.SpeakerID,
		Words:          rightWords,
		SourceText:     strings.TrimSpace(orig.SourceText[textBoundary:]),
		ManuallyEdited: true,
	}

	replacement := make([]Segment, 0, len(out.Segments)+1)
	replacement = append(replacement, out.Segments[:idx]...)
	replacement = append(replacement, left, right)
	replacement = append(replacement, out.Segments[idx+1:]...)
	out.Segments = replacement
	out.renumber()
	return out, nil
}

// Merge combines the segments with ids firstID and secondID, which must be
// adjacent in the table, into one segment spanning both time ranges. Source
// text is concatenated with a space; translation and dubbed audio are
// cleared since neither remains valid for the merged span.
func (t *Table) Merge(firstID, secondID int) (*Table, error) {
	i := t.indexOf(firstID)
	j := t.indexOf(secondID)
	if i < 0 {
		return nil, fmt.Errorf("segment table: merge: %d not found", firstID)
	}
	if j < 0 {
		return nil, fmt.Errorf("segment table: merge: %d not found", secondID)
	}
	if j != i+1 {
		return nil, fmt.Errorf("segment table: merge: %d and %d are not adjacent", firstID, secondID)
	}

	a, b := t.Segments[i], t.Segments[j]
	merged := Segment{
		Start:          a.Start,
		End:            b.End,
		SpeakerID:      a.SpeakerID,
		Words:          append(append([]types.WordSpan(nil)), a.Words...),
		SourceText:     a.SourceText + " " + b.SourceText,
		ManuallyEdited: true,
	}
	merged.Words = append(merged.Words[:len(a.Words):len(a.Words)], b.Words...)

	out := t.clone()
	replacement := make([]Segment, 0, len(out.Segments)-1)
	replacement = append(replacement, out.Segments[:i]...)
	replacement = append(replacement, merged)
	replacement = append(replacement, out.Segments[j+1:]...)
	out.Segments = replacement
	out.renumber()
	return out, nil
}

// Delete removes the segment with id entirely.
func (t *Table) Delete(id int) (*Table, error) {
	idx := t.indexOf(id)
	if idx < 0 {
		return nil, fmt.Errorf("segment table: delete: %d not found", id)
	}
	out := t.clone()
	out.Segments = append(out.Segments[:idx:idx], out.Segments[idx+1:]...)
	out.renumber()
	return out, nil
}

// UpdateText replaces the source or target text of segment id and marks it
// manually edited. Passing an empty newSource leaves SourceText unchanged.
func (t *Table) UpdateText(id int, newSource, newTarget string) (*Table, error) {
	idx := t.indexOf(id)
	if idx < 0 {
		return nil, fmt.Errorf("segment table: update text: %d not found", id)
	}
	out := t.clone()
	s := out.Segments[idx]
	if newSource != "" {
		s.SourceText = newSource
	}
	if newTarget != "" {
		s.TargetText = newTarget
	}
	s.ManuallyEdited = true
	out.Segments[idx] = s
	return out, nil
}

// UpdateTiming changes segment id's Start/End, re-sorts by Start, and
// renumbers ids to match the (possibly changed) order.
func (t *Table) UpdateTiming(id int, start, end float64) (*Table, error) {
	idx := t.indexOf(id)
	if idx < 0 {
		return nil, fmt.Errorf("segment table: update timing: %d not found", id)
	}
	out := t.clone()
	s := out.Segments[idx]
	s.Start = start
	s.End = end
	s.ManuallyEdited = true
	out.Segments[idx] = s
	sort.SliceStable(out.Segments, func(a, b int) bool { return out.Segments[a].Start < out.Segments[b].Start })
	out.renumber()
	return out, nil
}
