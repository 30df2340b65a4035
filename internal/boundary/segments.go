package boundary

import (
	"net/http"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/taskstore"
)

// handleListSegments implements the `list_segments` operation.
func (h *Handler) handleListSegments(w http.ResponseWriter, r *http.Request) {
	tbl, err := h.store.ReadSegments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tbl)
}

// segmentPatch is one entry of an update_segments request. A nil field
// leaves that attribute of the segment unchanged.
type segmentPatch struct {
	ID         int      `json:"id"`
	Start      *float64 `json:"start,omitempty"`
	End        *float64 `json:"end,omitempty"`
	SourceText *string  `json:"source_text,omitempty"`
	TargetText *string  `json:"target_text,omitempty"`
}

type updateSegmentsRequest struct {
	Patches []segmentPatch `json:"patches"`
}

// handleUpdateSegments implements the `update_segments` operation
// (`update(id, patch)` in the original operation surface). A timing-only
// patch dirties extract_references onward (the reference clip's position
// changed); a source_text patch dirties translate onward and, unless the
// same patch also supplies an explicit target_text, clears the segment's
// existing translation and cloned audio so a stale dub is never shown
// against new source text; a target_text-only patch dirties clone_voices
// onward without touching source text or timing.
func (h *Handler) handleUpdateSegments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := r.PathValue("id")

	var req updateSegmentsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.UpdateSegments", "decode request body", err))
		return
	}

	tbl, err := h.store.ReadSegments(ctx, taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	var dirtyFrom taskstore.StageName
	for _, p := range req.Patches {
		idx := findSegment(tbl.Segments, p.ID)
		if idx < 0 {
			writeError(w, dubterr.ErrSegmentNotFound)
			return
		}

		if p.Start != nil || p.End != nil {
			start, end := tbl.Segments[idx].Start, tbl.Segments[idx].End
			if p.Start != nil {
				start = *p.Start
			}
			if p.End != nil {
				end = *p.End
			}
			tbl, err = tbl.UpdateTiming(p.ID, start, end)
			if err != nil {
				writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.UpdateSegments", "update timing", err))
				return
			}
			dirtyFrom = earlierStage(dirtyFrom, taskstore.StageExtractReferences)
			idx = findSegment(tbl.Segments, p.ID)
		}

		var newSource, newTarget string
		if p.SourceText != nil {
			newSource = *p.SourceText
		}
		if p.TargetText != nil {
			newTarget = *p.TargetText
		}
		if newSource == "" && newTarget == "" {
			continue
		}

		tbl, err = tbl.UpdateText(p.ID, newSource, newTarget)
		if err != nil {
			writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.UpdateSegments", "update text", err))
			return
		}
		idx = findSegment(tbl.Segments, p.ID)

		switch {
		case newSource != "" && p.TargetText == nil:
			tbl.Segments[idx].TargetText = ""
			tbl.Segments[idx].DubbedAudioPath = ""
			tbl.Segments[idx].CloneError = ""
			dirtyFrom = earlierStage(dirtyFrom, taskstore.StageTranslate)
		case newSource != "":
			dirtyFrom = earlierStage(dirtyFrom, taskstore.StageTranslate)
		default:
			tbl.Segments[idx].DubbedAudioPath = ""
			tbl.Segments[idx].CloneError = ""
			dirtyFrom = earlierStage(dirtyFrom, taskstore.StageCloneVoices)
		}
	}

	if err := h.store.WriteSegments(ctx, taskID, tbl); err != nil {
		writeError(w, err)
		return
	}
	if dirtyFrom != "" {
		if err := h.markDirty(r, taskID, dirtyFrom); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, tbl)
}

// handleSplitSegment implements the `split_segment` operation.
func (h *Handler) handleSplitSegment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := r.PathValue("id")
	segID, err := parseSegmentID(r.PathValue("sid"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		TextOffset int `json:"text_offset"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.SplitSegment", "decode request body", err))
		return
	}

	tbl, err := h.store.ReadSegments(ctx, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := tbl.Split(segID, req.TextOffset)
	if err != nil {
		writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.SplitSegment", "split segment", err))
		return
	}
	if err := h.store.WriteSegments(ctx, taskID, out); err != nil {
		writeError(w, err)
		return
	}
	if err := h.markDirty(r, taskID, taskstore.StageTranslate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type idsRequest struct {
	IDs []int `json:"ids"`
}

// handleMergeSegments implements the `merge_segments` operation. ids must
// be pairwise adjacent at call time; they are merged left-to-right so the
// resulting segment always keeps ids[0]'s id, matching segment.Table.Merge's
// single-pair contract.
func (h *Handler) handleMergeSegments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := r.PathValue("id")

	var req idsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.MergeSegments", "decode request body", err))
		return
	}
	if len(req.IDs) < 2 {
		writeError(w, dubterr.New(dubterr.KindInvalidRequest, "boundary.MergeSegments", "at least two ids are required"))
		return
	}

	tbl, err := h.store.ReadSegments(ctx, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, id := range req.IDs[1:] {
		tbl, err = tbl.Merge(req.IDs[0], id)
		if err != nil {
			writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.MergeSegments", "merge segments", err))
			return
		}
	}
	if err := h.store.WriteSegments(ctx, taskID, tbl); err != nil {
		writeError(w, err)
		return
	}
	if err := h.markDirty(r, taskID, taskstore.StageTranslate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tbl)
}

// handleDeleteSegments implements the `delete_segments` operation.
func (h *Handler) handleDeleteSegments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := r.PathValue("id")

	var req idsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.DeleteSegments", "decode request body", err))
		return
	}

	tbl, err := h.store.ReadSegments(ctx, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, id := range req.IDs {
		tbl, err = tbl.Delete(id)
		if err != nil {
			writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.DeleteSegments", "delete segment", err))
			return
		}
	}
	if err := h.store.WriteSegments(ctx, taskID, tbl); err != nil {
		writeError(w, err)
		return
	}
	if err := h.markDirty(r, taskID, taskstore.StageTranslate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tbl)
}

// handleRetranslateSegment implements the `retranslate_segment` operation.
// It does not run through the Scheduler: re-translating one segment's text
// is not a pipeline stage, just a direct call to the same Translator the
// Translate stage uses, followed by clearing the segment's now-stale
// cloned audio.
func (h *Handler) handleRetranslateSegment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := r.PathValue("id")
	segID, err := parseSegmentID(r.PathValue("sid"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		OverrideText string `json:"override_text,omitempty"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.RetranslateSegment", "decode request body", err))
		return
	}

	task, err := h.store.Open(ctx, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	tbl, err := h.store.ReadSegments(ctx, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	idx := findSegment(tbl.Segments, segID)
	if idx < 0 {
		writeError(w, dubterr.ErrSegmentNotFound)
		return
	}

	translated := req.OverrideText
	if translated == "" {
		out, err := h.translator.Translate(ctx, []string{tbl.Segments[idx].SourceText}, task.SourceLang, task.TargetLang)
		if err != nil {
			writeError(w, dubterr.Wrap(dubterr.KindEngineFailure, "boundary.RetranslateSegment", "translate segment", err))
			return
		}
		if len(out) != 1 {
			writeError(w, dubterr.New(dubterr.KindEngineFailure, "boundary.RetranslateSegment", "translator returned an unexpected number of results"))
			return
		}
		translated = out[0]
	}

	tbl.Segments[idx].TargetText = translated
	tbl.Segments[idx].DubbedAudioPath = ""
	tbl.Segments[idx].CloneError = ""
	tbl.Segments[idx].ManuallyEdited = true
	if err := h.store.WriteSegments(ctx, taskID, tbl); err != nil {
		writeError(w, err)
		return
	}
	if err := h.markDirty(r, taskID, taskstore.StageCloneVoices); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tbl.Segments[idx])
}

// handleResynthesizeSegment implements the `resynthesize_segment`
// operation. Async — completion is announced on the EventBus as
// eventbus.EventResynthesizeComplete.
func (h *Handler) handleResynthesizeSegment(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	segID, err := parseSegmentID(r.PathValue("sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sched.ResynthesizeSegment(taskID, segID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resynthesizing"})
}

// earlierStage returns whichever of a, b comes first in taskstore.StageOrder,
// treating the empty StageName as "no stage yet" rather than "before
// everything."
func earlierStage(a, b taskstore.StageName) taskstore.StageName {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if stageRank[a] <= stageRank[b] {
		return a
	}
	return b
}

var stageRank = func() map[taskstore.StageName]int {
	m := make(map[taskstore.StageName]int, len(taskstore.StageOrder))
	for i, s := range taskstore.StageOrder {
		m[s] = i
	}
	return m
}()
