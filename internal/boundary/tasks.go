package boundary

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/taskstore"
	"github.com/MrWong99/dubforge/pkg/types"
)

// startRequest is the body of POST /tasks.
type startRequest struct {
	SourceMediaPath string              `json:"source_media_path"`
	SourceLang      types.LanguageCode  `json:"source_lang"`
	TargetLang      types.LanguageCode  `json:"target_lang"`
	DiarizationOn   bool                `json:"diarization_on"`
	PauseAfter      taskstore.PauseAfter `json:"pause_after,omitempty"`
}

type startResponse struct {
	TaskID string            `json:"task_id"`
	Status taskstore.TaskStatus `json:"status"`
}

// handleStart implements the `start` operation: creates a task directory
// and admits it to the Scheduler. The task id is minted here rather than
// accepted from the caller, so a client can never race another client for
// an id or retry a create with the same id expecting idempotence.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, dubterr.Wrap(dubterr.KindInvalidRequest, "boundary.Start", "decode request body", err))
		return
	}
	if req.SourceMediaPath == "" {
		writeError(w, dubterr.New(dubterr.KindInvalidRequest, "boundary.Start", "source_media_path is required"))
		return
	}
	if req.TargetLang == "" {
		writeError(w, dubterr.New(dubterr.KindInvalidRequest, "boundary.Start", "target_lang is required"))
		return
	}
	if req.SourceLang == "" {
		req.SourceLang = types.AutoLanguage
	}

	taskID := uuid.NewString()
	task, err := h.store.Create(r.Context(), taskID, req.SourceMediaPath, req.SourceLang, req.TargetLang, req.DiarizationOn, req.PauseAfter)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sched.Start(task.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{TaskID: task.ID, Status: task.Status})
}

// handleStatus implements the `status` operation: the full status.json
// record for the task, unmodified.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleContinue implements the `continue` operation. The paused-state
// check is done here, synchronously, so a caller gets an immediate
// Conflict rather than waiting on the background run to discover the same
// thing via executor.Continue's own check.
func (h *Handler) handleContinue(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	task, err := h.store.Open(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	if task.Status != taskstore.TaskPausedStep4 && task.Status != taskstore.TaskPausedStep5 {
		writeError(w, dubterr.ErrTaskNotPaused)
		return
	}
	if err := h.sched.Continue(taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(task.Status)})
}

// handleCancel implements the `cancel` operation.
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if !h.sched.Cancel(taskID) {
		writeError(w, dubterr.New(dubterr.KindConflict, "boundary.Cancel", "task has no run in flight"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleRegenerateFinal implements the `regenerate_final` operation:
// re-runs merge_voice and mux against current on-disk segment state.
// Async — completion is announced on the EventBus as
// eventbus.EventRegenerateComplete.
func (h *Handler) handleRegenerateFinal(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if err := h.sched.RegenerateFinal(taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "regenerating"})
}
