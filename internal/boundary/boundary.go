// Package boundary exposes dubforge's task and segment operations as HTTP
// (and one WebSocket) routes over a plain [http.ServeMux], grounded on
// internal/health.Handler's JSON-over-http style: thin handlers that decode
// a request, call into internal/taskstore, internal/segment, or
// internal/scheduler, and write back a JSON response — no routing
// framework, no handler-local business logic beyond request validation and
// response shaping.
package boundary

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/dubforge/internal/dubterr"
	"github.com/MrWong99/dubforge/internal/engine"
	"github.com/MrWong99/dubforge/internal/eventbus"
	"github.com/MrWong99/dubforge/internal/pipeline"
	"github.com/MrWong99/dubforge/internal/scheduler"
	"github.com/MrWong99/dubforge/internal/segment"
	"github.com/MrWong99/dubforge/internal/taskstore"
)

// Handler serves the HTTP operation surface of §6: task lifecycle
// (start/status/continue/cancel), segment edits, the two per-segment/
// final-only re-run operations, and a WebSocket progress-event stream.
type Handler struct {
	store      *taskstore.Store
	bus        *eventbus.Bus
	sched      *scheduler.Scheduler
	translator engine.Translator
}

// New constructs a Handler. translator is used only by retranslate_segment,
// which is not routed through the Scheduler/Executor since it does not run
// a pipeline stage — it calls the same Translator a task's Translate stage
// would, then writes the result straight to the segment table.
func New(store *taskstore.Store, bus *eventbus.Bus, sched *scheduler.Scheduler, translator engine.Translator) *Handler {
	return &Handler{store: store, bus: bus, sched: sched, translator: translator}
}

// Register adds every task/segment route to mux. Callers also register
// internal/health's /healthz and /readyz routes on the same mux; Register
// does not add them itself since health checks are an ambient concern
// independent of the task/segment domain this package owns.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /tasks", h.handleStart)
	mux.HandleFunc("GET /tasks/{id}", h.handleStatus)
	mux.HandleFunc("POST /tasks/{id}/continue", h.handleContinue)
	mux.HandleFunc("POST /tasks/{id}/cancel", h.handleCancel)
	mux.HandleFunc("GET /tasks/{id}/segments", h.handleListSegments)
	mux.HandleFunc("PUT /tasks/{id}/segments", h.handleUpdateSegments)
	mux.HandleFunc("POST /tasks/{id}/segments/{sid}/split", h.handleSplitSegment)
	mux.HandleFunc("POST /tasks/{id}/segments/merge", h.handleMergeSegments)
	mux.HandleFunc("POST /tasks/{id}/segments/delete", h.handleDeleteSegments)
	mux.HandleFunc("POST /tasks/{id}/segments/{sid}/retranslate", h.handleRetranslateSegment)
	mux.HandleFunc("POST /tasks/{id}/segments/{sid}/resynthesize", h.handleResynthesizeSegment)
	mux.HandleFunc("POST /tasks/{id}/regenerate-final", h.handleRegenerateFinal)
	mux.HandleFunc("GET /tasks/{id}/events", h.handleEvents)
}

// readJSON decodes r's body into dst, rejecting unknown fields the same way
// internal/config.LoadFromReader rejects unknown YAML keys — a typo in a
// request body should fail loudly rather than silently no-op.
func readJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeJSON encodes v as JSON with the given status code, matching
// internal/health.writeJSON's charset and fallback behavior.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps err's dubterr.Kind to an HTTP status code and writes it
// as an errorBody. Errors that are not a *dubterr.Error (KindUnknown) are
// treated as internal failures: callers should not see raw internal error
// strings for anything boundary didn't deliberately classify, but dubforge
// wraps every error that crosses a package boundary in *dubterr.Error, so
// in practice this path is only hit by a programmer mistake.
func writeError(w http.ResponseWriter, err error) {
	kind := dubterr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case dubterr.KindInvalidRequest:
		status = http.StatusBadRequest
	case dubterr.KindConflict:
		status = http.StatusConflict
	case dubterr.KindNotFound:
		status = http.StatusNotFound
	case dubterr.KindEngineFailure:
		status = http.StatusBadGateway
	case dubterr.KindCancelled:
		status = http.StatusGone
	case dubterr.KindIOFailure, dubterr.KindCorrupt, dubterr.KindUnknown:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		slog.Error("boundary: internal error", "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind.String()})
}

// markDirty reopens taskID, marks from and every downstream stage dirty
// per pipeline.Dirties, and persists the change. Used after any segment
// edit that invalidates stage output without itself re-running a stage.
func (h *Handler) markDirty(r *http.Request, taskID string, from taskstore.StageName) error {
	task, err := h.store.Open(r.Context(), taskID)
	if err != nil {
		return err
	}
	task.MarkDirty(pipeline.Dirties(from))
	return h.store.Save(r.Context(), task)
}

// findSegment returns the index of id within segments, or -1.
func findSegment(segments []segment.Segment, id int) int {
	for i, s := range segments {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// parseSegmentID parses the {sid} path value as a segment id.
func parseSegmentID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dubterr.New(dubterr.KindInvalidRequest, "boundary.parseSegmentID", "segment id must be an integer")
	}
	return id, nil
}
