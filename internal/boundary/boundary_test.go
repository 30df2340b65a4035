package boundary_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/dubforge/internal/boundary"
	"github.com/MrWong99/dubforge/internal/eventbus"
	"github.com/MrWong99/dubforge/internal/scheduler"
	"github.com/MrWong99/dubforge/internal/segment"
	"github.com/MrWong99/dubforge/internal/taskstore"
	"github.com/MrWong99/dubforge/pkg/types"
)

// stubRunner is a no-op scheduler.Runner: every call succeeds immediately,
// so Start/Continue/ResynthesizeSegment/RegenerateFinal all register as
// briefly "running" and then finish on their own.
type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, taskID string) error      { return nil }
func (stubRunner) Continue(ctx context.Context, taskID string) error { return nil }
func (stubRunner) ResynthesizeSegment(ctx context.Context, taskID string, segID int) error {
	return nil
}
func (stubRunner) RegenerateFinal(ctx context.Context, taskID string) error { return nil }

// stubTranslator echoes back "<lang>:<text>" so tests can assert it was
// actually invoked rather than asserting on specific translation content.
type stubTranslator struct{ calls int }

func (s *stubTranslator) Translate(_ context.Context, sourceTexts []string, _, targetLang types.LanguageCode) ([]string, error) {
	s.calls++
	out := make([]string, len(sourceTexts))
	for i, t := range sourceTexts {
		out[i] = string(targetLang) + ":" + t
	}
	return out, nil
}

type testEnv struct {
	mux        *http.ServeMux
	store      *taskstore.Store
	bus        *eventbus.Bus
	translator *stubTranslator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := taskstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("taskstore.Open: %v", err)
	}
	bus := eventbus.New(8)
	sched := scheduler.New(store, stubRunner{}, 4)
	translator := &stubTranslator{}
	h := boundary.New(store, bus, sched, translator)

	mux := http.NewServeMux()
	h.Register(mux)
	return &testEnv{mux: mux, store: store, bus: bus, translator: translator}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(data))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	return w
}

func (e *testEnv) createTask(t *testing.T) string {
	t.Helper()
	w := e.do(t, "POST", "/tasks", map[string]any{
		"source_media_path": "/in/movie.mp4",
		"source_lang":       "en",
		"target_lang":       "es",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("create task: status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp.TaskID
}

func waitUntilNotRunning(t *testing.T, store *taskstore.Store, taskID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		task, err := store.Open(context.Background(), taskID)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if task.Status != taskstore.TaskPending && task.Status != taskstore.TaskRunning {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandleStart_MissingSourceMediaPath(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "POST", "/tasks", map[string]any{"target_lang": "es"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
	}
}

func TestHandleStart_CreatesTaskAndAdmitsToScheduler(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	if taskID == "" {
		t.Fatal("expected non-empty task id")
	}
	task, err := env.store.Open(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if task.SourceMediaPath != "/in/movie.mp4" {
		t.Errorf("SourceMediaPath = %q, want /in/movie.mp4", task.SourceMediaPath)
	}
}

func TestHandleStatus_NotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/tasks/does-not-exist", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body: %s", w.Code, w.Body.String())
	}
}

func TestHandleContinue_RejectsWhenNotPaused(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	waitUntilNotRunning(t, env.store, taskID)

	w := env.do(t, "POST", "/tasks/"+taskID+"/continue", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body: %s", w.Code, w.Body.String())
	}
}

func TestHandleCancel_NoRunInFlight(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	waitUntilNotRunning(t, env.store, taskID)

	w := env.do(t, "POST", "/tasks/"+taskID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body: %s", w.Code, w.Body.String())
	}
}

func seedSegments(t *testing.T, store *taskstore.Store, taskID string) {
	t.Helper()
	tbl := &segment.Table{Segments: []segment.Segment{
		{ID: 0, Start: 0, End: 1.5, SourceText: "hello there friend", Words: []types.WordSpan{
			{Word: "hello", Start: 0.0, End: 0.4, TextOffset: 0},
			{Word: "there", Start: 0.5, End: 0.9, TextOffset: 6},
			{Word: "friend", Start: 1.0, End: 1.5, TextOffset: 12},
		}},
		{ID: 1, Start: 1.5, End: 3.0, SourceText: "second segment"},
	}}
	if err := store.WriteSegments(context.Background(), taskID, tbl); err != nil {
		t.Fatalf("WriteSegments: %v", err)
	}
}

func TestHandleListSegments(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	seedSegments(t, env.store, taskID)

	w := env.do(t, "GET", "/tasks/"+taskID+"/segments", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var tbl segment.Table
	if err := json.Unmarshal(w.Body.Bytes(), &tbl); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tbl.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(tbl.Segments))
	}
}

func TestHandleSplitSegment(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	seedSegments(t, env.store, taskID)

	w := env.do(t, "POST", "/tasks/"+taskID+"/segments/0/split", map[string]any{"text_offset": 12})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var tbl segment.Table
	if err := json.Unmarshal(w.Body.Bytes(), &tbl); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tbl.Segments) != 3 {
		t.Fatalf("len(Segments) = %d, want 3", len(tbl.Segments))
	}

	task, err := env.store.Open(context.Background(), taskID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !task.Stages[taskstore.StageTranslate].Dirty {
		t.Error("expected translate stage marked dirty after split")
	}
	if !task.Stages[taskstore.StageCloneVoices].Dirty {
		t.Error("expected clone_voices stage marked dirty after split")
	}
}

func TestHandleMergeSegments(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	seedSegments(t, env.store, taskID)

	w := env.do(t, "POST", "/tasks/"+taskID+"/segments/merge", map[string]any{"ids": []int{0, 1}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var tbl segment.Table
	if err := json.Unmarshal(w.Body.Bytes(), &tbl); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tbl.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(tbl.Segments))
	}
	if tbl.Segments[0].SourceText != "hello there friend second segment" {
		t.Errorf("SourceText = %q", tbl.Segments[0].SourceText)
	}
}

func TestHandleDeleteSegments(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	seedSegments(t, env.store, taskID)

	w := env.do(t, "POST", "/tasks/"+taskID+"/segments/delete", map[string]any{"ids": []int{1}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var tbl segment.Table
	if err := json.Unmarshal(w.Body.Bytes(), &tbl); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tbl.Segments) != 1 || tbl.Segments[0].ID != 0 || tbl.Segments[0].SourceText != "hello there friend" {
		t.Fatalf("Segments = %+v, want only segment 0 (\"hello there friend\") remaining", tbl.Segments)
	}
}

func TestHandleUpdateSegments_SourceTextClearsTranslation(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	tbl := &segment.Table{Segments: []segment.Segment{
		{ID: 0, Start: 0, End: 1.5, SourceText: "hello", TargetText: "hola", DubbedAudioPath: "/art/cloned_seg_000.wav"},
	}}
	if err := env.store.WriteSegments(context.Background(), taskID, tbl); err != nil {
		t.Fatalf("WriteSegments: %v", err)
	}

	w := env.do(t, "PUT", "/tasks/"+taskID+"/segments", map[string]any{
		"patches": []map[string]any{{"id": 0, "source_text": "hello world"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var out segment.Table
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Segments[0].SourceText != "hello world" {
		t.Errorf("SourceText = %q, want %q", out.Segments[0].SourceText, "hello world")
	}
	if out.Segments[0].TargetText != "" {
		t.Errorf("TargetText = %q, want empty after source text change", out.Segments[0].TargetText)
	}
	if out.Segments[0].DubbedAudioPath != "" {
		t.Errorf("DubbedAudioPath = %q, want empty after source text change", out.Segments[0].DubbedAudioPath)
	}
}

func TestHandleRetranslateSegment_UsesTranslatorWhenNoOverride(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	seedSegments(t, env.store, taskID)

	w := env.do(t, "POST", "/tasks/"+taskID+"/segments/1/retranslate", map[string]any{})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var seg segment.Segment
	if err := json.Unmarshal(w.Body.Bytes(), &seg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seg.TargetText != "es:second segment" {
		t.Errorf("TargetText = %q, want %q", seg.TargetText, "es:second segment")
	}
	if env.translator.calls != 1 {
		t.Errorf("translator.calls = %d, want 1", env.translator.calls)
	}
}

func TestHandleRetranslateSegment_OverrideSkipsTranslator(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	seedSegments(t, env.store, taskID)

	w := env.do(t, "POST", "/tasks/"+taskID+"/segments/1/retranslate", map[string]any{"override_text": "segunda segmento"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var seg segment.Segment
	if err := json.Unmarshal(w.Body.Bytes(), &seg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seg.TargetText != "segunda segmento" {
		t.Errorf("TargetText = %q, want override text", seg.TargetText)
	}
	if env.translator.calls != 0 {
		t.Errorf("translator.calls = %d, want 0 when override_text is set", env.translator.calls)
	}
}

func TestHandleResynthesizeSegment_AcceptsAsync(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	waitUntilNotRunning(t, env.store, taskID)
	seedSegments(t, env.store, taskID)

	w := env.do(t, "POST", "/tasks/"+taskID+"/segments/0/resynthesize", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
}

func TestHandleRegenerateFinal_AcceptsAsync(t *testing.T) {
	env := newTestEnv(t)
	taskID := env.createTask(t)
	waitUntilNotRunning(t, env.store, taskID)

	w := env.do(t, "POST", "/tasks/"+taskID+"/regenerate-final", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
}
