package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mpataki/maestro/internal/batch"
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/models"
	"github.com/mpataki/maestro/internal/playbook"
	"github.com/mpataki/maestro/internal/process"
	"github.com/mpataki/maestro/internal/settings"
	"github.com/mpataki/maestro/internal/storage"
	"github.com/mpataki/maestro/internal/tasks"
)

type checkingHandle struct {
	id   string
	wait func()
}

func (h *checkingHandle) ID() string { return h.id }
func (h *checkingHandle) PID() int   { return 0 }
func (h *checkingHandle) Wait() process.Exit {
	h.wait()
	return process.Exit{}
}

// checkingSpawner behaves like an agent that always finishes its task.
type checkingSpawner struct {
	store *docs.Store
}

func (s *checkingSpawner) Spawn(ctx context.Context, cfg process.Config) (process.Handle, error) {
	var doc string
	for _, e := range cfg.Env {
		if v, ok := strings.CutPrefix(e, "MAESTRO_DOCUMENT="); ok {
			doc = filepath.Base(v)
		}
	}
	return &checkingHandle{id: "fake", wait: func() {
		s.store.Update(doc, func(l *tasks.List) error {
			if _, i, ok := l.FirstPending(); ok {
				return l.SetDone(i, true)
			}
			return nil
		})
	}}, nil
}

type testEnv struct {
	router  http.Handler
	store   *docs.Store
	ctrl    *batch.Controller
	history *storage.Storage
	folder  string
}

func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	t.Helper()
	folder := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(folder, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	history, err := storage.New(filepath.Join(t.TempDir(), "maestro.db"))
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	store := docs.New(folder, logger)
	ctrl := batch.New(store, &checkingSpawner{store: store}, history, logger)
	t.Cleanup(func() {
		ctrl.Stop()
		ctrl.Wait()
	})

	router := NewRouter(Deps{
		Store:        store,
		Controller:   ctrl,
		Processes:    process.NewManager(logger),
		History:      history,
		Settings:     settings.New(history, nil),
		PlaybookDirs: []string{playbook.Dir(folder)},
		Defaults:     batch.Options{AgentCommand: []string{"agent"}},
	}, logger)

	return &testEnv{router: router, store: store, ctrl: ctrl, history: history, folder: folder}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestDocuments(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"a.md": "# A\n- [ ] one\n- [x] two\n",
		"b.md": "- [ ] three\n",
	})

	rec := env.do(t, http.MethodGet, "/documents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var list struct {
		Documents []documentSummary `json:"documents"`
	}
	decode(t, rec, &list)
	if len(list.Documents) != 2 || list.Documents[0].Completed != 1 || list.Documents[0].Total != 2 {
		t.Errorf("unexpected list %+v", list.Documents)
	}

	rec = env.do(t, http.MethodPost, "/documents/a.md/tasks/0/toggle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var doc models.Document
	decode(t, rec, &doc)
	if !doc.Tasks[0].Done {
		t.Error("expected task 0 checked")
	}
	if doc.Content != "# A\n- [x] one\n- [x] two\n" {
		t.Errorf("unexpected content %q", doc.Content)
	}

	rec = env.do(t, http.MethodPost, "/documents/a/reset", nil)
	decode(t, rec, &doc)
	if doc.Remaining() != 2 {
		t.Errorf("expected all tasks unchecked after reset, got %d remaining", doc.Remaining())
	}

	if rec := env.do(t, http.MethodPost, "/documents/a.md/tasks/9/toggle", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad index, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/documents/missing.md", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestPutDocumentVersion(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "- [ ] one\n"})

	rec := env.do(t, http.MethodPut, "/documents/a.md", map[string]any{"content": "- [ ] one\n- [ ] two\n"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var doc models.Document
	decode(t, rec, &doc)
	if len(doc.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(doc.Tasks))
	}

	stale := doc.Version - 1
	rec = env.do(t, http.MethodPut, "/documents/a.md", map[string]any{"content": "x", "version": stale})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for stale version, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/documents/a.md", map[string]any{"content": "- [x] done\n", "version": doc.Version})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for current version, got %d: %s", rec.Code, rec.Body)
	}
}

func TestPutDocumentAfterExternalEdit(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "- [ ] one\n- [ ] two\n"})

	rec := env.do(t, http.MethodGet, "/documents/a.md", nil)
	var doc models.Document
	decode(t, rec, &doc)

	path := filepath.Join(env.folder, "a.md")
	if err := os.WriteFile(path, []byte("- [x] one\n- [ ] two\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rec = env.do(t, http.MethodPut, "/documents/a.md", map[string]any{
		"content": "- [ ] one\n- [ ] two\nmy edit\n",
		"version": doc.Version,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 after external edit, got %d: %s", rec.Code, rec.Body)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "- [x] one\n- [ ] two\n" {
		t.Errorf("external edit was overwritten: %q", data)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/documents/a.md/tasks/1/toggle?version=%d", doc.Version), nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for toggle at stale version, got %d", rec.Code)
	}
}

func TestNilLoggerDefaults(t *testing.T) {
	store := docs.New(t.TempDir(), nil)
	router := NewRouter(Deps{
		Store:      store,
		Controller: batch.New(store, &checkingSpawner{store: store}, nil, nil),
		Processes:  process.NewManager(nil),
	}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestNotConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := docs.New("", logger)
	router := NewRouter(Deps{
		Store:      store,
		Controller: batch.New(store, &checkingSpawner{store: store}, nil, logger),
		Processes:  process.NewManager(logger),
	}, logger)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["needs_setup"] != true {
		t.Errorf("expected needs_setup, got %v", body)
	}
}

func TestBatchStartAndRuns(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "- [ ] one\n- [ ] two\n"})

	rec := env.do(t, http.MethodPost, "/batch/start", map[string]any{
		"documents": []map[string]any{{"filename": "a.md"}},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}

	select {
	case <-env.ctrl.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	d, _ := env.store.Load("a.md")
	if d.Remaining() != 0 {
		t.Errorf("expected all tasks done, got %d remaining", d.Remaining())
	}

	rec = env.do(t, http.MethodGet, "/batch", nil)
	var st models.BatchRunState
	decode(t, rec, &st)
	if st.IsRunning || st.Status != models.BatchStatusIdle {
		t.Errorf("expected idle state, got %+v", st)
	}

	rec = env.do(t, http.MethodGet, "/runs", nil)
	var runs struct {
		Runs []models.BatchRun `json:"runs"`
	}
	decode(t, rec, &runs)
	if len(runs.Runs) != 1 || runs.Runs[0].Status != models.RunStatusComplete {
		t.Fatalf("unexpected runs %+v", runs.Runs)
	}

	rec = env.do(t, http.MethodGet, "/runs/1", nil)
	var detail struct {
		Executions []models.TaskExecution `json:"executions"`
	}
	decode(t, rec, &detail)
	if len(detail.Executions) != 2 {
		t.Errorf("expected 2 executions, got %d", len(detail.Executions))
	}

	if rec := env.do(t, http.MethodGet, "/runs/99", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestBatchStartErrors(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "- [ ] one\n"})

	if rec := env.do(t, http.MethodPost, "/batch/start", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty queue, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/batch/start", map[string]any{"playbook": "nope"}); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown playbook, got %d", rec.Code)
	}
}

func TestBatchStartPlaybook(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.md": "- [ ] one\n"})
	_, err := playbook.Save(playbook.Dir(env.folder), &models.Playbook{
		Name:      "daily",
		Documents: []*models.PlaybookEntry{{Filename: "a.md"}},
	})
	if err != nil {
		t.Fatalf("failed to save playbook: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/batch/start", map[string]any{"playbook": "daily"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	env.ctrl.Wait()

	d, _ := env.store.Load("a.md")
	if d.Remaining() != 0 {
		t.Errorf("expected playbook run to finish the document")
	}
}

func TestBatchEventsStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/batch/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if line != "event: state\n" {
		t.Errorf("expected initial state event, got %q", line)
	}
}

func TestSettingsRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/settings/ui.theme", map[string]string{"value": "Light"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var got map[string]string
	decode(t, rec, &got)
	if got["value"] != "light" {
		t.Errorf("expected normalized value, got %v", got)
	}

	if rec := env.do(t, http.MethodPut, "/settings/ui.theme", map[string]string{"value": "neon"}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid theme, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/settings/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/settings", nil)
	var all map[string]string
	decode(t, rec, &all)
	if all["ui.theme"] != "light" {
		t.Errorf("unexpected settings %v", all)
	}
}

func TestProcessRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/processes", map[string]any{"command": "cat"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var info process.Info
	decode(t, rec, &info)
	if info.ID == "" || !info.Running {
		t.Fatalf("unexpected info %+v", info)
	}

	if rec := env.do(t, http.MethodPost, "/processes/"+info.ID+"/write", map[string]string{"data": "hi\n"}); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 on write, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/processes", nil)
	var list struct {
		Processes []process.Info `json:"processes"`
	}
	decode(t, rec, &list)
	if len(list.Processes) != 1 {
		t.Errorf("expected 1 process, got %d", len(list.Processes))
	}

	if rec := env.do(t, http.MethodDelete, "/processes/"+info.ID, nil); rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 on kill, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/processes/unknown", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/processes", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without command, got %d", rec.Code)
	}
}
