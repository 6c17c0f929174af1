package docs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mpataki/maestro/internal/tasks"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir, nil), dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestNotConfigured(t *testing.T) {
	s := New("", nil)
	if _, err := s.List(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured for empty folder, got %v", err)
	}

	s = New(filepath.Join(t.TempDir(), "missing"), nil)
	if _, err := s.Read("plan"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured for missing folder, got %v", err)
	}
	if err := s.Write("plan", "x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured on write, got %v", err)
	}
}

func TestList_SortedMarkdownOnly(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, filepath.Join(dir, "b.md"), "")
	writeFile(t, filepath.Join(dir, "a.md"), "")
	writeFile(t, filepath.Join(dir, "notes.txt"), "")
	if err := os.Mkdir(filepath.Join(dir, "sub.md"), 0755); err != nil {
		t.Fatal(err)
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []string{"a.md", "b.md"}; !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestReadWrite_BumpsVersion(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Read("plan"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Write("plan", "- [ ] a\n"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if v := s.Version("plan.md"); v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}

	text, err := s.Read("plan.md")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if text != "- [ ] a\n" {
		t.Errorf("unexpected content %q", text)
	}
}

func TestWriteIfVersion(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Write("plan", "v1"); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteIfVersion("plan", "v2", 1); err != nil {
		t.Fatalf("expected write at current version to succeed: %v", err)
	}
	if err := s.WriteIfVersion("plan", "v3", 1); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}

	text, _ := s.Read("plan")
	if text != "v2" {
		t.Errorf("stale write must not land, got %q", text)
	}
}

func TestWriteIfVersion_ExternalEditWithoutWatcher(t *testing.T) {
	s, dir := newTestStore(t)
	path := filepath.Join(dir, "plan.md")
	writeFile(t, path, "- [ ] one\n- [ ] two\n")

	doc, err := s.Load("plan")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// the agent ticks a task behind the store's back
	writeFile(t, path, "- [x] one\n- [ ] two\n")

	err = s.WriteIfVersion("plan", "- [ ] one\n- [ ] two\nmy edit\n", doc.Version)
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "- [x] one\n- [ ] two\n" {
		t.Errorf("external edit was overwritten: %q", data)
	}

	fresh, err := s.Load("plan")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Version == doc.Version {
		t.Errorf("expected version to move past %d", doc.Version)
	}
	if err := s.WriteIfVersion("plan", "- [x] one\n- [x] two\n", fresh.Version); err != nil {
		t.Errorf("write at the fresh version should succeed: %v", err)
	}
}

func TestUpdateIfVersion_Stale(t *testing.T) {
	s, dir := newTestStore(t)
	path := filepath.Join(dir, "plan.md")
	writeFile(t, path, "- [ ] a\n- [ ] b\n")

	doc, err := s.Load("plan")
	if err != nil {
		t.Fatal(err)
	}

	// a line inserted above shifts the task indexes
	writeFile(t, path, "- [ ] new\n- [ ] a\n- [ ] b\n")

	_, err = s.UpdateIfVersion("plan", doc.Version, func(l *tasks.List) error { return l.Toggle(1) })
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "- [ ] new\n- [ ] a\n- [ ] b\n" {
		t.Errorf("stale toggle must not land, got %q", data)
	}
}

func TestInvalidNames(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"", "../escape", "a/b", `a\b`, ".."} {
		if _, err := s.Read(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}
}

func TestLoadAndUpdate(t *testing.T) {
	s, dir := newTestStore(t)
	writeFile(t, filepath.Join(dir, "plan.md"), "# T\n- [ ] a\n- [x] b\n")

	doc, err := s.Load("plan")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.Filename != "plan.md" || len(doc.Tasks) != 2 || doc.Remaining() != 1 {
		t.Fatalf("unexpected document %+v", doc)
	}

	doc, err = s.Update("plan", func(l *tasks.List) error { return l.Toggle(0) })
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if doc.Content != "# T\n- [x] a\n- [x] b\n" {
		t.Errorf("unexpected content %q", doc.Content)
	}
	if doc.Version != 1 {
		t.Errorf("expected version 1 after update, got %d", doc.Version)
	}

	// No-op updates do not write.
	doc, err = s.Update("plan", func(l *tasks.List) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 1 {
		t.Errorf("no-op update bumped version to %d", doc.Version)
	}
}

func TestObserve_SkipsOwnWrites(t *testing.T) {
	s, dir := newTestStore(t)
	if err := s.Write("plan", "mine"); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "plan.md")

	if _, ok := s.observe(fsnotify.Event{Name: path, Op: fsnotify.Write}); ok {
		t.Error("own write should not be reported")
	}

	writeFile(t, path, "theirs")
	change, ok := s.observe(fsnotify.Event{Name: path, Op: fsnotify.Write})
	if !ok {
		t.Fatal("external write should be reported")
	}
	if change.Filename != "plan.md" || change.Version != 2 {
		t.Errorf("unexpected change %+v", change)
	}

	if _, ok := s.observe(fsnotify.Event{Name: filepath.Join(dir, "x.txt"), Op: fsnotify.Write}); ok {
		t.Error("non-markdown files should be ignored")
	}
}

func TestWatch_ReportsExternalChange(t *testing.T) {
	s, dir := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "plan.md"), "- [ ] external\n")

	select {
	case c := <-changes:
		if c.Filename != "plan.md" {
			t.Errorf("unexpected change %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}
