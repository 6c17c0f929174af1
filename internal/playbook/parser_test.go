package playbook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightly.yaml")
	writeFile(t, path, `
description: nightly cleanup
documents:
  - filename: setup
  - filename: refactor.md
    reset_on_completion: true
loop: true
max_loops: 3
prompt: "Work on {TASK}"
prompt_script: prompt.lua
`)

	pb, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if pb.Name != "nightly" {
		t.Errorf("expected name from filename, got %q", pb.Name)
	}
	if len(pb.Documents) != 2 || pb.Documents[0].Filename != "setup.md" || !pb.Documents[1].ResetOnCompletion {
		t.Errorf("unexpected documents %+v", pb.Documents)
	}
	if !pb.Loop || pb.MaxLoops != 3 || pb.Prompt != "Work on {TASK}" {
		t.Errorf("unexpected playbook %+v", pb)
	}
	if got := ResolveScript(pb); got != filepath.Join(filepath.Dir(path), "prompt.lua") {
		t.Errorf("unexpected script path %q", got)
	}
}

func TestLoadAll_FirstDirWins(t *testing.T) {
	project := t.TempDir()
	user := t.TempDir()
	writeFile(t, filepath.Join(project, "a.yaml"), "name: shared\ndocuments: [{filename: p}]\n")
	writeFile(t, filepath.Join(user, "b.yml"), "name: shared\ndocuments: [{filename: u}]\n")
	writeFile(t, filepath.Join(user, "c.yaml"), "documents: [{filename: x}]\n")
	writeFile(t, filepath.Join(user, "notes.txt"), "ignored")

	pbs, err := LoadAll([]string{project, user, filepath.Join(project, "missing")})
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(pbs) != 2 {
		t.Fatalf("expected 2 playbooks, got %d", len(pbs))
	}
	if pbs["shared"].Documents[0].Filename != "p.md" {
		t.Errorf("project playbook should win, got %+v", pbs["shared"].Documents[0])
	}
	if _, ok := pbs["c"]; !ok {
		t.Error("expected playbook named after file")
	}
}

func TestValidate(t *testing.T) {
	folder := t.TempDir()
	writeFile(t, filepath.Join(folder, "a.md"), "- [ ] a\n")
	store := docs.New(folder, nil)

	tests := []struct {
		name string
		pb   *models.Playbook
		want string
	}{
		{"ok", &models.Playbook{Name: "p", Documents: []*models.PlaybookEntry{{Filename: "a.md"}}}, ""},
		{"no name", &models.Playbook{Documents: []*models.PlaybookEntry{{Filename: "a.md"}}}, "must have a name"},
		{"no docs", &models.Playbook{Name: "p"}, "at least one document"},
		{"duplicate", &models.Playbook{Name: "p", Documents: []*models.PlaybookEntry{{Filename: "a.md"}, {Filename: "a.md"}}}, "listed twice"},
		{"missing doc", &models.Playbook{Name: "p", Documents: []*models.PlaybookEntry{{Filename: "b.md"}}}, "not found"},
		{"bad script", &models.Playbook{Name: "p", PromptScript: "x.py", Documents: []*models.PlaybookEntry{{Filename: "a.md"}}}, ".lua"},
		{"negative loops", &models.Playbook{Name: "p", MaxLoops: -1, Documents: []*models.PlaybookEntry{{Filename: "a.md"}}}, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.pb, store)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := Dir(t.TempDir())
	pb := &models.Playbook{
		Name:      "roundtrip",
		Documents: []*models.PlaybookEntry{{Filename: "a.md", ResetOnCompletion: true}},
		Loop:      true,
	}

	path, err := Save(dir, pb)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if loaded.Name != "roundtrip" || !loaded.Loop || !loaded.Documents[0].ResetOnCompletion {
		t.Errorf("unexpected reloaded playbook %+v", loaded)
	}
}
