package workspace

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestCreate_PlainDirectory(t *testing.T) {
	base := t.TempDir()

	ws, err := Create(base, 7, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ws.RepoPath != filepath.Join(base, "run-7", "repo") {
		t.Errorf("unexpected repo path %q", ws.RepoPath)
	}
	if _, err := os.Stat(filepath.Join(ws.RepoPath, ".maestro", "AUTORUN.md")); err != nil {
		t.Errorf("expected protocol file: %v", err)
	}

	opened, err := Open(base, 7)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if opened.RepoPath != ws.RepoPath {
		t.Errorf("Open returned %q, want %q", opened.RepoPath, ws.RepoPath)
	}

	if _, err := Open(base, 8); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist opening missing workspace, got %v", err)
	}
}

func TestRunMetadataRoundTrip(t *testing.T) {
	ws, err := Create(t.TempDir(), 1, "")
	if err != nil {
		t.Fatal(err)
	}

	meta := &RunMetadata{RunID: 1, Document: "plan.md", Task: "do it", TaskIndex: 2, Total: 4}
	if err := ws.WriteRunMetadata(meta); err != nil {
		t.Fatalf("WriteRunMetadata failed: %v", err)
	}

	got, err := ws.ReadRunMetadata()
	if err != nil {
		t.Fatalf("ReadRunMetadata failed: %v", err)
	}
	if *got != *meta {
		t.Errorf("expected %+v, got %+v", meta, got)
	}
}

func TestRemove(t *testing.T) {
	ws, err := Create(t.TempDir(), 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Errorf("expected workspace to be gone, stat err = %v", err)
	}
}

func TestCreate_Worktree(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	repo := t.TempDir()
	for _, args := range [][]string{
		{"init", "-q"},
		{"-c", "user.email=t@example.com", "-c", "user.name=t", "commit", "-q", "--allow-empty", "-m", "init"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git setup failed: %v: %s", err, out)
		}
	}

	ws, err := Create(t.TempDir(), 1, repo)
	if err != nil {
		t.Fatalf("Create with worktree failed: %v", err)
	}
	if got := findSourceRepo(ws.RepoPath); got == "" {
		t.Error("expected worktree .git file to point at the source repo")
	}
	if err := ws.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
}

func TestCreate_NotARepo(t *testing.T) {
	if _, err := Create(t.TempDir(), 1, t.TempDir()); err == nil {
		t.Error("expected error for non-git source")
	}
}
