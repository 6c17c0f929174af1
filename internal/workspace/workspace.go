package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

type Workspace struct {
	Path     string
	RepoPath string
}

// RunMetadata is written to .maestro/run.json before each agent session so
// the agent can see where it is in the batch.
type RunMetadata struct {
	RunID         int64  `json:"run_id"`
	Folder        string `json:"folder"`
	Document      string `json:"document"`
	DocumentPath  string `json:"document_path"`
	Task          string `json:"task"`
	TaskIndex     int    `json:"task_index"`
	LoopIteration int    `json:"loop_iteration"`
	Completed     int    `json:"completed"`
	Total         int    `json:"total"`
}

func runDir(baseDir string, runID int64) string {
	return filepath.Join(baseDir, fmt.Sprintf("run-%d", runID))
}

// Create makes run-<id>/repo under baseDir. With a source repository the
// repo directory is a detached git worktree at its HEAD.
func Create(baseDir string, runID int64, sourceRepo string) (*Workspace, error) {
	path := runDir(baseDir, runID)

	w := &Workspace{
		Path:     path,
		RepoPath: filepath.Join(path, "repo"),
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	if sourceRepo != "" {
		if err := w.createWorktree(sourceRepo); err != nil {
			return nil, err
		}
	} else {
		if err := os.MkdirAll(w.RepoPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create repo directory: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Join(w.RepoPath, ".maestro"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create .maestro directory: %w", err)
	}

	if err := w.writeProtocolFile(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Workspace) createWorktree(sourceRepo string) error {
	absRepo, err := filepath.Abs(sourceRepo)
	if err != nil {
		return fmt.Errorf("failed to resolve repo path: %w", err)
	}

	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = absRepo
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s is not a git repository", absRepo)
	}

	cmd = exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = absRepo
	shaOut, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("failed to get HEAD: %w", err)
	}
	sha := strings.TrimSpace(string(shaOut))

	cmd = exec.Command("git", "worktree", "add", "--detach", w.RepoPath, sha)
	cmd.Dir = absRepo
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create worktree: %s", strings.TrimSpace(string(output)))
	}

	return nil
}

func Open(baseDir string, runID int64) (*Workspace, error) {
	path := runDir(baseDir, runID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace for run %d: %w", runID, os.ErrNotExist)
	}

	return &Workspace{
		Path:     path,
		RepoPath: filepath.Join(path, "repo"),
	}, nil
}

func (w *Workspace) WriteRunMetadata(meta *RunMetadata) error {
	path := filepath.Join(w.RepoPath, ".maestro", "run.json")

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run.json: %w", err)
	}

	return nil
}

// ReadRunMetadata returns the last metadata written, if any.
func (w *Workspace) ReadRunMetadata() (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(w.RepoPath, ".maestro", "run.json"))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse run.json: %w", err)
	}
	return &meta, nil
}

// Remove deletes the worktree registration (if any) and the directory.
func (w *Workspace) Remove() error {
	if sourceRepo := findSourceRepo(w.RepoPath); sourceRepo != "" {
		cmd := exec.Command("git", "worktree", "remove", "--force", w.RepoPath)
		cmd.Dir = sourceRepo
		cmd.CombinedOutput() // Ignore errors, the directory goes below anyway
	}
	return os.RemoveAll(w.Path)
}

// findSourceRepo extracts the main repo path from a worktree's .git file
func findSourceRepo(worktreePath string) string {
	data, err := os.ReadFile(filepath.Join(worktreePath, ".git"))
	if err != nil {
		return ""
	}

	// .git file contains: "gitdir: /path/to/main/.git/worktrees/repo"
	content := string(data)
	if !strings.HasPrefix(content, "gitdir: ") {
		return ""
	}

	gitDir := strings.TrimSpace(content[len("gitdir: "):])
	idx := strings.LastIndex(gitDir, string(filepath.Separator)+".git"+string(filepath.Separator))
	if idx == -1 {
		return ""
	}
	return gitDir[:idx]
}

func (w *Workspace) writeProtocolFile() error {
	path := filepath.Join(w.RepoPath, ".maestro", "AUTORUN.md")
	return os.WriteFile(path, []byte(protocolContent), 0644)
}

const protocolContent = `# Auto Run Protocol

You are working through a markdown task document, one task per session.

1. Read ` + "`" + `.maestro/run.json` + "`" + ` for the document path and the task you were given.
2. Do the task.
3. When it is done, check it off in the document by changing ` + "`" + `- [ ]` + "`" + ` to ` + "`" + `- [x]` + "`" + `
   on that line only. Leave every other line untouched.

If you cannot finish the task, leave it unchecked. The run moves on to the
next document and does not retry.
`
